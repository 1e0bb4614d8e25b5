package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/tether/internal/observability"
	"github.com/harun/tether/internal/tracing"
	"github.com/harun/tether/pkg/lane"
	"github.com/harun/tether/pkg/session"
	"github.com/harun/tether/pkg/thread"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "tether.chat"

var errShuttingDown = errors.New("server is shutting down")

// Server is the WebSocket chat server
type Server struct {
	host        string
	port        int
	controller  *session.Controller
	lanes       *lane.Queue
	ownLanes    bool
	registry    *Registry
	newThreadID func() string
	logger      zerolog.Logger
	upgrader    websocket.Upgrader

	server   *http.Server
	listener net.Listener

	clientsMu      sync.Mutex
	clients        map[string]*client
	isShuttingDown bool
	inFlight       sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	Host       string
	Port       int
	Controller *session.Controller
	// Lanes serializes work per thread. A private queue is used when nil.
	Lanes       *lane.Queue
	NewThreadID func() string
	Logger      zerolog.Logger
}

type client struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) write(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// NewServer creates a chat server
func NewServer(cfg Config) (*Server, error) {
	observability.EnsureRegistered()

	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Controller == nil {
		return nil, fmt.Errorf("session controller is required")
	}

	lanes := cfg.Lanes
	ownLanes := false
	if lanes == nil {
		lanes = lane.New()
		ownLanes = true
	}
	newThreadID := cfg.NewThreadID
	if newThreadID == nil {
		newThreadID = thread.NewID
	}

	return &Server{
		host:        cfg.Host,
		port:        cfg.Port,
		controller:  cfg.Controller,
		lanes:       lanes,
		ownLanes:    ownLanes,
		registry:    NewRegistry(),
		newThreadID: newThreadID,
		logger:      cfg.Logger,
		clients:     make(map[string]*client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}, nil
}

// Registry returns the connection registry
func (s *Server) Registry() *Registry {
	return s.registry
}

// Handler returns the HTTP handler serving /ws, /metrics and /healthz
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":      "ok",
			"connections": s.registry.Count(),
		})
	})
	return mux
}

// Start listens and serves in the background
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", net.JoinHostPort(s.host, fmt.Sprintf("%d", s.port)))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", listener.Addr().String()).Msg("Starting chat server")

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Chat server error")
		}
	}()
	return nil
}

// Addr returns the listening address once started
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes every connection and shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	s.clientsMu.Lock()
	s.isShuttingDown = true
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.Unlock()

	s.logger.Info().Int("connections", len(clients)).Msg("Shutting down chat server")

	for _, c := range clients {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.conn.Close()
	}

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	if s.ownLanes {
		_ = s.lanes.Close()
	}
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.Lock()
	shuttingDown := s.isShuttingDown
	s.clientsMu.Unlock()
	if shuttingDown {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	id, err := gonanoid.New()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate connection id")
		conn.Close()
		return
	}

	c := &client{id: id, conn: conn}
	s.clientsMu.Lock()
	if s.isShuttingDown {
		s.clientsMu.Unlock()
		conn.Close()
		return
	}
	s.clients[id] = c
	s.clientsMu.Unlock()
	s.registry.Add(&Connection{ID: id, Controller: s.controller, ThreadID: s.newThreadID()})

	ctx, cancel := context.WithCancel(tracing.WithConnectionID(context.Background(), id))
	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().Str("ip", r.RemoteAddr).Msg("Client connected")

	defer func() {
		cancel()
		conn.Close()
		s.registry.Remove(id)
		s.clientsMu.Lock()
		delete(s.clients, id)
		s.clientsMu.Unlock()
		logger.Info().Msg("Client disconnected")
	}()

	s.sendStatus(ctx, c)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Error().Err(err).Msg("WebSocket error")
			}
			return
		}
		s.registry.Touch(id)

		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.sendError(c, "", fmt.Errorf("malformed frame: %w", err))
			continue
		}

		if !s.beginFrame() {
			s.sendError(c, "", errShuttingDown)
			return
		}
		s.handleFrame(ctx, c, frame)
		s.inFlight.Done()
	}
}

// beginFrame registers an in-flight frame unless Stop has begun. Stop flips
// isShuttingDown under the same lock before it waits.
func (s *Server) beginFrame() bool {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if s.isShuttingDown {
		return false
	}
	s.inFlight.Add(1)
	return true
}

func (s *Server) handleFrame(ctx context.Context, c *client, frame ClientFrame) {
	ctrl, threadID, ok := s.registry.Lookup(c.id)
	if !ok {
		return
	}

	ctx, span := tracing.StartSpan(tracing.WithThreadID(ctx, threadID), tracerName, "chat.frame",
		attribute.String("frame", frame.Type),
		attribute.String("thread_id", threadID),
	)
	defer span.End()

	var err error
	switch frame.Type {
	case FrameMessage:
		if strings.TrimSpace(frame.Text) == "" {
			err = fmt.Errorf("%w: message text cannot be empty", session.ErrInvalidInput)
			break
		}
		err = s.stream(ctx, c, threadID, ctrl.Run(ctx, threadID, frame.Text))
	case FrameApprove:
		err = s.stream(ctx, c, threadID, ctrl.Resume(ctx, threadID, []session.Decision{session.Approve()}))
	case FrameReject:
		err = s.stream(ctx, c, threadID, ctrl.Resume(ctx, threadID, []session.Decision{session.Reject(frame.Text)}))
	case FrameNewThread:
		s.registry.SetThread(c.id, s.newThreadID())
		s.sendStatus(ctx, c)
		return
	case FrameHistory:
		var msgs []thread.Message
		msgs, err = ctrl.GetMessages(ctx, threadID)
		if err == nil {
			err = c.write(HistoryFrame{Type: FrameHistory, ThreadID: threadID, Messages: msgs})
		}
	default:
		err = fmt.Errorf("unknown frame type %q", frame.Type)
	}

	if err != nil {
		tracing.RecordError(span, err)
		s.sendError(c, frame.Type, err)
	}
	if frame.Type != FrameHistory {
		s.sendStatus(ctx, c)
	}
}

// stream runs a chunk sequence inside the thread's lane and forwards every chunk
func (s *Server) stream(ctx context.Context, c *client, threadID string, seq iter.Seq2[session.Chunk, error]) error {
	return s.lanes.Do(ctx, threadID, func(ctx context.Context) error {
		for chunk, err := range seq {
			if err != nil {
				return err
			}
			payload, err := session.Payload(chunk)
			if err != nil {
				return err
			}
			if err := c.write(ChunkFrame{Type: FrameChunk, ThreadID: threadID, Chunk: payload}); err != nil {
				return fmt.Errorf("failed to send chunk: %w", err)
			}
		}
		return nil
	}, nil)
}

func (s *Server) sendStatus(ctx context.Context, c *client) {
	ctrl, threadID, ok := s.registry.Lookup(c.id)
	if !ok {
		return
	}

	pending, err := ctrl.PendingActions(ctx, threadID)
	if err != nil {
		s.sendError(c, FrameStatus, err)
		return
	}
	if pending == nil {
		pending = []thread.ActionRequest{}
	}

	if err := c.write(StatusFrame{
		Type:         FrameStatus,
		ConnectionID: c.id,
		ThreadID:     threadID,
		Interrupted:  len(pending) > 0,
		Pending:      pending,
	}); err != nil {
		s.logger.Debug().Err(err).Str("connectionId", c.id).Msg("Failed to send status")
	}
}

func (s *Server) sendError(c *client, request string, err error) {
	if werr := c.write(ErrorFrame{Type: FrameError, Request: request, Error: err.Error()}); werr != nil {
		s.logger.Debug().Err(werr).Str("connectionId", c.id).Msg("Failed to send error")
	}
}
