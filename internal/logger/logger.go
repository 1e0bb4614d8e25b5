package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger owns the process logger and the files behind it.
type Logger struct {
	logger   zerolog.Logger
	file     *RotatingWriter
	redactor *Redactor
}

// Config holds logger configuration
type Config struct {
	Level     string `mapstructure:"level" json:"level"`         // trace, debug, info, warn, error
	File      string `mapstructure:"file" json:"file,omitempty"` // log file path
	Console   bool   `mapstructure:"console" json:"console"`     // console output on stderr
	Pretty    bool   `mapstructure:"pretty" json:"pretty"`       // human-readable console format
	Redaction bool   `mapstructure:"redaction" json:"redaction"` // scrub credentials
	MaxSize   int    `mapstructure:"max_size" json:"max_size"`   // MB before rotation
	MaxAge    int    `mapstructure:"max_age" json:"max_age"`     // days to keep rotated files
	Compress  bool   `mapstructure:"compress" json:"compress"`   // gzip rotated files

	// Output replaces stderr for console output.
	Output io.Writer `mapstructure:"-" json:"-"`
}

// ParseLevel maps a level name to zerolog, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(s)
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return level
}

// New creates the logger and installs it as the zerolog global.
// Console output goes to stderr; stdout is reserved for command output.
func New(cfg Config) (*Logger, error) {
	var writers []io.Writer

	if cfg.Console {
		out := cfg.Output
		if out == nil {
			out = os.Stderr
		}
		if cfg.Pretty {
			out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
		}
		writers = append(writers, out)
	}

	var file *RotatingWriter
	if cfg.File != "" {
		maxSize := cfg.MaxSize
		if maxSize <= 0 {
			maxSize = DefaultConfig().MaxSize
		}
		var err error
		file, err = NewRotatingWriter(cfg.File, maxSize, cfg.MaxAge, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, file)
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = io.Discard
	case 1:
		writer = writers[0]
	default:
		writer = zerolog.MultiLevelWriter(writers...)
	}

	var redactor *Redactor
	if cfg.Redaction {
		redactor = NewRedactor()
		writer = redactor.Wrap(writer)
	}

	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))
	logger := zerolog.New(writer).With().Timestamp().Logger()
	log.Logger = logger

	return &Logger{
		logger:   logger,
		file:     file,
		redactor: redactor,
	}, nil
}

// SetLevel changes the level of every zerolog logger in the process.
func (l *Logger) SetLevel(level string) error {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(parsed)
	l.logger.Info().Str("level", parsed.String()).Msg("Log level changed")
	return nil
}

// Close flushes and closes the log file, if any
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *Logger) Debug() *zerolog.Event { return l.logger.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.logger.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.logger.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.logger.Error() }

// Zerolog returns the underlying zerolog.Logger
func (l *Logger) Zerolog() zerolog.Logger {
	return l.logger
}

// Component returns a child logger tagged with a component name
func (l *Logger) Component(name string) zerolog.Logger {
	return l.logger.With().Str("component", name).Logger()
}

// DefaultConfig returns default logger configuration
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Console:   true,
		Pretty:    true,
		Redaction: true,
		MaxSize:   100,
		MaxAge:    7,
		Compress:  true,
	}
}
