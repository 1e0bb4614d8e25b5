// Package chat serves threads to browser clients over WebSocket.
//
// Each connection is tracked in a Registry under a nanoid connection id and
// owns one current thread. Work for a thread is serialized through a lane
// queue keyed by the thread id.
//
// Usage:
//
//	srv, _ := chat.NewServer(chat.Config{Port: 8765, Controller: ctrl, Lanes: lane.New()})
//	_ = srv.Start()
//	defer srv.Stop(context.Background())
package chat
