package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	socketio "github.com/googollee/go-socket.io"

	"github.com/eternisai/enchanted-chat/internal/chat"
	"github.com/eternisai/enchanted-chat/internal/logger"
)

// connState tracks one live connection. The context is cancelled on
// disconnect so in-flight pipelines stop emitting and abandon their
// upstream streams.
type connState struct {
	conn   socketio.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// Socket is the event layer: it owns the socket.io server, the set of live
// connections, and the dispatch of inbound chat messages into the pipeline.
type Socket struct {
	io       *socketio.Server
	pipeline *chat.Pipeline
	logger   *logger.Logger

	mu    sync.Mutex
	conns map[string]*connState
}

// NewSocket wires the socket.io server around the pipeline.
func NewSocket(pipeline *chat.Pipeline, log *logger.Logger) *Socket {
	s := &Socket{
		io:       socketio.NewServer(nil),
		pipeline: pipeline,
		logger:   log.WithComponent("socket"),
		conns:    make(map[string]*connState),
	}

	s.io.OnConnect("/", s.onConnect)
	s.io.OnDisconnect("/", s.onDisconnect)
	s.io.OnError("/", s.onError)
	s.io.OnEvent("/", "chat-message", s.onChatMessage)

	return s
}

// Serve runs the socket.io event loop. Blocks until Close.
func (s *Socket) Serve() error {
	return s.io.Serve()
}

// Handler exposes the HTTP handler to mount at /socket.io/.
func (s *Socket) Handler() http.Handler {
	return s.io
}

func (s *Socket) onConnect(conn socketio.Conn) error {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = logger.WithRequestID(ctx, logger.GenerateRequestID())

	s.mu.Lock()
	s.conns[conn.ID()] = &connState{conn: conn, ctx: ctx, cancel: cancel}
	total := len(s.conns)
	s.mu.Unlock()

	s.logger.Info("client connected",
		slog.String("conn_id", conn.ID()),
		slog.Int("live_connections", total))
	return nil
}

func (s *Socket) onDisconnect(conn socketio.Conn, reason string) {
	s.mu.Lock()
	state, ok := s.conns[conn.ID()]
	delete(s.conns, conn.ID())
	total := len(s.conns)
	s.mu.Unlock()

	if ok {
		state.cancel()
	}
	s.logger.Info("client disconnected",
		slog.String("conn_id", conn.ID()),
		slog.String("reason", reason),
		slog.Int("live_connections", total))
}

func (s *Socket) onError(conn socketio.Conn, err error) {
	id := ""
	if conn != nil {
		id = conn.ID()
	}
	s.logger.Error("socket error",
		slog.String("conn_id", id),
		slog.String("error", err.Error()))
}

// onChatMessage dispatches one inbound message. Each message runs on its own
// goroutine; the event layer does not serialize messages of one connection.
func (s *Socket) onChatMessage(conn socketio.Conn, req chat.Request) {
	s.mu.Lock()
	state, ok := s.conns[conn.ID()]
	s.mu.Unlock()
	if !ok {
		s.logger.Warn("message from untracked connection", slog.String("conn_id", conn.ID()))
		return
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("chat message handler panicked",
					slog.String("conn_id", conn.ID()),
					slog.String("chat_id", req.ChatID),
					slog.Any("panic", r))
			}
		}()
		s.pipeline.Process(state.ctx, newConnEmitter(conn), req)
	}()
}

// Quiesce disconnects all live connections and closes the server, bounded
// by ctx. On deadline the remaining connections are abandoned.
func (s *Socket) Quiesce(ctx context.Context) error {
	s.mu.Lock()
	states := make([]*connState, 0, len(s.conns))
	for _, st := range s.conns {
		states = append(states, st)
	}
	s.conns = make(map[string]*connState)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, st := range states {
			st.cancel()
			if err := st.conn.Close(); err != nil {
				s.logger.Warn("failed to close connection",
					slog.String("conn_id", st.conn.ID()),
					slog.String("error", err.Error()))
			}
		}
		if err := s.io.Close(); err != nil {
			s.logger.Warn("socket server close failed", slog.String("error", err.Error()))
		}
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConnectionCount reports the number of live connections.
func (s *Socket) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
