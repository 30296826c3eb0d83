package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
)

// ErrSourceStarted is returned by a second Run on the same source.
var ErrSourceStarted = errors.New("malms: event source already started")

// SocketSource accepts framed events on a unix stream socket.
//
// Each connection may carry any number of frames; a malformed frame closes
// that connection only. A SocketSource runs once; create a new one to
// listen again.
type SocketSource struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	started bool
	closed  bool
	ready   chan struct{}
}

// NewSocketSource creates a source listening on path once Run starts.
func NewSocketSource(path string, logger *slog.Logger) *SocketSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &SocketSource{
		path:   path,
		logger: logger.With("source", "socket", "path", path),
		conns:  make(map[net.Conn]struct{}),
		ready:  make(chan struct{}),
	}
}

// Name implements Source.
func (s *SocketSource) Name() string {
	return "socket"
}

// Ready is closed once the socket is listening.
func (s *SocketSource) Ready() <-chan struct{} {
	return s.ready
}

// Run listens until ctx is cancelled. The socket file is removed on return.
// Only the first call runs; later calls return ErrSourceStarted.
func (s *SocketSource) Run(ctx context.Context, sink Sink) error {
	s.mu.Lock()
	started := s.started
	s.started = true
	s.mu.Unlock()
	if started {
		return ErrSourceStarted
	}

	// Stale file from a previous run.
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.path, err)
	}
	close(s.ready)
	s.logger.Info("event socket listening")

	var wg sync.WaitGroup
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		ln.Close()
		s.closeConns()
	}()

	defer func() {
		close(stop)
		wg.Wait()
		os.Remove(s.path)
		s.logger.Info("event socket closed")
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		if !s.track(conn) {
			conn.Close()
			return nil
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.untrack(conn)
			s.serve(conn, sink)
		}()
	}
}

func (s *SocketSource) serve(conn net.Conn, sink Sink) {
	for {
		ev, err := ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Warn("dropping event connection", "error", err)
			}
			return
		}

		if err := sink.Notify(ev); err != nil {
			s.logger.Warn("event rejected", "event", ev.String(), "error", err)
		}
	}
}

func (s *SocketSource) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *SocketSource) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
}

func (s *SocketSource) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for conn := range s.conns {
		conn.Close()
	}
}

// SocketSender writes events to a SocketSource.
type SocketSender struct {
	conn net.Conn
}

// Dial connects to the event socket at path.
func Dial(path string) (*SocketSender, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to dial event socket: %w", err)
	}
	return &SocketSender{conn: conn}, nil
}

// Send writes one frame per event.
func (s *SocketSender) Send(evs ...Event) error {
	for _, ev := range evs {
		if err := WriteFrame(s.conn, ev); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the connection.
func (s *SocketSender) Close() error {
	return s.conn.Close()
}
