// Package server accepts TCP connections and serves the line protocol on
// each of them.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"carestore/config"
	"carestore/dispatch"
)

// Server accepts TCP connections and spawns a goroutine per client.
type Server struct {
	cfg      *config.Config
	disp     *dispatch.Dispatcher
	logger   *slog.Logger
	mu       sync.Mutex // protects listener and conns
	listener net.Listener
	conns    map[*Connection]struct{}
	wg       sync.WaitGroup
	quit     chan struct{}
	quitOnce sync.Once
}

// New creates a server with the given configuration and dispatcher.
func New(cfg *config.Config, disp *dispatch.Dispatcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		cfg:    cfg,
		disp:   disp,
		logger: logger,
		conns:  make(map[*Connection]struct{}),
		quit:   make(chan struct{}),
	}
}

// ListenAndServe listens on the configured port and serves until
// Shutdown is called or an unrecoverable error occurs.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown is called. Serve takes
// ownership of ln.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	select {
	case <-s.quit:
		ln.Close()
		return nil
	default:
	}
	s.logger.Info("carestore listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.logger.Warn("accept error", "error", err)
			continue
		}

		c := newConnection(conn, s.disp, s.logger)
		if !s.track(c) {
			conn.Close()
			continue
		}
		go func() {
			defer s.wg.Done()
			defer s.untrack(c)
			c.Handle()
		}()
	}
}

// track registers c and counts it in the WaitGroup, unless the server
// is shutting down.
func (s *Server) track(c *Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.quit:
		return false
	default:
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *Connection) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// Addr returns the listener's network address, or nil if not yet listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		return ln.Addr()
	}
	return nil
}

// Shutdown stops accepting new connections and asks open ones to stop
// after their current request. It waits for them to finish, respecting
// the context deadline; connections still open when ctx expires are
// closed outright.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.quitOnce.Do(func() { close(s.quit) })
	ln := s.listener
	for c := range s.conns {
		c.stop()
	}
	s.mu.Unlock()
	if ln != nil {
		ln.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		for c := range s.conns {
			c.conn.Close()
		}
		s.mu.Unlock()
		return ctx.Err()
	}
}

// stopGrace is how far in the past the read deadline is set when a
// connection is asked to stop, so a blocked read fails immediately.
const stopGrace = time.Second
