package server

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Start binds the listen socket and launches the accept loop. It returns
// once the listener is live; use Addr to discover the bound address when
// listening on port 0.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	s.ln = ln
	slog.Info("server listening", "addr", ln.Addr().String())
	go s.acceptLoop()
	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			slog.Warn("accept failed", "err", err)
			continue
		}
		sess := newSession(s.nextID.Add(1), conn, s.registry, s.store, s.metrics, s.cfg)
		slog.Debug("connection accepted",
			"session", sess.id, "remote", conn.RemoteAddr().String())
		go sess.run()
	}
}

// Run starts the server and blocks until SIGINT or SIGTERM, then shuts
// down cleanly.
func (s *Server) Run() error {
	if s.cfg.GroupsFile != "" {
		if err := s.LoadGroupsFromYAML(s.cfg.GroupsFile); err != nil {
			return fmt.Errorf("load groups file: %w", err)
		}
	}

	if err := s.Start(); err != nil {
		return err
	}
	s.StartMetricsHTTP()
	s.metrics.StartPeriodicLog(60*time.Second, s.ctx.Done())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig.String())

	return s.Shutdown()
}

// Shutdown stops accepting connections, drops every live session, and
// closes the store.
func (s *Server) Shutdown() error {
	s.cancel()
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.registry.CloseAll()
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	slog.Info("server stopped")
	return nil
}
