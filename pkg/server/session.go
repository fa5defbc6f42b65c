package server

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pavelsim/gorelay/pkg/datastore"
	"github.com/pavelsim/gorelay/pkg/protocol"
)

// State is a session's lifecycle phase.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the server-side state for one client connection. Its read
// loop runs on a dedicated goroutine; Send may be called from any
// goroutine and serializes frames through writeMu.
type Session struct {
	id       uint64
	conn     net.Conn
	registry *Registry // non-owning handle back to the owning registry
	store    datastore.DataStore
	metrics  *Metrics

	maxFrame     int
	idleTimeout  time.Duration
	writeTimeout time.Duration

	writeMu sync.Mutex // serializes outbound frames on the wire

	mu       sync.Mutex
	state    State
	username string

	closeOnce sync.Once
}

func newSession(id uint64, conn net.Conn, registry *Registry, store datastore.DataStore, metrics *Metrics, cfg Config) *Session {
	metrics.TotalConnections.Add(1)
	metrics.ActiveConnections.Add(1)
	return &Session{
		id:           id,
		conn:         conn,
		registry:     registry,
		store:        store,
		metrics:      metrics,
		maxFrame:     cfg.MaxFrameSize,
		idleTimeout:  cfg.IdleTimeout,
		writeTimeout: cfg.WriteTimeout,
	}
}

// ID returns the session's connection identity.
func (s *Session) ID() uint64 {
	return s.id
}

// Username returns the bound username, or "" before authentication.
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// State returns the session's current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateAuthenticated
}

// bind moves the session to Authenticated and records the username
// binding in the registry.
func (s *Session) bind(username string) {
	s.mu.Lock()
	s.username = username
	s.state = StateAuthenticated
	s.mu.Unlock()
	s.registry.Bind(s, username)
}

// run is the per-connection read loop: register, decode frames in
// arrival order, dispatch each one, deregister on the way out.
func (s *Session) run() {
	defer s.Close()
	s.registry.Register(s)

	remote := s.conn.RemoteAddr()
	slog.Debug("session started", "session", s.id, "remote", remote)

	for {
		if s.idleTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		}
		env, err := protocol.ReadMessageLimit(s.conn, s.maxFrame)
		if err != nil {
			// Every read failure is terminal: peer close, idle timeout,
			// an oversized frame, or a payload that is not JSON at all.
			// The client must reconnect.
			if !isExpectedClose(err) {
				slog.Warn("session read failed",
					"session", s.id, "user", s.Username(), "err", err)
			}
			return
		}
		s.metrics.FramesIn.Add(1)
		s.dispatch(env)
	}
}

// Send writes one frame to the peer. Frames from concurrent broadcasters
// never interleave on the wire.
func (s *Session) Send(env *protocol.Envelope) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	if err := protocol.WriteMessage(s.conn, env); err != nil {
		return err
	}
	s.metrics.FramesOut.Add(1)
	return nil
}

func (s *Session) sendError(message string) {
	if err := s.Send(protocol.ErrorEnvelope(message)); err != nil {
		slog.Debug("error response write failed", "session", s.id, "err", err)
	}
}

// Close deregisters the session and releases the connection. Safe to
// call multiple times and from any goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		user := s.username
		s.mu.Unlock()

		s.registry.Deregister(s)
		_ = s.conn.Close()

		s.metrics.ActiveConnections.Add(-1)
		s.metrics.TotalDisconnects.Add(1)
		slog.Info("session closed", "session", s.id, "user", user)
	})
}

func isExpectedClose(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed)
}
