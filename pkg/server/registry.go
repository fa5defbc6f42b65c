package server

import (
	"log/slog"
	"sync"

	"github.com/pavelsim/gorelay/pkg/protocol"
)

// Registry is the process-wide directory of live sessions and the only
// state shared across connections. It owns the sessions it holds;
// sessions keep a non-owning handle back to it.
type Registry struct {
	mu         sync.RWMutex
	sessions   map[uint64]*Session // session ID -> session
	byUsername map[string]*Session // authenticated username -> session
	metrics    *Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry(metrics *Metrics) *Registry {
	return &Registry{
		sessions:   make(map[uint64]*Session),
		byUsername: make(map[string]*Session),
		metrics:    metrics,
	}
}

// Register adds a session to the live set. Idempotent.
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.id] = s
}

// Deregister removes a session from the live set and, if it holds a
// username binding, from the username map. Safe to call repeatedly.
func (r *Registry) Deregister(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, s.id)
	if name := s.Username(); name != "" && r.byUsername[name] == s {
		delete(r.byUsername, name)
	}
}

// Bind records the username binding after a successful auth. A username
// maps to at most one live session: if another session already holds the
// name, the newest login takes over the binding and the older session
// loses routing.
func (r *Registry) Bind(s *Session, username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.byUsername[username]; ok && old != s {
		slog.Warn("username rebound to newer session",
			"user", username, "old_session", old.id, "new_session", s.id)
	}
	r.byUsername[username] = s
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Online reports whether a username is bound to a live session.
func (r *Registry) Online(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byUsername[username]
	return ok
}

// DirectTargets returns the delivery set for a direct message. The
// sender is included so it observes its own echo.
func (r *Registry) DirectTargets(from, to string) []string {
	if from == to {
		return []string{from}
	}
	return []string{from, to}
}

// Broadcast pushes env to every live session bound to one of the target
// usernames. The recipient set is snapshotted under the lock and the
// lock released before any I/O, so a slow peer cannot stall concurrent
// registrations. A write failure on one target closes that session only;
// delivery to the remaining targets continues.
func (r *Registry) Broadcast(env *protocol.Envelope, targets []string) {
	r.mu.RLock()
	recipients := make([]*Session, 0, len(targets))
	for _, name := range targets {
		if sess, ok := r.byUsername[name]; ok {
			recipients = append(recipients, sess)
		}
	}
	r.mu.RUnlock()

	for _, sess := range recipients {
		if err := sess.Send(env); err != nil {
			r.metrics.BroadcastFailures.Add(1)
			slog.Warn("broadcast write failed",
				"session", sess.id, "user", sess.Username(), "err", err)
			go sess.Close()
		}
	}
}

// CloseAll closes every live session. Used during shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	snapshot := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		snapshot = append(snapshot, sess)
	}
	r.mu.RUnlock()

	for _, sess := range snapshot {
		sess.Close()
	}
}
