package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics holds the server's operational counters. All fields are
// atomic and safe for concurrent use from session goroutines.
type Metrics struct {
	TotalConnections  atomic.Int64
	ActiveConnections atomic.Int64
	TotalDisconnects  atomic.Int64

	FramesIn  atomic.Int64
	FramesOut atomic.Int64

	SuccessfulAuths  atomic.Int64
	FailedAuths      atomic.Int64
	RejectedUnauthed atomic.Int64
	Registrations    atomic.Int64

	DirectMessages    atomic.Int64
	GroupMessages     atomic.Int64
	BroadcastFailures atomic.Int64

	GroupsCreated    atomic.Int64
	InvitesSent      atomic.Int64
	HistoryRequests  atomic.Int64
	ChatListRequests atomic.Int64

	startTime time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	TotalConnections  int64 `json:"total_connections"`
	ActiveConnections int64 `json:"active_connections"`
	TotalDisconnects  int64 `json:"total_disconnects"`
	FramesIn          int64 `json:"frames_in"`
	FramesOut         int64 `json:"frames_out"`
	SuccessfulAuths   int64 `json:"successful_auths"`
	FailedAuths       int64 `json:"failed_auths"`
	RejectedUnauthed  int64 `json:"rejected_unauthed"`
	Registrations     int64 `json:"registrations"`
	DirectMessages    int64 `json:"direct_messages"`
	GroupMessages     int64 `json:"group_messages"`
	BroadcastFailures int64 `json:"broadcast_failures"`
	GroupsCreated     int64 `json:"groups_created"`
	InvitesSent       int64 `json:"invites_sent"`
	HistoryRequests   int64 `json:"history_requests"`
	ChatListRequests  int64 `json:"chat_list_requests"`
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		TotalConnections:  m.TotalConnections.Load(),
		ActiveConnections: m.ActiveConnections.Load(),
		TotalDisconnects:  m.TotalDisconnects.Load(),
		FramesIn:          m.FramesIn.Load(),
		FramesOut:         m.FramesOut.Load(),
		SuccessfulAuths:   m.SuccessfulAuths.Load(),
		FailedAuths:       m.FailedAuths.Load(),
		RejectedUnauthed:  m.RejectedUnauthed.Load(),
		Registrations:     m.Registrations.Load(),
		DirectMessages:    m.DirectMessages.Load(),
		GroupMessages:     m.GroupMessages.Load(),
		BroadcastFailures: m.BroadcastFailures.Load(),
		GroupsCreated:     m.GroupsCreated.Load(),
		InvitesSent:       m.InvitesSent.Load(),
		HistoryRequests:   m.HistoryRequests.Load(),
		ChatListRequests:  m.ChatListRequests.Load(),
	}
}

func (m *Metrics) JSON() ([]byte, error) {
	return json.Marshal(m.Snapshot())
}

// LogSummary emits the current counters through the structured logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics summary",
		"active_connections", s.ActiveConnections,
		"total_connections", s.TotalConnections,
		"total_disconnects", s.TotalDisconnects,
		"successful_auths", s.SuccessfulAuths,
		"failed_auths", s.FailedAuths,
		"direct_messages", s.DirectMessages,
		"group_messages", s.GroupMessages,
		"broadcast_failures", s.BroadcastFailures,
	)
}

// StartPeriodicLog logs a metrics summary every interval until done is
// closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.LogSummary()
			case <-done:
				return
			}
		}
	}()
}
