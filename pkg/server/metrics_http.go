package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// StartMetricsHTTP starts a lightweight HTTP server that exposes /metrics
// in Prometheus text exposition format. It runs in the background and
// shuts down when the server context is cancelled.
//
// Disabled when Config.MetricsAddr is empty.
func (s *Server) StartMetricsHTTP() {
	addr := s.cfg.MetricsAddr
	if addr == "" {
		return // metrics endpoint disabled
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("metrics HTTP listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics HTTP error", "err", err)
		}
	}()

	go func() {
		<-s.ctx.Done()
		_ = srv.Close()
	}()
}

// handleMetrics writes all metrics in Prometheus text exposition format.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m := s.metrics
	uptime := time.Since(m.startTime).Seconds()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Helper for gauge/counter lines.
	// Write errors to http.ResponseWriter are non-actionable; suppress errcheck.
	write := func(name, help, mtype string, value int64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
	}
	writeFloat := func(name, help, mtype string, value float64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %f\n", name, value)
	}

	writeFloat("gorelay_uptime_seconds", "Server uptime in seconds.", "gauge", uptime)

	write("gorelay_connections_active", "Current active connections.", "gauge",
		m.ActiveConnections.Load())
	write("gorelay_connections_total", "Lifetime TCP connections accepted.", "counter",
		m.TotalConnections.Load())
	write("gorelay_disconnects_total", "Total client disconnects.", "counter",
		m.TotalDisconnects.Load())
	write("gorelay_frames_in_total", "Frames decoded from clients.", "counter",
		m.FramesIn.Load())
	write("gorelay_frames_out_total", "Frames written to clients.", "counter",
		m.FramesOut.Load())

	write("gorelay_auth_success_total", "Successful authentication attempts.", "counter",
		m.SuccessfulAuths.Load())
	write("gorelay_auth_failed_total", "Failed authentication attempts.", "counter",
		m.FailedAuths.Load())
	write("gorelay_unauthed_rejects_total", "Requests rejected for missing authentication.", "counter",
		m.RejectedUnauthed.Load())
	write("gorelay_registrations_total", "Accounts registered.", "counter",
		m.Registrations.Load())

	write("gorelay_direct_messages_total", "Direct messages relayed.", "counter",
		m.DirectMessages.Load())
	write("gorelay_group_messages_total", "Group messages relayed.", "counter",
		m.GroupMessages.Load())
	write("gorelay_broadcast_failures_total", "Failed deliveries to individual sessions.", "counter",
		m.BroadcastFailures.Load())

	write("gorelay_groups_created_total", "Groups created.", "counter",
		m.GroupsCreated.Load())
	write("gorelay_invites_total", "Group invitations processed.", "counter",
		m.InvitesSent.Load())
	write("gorelay_history_requests_total", "Chat history requests served.", "counter",
		m.HistoryRequests.Load())
	write("gorelay_chat_list_requests_total", "Chat list requests served.", "counter",
		m.ChatListRequests.Load())
}
