// Package server implements the relay server: the TCP listener, the
// per-connection sessions, and the registry that routes messages
// between them.
package server

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/pavelsim/gorelay/pkg/datastore"
	"github.com/pavelsim/gorelay/pkg/protocol"
)

// Config holds server configuration.
type Config struct {
	Addr        string `yaml:"addr"`         // TCP bind address (e.g. ":52777")
	DBPath      string `yaml:"db_path"`      // SQLite database path
	MetricsAddr string `yaml:"metrics_addr"` // HTTP bind address for /metrics (empty = disabled)
	LogLevel    string `yaml:"log_level"`    // debug, info, warn, error
	LogFormat   string `yaml:"log_format"`   // text or json
	GroupsFile  string `yaml:"groups_file"`  // YAML file defining groups to create on startup

	// Hardening knobs, set via flags rather than YAML.
	MaxFrameSize int           `yaml:"-"` // per-frame payload cap in bytes
	IdleTimeout  time.Duration `yaml:"-"` // max silence on a session before it is dropped
	WriteTimeout time.Duration `yaml:"-"` // per-frame outbound write deadline
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         ":52777",
		DBPath:       "relay.db",
		LogLevel:     "info",
		LogFormat:    "text",
		MaxFrameSize: protocol.MaxFrameSize,
		IdleTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Second,
	}
}

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Store and will Close() it on shutdown.
type Dependencies struct {
	Store datastore.DataStore
}

// Server is the relay server.
type Server struct {
	cfg      Config
	registry *Registry
	metrics  *Metrics
	store    datastore.DataStore
	ln       net.Listener
	nextID   atomic.Uint64
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates a new Server instance.
func New(cfg Config, deps Dependencies) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	metrics := NewMetrics()
	return &Server{
		cfg:      cfg,
		registry: NewRegistry(metrics),
		metrics:  metrics,
		store:    deps.Store,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Registry returns the session registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}
