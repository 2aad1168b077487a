// Package server exposes the order API and the per-connection event streams
// over HTTP.
package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/cafestream/internal/auth"
	"github.com/alfredjeanlab/cafestream/internal/dispatch"
	"github.com/alfredjeanlab/cafestream/internal/eventlog"
	"github.com/alfredjeanlab/cafestream/internal/orders"
)

const (
	// DefaultRetry is the reconnect delay advertised to stream clients.
	DefaultRetry = 3 * time.Second
	// DefaultWriteTimeout bounds each stream write to a client.
	DefaultWriteTimeout = 10 * time.Second
)

// Config tunes stream connections.
type Config struct {
	Stream dispatch.Config
	// Retry is sent as the SSE retry field when a stream opens.
	Retry time.Duration
	// WriteTimeout is the deadline for each frame write. A client that stops
	// reading fails the write and its stream is cancelled.
	WriteTimeout time.Duration
}

// CafeServer serves the order API and event streams.
type CafeServer struct {
	orders   *orders.Service
	log      eventlog.Log
	resolver auth.Resolver
	cfg      Config
	logger   *slog.Logger

	mu      sync.Mutex
	streams map[*dispatch.Dispatcher]struct{}
	closed  bool
}

// NewCafeServer returns a server over the given order service and event log.
func NewCafeServer(svc *orders.Service, log eventlog.Log, resolver auth.Resolver, cfg Config, logger *slog.Logger) *CafeServer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Retry <= 0 {
		cfg.Retry = DefaultRetry
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	return &CafeServer{
		orders:   svc,
		log:      log,
		resolver: resolver,
		cfg:      cfg,
		logger:   logger,
		streams:  make(map[*dispatch.Dispatcher]struct{}),
	}
}

// track registers an open stream. It reports false once the server is closing.
func (s *CafeServer) track(d *dispatch.Dispatcher) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.streams[d] = struct{}{}
	return true
}

func (s *CafeServer) untrack(d *dispatch.Dispatcher) {
	s.mu.Lock()
	delete(s.streams, d)
	s.mu.Unlock()
}

// OpenStreams returns the number of streams currently being served.
func (s *CafeServer) OpenStreams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

// CloseStreams cancels every open stream and refuses new ones. Call it before
// http.Server.Shutdown, which otherwise waits on long-lived streams.
func (s *CafeServer) CloseStreams() {
	s.mu.Lock()
	s.closed = true
	open := make([]*dispatch.Dispatcher, 0, len(s.streams))
	for d := range s.streams {
		open = append(open, d)
	}
	s.mu.Unlock()

	for _, d := range open {
		d.Cancel()
	}
	if len(open) > 0 {
		s.logger.Info("closed open streams", "count", len(open))
	}
}
