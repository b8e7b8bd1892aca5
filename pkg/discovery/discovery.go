// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package discovery locates Minty holders on the local network.
//
// Two strategies are available. Broadcast sends a single UDP datagram to
// the subnet broadcast address and collects replies. Scan walks the local
// /24 and probes each host for the holder's control port. Both stream
// results on a channel that ends with a Complete (or Error) event.
package discovery

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Thermoquad/mintylink/pkg/minty"
)

// Strategy selects how devices are located
type Strategy int

const (
	Broadcast Strategy = iota
	Scan
)

func (s Strategy) String() string {
	switch s {
	case Broadcast:
		return "broadcast"
	case Scan:
		return "scan"
	default:
		return "unknown"
	}
}

// ParseStrategy accepts "broadcast" or "scan"
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "broadcast":
		return Broadcast, nil
	case "scan":
		return Scan, nil
	}
	return Broadcast, fmt.Errorf("invalid discovery strategy %q (use broadcast or scan)", s)
}

// EventKind identifies a discovery event
type EventKind int

const (
	// Found carries a newly located device
	Found EventKind = iota
	// Complete ends a run. Found holds the number of devices reported.
	Complete
	// Error ends a run that could not start (no socket, no local address)
	Error
)

// Event is a single item of a discovery stream
type Event struct {
	Kind   EventKind
	Device minty.DeviceAddress
	Found  int
	Err    error
}

// Config holds discovery parameters
type Config struct {
	Port          int           // UDP discovery port
	RequestToken  string        // Broadcast payload
	ResponseToken string        // Required reply prefix
	MaxReplies    int           // Broadcast stops after this many datagrams
	IdleTimeout   time.Duration // Broadcast stops when no datagram arrives for this long
	ControlPort   int           // TCP port probed by Scan
	ProbeTimeout  time.Duration // Per host probe deadline
	BatchSize     int           // Scan probes in flight at once

	// BroadcastAddr overrides the computed subnet broadcast address ("host:port")
	BroadcastAddr string
	// Subnet overrides the local /24 prefix used by Scan ("192.168.1")
	Subnet string

	// Logger receives per-run diagnostics. If nil, a no-op logger is used.
	Logger *slog.Logger
}

// DefaultConfig returns the holder's stock discovery parameters
func DefaultConfig() Config {
	return Config{
		Port:          minty.DiscoveryPort,
		RequestToken:  minty.DiscoveryRequest,
		ResponseToken: minty.DiscoveryResponse,
		MaxReplies:    5,
		IdleTimeout:   3 * time.Second,
		ControlPort:   minty.ControlPort,
		ProbeTimeout:  500 * time.Millisecond,
		BatchSize:     20,
	}
}

// Service runs at most one discovery at a time. Starting a new run
// cancels the one in flight.
type Service struct {
	cfg    Config
	prober Prober
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Option configures a Service
type Option func(*Service)

// WithProber replaces the network prober used by Scan
func WithProber(p Prober) Option {
	return func(s *Service) { s.prober = p }
}

// New creates a discovery service
func New(cfg Config, opts ...Option) *Service {
	def := DefaultConfig()
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if cfg.RequestToken == "" {
		cfg.RequestToken = def.RequestToken
	}
	if cfg.ResponseToken == "" {
		cfg.ResponseToken = def.ResponseToken
	}
	if cfg.MaxReplies <= 0 {
		cfg.MaxReplies = def.MaxReplies
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.ControlPort == 0 {
		cfg.ControlPort = def.ControlPort
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Service{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	if s.prober == nil {
		s.prober = NetProber{Timeout: cfg.ProbeTimeout}
	}
	return s
}

// Discover starts a run and returns its event stream. The channel is
// closed after the terminal Complete or Error event, or without one when
// the run is cancelled (by ctx, Cancel, or a newer Discover call).
func (s *Service) Discover(ctx context.Context, strategy Strategy) <-chan Event {
	runCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	s.mu.Unlock()

	out := make(chan Event, s.cfg.MaxReplies+1)
	r := &run{ctx: runCtx, out: out, seen: make(map[string]bool)}

	go func() {
		defer close(out)
		defer cancel()

		s.logger.Debug("discovery started", "strategy", strategy.String())

		var err error
		switch strategy {
		case Scan:
			err = s.scan(r)
		default:
			err = s.broadcast(r)
		}

		if runCtx.Err() != nil {
			s.logger.Debug("discovery cancelled", "strategy", strategy.String(), "found", r.count())
			return
		}
		if err != nil {
			s.logger.Warn("discovery failed", "strategy", strategy.String(), "error", err)
			r.send(Event{Kind: Error, Err: err})
			return
		}
		s.logger.Debug("discovery complete", "strategy", strategy.String(), "found", r.count())
		r.send(Event{Kind: Complete, Found: r.count()})
	}()

	return out
}

// Cancel stops the run in flight, if any
func (s *Service) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// run holds the per-discovery result state
type run struct {
	ctx context.Context
	out chan<- Event

	mu    sync.Mutex
	seen  map[string]bool
	found int
}

// report publishes a device once per host. Safe for concurrent use by
// scan probes; sends are serialized by the mutex.
func (r *run) report(addr minty.DeviceAddress) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.seen[addr.Host] {
		return false
	}
	r.seen[addr.Host] = true
	if !r.send(Event{Kind: Found, Device: addr}) {
		return false
	}
	r.found++
	return true
}

func (r *run) send(ev Event) bool {
	select {
	case r.out <- ev:
		return true
	case <-r.ctx.Done():
		return false
	}
}

func (r *run) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.found
}

// Collect drains a discovery stream into a slice. A run that finds
// nothing returns an empty slice and a nil error.
func Collect(events <-chan Event) ([]minty.DeviceAddress, error) {
	devices := []minty.DeviceAddress{}
	for ev := range events {
		switch ev.Kind {
		case Found:
			devices = append(devices, ev.Device)
		case Error:
			return devices, ev.Err
		}
	}
	return devices, nil
}
