// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package link owns the single persistent connection to a holder.
//
// A Manager opens a transport, identifies the user, requests status and
// then decodes every inbound line onto its Events channel. There is no
// automatic reconnect: once a link drops it stays down until Connect is
// called again.
package link

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Thermoquad/mintylink/pkg/clock"
	"github.com/Thermoquad/mintylink/pkg/identity"
	"github.com/Thermoquad/mintylink/pkg/minty"
)

// State of the link
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is a State plus the reason for the last transition
type Status struct {
	State   State
	Address minty.DeviceAddress
	Reason  string
}

// Tap observes every line crossing the link
type Tap func(dir minty.Direction, line string)

// Config configures a Manager
type Config struct {
	Dialer            Dialer
	Identity          identity.Provider // May be nil: no USER_ID is sent
	KeepaliveInterval time.Duration     // Defaults to 30s
	ConnectTimeout    time.Duration     // Defaults to 10s
	EventBuffer       int               // Defaults to 128
	Clock             clock.Clock
	Tap               Tap
	Logger            *slog.Logger
}

// Manager serializes all connection state changes. Safe for concurrent use.
type Manager struct {
	cfg    Config
	logger *slog.Logger
	events chan minty.Event

	// attemptMu guards the cancel func of the dial in flight
	attemptMu     sync.Mutex
	attemptCancel context.CancelFunc

	// connectMu serializes Connect, Disconnect and link loss handling
	connectMu sync.Mutex

	mu         sync.RWMutex
	status     Status
	transport  Transport
	loopCancel context.CancelFunc
	generation uint64
	loops      sync.WaitGroup
}

// New creates a disconnected manager
func New(cfg Config) *Manager {
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = 30 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 128
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = WebSocketDialer{}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Manager{
		cfg:    cfg,
		logger: logger,
		events: make(chan minty.Event, cfg.EventBuffer),
	}
}

// Events returns the decoded event stream. It has a single consumer and
// is never closed. Events from one link arrive in socket order,
// bracketed by Connected and Disconnected.
func (m *Manager) Events() <-chan minty.Event {
	return m.events
}

// Status returns the current link status
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Describe returns a human-readable description of addr for this manager's dialer
func (m *Manager) Describe(addr minty.DeviceAddress) string {
	return m.cfg.Dialer.Describe(addr)
}

// Connect opens a link to addr. An open link is torn down first (one
// Disconnected event); a dial still in flight is cancelled and its
// Connect returns ErrSuperseded. Dial failures are returned as
// *ConnectError and leave the manager in the Failed state.
func (m *Manager) Connect(ctx context.Context, addr minty.DeviceAddress) error {
	m.attemptMu.Lock()
	if m.attemptCancel != nil {
		m.attemptCancel()
	}
	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	m.attemptCancel = cancel
	m.attemptMu.Unlock()
	defer cancel()

	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	if errors.Is(dialCtx.Err(), context.Canceled) && ctx.Err() == nil {
		return ErrSuperseded
	}

	m.teardown(false, "Reconnecting")
	m.setStatus(Status{State: Connecting, Address: addr})

	target := m.cfg.Dialer.Describe(addr)
	m.logger.Info("connecting", "target", target)

	t, err := m.cfg.Dialer.Dial(dialCtx, addr)
	if err != nil {
		if errors.Is(dialCtx.Err(), context.Canceled) && ctx.Err() == nil {
			m.setStatus(Status{State: Disconnected, Address: addr, Reason: ErrSuperseded.Error()})
			return ErrSuperseded
		}
		cerr := Classify(err)
		m.logger.Warn("connect failed", "target", target, "category", cerr.Category.String(), "error", err)
		m.setStatus(Status{State: Failed, Address: addr, Reason: cerr.Error()})
		return cerr
	}

	if err := m.greet(t); err != nil {
		t.Close()
		cerr := Classify(err)
		m.logger.Warn("handshake failed", "target", target, "error", err)
		m.setStatus(Status{State: Failed, Address: addr, Reason: cerr.Error()})
		return cerr
	}

	loopCtx, loopCancel := context.WithCancel(context.Background())

	m.mu.Lock()
	m.transport = t
	m.loopCancel = loopCancel
	m.generation++
	gen := m.generation
	m.status = Status{State: Connected, Address: addr}
	m.mu.Unlock()

	m.logger.Info("connected", "target", target)
	m.emit(minty.Connected{})

	m.loops.Add(2)
	go m.receiveLoop(loopCtx, t, gen)
	go m.keepalive(loopCtx, t)
	return nil
}

// greet identifies the user and requests the holder status
func (m *Manager) greet(t Transport) error {
	if m.cfg.Identity != nil {
		if id, ok := m.cfg.Identity.CurrentUserID(); ok {
			if err := m.write(t, minty.Encode(minty.NewUserIDCommand(id))); err != nil {
				return err
			}
		} else {
			m.logger.Warn("no user id available, skipping identification")
		}
	}
	return m.write(t, minty.Encode(minty.NewStatusRequest()))
}

// Disconnect closes the link, cancels any dial in flight and always
// emits exactly one Disconnected event
func (m *Manager) Disconnect() {
	m.attemptMu.Lock()
	if m.attemptCancel != nil {
		m.attemptCancel()
		m.attemptCancel = nil
	}
	m.attemptMu.Unlock()

	m.connectMu.Lock()
	defer m.connectMu.Unlock()
	m.teardown(true, closeReason)
}

// Send encodes and writes a command. It never waits on the receive loop.
func (m *Manager) Send(cmd minty.Command) error {
	m.mu.RLock()
	t := m.transport
	m.mu.RUnlock()

	if t == nil {
		return ErrNotConnected
	}
	return m.write(t, minty.Encode(cmd))
}

func (m *Manager) write(t Transport, line string) error {
	if err := t.WriteLine(line); err != nil {
		return err
	}
	m.logger.Debug("sent", "line", line)
	if m.cfg.Tap != nil {
		m.cfg.Tap(minty.Outbound, line)
	}
	return nil
}

// teardown stops the loops, closes the transport and waits for both.
// Disconnected is emitted when a link was open, or always when force is
// set. Must be called with connectMu held.
func (m *Manager) teardown(force bool, reason string) {
	m.mu.Lock()
	t := m.transport
	cancel := m.loopCancel
	addr := m.status.Address
	m.transport = nil
	m.loopCancel = nil
	m.generation++
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if t != nil {
		if err := t.Close(); err != nil {
			m.logger.Debug("close failed", "error", err)
		}
	}
	m.loops.Wait()

	if t == nil && !force {
		return
	}

	m.setStatus(Status{State: Disconnected, Address: addr, Reason: reason})
	m.logger.Info("disconnected", "reason", reason)
	m.emit(minty.Disconnected{Reason: reason})
}

// receiveLoop decodes inbound lines until the transport fails or the
// link is torn down
func (m *Manager) receiveLoop(ctx context.Context, t Transport, gen uint64) {
	defer m.loops.Done()

	for {
		line, err := t.ReadLine()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn("connection lost", "error", err)
			go m.connectionLost(gen, "Connection lost: "+err.Error())
			return
		}

		m.logger.Debug("received", "line", line)
		if m.cfg.Tap != nil {
			m.cfg.Tap(minty.Inbound, line)
		}

		select {
		case m.events <- minty.Decode(line):
		case <-ctx.Done():
			return
		}
	}
}

// connectionLost tears down the link that failed, unless it has
// already been replaced or closed
func (m *Manager) connectionLost(gen uint64, reason string) {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.RLock()
	current := m.generation == gen && m.transport != nil
	m.mu.RUnlock()
	if !current {
		return
	}
	m.teardown(false, reason)
}

// keepalive pings the holder until the link is torn down. Pong timeouts
// are left to the transport.
func (m *Manager) keepalive(ctx context.Context, t Transport) {
	defer m.loops.Done()

	ticker := m.cfg.Clock.NewTicker(m.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.Ping(); err != nil {
				m.logger.Debug("keepalive failed", "error", err)
			}
		}
	}
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = s
}

func (m *Manager) emit(ev minty.Event) {
	m.events <- ev
}
