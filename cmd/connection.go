// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/Thermoquad/mintylink/pkg/discovery"
	"github.com/Thermoquad/mintylink/pkg/engine"
	"github.com/Thermoquad/mintylink/pkg/identity"
	"github.com/Thermoquad/mintylink/pkg/link"
	"github.com/Thermoquad/mintylink/pkg/minty"
	"github.com/Thermoquad/mintylink/pkg/session"
	"github.com/Thermoquad/mintylink/pkg/store"
)

// signalContext returns a context cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// isTerminal reports whether stdout is an interactive terminal
func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// useSerial reports whether the UART link was requested
func useSerial() bool {
	return cfg.Device.SerialPort != ""
}

// newDialer returns the serial dialer when a port is configured and the
// websocket dialer otherwise
func newDialer() link.Dialer {
	if useSerial() {
		return link.SerialDialer{Port: cfg.Device.SerialPort, Baud: cfg.Device.Baud}
	}
	return link.WebSocketDialer{
		Port:             cfg.Device.Port,
		HandshakeTimeout: time.Duration(cfg.Link.ConnectTimeoutSeconds) * time.Second,
		SkipSSLVerify:    cfg.Link.SkipSSLVerify,
	}
}

// deviceAddress resolves the holder to connect to from args or config
func deviceAddress(args []string) (minty.DeviceAddress, error) {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return minty.DeviceAddress{Host: strings.TrimSpace(args[0])}, nil
	}
	if useSerial() {
		return minty.DeviceAddress{Host: cfg.Device.SerialPort}, nil
	}
	if cfg.Device.Host != "" {
		return minty.DeviceAddress{Host: cfg.Device.Host}, nil
	}
	return minty.DeviceAddress{}, fmt.Errorf("no holder address: pass one as an argument, set --host or --port, or run 'mintylink discovery'")
}

// newIdentity prefers an explicit user ID over the persisted one
func newIdentity() identity.Provider {
	var providers []identity.Provider
	if cfg.Identity.UserID != "" {
		providers = append(providers, identity.Static(cfg.Identity.UserID))
	}
	if cfg.Identity.Path != "" {
		providers = append(providers, identity.NewFileProvider(cfg.Identity.Path))
	}
	return identity.Chain(providers...)
}

// newLinkManager builds a link manager for the configured transport
func newLinkManager(id identity.Provider, tap link.Tap) *link.Manager {
	return link.New(link.Config{
		Dialer:            newDialer(),
		Identity:          id,
		KeepaliveInterval: time.Duration(cfg.Link.KeepaliveSeconds) * time.Second,
		ConnectTimeout:    time.Duration(cfg.Link.ConnectTimeoutSeconds) * time.Second,
		Tap:               tap,
		Logger:            logger.With("component", "link"),
	})
}

// newDiscoveryService builds a discovery service from config
func newDiscoveryService() *discovery.Service {
	d := cfg.Discovery
	return discovery.New(discovery.Config{
		Port:          d.Port,
		RequestToken:  d.RequestToken,
		ResponseToken: d.ResponseToken,
		MaxReplies:    d.MaxReplies,
		IdleTimeout:   time.Duration(d.IdleTimeoutMS) * time.Millisecond,
		ControlPort:   cfg.Device.Port,
		ProbeTimeout:  time.Duration(d.ProbeTimeoutMS) * time.Millisecond,
		BatchSize:     d.BatchSize,
		Subnet:        d.Subnet,
		Logger:        logger.With("component", "discovery"),
	})
}

// openStore opens the progress database for the resolved user
func openStore(id identity.Provider) (*store.Store, error) {
	user, ok := id.CurrentUserID()
	if !ok || user == "" {
		return nil, engine.ErrNoUser
	}
	st, err := store.Open(cfg.Store.Path, user)
	if err != nil {
		return nil, fmt.Errorf("failed to open progress database: %w", err)
	}
	return st, nil
}

// newEngine wires the link, store and discovery into an engine. The
// returned cleanup closes the store.
func newEngine(tap link.Tap) (*engine.Engine, func(), error) {
	mode, err := session.ParseMode(cfg.Session.Mode)
	if err != nil {
		return nil, nil, err
	}

	id := newIdentity()
	st, err := openStore(id)
	if err != nil {
		return nil, nil, err
	}

	eng := engine.New(engine.Config{
		Link:        newLinkManager(id, tap),
		Identity:    id,
		Store:       st,
		Discovery:   newDiscoveryService(),
		Mode:        mode,
		MinDuration: time.Duration(cfg.Session.MinimumSeconds) * time.Second,
		Logger:      logger.With("component", "engine"),
	})
	return eng, func() { st.Close() }, nil
}
