// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"

	"github.com/Thermoquad/mintylink/pkg/minty"
)

// Transport carries protocol lines to and from one holder.
// ReadLine is called from a single goroutine; WriteLine and Ping may be
// called concurrently with it and with each other.
type Transport interface {
	// ReadLine blocks until the next protocol line arrives
	ReadLine() (string, error)
	// WriteLine sends a single protocol line
	WriteLine(line string) error
	// Ping sends a keepalive
	Ping() error
	// Close releases the transport and unblocks ReadLine
	Close() error
}

// Dialer opens transports
type Dialer interface {
	Dial(ctx context.Context, addr minty.DeviceAddress) (Transport, error)
	// Describe returns a human-readable description of the target
	Describe(addr minty.DeviceAddress) string
}
