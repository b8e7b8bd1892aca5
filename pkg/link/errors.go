// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrNotConnected is returned by Send when no link is open
var ErrNotConnected = errors.New("not connected")

// ErrSuperseded is returned by Connect when a newer Connect or a
// Disconnect cancelled the attempt
var ErrSuperseded = errors.New("connection attempt superseded")

// Category is the user-facing classification of a connect failure
type Category int

const (
	CategoryFailed Category = iota
	CategoryHostUnreachable
	CategoryTimeout
)

func (c Category) String() string {
	switch c {
	case CategoryHostUnreachable:
		return "host unreachable"
	case CategoryTimeout:
		return "timeout"
	default:
		return "connection failed"
	}
}

// ConnectError wraps a dial failure with its category. The category is
// advisory text for the user; callers should not branch on it.
type ConnectError struct {
	Category Category
	Err      error
}

func (e *ConnectError) Error() string {
	switch e.Category {
	case CategoryHostUnreachable:
		return "host unreachable: check the device address and network"
	case CategoryTimeout:
		return "timeout: device did not respond"
	default:
		return fmt.Sprintf("connection failed: %v", e.Err)
	}
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

var (
	unreachableMarkers = []string{"refused", "unreachable", "no route"}
	timeoutMarkers     = []string{"timeout", "timed out", "deadline exceeded"}
)

// Classify wraps err in a ConnectError
func Classify(err error) *ConnectError {
	var ce *ConnectError
	if errors.As(err, &ce) {
		return ce
	}
	return &ConnectError{Category: classify(err), Err: err}
}

func classify(err error) Category {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH):
		return CategoryHostUnreachable
	case errors.Is(err, context.DeadlineExceeded):
		return CategoryTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryTimeout
	}

	text := strings.ToLower(err.Error())
	for _, marker := range unreachableMarkers {
		if strings.Contains(text, marker) {
			return CategoryHostUnreachable
		}
	}
	for _, marker := range timeoutMarkers {
		if strings.Contains(text, marker) {
			return CategoryTimeout
		}
	}
	return CategoryFailed
}
