// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package minty

import "strings"

// Command is a client to device message. A Command with an empty Tag
// and a single argument is forwarded verbatim.
type Command struct {
	Tag  string
	Args []string
}

// Command builder functions create Command values ready for Encode.

// NewUserIDCommand creates USER_ID:<id>, sent right after the link opens
// so the holder can attribute sessions to the signed-in user.
func NewUserIDCommand(userID string) Command {
	return Command{Tag: CmdUserID, Args: []string{userID}}
}

// NewStatusRequest creates GET_STATUS.
// The holder answers with STATUS, PROGRESS and DOTS lines.
func NewStatusRequest() Command {
	return Command{Tag: CmdGetStatus}
}

// NewPingRequest creates PING. The holder answers with PONG.
func NewPingRequest() Command {
	return Command{Tag: CmdPing}
}

// NewRawCommand wraps free text that is sent unchanged
func NewRawCommand(text string) Command {
	return Command{Args: []string{text}}
}

// IsRaw reports whether the command is forwarded verbatim
func (c Command) IsRaw() bool {
	return c.Tag == ""
}

// Encode formats a command as a single protocol line (no terminator)
func Encode(c Command) string {
	if c.IsRaw() {
		return strings.Join(c.Args, FieldSeparator)
	}
	if len(c.Args) == 0 {
		return c.Tag
	}
	return c.Tag + FieldSeparator + strings.Join(c.Args, FieldSeparator)
}

// String returns the encoded form of the command
func (c Command) String() string {
	return Encode(c)
}
