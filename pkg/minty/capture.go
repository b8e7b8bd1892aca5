// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package minty

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Direction of a captured line
type Direction uint8

const (
	Inbound  Direction = iota // holder to client
	Outbound                  // client to holder
)

// String returns a short arrow marker for the direction
func (d Direction) String() string {
	if d == Outbound {
		return "->"
	}
	return "<-"
}

// Record is one captured protocol line. Captures are a stream of
// CBOR encoded records, one per line, in the order they were seen.
type Record struct {
	Timestamp int64     `cbor:"1,keyasint"` // Unix milliseconds
	Direction Direction `cbor:"2,keyasint"`
	Line      string    `cbor:"3,keyasint"`
}

// Time returns the record timestamp
func (r Record) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// CaptureWriter appends records to a capture stream
type CaptureWriter struct {
	enc *cbor.Encoder
}

// NewCaptureWriter creates a writer that encodes records to w
func NewCaptureWriter(w io.Writer) *CaptureWriter {
	return &CaptureWriter{enc: cbor.NewEncoder(w)}
}

// Write appends a single line to the capture
func (c *CaptureWriter) Write(ts time.Time, dir Direction, line string) error {
	rec := Record{Timestamp: ts.UnixMilli(), Direction: dir, Line: line}
	if err := c.enc.Encode(rec); err != nil {
		return fmt.Errorf("failed to encode capture record: %w", err)
	}
	return nil
}

// CaptureReader reads records back from a capture stream
type CaptureReader struct {
	dec *cbor.Decoder
}

// NewCaptureReader creates a reader that decodes records from r
func NewCaptureReader(r io.Reader) *CaptureReader {
	return &CaptureReader{dec: cbor.NewDecoder(r)}
}

// Next returns the next record, or io.EOF at the end of the capture
func (c *CaptureReader) Next() (Record, error) {
	var rec Record
	if err := c.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("failed to decode capture record: %w", err)
	}
	return rec, nil
}
