// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"sync"

	"go.bug.st/serial"

	"github.com/Thermoquad/mintylink/pkg/minty"
)

// SerialDialer opens the holder's debug UART. The same line protocol is
// spoken there, terminated by newlines.
type SerialDialer struct {
	Port string // Device path; the address host is used when empty
	Baud int
}

func (d SerialDialer) portName(addr minty.DeviceAddress) string {
	if d.Port != "" {
		return d.Port
	}
	return addr.Host
}

// Describe returns the port and baud rate
func (d SerialDialer) Describe(addr minty.DeviceAddress) string {
	return fmt.Sprintf("Serial: %s @ %d baud", d.portName(addr), d.baud())
}

func (d SerialDialer) baud() int {
	if d.Baud <= 0 {
		return 115200
	}
	return d.Baud
}

// Dial opens the serial port. The context is not consulted: opening a
// local port does not block.
func (d SerialDialer) Dial(_ context.Context, addr minty.DeviceAddress) (Transport, error) {
	name := d.portName(addr)
	mode := &serial.Mode{
		BaudRate: d.baud(),
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}

	return NewSerialTransport(port), nil
}

// SerialTransport frames protocol lines with newlines over a serial port
type SerialTransport struct {
	port    serial.Port
	reader  *bufio.Reader
	writeMu sync.Mutex
}

// NewSerialTransport wraps an open serial port
func NewSerialTransport(port serial.Port) *SerialTransport {
	return &SerialTransport{port: port, reader: bufio.NewReader(port)}
}

func (s *SerialTransport) ReadLine() (string, error) {
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		return line, nil
	}
}

func (s *SerialTransport) WriteLine(line string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.port.Write([]byte(line + "\n"))
	return err
}

// Ping sends a PING line. UART has no control frames.
func (s *SerialTransport) Ping() error {
	return s.WriteLine(minty.Encode(minty.NewPingRequest()))
}

func (s *SerialTransport) Close() error {
	return s.port.Close()
}
