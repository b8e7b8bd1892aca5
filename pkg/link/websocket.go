// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Thermoquad/mintylink/pkg/minty"
)

// closeReason is sent in the close frame of a user initiated disconnect
const closeReason = "User disconnected"

// WebSocketDialer connects to the holder's websocket server
type WebSocketDialer struct {
	Port             int           // Control port used when the host has none
	HandshakeTimeout time.Duration // Upgrade deadline
	SkipSSLVerify    bool          // Only used for wss:// URLs
}

// URL returns the websocket URL for addr. Hosts may already carry a
// port or be a complete ws:// or wss:// URL.
func (d WebSocketDialer) URL(addr minty.DeviceAddress) string {
	host := strings.TrimSpace(addr.Host)
	if strings.HasPrefix(host, "ws://") || strings.HasPrefix(host, "wss://") {
		return host
	}
	if _, _, err := net.SplitHostPort(host); err != nil {
		port := d.Port
		if port == 0 {
			port = minty.ControlPort
		}
		host = net.JoinHostPort(host, strconv.Itoa(port))
	}
	u := url.URL{Scheme: "ws", Host: host, Path: "/"}
	return u.String()
}

// Describe returns the URL that Dial connects to
func (d WebSocketDialer) Describe(addr minty.DeviceAddress) string {
	return "WebSocket: " + d.URL(addr)
}

// Dial opens a websocket to the holder
func (d WebSocketDialer) Dial(ctx context.Context, addr minty.DeviceAddress) (Transport, error) {
	wsURL := d.URL(addr)

	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: timeout,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: d.SkipSSLVerify,
		}
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, err
	}

	return &WebSocketTransport{conn: conn}, nil
}

// WebSocketTransport exchanges one protocol line per text frame.
// Binary frames are ignored.
type WebSocketTransport struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// NewWebSocketTransport wraps an established websocket connection
func NewWebSocketTransport(conn *websocket.Conn) *WebSocketTransport {
	return &WebSocketTransport{conn: conn}
}

func (w *WebSocketTransport) ReadLine() (string, error) {
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			return "", err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	}
}

func (w *WebSocketTransport) WriteLine(line string) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

// Ping sends a websocket ping control frame
func (w *WebSocketTransport) Ping() error {
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

// Close sends a normal closure frame and closes the socket
func (w *WebSocketTransport) Close() error {
	var err error
	w.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, closeReason)
		w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = w.conn.Close()
	})
	return err
}
