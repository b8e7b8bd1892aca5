// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package discovery

import (
	"context"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// startResponder listens on loopback and answers every datagram with replies
func startResponder(t *testing.T, replies ...string) (string, <-chan string) {
	t.Helper()

	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	requests := make(chan string, 4)
	go func() {
		buf := make([]byte, 256)
		for {
			n, from, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			requests <- string(buf[:n])
			for _, reply := range replies {
				conn.WriteTo([]byte(reply), from)
			}
		}
	}()

	return conn.LocalAddr().String(), requests
}

func drain(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("discovery stream did not close")
		}
	}
}

// ============================================================
// Broadcast Tests
// ============================================================

func TestBroadcast_AcceptsTokenReplies(t *testing.T) {
	addr, requests := startResponder(t,
		"HELLO_WORLD",
		"MINTY_ESP32:ESP32_A1B2",
		"MINTY_ESP32:ESP32_A1B2",
	)

	svc := New(Config{BroadcastAddr: addr, IdleTimeout: 200 * time.Millisecond})
	events := drain(t, svc.Discover(context.Background(), Broadcast))

	if req := <-requests; req != "MINTY_DISCOVER" {
		t.Errorf("expected MINTY_DISCOVER request, got %q", req)
	}

	if len(events) != 2 {
		t.Fatalf("expected Found + Complete, got %+v", events)
	}
	if events[0].Kind != Found {
		t.Fatalf("expected Found, got %+v", events[0])
	}
	if events[0].Device.Host != "127.0.0.1" || events[0].Device.DeviceID != "ESP32_A1B2" {
		t.Errorf("unexpected device %+v", events[0].Device)
	}
	if events[1].Kind != Complete || events[1].Found != 1 {
		t.Errorf("expected Complete with 1 device, got %+v", events[1])
	}
}

func TestBroadcast_NoRepliesCompletesEmpty(t *testing.T) {
	addr, _ := startResponder(t)

	svc := New(Config{BroadcastAddr: addr, IdleTimeout: 100 * time.Millisecond})
	devices, err := Collect(svc.Discover(context.Background(), Broadcast))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if devices == nil || len(devices) != 0 {
		t.Errorf("expected empty non-nil result, got %#v", devices)
	}
}

func TestParseReply(t *testing.T) {
	tests := []struct {
		reply string
		id    string
		ok    bool
	}{
		{"MINTY_ESP32:ESP32_1", "ESP32_1", true},
		{"MINTY_ESP32:a:b", "a:b", true},
		{"MINTY_ESP32", "", true},
		{"MINTY_ESP32:dev\n", "dev", true},
		{"OTHER:dev", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		id, ok := parseReply(tt.reply, "MINTY_ESP32")
		if id != tt.id || ok != tt.ok {
			t.Errorf("parseReply(%q) = (%q, %v), expected (%q, %v)", tt.reply, id, ok, tt.id, tt.ok)
		}
	}
}

func TestBroadcastAddress(t *testing.T) {
	_, n, _ := net.ParseCIDR("192.168.4.17/24")
	if got := broadcastAddress(n).String(); got != "192.168.4.255" {
		t.Errorf("expected 192.168.4.255, got %s", got)
	}
	_, n, _ = net.ParseCIDR("10.1.2.3/16")
	if got := broadcastAddress(n).String(); got != "10.1.255.255" {
		t.Errorf("expected 10.1.255.255, got %s", got)
	}
}

// ============================================================
// Scan Tests
// ============================================================

type fakeProber struct {
	reachable map[string]bool
	control   map[string]bool
	delay     time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	mu     sync.Mutex
	probed []string
}

func (p *fakeProber) Reachable(ctx context.Context, host string) bool {
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		cur := p.maxInFlight.Load()
		if n <= cur || p.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	p.mu.Lock()
	p.probed = append(p.probed, host)
	p.mu.Unlock()

	time.Sleep(p.delay)
	return p.reachable[host]
}

func (p *fakeProber) ControlOpen(ctx context.Context, host string, port int) bool {
	return p.control[host] && port == 81
}

func TestScan_ReportsControlHosts(t *testing.T) {
	prober := &fakeProber{
		reachable: map[string]bool{"10.0.0.5": true, "10.0.0.9": true, "10.0.0.200": true},
		control:   map[string]bool{"10.0.0.5": true, "10.0.0.200": true},
		delay:     2 * time.Millisecond,
	}
	svc := New(Config{Subnet: "10.0.0"}, WithProber(prober))

	devices, err := Collect(svc.Discover(context.Background(), Scan))
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].Host < devices[j].Host })
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %+v", devices)
	}
	if devices[0].Host != "10.0.0.200" || devices[0].DeviceID != "ESP32_200" {
		t.Errorf("unexpected device %+v", devices[0])
	}
	if devices[1].Host != "10.0.0.5" || devices[1].DeviceID != "ESP32_5" {
		t.Errorf("unexpected device %+v", devices[1])
	}

	if len(prober.probed) != 254 {
		t.Errorf("expected 254 hosts probed, got %d", len(prober.probed))
	}
	if max := prober.maxInFlight.Load(); max > 20 {
		t.Errorf("expected at most 20 probes in flight, saw %d", max)
	}
}

func TestScan_NoDuplicates(t *testing.T) {
	prober := &fakeProber{
		reachable: map[string]bool{"10.0.0.1": true},
		control:   map[string]bool{"10.0.0.1": true},
	}
	svc := New(Config{Subnet: "10.0.0.", BatchSize: 254}, WithProber(prober))

	events := drain(t, svc.Discover(context.Background(), Scan))
	seen := map[string]int{}
	for _, ev := range events {
		if ev.Kind == Found {
			seen[ev.Device.Host]++
		}
	}
	for host, n := range seen {
		if n != 1 {
			t.Errorf("host %s reported %d times", host, n)
		}
	}
}

func TestDiscover_NewRunCancelsPrevious(t *testing.T) {
	prober := &fakeProber{delay: 20 * time.Millisecond}
	svc := New(Config{Subnet: "10.0.0"}, WithProber(prober))

	first := svc.Discover(context.Background(), Scan)
	second := svc.Discover(context.Background(), Scan)

	for _, ev := range drain(t, first) {
		if ev.Kind == Complete {
			t.Error("cancelled run should not complete")
		}
	}

	svc.Cancel()
	drain(t, second)
}

func TestDiscover_ContextCancel(t *testing.T) {
	prober := &fakeProber{delay: 20 * time.Millisecond}
	svc := New(Config{Subnet: "10.0.0"}, WithProber(prober))

	ctx, cancel := context.WithCancel(context.Background())
	events := svc.Discover(ctx, Scan)
	cancel()

	for _, ev := range drain(t, events) {
		if ev.Kind == Complete || ev.Kind == Error {
			t.Errorf("unexpected terminal event after cancel: %+v", ev)
		}
	}
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"", Broadcast, false},
		{"broadcast", Broadcast, false},
		{"SCAN", Scan, false},
		{" scan ", Scan, false},
		{"mdns", Broadcast, true},
	}
	for _, tt := range tests {
		got, err := ParseStrategy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseStrategy(%q) = %v, %v", tt.in, got, err)
		}
	}
}
