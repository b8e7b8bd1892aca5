// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/mintylink/pkg/clock"
	"github.com/Thermoquad/mintylink/pkg/discovery"
	"github.com/Thermoquad/mintylink/pkg/identity"
	"github.com/Thermoquad/mintylink/pkg/link"
	"github.com/Thermoquad/mintylink/pkg/minty"
	"github.com/Thermoquad/mintylink/pkg/progress"
	"github.com/Thermoquad/mintylink/pkg/session"
)

// ============================================================
// Fakes
// ============================================================

type fakeLink struct {
	events chan minty.Event

	mu         sync.Mutex
	status     link.Status
	connectErr error
	connects   []minty.DeviceAddress
	sent       []minty.Command
}

func newFakeLink() *fakeLink {
	return &fakeLink{events: make(chan minty.Event, 64)}
}

func (l *fakeLink) Connect(ctx context.Context, addr minty.DeviceAddress) error {
	l.mu.Lock()
	l.connects = append(l.connects, addr)
	err := l.connectErr
	if err == nil {
		l.status = link.Status{State: link.Connected, Address: addr}
	} else {
		l.status = link.Status{State: link.Failed, Address: addr, Reason: err.Error()}
	}
	l.mu.Unlock()

	if err != nil {
		return err
	}
	l.events <- minty.Connected{}
	return nil
}

func (l *fakeLink) Disconnect() {
	l.mu.Lock()
	l.status = link.Status{State: link.Disconnected, Reason: "User disconnected"}
	l.mu.Unlock()
	l.events <- minty.Disconnected{Reason: "User disconnected"}
}

func (l *fakeLink) Send(cmd minty.Command) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status.State != link.Connected {
		return link.ErrNotConnected
	}
	l.sent = append(l.sent, cmd)
	return nil
}

func (l *fakeLink) Events() <-chan minty.Event { return l.events }

func (l *fakeLink) Status() link.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

type savedSession struct {
	period   progress.Period
	duration int
	score    int
}

type fakeStore struct {
	mu      sync.Mutex
	today   *progress.DailyProgress
	loadErr error
	saveErr error
	saves   []savedSession
	saved   chan savedSession
}

func newFakeStore() *fakeStore {
	return &fakeStore{saved: make(chan savedSession, 16)}
}

func (s *fakeStore) SaveSession(ctx context.Context, period progress.Period, durationSec int, score int) error {
	s.mu.Lock()
	rec := savedSession{period: period, duration: durationSec, score: score}
	s.saves = append(s.saves, rec)
	err := s.saveErr
	s.mu.Unlock()
	s.saved <- rec
	return err
}

func (s *fakeStore) TodayProgress(ctx context.Context) (*progress.DailyProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if s.today == nil {
		return nil, nil
	}
	p := *s.today
	return &p, nil
}

func (s *fakeStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

type fakeDiscoverer struct {
	events []discovery.Event
}

func (d fakeDiscoverer) Discover(ctx context.Context, strategy discovery.Strategy) <-chan discovery.Event {
	ch := make(chan discovery.Event, len(d.events))
	for _, ev := range d.events {
		ch <- ev
	}
	close(ch)
	return ch
}

// ============================================================
// Harness
// ============================================================

type harness struct {
	engine *Engine
	link   *fakeLink
	store  *fakeStore
	clock  *clock.FakeClock
}

var testStart = time.Date(2025, 3, 14, 8, 30, 0, 0, time.Local)

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{
		link:  newFakeLink(),
		store: newFakeStore(),
		clock: clock.Fake(testStart),
	}
	cfg := Config{
		Link:     h.link,
		Identity: identity.Static("user-1"),
		Store:    h.store,
		Clock:    h.clock,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.engine = New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.engine.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

// waitFor returns the next update of type T, skipping others
func waitFor[T Update](t *testing.T, e *Engine) T {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case u := <-e.Updates():
			if v, ok := u.(T); ok {
				return v
			}
		case <-timeout:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

// waitForLog returns once an event log entry with text arrives
func waitForLog(t *testing.T, e *Engine, text string) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case u := <-e.Updates():
			if entry, ok := u.(EventLog); ok && entry.Text == text {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for log entry %q", text)
		}
	}
}

// connect opens the fake link and waits for the progress refresh
func (h *harness) connect(t *testing.T) {
	t.Helper()
	if err := h.engine.Connect(context.Background(), minty.DeviceAddress{Host: "10.0.0.5"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor[Connected](t, h.engine)
	waitFor[DotsUpdate](t, h.engine)
}

// sync pushes a marker event and waits until Run has handled it
func (h *harness) sync(t *testing.T) {
	t.Helper()
	h.link.events <- minty.Status{Text: "sync"}
	waitForLog(t, h.engine, "Status: sync")
}

func logContains(e *Engine, text string) bool {
	for _, entry := range e.Log() {
		if entry.Text == text {
			return true
		}
	}
	return false
}

// ============================================================
// Connection
// ============================================================

func TestConnect_NoUser(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Identity = identity.Static("") })

	err := h.engine.Connect(context.Background(), minty.DeviceAddress{Host: "10.0.0.5"})
	if !errors.Is(err, ErrNoUser) {
		t.Fatalf("expected ErrNoUser, got %v", err)
	}
	if u := waitFor[Error](t, h.engine); u.Message != "No user ID found" {
		t.Errorf("unexpected error message %q", u.Message)
	}
	if len(h.link.connects) != 0 {
		t.Error("link should not be dialed without a user")
	}
}

func TestConnect_NilIdentity(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Identity = nil })
	if err := h.engine.Connect(context.Background(), minty.DeviceAddress{Host: "x"}); !errors.Is(err, ErrNoUser) {
		t.Fatalf("expected ErrNoUser, got %v", err)
	}
}

func TestConnect_RefreshesProgress(t *testing.T) {
	h := newHarness(t, nil)
	h.store.today = &progress.DailyProgress{Date: "2025-03-14", CompletedSessions: 2, Morning: true, Afternoon: true}

	if err := h.engine.Connect(context.Background(), minty.DeviceAddress{Host: "10.0.0.5"}); err != nil {
		t.Fatal(err)
	}
	c := waitFor[Connected](t, h.engine)
	if c.Address.Host != "10.0.0.5" {
		t.Errorf("unexpected address %+v", c.Address)
	}
	p := waitFor[ProgressUpdate](t, h.engine)
	if p.Current != 2 || p.Total != 3 {
		t.Errorf("expected 2/3, got %+v", p)
	}
	d := waitFor[DotsUpdate](t, h.engine)
	if !d.Morning || !d.Afternoon || d.Evening {
		t.Errorf("unexpected dots %+v", d)
	}
	if !logContains(h.engine, "Progress loaded: 2/3 sessions") {
		t.Errorf("missing progress log entry: %v", h.engine.Log())
	}
	if !logContains(h.engine, "✓ ESP32 device connected successfully") {
		t.Errorf("missing connected log entry: %v", h.engine.Log())
	}
}

func TestConnect_NoStoredProgress(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)
	if !logContains(h.engine, "No progress data for today") {
		t.Errorf("missing log entry: %v", h.engine.Log())
	}
}

func TestConnect_Failure(t *testing.T) {
	h := newHarness(t, nil)
	h.link.connectErr = &link.ConnectError{Category: link.CategoryHostUnreachable, Err: errors.New("connection refused")}

	err := h.engine.Connect(context.Background(), minty.DeviceAddress{Host: "10.0.0.5"})
	var ce *link.ConnectError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConnectError, got %v", err)
	}
	u := waitFor[Error](t, h.engine)
	if !strings.HasPrefix(u.Message, "host unreachable") {
		t.Errorf("unexpected message %q", u.Message)
	}
}

func TestRefreshProgress_StoreError(t *testing.T) {
	h := newHarness(t, nil)
	h.store.loadErr = errors.New("disk on fire")

	if err := h.engine.RefreshProgress(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if u := waitFor[Error](t, h.engine); !strings.Contains(u.Message, "disk on fire") {
		t.Errorf("unexpected message %q", u.Message)
	}
}

// ============================================================
// Device-authoritative sessions
// ============================================================

func TestDeviceMode_ValidSession(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)

	h.link.events <- minty.ToothbrushRemoved{}
	waitFor[ToothbrushRemoved](t, h.engine)
	h.link.events <- minty.Decode("SESSION_VALID:72:2")

	o := waitFor[SessionOutcome](t, h.engine)
	if !o.Valid || !o.Counted || o.DurationSeconds != 72 || o.Period != progress.Afternoon {
		t.Errorf("unexpected outcome %+v", o)
	}
	p := waitFor[ProgressUpdate](t, h.engine)
	if p.Current != 2 || p.Total != 3 {
		t.Errorf("expected 2/3, got %+v", p)
	}
	if d := waitFor[DotsUpdate](t, h.engine); d != (DotsUpdate{Afternoon: true}) {
		t.Errorf("expected afternoon dot, got %+v", d)
	}
	if c := h.engine.Progress(); c.CompletedSessions != 2 || !c.Afternoon || c.Morning || c.Evening {
		t.Errorf("unexpected cached progress %+v", c)
	}

	select {
	case rec := <-h.store.saved:
		if rec.period != progress.Afternoon || rec.duration != 72 || rec.score != progress.DefaultScore {
			t.Errorf("unexpected saved session %+v", rec)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session was not saved")
	}

	if st := h.engine.State(); st.Session != session.Idle {
		t.Errorf("expected idle session, got %v", st.Session)
	}
}

func TestDeviceMode_TooShort(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)

	h.link.events <- minty.ToothbrushRemoved{}
	h.link.events <- minty.Decode("SESSION_TOO_SHORT:45:60")

	o := waitFor[SessionOutcome](t, h.engine)
	if o.Valid || o.Counted || o.DurationSeconds != 45 {
		t.Errorf("unexpected outcome %+v", o)
	}
	h.sync(t)

	if n := h.store.saveCount(); n != 0 {
		t.Errorf("too short session should not be saved, got %d saves", n)
	}
	if got := h.engine.Progress().CompletedSessions; got != 0 {
		t.Errorf("expected 0 sessions, got %d", got)
	}
	if !logContains(h.engine, "Session too short (45s / 60s required)") {
		t.Errorf("missing log entry: %v", h.engine.Log())
	}
}

func TestDeviceMode_IgnoresLocalTiming(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)

	h.link.events <- minty.ToothbrushRemoved{}
	waitFor[ToothbrushRemoved](t, h.engine)
	h.clock.Advance(90 * time.Second)
	h.link.events <- minty.ToothbrushReturned{}
	waitFor[ToothbrushReturned](t, h.engine)
	h.sync(t)

	if n := h.store.saveCount(); n != 0 {
		t.Errorf("return alone should not complete a device session, got %d saves", n)
	}
}

func TestDuplicateRemovalIgnored(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)

	h.link.events <- minty.ToothbrushRemoved{}
	waitFor[ToothbrushRemoved](t, h.engine)
	h.clock.Advance(10 * time.Second)
	h.link.events <- minty.ToothbrushRemoved{}
	h.sync(t)

	st := h.engine.State()
	if st.Session != session.InProgress || st.Elapsed != 10*time.Second {
		t.Errorf("duplicate removal should not restart the session: %+v", st)
	}
}

// ============================================================
// Client-authoritative sessions
// ============================================================

func clientMode(c *Config) { c.Mode = session.ClientAuthoritative }

func brush(t *testing.T, h *harness, d time.Duration) SessionOutcome {
	t.Helper()
	h.link.events <- minty.ToothbrushRemoved{}
	waitFor[ToothbrushRemoved](t, h.engine)
	h.clock.Advance(d)
	h.link.events <- minty.ToothbrushReturned{}
	return waitFor[SessionOutcome](t, h.engine)
}

func TestClientMode_ValidSession(t *testing.T) {
	h := newHarness(t, clientMode)
	h.connect(t)

	o := brush(t, h, 65*time.Second)
	if !o.Valid || !o.Counted || o.DurationSeconds != 65 || o.Period != progress.Morning {
		t.Errorf("unexpected outcome %+v", o)
	}
	if p := waitFor[ProgressUpdate](t, h.engine); p.Current != 1 {
		t.Errorf("expected 1/3, got %+v", p)
	}
	if d := waitFor[DotsUpdate](t, h.engine); !d.Morning || d.Afternoon {
		t.Errorf("unexpected dots %+v", d)
	}
	if rec := <-h.store.saved; rec.period != progress.Morning || rec.duration != 65 {
		t.Errorf("unexpected saved session %+v", rec)
	}
}

func TestClientMode_Threshold(t *testing.T) {
	tests := []struct {
		elapsed time.Duration
		valid   bool
	}{
		{59 * time.Second, false},
		{60 * time.Second, true},
		{61 * time.Second, true},
		{5 * time.Second, false},
	}

	for _, tt := range tests {
		t.Run(tt.elapsed.String(), func(t *testing.T) {
			h := newHarness(t, clientMode)
			h.connect(t)
			if o := brush(t, h, tt.elapsed); o.Valid != tt.valid {
				t.Errorf("elapsed %v: expected valid=%v, got %+v", tt.elapsed, tt.valid, o)
			}
		})
	}
}

func TestClientMode_DailyCap(t *testing.T) {
	h := newHarness(t, clientMode)
	h.connect(t)

	expected := []struct {
		period  progress.Period
		counted bool
	}{
		{progress.Morning, true},
		{progress.Afternoon, true},
		{progress.Evening, true},
		{progress.General, false},
	}
	for i, want := range expected {
		o := brush(t, h, 70*time.Second)
		if o.Period != want.period || o.Counted != want.counted {
			t.Errorf("session %d: expected %v/%v, got %+v", i+1, want.period, want.counted, o)
		}
		<-h.store.saved
	}

	p := h.engine.Progress()
	if p.CompletedSessions != 3 || !p.Morning || !p.Afternoon || !p.Evening {
		t.Errorf("unexpected progress %+v", p)
	}
	if h.store.saveCount() != 4 {
		t.Errorf("expected every valid session saved, got %d", h.store.saveCount())
	}
}

func TestSessionTicks(t *testing.T) {
	h := newHarness(t, clientMode)
	h.connect(t)

	h.link.events <- minty.ToothbrushRemoved{}
	waitFor[ToothbrushRemoved](t, h.engine)
	if tick := waitFor[SessionTick](t, h.engine); tick.Elapsed != 0 {
		t.Errorf("expected initial tick at 0, got %v", tick.Elapsed)
	}

	h.clock.Advance(time.Second)
	if tick := waitFor[SessionTick](t, h.engine); tick.Elapsed != time.Second {
		t.Errorf("expected tick at 1s, got %v", tick.Elapsed)
	}
}

func TestDisconnect_AbortsSession(t *testing.T) {
	h := newHarness(t, clientMode)
	h.connect(t)

	h.link.events <- minty.ToothbrushRemoved{}
	waitFor[ToothbrushRemoved](t, h.engine)
	h.clock.Advance(90 * time.Second)

	h.engine.Disconnect()
	if d := waitFor[Disconnected](t, h.engine); d.Reason != "User disconnected" {
		t.Errorf("unexpected reason %q", d.Reason)
	}
	h.sync(t)

	if st := h.engine.State(); st.Session != session.Idle {
		t.Errorf("expected idle after disconnect, got %v", st.Session)
	}
	if n := h.store.saveCount(); n != 0 {
		t.Errorf("aborted session should not be saved, got %d", n)
	}
	if !logContains(h.engine, "Session cancelled") {
		t.Errorf("missing log entry: %v", h.engine.Log())
	}
}

func TestDisconnect_StopsSessionBeforeReturning(t *testing.T) {
	for i := 0; i < 20; i++ {
		h := newHarness(t, nil)
		h.connect(t)

		h.link.events <- minty.ToothbrushRemoved{}
		waitFor[ToothbrushRemoved](t, h.engine)

		h.engine.Disconnect()
		if st := h.engine.State(); st.Session != session.Idle || st.Elapsed != 0 {
			t.Fatalf("run %d: session still active after Disconnect: %+v", i, st)
		}
		if !logContains(h.engine, "Session cancelled") {
			t.Fatalf("run %d: missing log entry: %v", i, h.engine.Log())
		}

		waitFor[Disconnected](t, h.engine)
		h.sync(t)
		if !logContains(h.engine, "ESP32 device disconnected") {
			t.Errorf("run %d: missing disconnect log: %v", i, h.engine.Log())
		}
	}
}

func TestRun_StopEndsSession(t *testing.T) {
	fl := newFakeLink()
	fc := clock.Fake(testStart)
	e := New(Config{Link: fl, Identity: identity.Static("user-1"), Clock: fc})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Run(ctx)
	}()

	fl.events <- minty.ToothbrushRemoved{}
	waitFor[ToothbrushRemoved](t, e)
	fc.Advance(5 * time.Second)

	cancel()
	<-done
	if st := e.State(); st.Session != session.Idle || st.Elapsed != 0 {
		t.Errorf("expected idle session after Run returned, got %+v", st)
	}
}

func TestDisconnect_WithoutLink(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.Disconnect()
	waitFor[Disconnected](t, h.engine)
}

// ============================================================
// Progress events
// ============================================================

func TestNewDay_ResetsProgress(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)

	h.link.events <- minty.ProgressReport{Current: 2, Total: 3}
	h.link.events <- minty.DotsReport{Morning: true, Afternoon: true}
	waitFor[ProgressUpdate](t, h.engine)
	waitFor[DotsUpdate](t, h.engine)

	h.link.events <- minty.NewDay{}
	if p := waitFor[ProgressUpdate](t, h.engine); p.Current != 0 || p.Total != 3 {
		t.Errorf("expected 0/3, got %+v", p)
	}
	if d := waitFor[DotsUpdate](t, h.engine); d.Morning || d.Afternoon || d.Evening {
		t.Errorf("expected cleared dots, got %+v", d)
	}
	if p := h.engine.Progress(); p.CompletedSessions != 0 || p.Morning {
		t.Errorf("unexpected progress %+v", p)
	}
}

func TestProgressReport_Clamped(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)

	h.link.events <- minty.ProgressReport{Current: 7, Total: 3}
	if p := waitFor[ProgressUpdate](t, h.engine); p.Current != 3 {
		t.Errorf("expected clamp to 3, got %+v", p)
	}
}

func TestStoreFailure_KeepsCache(t *testing.T) {
	h := newHarness(t, clientMode)
	h.store.saveErr = errors.New("database is locked")
	h.connect(t)

	brush(t, h, 70*time.Second)
	u := waitFor[Error](t, h.engine)
	if !strings.Contains(u.Message, "failed to save session") {
		t.Errorf("unexpected message %q", u.Message)
	}
	if got := h.engine.Progress().CompletedSessions; got != 1 {
		t.Errorf("cache should keep the session, got %d", got)
	}
}

// ============================================================
// Event log and commands
// ============================================================

func TestClearLog(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)

	h.engine.ClearLog()
	waitFor[LogCleared](t, h.engine)

	entries := h.engine.Log()
	if len(entries) != 1 || entries[0].Text != "Event log cleared" {
		t.Errorf("unexpected log %v", entries)
	}
}

func TestLog_Bounded(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.UpdateBuffer = 1024 })
	h.connect(t)

	for i := 0; i < 150; i++ {
		if err := h.engine.Send("PING"); err != nil {
			t.Fatal(err)
		}
	}
	entries := h.engine.Log()
	if len(entries) != MaxLogEntries {
		t.Fatalf("expected %d entries, got %d", MaxLogEntries, len(entries))
	}
	if entries[len(entries)-1].Text != "Sent: PING" {
		t.Errorf("newest entry should be last, got %q", entries[len(entries)-1].Text)
	}
}

func TestSend(t *testing.T) {
	h := newHarness(t, nil)

	if err := h.engine.Send("GET_STATUS"); !errors.Is(err, link.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	waitFor[Error](t, h.engine)

	h.connect(t)
	if err := h.engine.Send("  RESET:ALL  "); err != nil {
		t.Fatal(err)
	}
	if len(h.link.sent) != 1 || minty.Encode(h.link.sent[0]) != "RESET:ALL" {
		t.Errorf("unexpected sent commands %v", h.link.sent)
	}
	if err := h.engine.Send("   "); err != nil {
		t.Errorf("blank input should be a no-op, got %v", err)
	}
}

func TestEventLog_String(t *testing.T) {
	entry := EventLog{At: time.Date(2025, 1, 1, 8, 30, 5, 0, time.Local), Text: "hello"}
	if got := entry.String(); got != "[08:30:05] hello" {
		t.Errorf("got %q", got)
	}
}

func TestHolderMessages(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)

	h.link.events <- minty.Decode("EVENT:Brushing reminder")
	waitForLog(t, h.engine, "Brushing reminder")

	h.link.events <- minty.Decode("SESSION_LIMIT_REACHED")
	waitForLog(t, h.engine, "Daily limit reached (3/3 sessions)")

	h.link.events <- minty.Decode("DOTS:1:0:1")
	waitForLog(t, h.engine, "Session dots: AM=● NN=○ PM=●")

	h.link.events <- minty.Decode("CONNECTED:ESP32_42")
	waitForLog(t, h.engine, "Device ready: ESP32_42")
}

// ============================================================
// Discovery
// ============================================================

func TestDiscover(t *testing.T) {
	devices := []minty.DeviceAddress{
		{Host: "192.168.1.20", DeviceID: "MINTY_1"},
		{Host: "192.168.1.21", DeviceID: "MINTY_2"},
	}
	h := newHarness(t, func(c *Config) {
		c.Discovery = fakeDiscoverer{events: []discovery.Event{
			{Kind: discovery.Found, Device: devices[0], Found: 1},
			{Kind: discovery.Found, Device: devices[1], Found: 2},
			{Kind: discovery.Complete, Found: 2},
		}}
	})

	found, err := h.engine.Discover(context.Background(), discovery.Broadcast)
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 2 || found[0] != devices[0] || found[1] != devices[1] {
		t.Errorf("unexpected devices %v", found)
	}
}

func TestDiscover_NoneFound(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Discovery = fakeDiscoverer{events: []discovery.Event{{Kind: discovery.Complete}}}
	})

	found, err := h.engine.Discover(context.Background(), discovery.Scan)
	if err != nil {
		t.Fatalf("no devices is not an error: %v", err)
	}
	if found == nil || len(found) != 0 {
		t.Errorf("expected empty result, got %v", found)
	}
	if !logContains(h.engine, "No devices found") {
		t.Errorf("missing log entry: %v", h.engine.Log())
	}
}

func TestDiscover_Error(t *testing.T) {
	boom := errors.New("no network interface")
	h := newHarness(t, func(c *Config) {
		c.Discovery = fakeDiscoverer{events: []discovery.Event{{Kind: discovery.Error, Err: boom}}}
	})

	if _, err := h.engine.Discover(context.Background(), discovery.Broadcast); !errors.Is(err, boom) {
		t.Errorf("expected discovery error, got %v", err)
	}
}

func TestDiscover_NotConfigured(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.engine.Discover(context.Background(), discovery.Broadcast); !errors.Is(err, ErrNoDiscovery) {
		t.Errorf("expected ErrNoDiscovery, got %v", err)
	}
}

func TestFlush_WaitsForSaves(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)

	h.link.events <- minty.ToothbrushRemoved{}
	h.link.events <- minty.Decode("SESSION_VALID:90:1")
	waitFor[SessionOutcome](t, h.engine)
	h.sync(t)

	h.engine.Flush()
	if n := h.store.saveCount(); n != 1 {
		t.Errorf("expected 1 save after Flush, got %d", n)
	}
}
