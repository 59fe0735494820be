package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dohr-michael/neorix/internal/models"
	"github.com/dohr-michael/neorix/internal/modes"
)

type sink struct {
	mu    sync.Mutex
	parts []string
	got   chan string
}

func newSink() *sink { return &sink{got: make(chan string, 16)} }

func (s *sink) add(p string) {
	s.mu.Lock()
	s.parts = append(s.parts, p)
	s.mu.Unlock()
	s.got <- p
}

func (s *sink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.parts...)
}

func waitFragment(t *testing.T, s *sink) string {
	t.Helper()
	select {
	case p := <-s.got:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fragment")
		return ""
	}
}

func TestSend_FragmentsInOrder(t *testing.T) {
	svc := &fakeService{scripts: [][]step{texts("Hel", "lo, ", "world")}}
	c := NewCoordinator(NewManager(svc))

	s := newSink()
	if err := c.Send(context.Background(), "salom", s.add); err != nil {
		t.Fatalf("Send: %v", err)
	}

	parts := s.snapshot()
	if len(parts) != 3 {
		t.Fatalf("got %d fragments, want 3: %q", len(parts), parts)
	}
	if got := strings.Join(parts, ""); got != "Hello, world" {
		t.Errorf("concatenation = %q", got)
	}
	if svc.openCount() != 1 || svc.opened[0] != modes.ConfigFor(modes.General) {
		t.Errorf("opened = %+v", svc.opened)
	}
}

func TestSend_SkipsEmptyChunks(t *testing.T) {
	svc := &fakeService{scripts: [][]step{texts("a", "", "b")}}
	c := NewCoordinator(NewManager(svc))

	s := newSink()
	if err := c.Send(context.Background(), "x", s.add); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if parts := s.snapshot(); len(parts) != 2 {
		t.Fatalf("empty chunk delivered: %q", parts)
	}
}

func TestSend_FailureKeepsPartial(t *testing.T) {
	svc := &fakeService{scripts: [][]step{{
		{text: "Hel"},
		{err: errors.New("stream reset: connection refused")},
	}}}
	c := NewCoordinator(NewManager(svc))

	s := newSink()
	err := c.Send(context.Background(), "salom", s.add)
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}
	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("expected *SendError, got %T", err)
	}
	if sendErr.Mode != modes.General || !strings.HasPrefix(sendErr.SessionID, "sess_") {
		t.Errorf("unexpected SendError %+v", sendErr)
	}
	if !strings.Contains(sendErr.Err.Error(), "connection error") {
		t.Errorf("cause not classified: %v", sendErr.Err)
	}
	if parts := s.snapshot(); len(parts) != 1 || parts[0] != "Hel" {
		t.Fatalf("sink = %q, want [Hel]", parts)
	}
}

func TestSend_OpenFailureIsRetried(t *testing.T) {
	svc := &fakeService{
		openErr: []error{models.ErrNoCredentials, nil},
		scripts: [][]step{texts("ok")},
	}
	c := NewCoordinator(NewManager(svc))

	err := c.Send(context.Background(), "salom", func(string) {})
	if !errors.Is(err, ErrServiceUnavailable) || !errors.Is(err, models.ErrNoCredentials) {
		t.Fatalf("expected unavailable + no credentials, got %v", err)
	}
	if svc.sendCount() != 0 {
		t.Fatal("failed open should not send")
	}

	if err := c.Send(context.Background(), "salom", func(string) {}); err != nil {
		t.Fatalf("second Send: %v", err)
	}
	if svc.openCount() != 1 {
		t.Errorf("open count = %d, want 1", svc.openCount())
	}

	if err := c.Send(context.Background(), "yana", func(string) {}); err != nil {
		t.Fatalf("third Send: %v", err)
	}
	if svc.openCount() != 1 {
		t.Error("chat handle should be reused within a session")
	}
}

func TestSend_StaleFragmentsDiscarded(t *testing.T) {
	gate := make(chan struct{})
	svc := &fakeService{scripts: [][]step{
		{{text: "Hel"}, {text: "lo", gate: gate}, {text: " world"}},
		texts("Salom"),
	}}
	m := NewManager(svc)
	c := NewCoordinator(m)

	old := newSink()
	done := make(chan error, 1)
	go func() { done <- c.Send(context.Background(), "hi", old.add) }()

	if p := waitFragment(t, old); p != "Hel" {
		t.Fatalf("first fragment = %q", p)
	}
	m.SetMode(modes.Coding)
	close(gate)

	if err := <-done; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded, got %v", err)
	}

	fresh := newSink()
	if err := c.Send(context.Background(), "salom", fresh.add); err != nil {
		t.Fatalf("Send in new mode: %v", err)
	}

	if parts := old.snapshot(); len(parts) != 1 {
		t.Errorf("old sink received stale fragments: %q", parts)
	}
	if parts := fresh.snapshot(); len(parts) != 1 || parts[0] != "Salom" {
		t.Errorf("new sink = %q", parts)
	}
	if svc.openCount() != 2 || svc.opened[1].Mode != modes.Coding {
		t.Errorf("new session not opened with coding config: %+v", svc.opened)
	}
}

func TestSend_ModeChangeCancelsTransport(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	svc := &fakeService{scripts: [][]step{
		{{text: "Hel"}, {text: "lo", gate: gate, honorCtx: true}},
	}}
	m := NewManager(svc)
	c := NewCoordinator(m)

	s := newSink()
	done := make(chan error, 1)
	go func() { done <- c.Send(context.Background(), "hi", s.add) }()

	waitFragment(t, s)
	m.SetMode(modes.Fast)

	select {
	case err := <-done:
		if !errors.Is(err, ErrSuperseded) {
			t.Fatalf("expected ErrSuperseded, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight request not cancelled by mode change")
	}
}

func TestSend_OverlapIsBusy(t *testing.T) {
	gate := make(chan struct{})
	svc := &fakeService{scripts: [][]step{{{text: "a"}, {text: "b", gate: gate}}}}
	c := NewCoordinator(NewManager(svc))

	s := newSink()
	done := make(chan error, 1)
	go func() { done <- c.Send(context.Background(), "one", s.add) }()
	waitFragment(t, s)

	if err := c.Send(context.Background(), "two", func(string) {}); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("first Send: %v", err)
	}
	if err := c.Send(context.Background(), "three", func(string) {}); err != nil {
		t.Fatalf("Send after completion: %v", err)
	}
}

func TestStream_EarlyBreakReleasesSession(t *testing.T) {
	svc := &fakeService{scripts: [][]step{texts("a", "b", "c")}}
	c := NewCoordinator(NewManager(svc))

	for range c.Stream(context.Background(), "x") {
		break
	}
	if err := c.Send(context.Background(), "y", func(string) {}); err != nil {
		t.Fatalf("Send after early break: %v", err)
	}
}

func TestSend_CallerCancelIsNotServiceFailure(t *testing.T) {
	gate := make(chan struct{})
	svc := &fakeService{scripts: [][]step{{{text: "Hel"}, {text: "lo", gate: gate, honorCtx: true}}}}
	var reports []CallReport
	c := NewCoordinator(NewManager(svc), WithCallHook(func(r CallReport) { reports = append(reports, r) }))

	ctx, cancel := context.WithCancel(context.Background())
	s := newSink()
	err := c.Send(ctx, "hi", func(p string) {
		s.add(p)
		cancel()
	})

	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("expected plain context.Canceled, got %v", err)
	}
	var sendErr *SendError
	if errors.As(err, &sendErr) {
		t.Fatalf("cancellation wrapped as *SendError: %v", err)
	}
	if got := s.snapshot(); len(got) != 1 || got[0] != "Hel" {
		t.Fatalf("fragments = %q", got)
	}
	if len(reports) != 1 || !errors.Is(reports[0].Err, context.Canceled) {
		t.Fatalf("unexpected reports: %+v", reports)
	}
}

func TestSend_AfterClose(t *testing.T) {
	svc := &fakeService{scripts: [][]step{texts("a")}}
	m := NewManager(svc)
	c := NewCoordinator(m)
	m.Close()

	if err := c.Send(context.Background(), "x", func(string) {}); !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded, got %v", err)
	}
	if svc.sendCount() != 0 {
		t.Error("closed manager should not send")
	}
}

func TestCallHook(t *testing.T) {
	svc := &fakeService{scripts: [][]step{
		{{text: "a"}, {usage: &models.Usage{Input: 10, Output: 2}}},
		{{err: errors.New("boom")}},
	}}

	var reports []CallReport
	c := NewCoordinator(NewManager(svc), WithCallHook(func(r CallReport) {
		reports = append(reports, r)
	}))

	if err := c.Send(context.Background(), "x", func(string) {}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	_ = c.Send(context.Background(), "y", func(string) {})

	if len(reports) != 2 {
		t.Fatalf("got %d reports, want 2", len(reports))
	}
	if reports[0].Err != nil || reports[0].Usage == nil || reports[0].Usage.Input != 10 {
		t.Errorf("first report = %+v", reports[0])
	}
	if !errors.Is(reports[1].Err, ErrServiceUnavailable) {
		t.Errorf("second report error = %v", reports[1].Err)
	}
}
