package system

import (
	"context"
	"errors"
	"testing"
)

type probeService struct {
	name    string
	startFn func() error
	stopFn  func() error
	events  *[]string
}

func (p *probeService) Name() string { return p.name }

func (p *probeService) Start(context.Context) error {
	*p.events = append(*p.events, "start:"+p.name)
	if p.startFn != nil {
		return p.startFn()
	}
	return nil
}

func (p *probeService) Stop(context.Context) error {
	*p.events = append(*p.events, "stop:"+p.name)
	if p.stopFn != nil {
		return p.stopFn()
	}
	return nil
}

func TestManagerStartStopOrder(t *testing.T) {
	var events []string
	m := NewManager()
	for _, name := range []string{"journal", "archive", "stream"} {
		if err := m.Register(&probeService{name: name, events: &events}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	want := []string{
		"start:journal", "start:archive", "start:stream",
		"stop:stream", "stop:archive", "stop:journal",
	}
	if len(events) != len(want) {
		t.Fatalf("unexpected events %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("event %d = %s, want %s", i, events[i], want[i])
		}
	}
}

func TestManagerRejectsDuplicateNames(t *testing.T) {
	var events []string
	m := NewManager()
	if err := m.Register(&probeService{name: "journal", events: &events}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(&probeService{name: "journal", events: &events}); err == nil {
		t.Fatal("expected duplicate name rejection")
	}
}

func TestManagerStartFailureUnwindsStartedServices(t *testing.T) {
	var events []string
	m := NewManager()
	boom := errors.New("boom")

	_ = m.Register(&probeService{name: "first", events: &events})
	_ = m.Register(&probeService{name: "second", events: &events, startFn: func() error { return boom }})
	_ = m.Register(&probeService{name: "third", events: &events})

	err := m.Start(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	want := []string{"start:first", "start:second", "stop:first"}
	if len(events) != len(want) {
		t.Fatalf("unexpected events %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("event %d = %s, want %s", i, events[i], want[i])
		}
	}
}

func TestManagerRegisterAfterStartFails(t *testing.T) {
	var events []string
	m := NewManager()
	_ = m.Register(&probeService{name: "first", events: &events})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Register(&probeService{name: "late", events: &events}); err == nil {
		t.Fatal("expected registration after start to fail")
	}
}

func TestManagerStopCollectsFirstError(t *testing.T) {
	var events []string
	m := NewManager()
	stopErr := errors.New("stop failed")

	_ = m.Register(&probeService{name: "first", events: &events, stopFn: func() error { return stopErr }})
	_ = m.Register(&probeService{name: "second", events: &events})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	err := m.Stop(context.Background())
	if !errors.Is(err, stopErr) {
		t.Fatalf("expected stop error, got %v", err)
	}
	// both services must have been stopped despite the failure
	if events[len(events)-1] != "stop:first" {
		t.Fatalf("unexpected final event %v", events)
	}
}

func TestNoopService(t *testing.T) {
	n := NoopService{ServiceName: "placeholder"}
	if n.Name() != "placeholder" {
		t.Fatalf("unexpected name %s", n.Name())
	}
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := n.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
