package system

import (
	"context"
	"errors"
	"testing"
)

type recordingService struct {
	name    string
	startEv *[]string
	stopEv  *[]string
	failure error
}

func (s *recordingService) Name() string { return s.name }

func (s *recordingService) Start(context.Context) error {
	if s.failure != nil {
		return s.failure
	}
	*s.startEv = append(*s.startEv, s.name)
	return nil
}

func (s *recordingService) Stop(context.Context) error {
	*s.stopEv = append(*s.stopEv, s.name)
	return nil
}

func TestManagerOrdering(t *testing.T) {
	var started, stopped []string
	m := NewManager()
	for _, name := range []string{"a", "b", "c"} {
		if err := m.Register(&recordingService{name: name, startEv: &started, stopEv: &stopped}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	ctx := context.Background()
	if err := m.StartAll(ctx); err != nil {
		t.Fatalf("start all: %v", err)
	}
	if len(started) != 3 || started[0] != "a" || started[2] != "c" {
		t.Fatalf("start order wrong: %v", started)
	}

	if err := m.StopAll(ctx); err != nil {
		t.Fatalf("stop all: %v", err)
	}
	if len(stopped) != 3 || stopped[0] != "c" || stopped[2] != "a" {
		t.Fatalf("stop must reverse start order: %v", stopped)
	}
}

func TestManagerRollbackOnStartFailure(t *testing.T) {
	var started, stopped []string
	m := NewManager()
	m.Register(&recordingService{name: "ok", startEv: &started, stopEv: &stopped})
	m.Register(&recordingService{name: "boom", startEv: &started, stopEv: &stopped, failure: errors.New("nope")})

	if err := m.StartAll(context.Background()); err == nil {
		t.Fatal("expected start failure")
	}
	if len(stopped) != 1 || stopped[0] != "ok" {
		t.Fatalf("started services must be rolled back: %v", stopped)
	}
}

func TestManagerRejectsDuplicateNames(t *testing.T) {
	m := NewManager()
	if err := m.Register(NoopService{ServiceName: "dup"}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := m.Register(NoopService{ServiceName: "dup"}); err == nil {
		t.Fatal("expected duplicate name rejection")
	}
}

func TestNoopServiceLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewManager()
	if err := m.Register(NoopService{ServiceName: "noop"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.StartAll(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.StopAll(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
