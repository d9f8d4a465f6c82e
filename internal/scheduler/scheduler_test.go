package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	logx "steamwatch/pkg/logx"
)

func startedService(t *testing.T) *Service {
	t.Helper()
	s := New(Config{Enabled: true, Workers: 1}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	t.Cleanup(func() {
		s.Stop(context.Background())
		cancel()
	})
	return s
}

func TestAddIntervalRuns(t *testing.T) {
	t.Parallel()

	s := startedService(t)
	var runs atomic.Int32
	id, err := s.AddInterval("tick", 50*time.Millisecond, time.Second, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if id == "" {
		t.Fatal("empty schedule id")
	}

	deadline := time.Now().Add(5 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if runs.Load() == 0 {
		t.Fatal("interval job never ran")
	}
	if len(s.History()) == 0 {
		t.Fatal("job run not recorded in history")
	}
}

func TestAddCronRejectsBadSpec(t *testing.T) {
	t.Parallel()

	s := startedService(t)
	if _, err := s.AddCron("bad", "not a cron spec", 0, func(ctx context.Context) error { return nil }); err == nil {
		t.Fatal("invalid spec should error")
	}
}

func TestAddBeforeStartErrors(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true}, logx.Nop())
	if _, err := s.AddCron("early", "* * * * *", 0, func(ctx context.Context) error { return nil }); err == nil {
		t.Fatal("adding before Start should error")
	}
}

func TestRemoveStopsFiring(t *testing.T) {
	t.Parallel()

	s := startedService(t)
	var runs atomic.Int32
	id, err := s.AddInterval("short", 30*time.Millisecond, time.Second, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Remove(id)
	s.Remove(id) // unknown id is a no-op

	settled := runs.Load()
	time.Sleep(150 * time.Millisecond)
	if runs.Load() > settled+1 {
		t.Fatalf("job kept firing after removal: %d -> %d", settled, runs.Load())
	}
}

func TestTriggerDoesNotBlockOnServiceMutex(t *testing.T) {
	t.Parallel()

	s := startedService(t)
	s.mu.Lock()
	q := s.queue

	done := make(chan struct{})
	go func() {
		s.enqueue(q, task{name: "held"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("trigger blocked while the service mutex was held")
	}
	s.mu.Unlock()
}

func TestStopReturnsWhileJobsFiring(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true, Workers: 1}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	var runs atomic.Int32
	if _, err := s.AddInterval("busy", 10*time.Millisecond, time.Second, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	done := make(chan struct{})
	go func() {
		s.Stop(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop hung while triggers were firing")
	}
}

func TestJobPanicRecorded(t *testing.T) {
	t.Parallel()

	s := startedService(t)
	_, err := s.AddInterval("explodes", 30*time.Millisecond, time.Second, func(ctx context.Context) error {
		panic("bad job")
	})
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, h := range s.History() {
			if h.Name == "explodes" && h.Error != "" {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("panicking job never recorded an error")
}
