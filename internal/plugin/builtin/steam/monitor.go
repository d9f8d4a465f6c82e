package steam

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	logx "steamwatch/pkg/logx"
)

// Dispatcher delivers one rendered notice to one recipient. The production
// implementation feeds the notifier pipeline; tests substitute a fake.
type Dispatcher interface {
	Send(ctx context.Context, recipient, text string) error
}

// endpointProber is what the monitor needs from a Prober.
type endpointProber interface {
	Probe(ctx context.Context, url string) bool
	Close()
}

// Monitor owns the periodic probe-diff-notify loop. One instance per
// plugin lifetime; all mutable state (registry, inactive flag) is touched
// only from the loop goroutine.
type Monitor struct {
	log      logx.Logger
	source   ConfigSource
	dispatch Dispatcher
	prober   endpointProber
	registry *StatusRegistry

	// onTransition observes each committed transition (history, events).
	// Best-effort: errors inside the hook are the hook's problem.
	onTransition func(ctx context.Context, t Transition)

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	inactiveLogged bool
}

func NewMonitor(source ConfigSource, dispatch Dispatcher, prober endpointProber, log logx.Logger) *Monitor {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg := source()
	return &Monitor{
		log:      log,
		source:   source,
		dispatch: dispatch,
		prober:   prober,
		registry: NewStatusRegistry(cfg.Endpoints),
	}
}

// SetTransitionHook must be called before Start.
func (m *Monitor) SetTransitionHook(fn func(ctx context.Context, t Transition)) {
	m.onTransition = fn
}

// Start launches the loop. Idempotent while running.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	lctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true
	go m.run(lctx, m.done)
}

// Stop cancels the loop and waits for it to confirm, bounded by ctx. The
// prober's pooled connections are released before the loop reports
// stopped. Safe to call twice.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	wasRunning := m.running
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	if !wasRunning {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("monitor stop: %w", ctx.Err())
	}
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer m.prober.Close()

	grace := m.source().StartupGrace
	if grace > 0 {
		m.log.Debug("startup grace", logx.Duration("grace", grace))
		if !sleepCtx(ctx, grace) {
			return
		}
	}
	m.log.Info("monitor started")

	for {
		if ctx.Err() != nil {
			m.log.Info("monitor stopped")
			return
		}

		m.safeTick(ctx)

		// Sleep after the tick, not on a wall-clock schedule; a slow tick
		// pushes the next one out instead of overlapping it. The interval
		// is re-read so config changes apply on the next sleep.
		interval := m.source().Interval
		if interval <= 0 {
			interval = defaultInterval
		}
		if !sleepCtx(ctx, interval) {
			m.log.Info("monitor stopped")
			return
		}
	}
}

// safeTick runs one tick; any failure, panic included, is logged and
// absorbed so the loop never dies from a single bad tick.
func (m *Monitor) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("tick panicked",
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	if err := m.tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
		m.log.Warn("tick failed", logx.Err(err))
	}
}

func (m *Monitor) tick(ctx context.Context) error {
	cfg := m.source()
	m.registry.Sync(cfg.Endpoints)

	if !cfg.AutoCheck || len(cfg.PushGroups) == 0 {
		if !m.inactiveLogged {
			m.inactiveLogged = true
			m.log.Info("auto check inactive",
				logx.Bool("auto_check", cfg.AutoCheck),
				logx.Int("push_groups", len(cfg.PushGroups)))
		}
		return nil
	}
	if m.inactiveLogged {
		m.inactiveLogged = false
		m.log.Info("auto check active again")
	}

	verdicts := probeAll(ctx, m.prober, cfg.Endpoints)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	transitions := m.registry.Diff(verdicts)
	if len(transitions) == 0 {
		return nil
	}

	for _, t := range transitions {
		m.log.Info("endpoint status changed",
			logx.String("endpoint", t.Name), logx.Bool("up", t.Up))
		if m.onTransition != nil {
			m.onTransition(ctx, t)
		}
	}

	notice := renderNotice(transitions)
	for _, recipient := range cfg.PushGroups {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		dctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		err := m.dispatch.Send(dctx, recipient, notice)
		cancel()
		if err != nil {
			// One bad recipient never blocks the rest.
			m.log.Warn("notice dispatch failed",
				logx.String("recipient", recipient), logx.Err(err))
		}
	}
	return nil
}

// probeAll fans out one probe per endpoint and waits for all of them.
// Verdicts arrive as a complete map; no partial results.
func probeAll(ctx context.Context, p endpointProber, endpoints []Endpoint) map[string]bool {
	results := make([]bool, len(endpoints))
	g, gctx := errgroup.WithContext(ctx)
	for i, ep := range endpoints {
		g.Go(func() error {
			results[i] = p.Probe(gctx, ep.URL)
			return nil
		})
	}
	_ = g.Wait()

	verdicts := make(map[string]bool, len(endpoints))
	for i, ep := range endpoints {
		verdicts[ep.Name] = results[i]
	}
	return verdicts
}

// sleepCtx sleeps for d or until ctx is canceled; reports false on cancel.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
