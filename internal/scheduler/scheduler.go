package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "steamwatch/pkg/logx"
)

// Config controls the cron trigger service.
type Config struct {
	Enabled  bool
	Workers  int
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"
}

type HistoryItem struct {
	ID       string
	Name     string
	Started  time.Time
	Duration time.Duration
	Error    string
}

type task struct {
	id      string
	name    string
	timeout time.Duration
	run     func(ctx context.Context) error
}

type scheduleDef struct {
	id      string
	name    string
	spec    string // cron spec or @every
	timeout time.Duration
	job     func(ctx context.Context) error
	entryID cron.EntryID
}

// Service triggers registered jobs on cron schedules and runs them on a
// small worker pool so a slow job never delays other triggers.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef
	seq    uint64

	queue  chan task
	stopCh chan struct{}

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		log:    log,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply updates config at runtime. A timezone change restarts the cron
// engine and re-registers every definition.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if s.stopCh == nil {
		return
	}
	if oldTZ != strings.TrimSpace(cfg.Timezone) {
		s.restartLocked()
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	s.queue = make(chan task, 64)

	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for i := range s.defs {
		s.addCronLocked(&s.defs[i])
	}

	for i := 0; i < workers; i++ {
		go s.worker(ctx, s.stopCh, s.queue)
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.Int("workers", workers), logx.String("tz", loc.String()))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	s.stopCh = nil
	c := s.c
	s.c = nil
	s.queue = nil
	s.mu.Unlock()

	close(stopCh)
	// Wait for in-flight cron callbacks outside the lock; a trigger
	// firing mid-stop must never block shutdown.
	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.log.Info("scheduler stopped")
}

// AddCron registers a job under a standard 5-field cron spec.
func (s *Service) AddCron(name, spec string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return "", errors.New("scheduler not started")
	}
	s.seq++
	d := scheduleDef{
		id:      fmt.Sprintf("cron:%d", s.seq),
		name:    name,
		spec:    spec,
		timeout: timeout,
		job:     job,
	}
	if err := s.addCronLocked(&d); err != nil {
		return "", err
	}
	s.defs = append(s.defs, d)
	return d.id, nil
}

// AddInterval registers a job that fires every given duration.
func (s *Service) AddInterval(name string, every, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	if every <= 0 {
		return "", errors.New("interval must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return "", errors.New("scheduler not started")
	}
	s.seq++
	d := scheduleDef{
		id:      fmt.Sprintf("interval:%d", s.seq),
		name:    name,
		spec:    fmt.Sprintf("@every %s", every),
		timeout: timeout,
		job:     job,
	}
	if err := s.addCronLocked(&d); err != nil {
		return "", err
	}
	s.defs = append(s.defs, d)
	return d.id, nil
}

// Remove unregisters a schedule by id. Unknown ids are a no-op.
func (s *Service) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, d := range s.defs {
		if d.id != id {
			continue
		}
		if s.c != nil {
			s.c.Remove(d.entryID)
		}
		s.defs = append(s.defs[:i], s.defs[i+1:]...)
		return
	}
}

func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	// The callback captures the queue directly: it runs on cron's
	// goroutine and must not touch s.mu.
	q := s.queue
	id, err := s.c.AddFunc(d.spec, func() {
		s.enqueue(q, task{id: d.id, name: d.name, timeout: d.timeout, run: d.job})
	})
	if err != nil {
		return fmt.Errorf("schedule %q: %w", d.spec, err)
	}
	d.entryID = id
	return nil
}

func (s *Service) restartLocked() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for i := range s.defs {
		_ = s.addCronLocked(&s.defs[i])
	}
	s.c.Start()
	s.log.Info("scheduler restarted", logx.String("tz", loc.String()))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) enqueue(q chan task, t task) {
	if q == nil {
		return
	}
	select {
	case q <- t:
	default:
		s.log.Warn("scheduler queue full, dropping task", logx.String("task", t.name))
	}
}

func (s *Service) worker(ctx context.Context, stop <-chan struct{}, q <-chan task) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case t := <-q:
			s.execOne(ctx, t)
		}
	}
}

func (s *Service) execOne(ctx context.Context, t task) {
	start := time.Now()
	runCtx := ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task panicked", logx.String("task", t.name), logx.Any("panic", r))
			s.record(t, start, fmt.Errorf("panic: %v", r))
		}
	}()

	err := t.run(runCtx)
	if err != nil {
		s.log.Warn("task failed", logx.String("task", t.name), logx.Err(err))
	} else {
		s.log.Debug("task ok", logx.String("task", t.name), logx.Duration("took", time.Since(start)))
	}
	s.record(t, start, err)
}

func (s *Service) record(t task, start time.Time, err error) {
	item := HistoryItem{
		ID:       t.id,
		Name:     t.name,
		Started:  start,
		Duration: time.Since(start),
	}
	if err != nil {
		item.Error = err.Error()
	}
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > 200 {
		s.history = s.history[len(s.history)-200:]
	}
	s.hmu.Unlock()
}
