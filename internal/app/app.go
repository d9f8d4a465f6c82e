// Package app wires the services together: logging, config hot-reload,
// the Telegram adapter, the notifier pipeline, the scheduler, storage,
// and the plugin host.
package app

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"steamwatch/internal/config"
	"steamwatch/internal/eventbus"
	"steamwatch/internal/notifier"
	"steamwatch/internal/plugin"
	"steamwatch/internal/plugin/builtin/steam"
	rtsup "steamwatch/internal/runtime/supervisor"
	"steamwatch/internal/scheduler"
	"steamwatch/internal/storage"
	kit "steamwatch/internal/transport"
	"steamwatch/internal/transport/telegram"
	logx "steamwatch/pkg/logx"
)

const updatesBuffer = 128

type App struct {
	log  logx.Logger
	logs *logx.Service
	cfgm *config.Manager

	adapter *telegram.Adapter
	bus     eventbus.Bus
	store   storage.Store
	notif   *notifier.Service
	sched   *scheduler.Service
	cmdm    *plugin.CommandManager
	plugins *plugin.Manager
}

// New loads the config, constructs every service, and registers the
// builtin plugins. Nothing is started yet.
func New(configPath string) (*App, error) {
	cfgm := config.NewManager(configPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}

	logs, log := logx.New(logxConfig(cfg.Logging), nil)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, fmt.Errorf("telegram adapter: %w", err)
	}
	logs.SetSender(adapter)
	applyLogTarget(logs, log, cfg)

	bus := eventbus.New()

	store, err := openStore(cfg.Storage, log)
	if err != nil {
		// History is optional; the monitor runs fine without it.
		log.Warn("storage unavailable; history disabled", logx.Err(err))
		store = nil
	}

	notif := notifier.New(notifierConfig(cfg.Notifier), adapter, log.With(logx.String("comp", "notifier")), bus)
	sched := scheduler.New(scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: cfg.Scheduler.Timezone,
	}, log.With(logx.String("comp", "scheduler")))

	services := &plugin.Services{Scheduler: sched, Notifier: notif}
	owners := cfg.Telegram.OwnerUserIDs

	cmdm := plugin.NewCommandManager(log.With(logx.String("comp", "commands")), adapter, cfgm, services, owners)
	plugins := plugin.NewManager(plugin.Deps{
		Logger:       log,
		Adapter:      adapter,
		Config:       cfgm,
		Services:     services,
		Bus:          bus,
		Store:        store,
		OwnerUserIDs: owners,
	}, cmdm)

	if err := plugins.Register(steam.New()); err != nil {
		return nil, err
	}

	cfgm.SetValidator(func(ctx context.Context, cand *config.Config) error {
		if err := validateConfig(cand); err != nil {
			return err
		}
		return plugins.ValidateConfig(ctx, cand)
	})

	a := &App{
		log:     log,
		logs:    logs,
		cfgm:    cfgm,
		adapter: adapter,
		bus:     bus,
		store:   store,
		notif:   notif,
		sched:   sched,
		cmdm:    cmdm,
		plugins: plugins,
	}
	cmdm.SetStatusSource(a.statusLines)
	return a, nil
}

// Run starts everything and blocks until ctx is canceled, then shuts the
// services down in reverse order.
func (a *App) Run(ctx context.Context) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(a.log.With(logx.String("comp", "app"))))
	runCtx := sup.Context()

	a.sched.Start(runCtx)
	a.notif.Start(runCtx)

	updates := make(chan kit.Update, updatesBuffer)
	if err := a.adapter.Start(runCtx, updates); err != nil {
		return fmt.Errorf("adapter start: %w", err)
	}

	a.plugins.BindContext(runCtx)
	a.plugins.StartAll(runCtx, a.cfgm.Get())

	sup.Go0("commands.dispatch", func(c context.Context) {
		a.cmdm.DispatchLoop(c, updates)
	})
	sup.Go("config.watch", a.cfgm.Watch)

	events, unsub := a.bus.Subscribe(128)
	sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		drainEvents(c, a.log, events)
	})

	sub := a.cfgm.Subscribe(2)
	sup.Go0("config.fanout", func(c context.Context) {
		prev := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyReload(c, prev, next)
				prev = next
			}
		}
	})

	a.log.Info("steamwatch started")
	<-ctx.Done()
	a.log.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	a.plugins.StopAll(stopCtx)
	a.sched.Stop(stopCtx)
	a.notif.Stop(stopCtx)
	_ = a.adapter.Stop(stopCtx)

	sup.Cancel()
	a.cfgm.Unsubscribe(sub)
	if err := sup.Wait(stopCtx); err != nil && err != context.DeadlineExceeded {
		a.log.Warn("shutdown incomplete", logx.Err(err))
	}

	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.logs.Close()
	return nil
}

// drainEvents logs bus traffic at debug level so plugin transitions and
// notifier events are observable without a dedicated consumer.
func drainEvents(ctx context.Context, log logx.Logger, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

// statusLines feeds the owner-only /status command with a snapshot of the
// host services.
func (a *App) statusLines(ctx context.Context) []string {
	lines := make([]string, 0, 4)

	if q := a.plugins.Quarantined(); len(q) > 0 {
		names := make([]string, 0, len(q))
		for name := range q {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			lines = append(lines, fmt.Sprintf("plugin %s: quarantined (%s)", name, q[name]))
		}
	} else {
		lines = append(lines, "plugins: running")
	}

	if h := a.sched.History(); len(h) > 0 {
		last := h[len(h)-1]
		lines = append(lines, fmt.Sprintf("scheduler: %d runs, last %s at %s",
			len(h), last.Name, last.Started.Format("15:04:05")))
	} else {
		lines = append(lines, "scheduler: no runs yet")
	}

	lines = append(lines, fmt.Sprintf("notifier: %d recent deliveries", len(a.notif.Snapshot())))
	return lines
}

// applyReload fans a committed config change out to the running services.
func (a *App) applyReload(ctx context.Context, oldCfg, newCfg *config.Config) {
	changed, attrs, _ := config.SummarizeChange(oldCfg, newCfg)
	if len(changed) > 0 {
		a.log.Info("applying config change",
			append([]logx.Field{logx.String("sections", strings.Join(changed, ","))}, attrs...)...)
	}

	a.logs.Apply(logxConfig(newCfg.Logging))
	applyLogTarget(a.logs, a.log, newCfg)
	a.notif.Apply(notifierConfig(newCfg.Notifier))
	a.sched.Apply(scheduler.Config{
		Enabled:  newCfg.Scheduler.Enabled,
		Timezone: newCfg.Scheduler.Timezone,
	})
	a.plugins.SetOwnerUserIDs(newCfg.Telegram.OwnerUserIDs)
	a.plugins.OnConfigUpdate(ctx, newCfg)
}

func logxConfig(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File: logx.FileConfig{
			Enabled: c.File.Enabled,
			Path:    c.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    c.Telegram.Enabled,
			ThreadID:   c.Telegram.ThreadID,
			MinLevel:   c.Telegram.MinLevel,
			RatePerSec: c.Telegram.RatePerSec,
		},
	}
}

func applyLogTarget(logs *logx.Service, log logx.Logger, cfg *config.Config) {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		logs.SetTelegramTarget(0, 0)
		return
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Warn("telegram.group_log is not a chat id", logx.String("value", raw))
		return
	}
	logs.SetTelegramTarget(id, cfg.Logging.Telegram.ThreadID)
}

func notifierConfig(n *config.NotifierConfig) notifier.Config {
	c := config.DefaultNotifier()
	if n != nil {
		c = *n
	}
	// Durations were validated before commit; fall back on defaults if a
	// hand-edited value slips through.
	base, err := config.ParseDurationOrDefault("notifier.retry_base", c.RetryBase, 500*time.Millisecond)
	if err != nil {
		base = 500 * time.Millisecond
	}
	maxDelay, err := config.ParseDurationOrDefault("notifier.retry_max_delay", c.RetryMaxDelay, 10*time.Second)
	if err != nil {
		maxDelay = 10 * time.Second
	}
	return notifier.Config{
		Enabled:       c.Enabled,
		Workers:       c.Workers,
		QueueSize:     c.QueueSize,
		RatePerSec:    c.RatePerSec,
		RetryMax:      c.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
	}
}

func openStore(sc *config.StorageConfig, log logx.Logger) (storage.Store, error) {
	if sc == nil {
		return nil, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	return storage.Open(storage.Config{
		Driver:      sc.Driver,
		Path:        sc.Path,
		BusyTimeout: busy,
	}, log.With(logx.String("comp", "storage")))
}

// validateConfig checks the host-level sections a reload could break.
// Plugin blobs are validated separately by the plugin manager.
func validateConfig(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is empty")
	}
	if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if n := cfg.Notifier; n != nil {
		if _, err := config.ParseDurationField("notifier.retry_base", n.RetryBase); err != nil {
			return err
		}
		if _, err := config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay); err != nil {
			return err
		}
	}
	if s := cfg.Storage; s != nil {
		if _, err := config.ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	return nil
}
