package steam

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"steamwatch/internal/plugin"
	"steamwatch/internal/storage"
	kit "steamwatch/internal/transport"
	logx "steamwatch/pkg/logx"
)

const pluginName = "steam"

type Plugin struct {
	plugin.PluginBase

	mu      sync.Mutex
	cfg     Config
	prober  *Prober
	monitor *Monitor
	started bool

	digestTaskID string
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return pluginName }

func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error {
	p.InitBase(pluginName, deps)
	p.mu.Lock()
	p.cfg = mustDefaultConfig()
	p.mu.Unlock()
	return nil
}

func mustDefaultConfig() Config {
	cfg, err := resolveConfig(&rawConfig{AutoCheck: true})
	if err != nil {
		panic(err)
	}
	return cfg
}

func (p *Plugin) ValidateConfig(ctx context.Context, raw json.RawMessage) error {
	_, err := decodeConfig(raw)
	return err
}

func decodeConfig(raw json.RawMessage) (Config, error) {
	rc, err := plugin.DecodePluginConfig[rawConfig](raw)
	if err != nil {
		return Config{}, err
	}
	return resolveConfig(rc)
}

// OnConfigChange swaps the snapshot in place. The monitor picks it up on
// its next tick; the digest task is re-registered when its settings
// changed.
func (p *Plugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	cfg, err := decodeConfig(raw)
	if err != nil {
		return err
	}

	p.mu.Lock()
	prev := p.cfg
	p.cfg = cfg
	prober := p.prober
	started := p.started
	p.mu.Unlock()

	if prober != nil {
		prober.SetTimeout(cfg.ProbeTimeout)
	}
	if started && (prev.Digest != cfg.Digest) {
		p.syncDigest(cfg)
	}
	return nil
}

// snapshot is the ConfigSource handed to the monitor.
func (p *Plugin) snapshot() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)

	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil
	}
	cfg := p.cfg
	p.prober = NewProber(cfg.ProbeTimeout)
	p.monitor = NewMonitor(p.snapshot, &groupDispatcher{p: p}, p.prober, p.Log())
	p.monitor.SetTransitionHook(p.recordTransition)
	p.started = true
	monitor := p.monitor
	p.mu.Unlock()

	monitor.Start(ctx)
	p.syncDigest(cfg)
	p.Log().Info("steam monitor plugin started",
		logx.Int("endpoints", len(cfg.Endpoints)),
		logx.Duration("interval", cfg.Interval))
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error {
	p.mu.Lock()
	monitor := p.monitor
	p.monitor = nil
	p.prober = nil
	p.started = false
	p.mu.Unlock()

	defer p.StopBase()
	if monitor == nil {
		return nil
	}
	return monitor.Stop(ctx)
}

// recordTransition persists and publishes one committed transition.
func (p *Plugin) recordTransition(ctx context.Context, t Transition) {
	err := p.RecordTransition(ctx, storage.Transition{
		At:       t.At,
		Endpoint: t.Name,
		URL:      t.URL,
		Up:       t.Up,
	})
	if err != nil {
		p.Log().Warn("transition not persisted",
			logx.String("endpoint", t.Name), logx.Err(err))
	}
	p.PublishEvent("transition", map[string]any{
		"endpoint": t.Name,
		"up":       t.Up,
	})
}

// groupDispatcher resolves an opaque recipient string to a Telegram chat
// and feeds the notifier pipeline.
type groupDispatcher struct {
	p *Plugin
}

func (d *groupDispatcher) Send(ctx context.Context, recipient, text string) error {
	id, err := strconv.ParseInt(strings.TrimSpace(recipient), 10, 64)
	if err != nil {
		return fmt.Errorf("bad recipient %q: %w", recipient, err)
	}
	return d.p.Notify(ctx, kit.Notification{
		Channel: "telegram",
		// Monitor texts carry their own status marker; stay below the
		// priority-prefix threshold.
		Priority: 5,
		Target:   kit.ChatTarget{ChatID: id},
		Text:     text,
	})
}

// syncDigest reconciles the scheduled daily digest with the config.
func (p *Plugin) syncDigest(cfg Config) {
	p.mu.Lock()
	old := p.digestTaskID
	p.digestTaskID = ""
	p.mu.Unlock()
	if old != "" {
		p.RemoveTask(old)
	}
	if !cfg.Digest.Enabled {
		return
	}

	id, err := p.Cron("digest", cfg.Digest.Schedule, cfg.CmdTimeout, p.runDigest)
	if err != nil {
		p.Log().Warn("digest task not scheduled",
			logx.String("schedule", cfg.Digest.Schedule), logx.Err(err))
		return
	}
	p.mu.Lock()
	p.digestTaskID = id
	p.mu.Unlock()
	p.Log().Info("digest scheduled", logx.String("schedule", cfg.Digest.Schedule))
}

// runDigest probes everything and pushes a full report to the push
// groups, regardless of transitions.
func (p *Plugin) runDigest(ctx context.Context) error {
	cfg := p.snapshot()
	if len(cfg.PushGroups) == 0 {
		return nil
	}
	p.mu.Lock()
	prober := p.prober
	p.mu.Unlock()
	if prober == nil {
		return nil
	}

	verdicts := probeAll(ctx, prober, cfg.Endpoints)
	report := renderReport(cfg.Endpoints, verdicts)
	d := &groupDispatcher{p: p}
	for _, recipient := range cfg.PushGroups {
		if err := d.Send(ctx, recipient, report); err != nil {
			p.Log().Warn("digest dispatch failed",
				logx.String("recipient", recipient), logx.Err(err))
		}
	}
	return nil
}
