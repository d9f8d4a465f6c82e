package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"steamwatch/internal/config"
	logx "steamwatch/pkg/logx"
)

const (
	startTimeout = 15 * time.Second
	stopTimeout  = 10 * time.Second
)

type quarantineInfo struct {
	reason string
	hash   uint64
	at     time.Time
}

// Manager owns plugin lifecycles. It reconciles the registered set against
// the committed config: enabled plugins run, disabled ones stop, and a
// config change restarts the affected plugin. A plugin that fails to start
// is quarantined until its config changes, so a bad blob cannot put the
// bot into a crash loop.
type Manager struct {
	log  logx.Logger
	deps Deps
	cmdm *CommandManager

	mu          sync.Mutex
	registered  map[string]Plugin
	order       []string
	running     map[string]bool
	quarantined map[string]quarantineInfo
	lastHash    map[string]uint64
	ctx         context.Context
}

func NewManager(deps Deps, cmdm *CommandManager) *Manager {
	log := deps.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		log:         log.With(logx.String("comp", "plugins")),
		deps:        deps,
		cmdm:        cmdm,
		registered:  map[string]Plugin{},
		running:     map[string]bool{},
		quarantined: map[string]quarantineInfo{},
		lastHash:    map[string]uint64{},
	}
}

func (m *Manager) Register(p Plugin) error {
	if p == nil || p.Name() == "" {
		return fmt.Errorf("plugin has no name")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.registered[p.Name()]; dup {
		return fmt.Errorf("plugin %q already registered", p.Name())
	}
	m.registered[p.Name()] = p
	m.order = append(m.order, p.Name())
	return nil
}

// BindContext sets the lifecycle context passed to plugin Start. Must be
// called before StartAll.
func (m *Manager) BindContext(ctx context.Context) {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()
}

func (m *Manager) SetOwnerUserIDs(owners []int64) {
	m.mu.Lock()
	m.deps.OwnerUserIDs = append([]int64(nil), owners...)
	m.mu.Unlock()
	if m.cmdm != nil {
		m.cmdm.SetOwners(owners)
	}
}

// StartAll reconciles against cfg and starts every enabled plugin.
func (m *Manager) StartAll(ctx context.Context, cfg *config.Config) {
	m.reconcile(ctx, cfg)
}

func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	names := make([]string, 0, len(m.running))
	for _, name := range m.order {
		if m.running[name] {
			names = append(names, name)
		}
	}
	m.mu.Unlock()

	// Reverse registration order.
	for i := len(names) - 1; i >= 0; i-- {
		m.stopOne(ctx, names[i], StopShutdown)
	}
	m.refreshRegistry(ctx)
}

// OnConfigUpdate is the reload hook: it reconciles the running set against
// the freshly committed config.
func (m *Manager) OnConfigUpdate(ctx context.Context, cfg *config.Config) {
	m.reconcile(ctx, cfg)
}

func (m *Manager) reconcile(ctx context.Context, cfg *config.Config) {
	if cfg == nil {
		return
	}

	m.mu.Lock()
	order := append([]string(nil), m.order...)
	m.mu.Unlock()

	changed := false
	for _, name := range order {
		raw, present := cfg.Plugins[name]
		enabled := present && raw.Enabled
		hash := effectiveConfigHash(raw.Config)

		m.mu.Lock()
		isRunning := m.running[name]
		q, isQuarantined := m.quarantined[name]
		prevHash, hadHash := m.lastHash[name]
		m.mu.Unlock()

		// A config edit lifts quarantine so the fix gets a chance.
		if isQuarantined && hash != q.hash {
			m.mu.Lock()
			delete(m.quarantined, name)
			m.mu.Unlock()
			isQuarantined = false
			m.log.Info("plugin quarantine cleared (config changed)",
				logx.String("plugin", name))
		}

		switch {
		case enabled && isQuarantined:
			// Leave it down until the config changes.
		case enabled && !isRunning:
			if m.startOne(ctx, name, raw, hash) {
				changed = true
			}
		case enabled && isRunning && hadHash && prevHash != hash:
			m.log.Info("plugin config changed", logx.String("plugin", name))
			if m.applyConfigChange(ctx, name, raw, hash) {
				changed = true
			}
		case !enabled && isRunning:
			m.stopOne(ctx, name, StopDisable)
			changed = true
		}
	}

	if changed {
		m.refreshRegistry(ctx)
	}
}

// applyConfigChange prefers the in-place hook; plugins without one get a
// full restart.
func (m *Manager) applyConfigChange(ctx context.Context, name string, raw config.PluginConfigRaw, hash uint64) bool {
	m.mu.Lock()
	p := m.registered[name]
	m.mu.Unlock()

	if cp, ok := p.(ConfigurablePlugin); ok {
		cctx, cancel := context.WithTimeout(ctx, startTimeout)
		err := safeCall(func() error { return cp.OnConfigChange(cctx, raw.Config) })
		cancel()
		if err == nil {
			m.mu.Lock()
			m.lastHash[name] = hash
			m.mu.Unlock()
			return true
		}
		m.log.Warn("plugin config apply failed; restarting",
			logx.String("plugin", name), logx.Err(err))
	}

	m.stopOne(ctx, name, StopDisable)
	m.startOne(ctx, name, raw, hash)
	return true
}

func (m *Manager) startOne(ctx context.Context, name string, raw config.PluginConfigRaw, hash uint64) bool {
	m.mu.Lock()
	p := m.registered[name]
	deps := m.deps
	lctx := m.ctx
	m.mu.Unlock()
	if p == nil {
		return false
	}
	if lctx == nil {
		lctx = ctx
	}

	start := time.Now()
	err := func() error {
		ictx, cancel := context.WithTimeout(ctx, startTimeout)
		defer cancel()
		if err := safeCall(func() error { return p.Init(ictx, deps) }); err != nil {
			return fmt.Errorf("init: %w", err)
		}
		if cp, ok := p.(ConfigurablePlugin); ok {
			if err := safeCall(func() error { return cp.OnConfigChange(ictx, raw.Config) }); err != nil {
				return fmt.Errorf("config: %w", err)
			}
		}
		if err := safeCall(func() error { return p.Start(lctx) }); err != nil {
			return fmt.Errorf("start: %w", err)
		}
		return nil
	}()
	if err != nil {
		m.setQuarantine(name, err.Error(), hash)
		m.log.Error("plugin start failed; quarantined",
			logx.String("plugin", name), logx.Err(err))
		return false
	}

	m.mu.Lock()
	m.running[name] = true
	m.lastHash[name] = hash
	m.mu.Unlock()
	m.log.Info("plugin started",
		logx.String("plugin", name), logx.Duration("took", time.Since(start)))
	return true
}

func (m *Manager) stopOne(ctx context.Context, name string, reason StopReason) {
	m.mu.Lock()
	p := m.registered[name]
	isRunning := m.running[name]
	m.mu.Unlock()
	if p == nil || !isRunning {
		return
	}

	sctx, cancel := context.WithTimeout(ctx, stopTimeout)
	err := safeCall(func() error { return p.Stop(sctx) })
	cancel()

	m.mu.Lock()
	delete(m.running, name)
	m.mu.Unlock()

	if err != nil {
		m.log.Warn("plugin stop error",
			logx.String("plugin", name), logx.String("reason", string(reason)), logx.Err(err))
		return
	}
	m.log.Info("plugin stopped",
		logx.String("plugin", name), logx.String("reason", string(reason)))
}

func (m *Manager) setQuarantine(name, reason string, hash uint64) {
	m.mu.Lock()
	m.quarantined[name] = quarantineInfo{reason: reason, hash: hash, at: time.Now()}
	delete(m.running, name)
	m.mu.Unlock()
}

// refreshRegistry collects commands from running plugins and swaps them
// into the command manager.
func (m *Manager) refreshRegistry(ctx context.Context) {
	if m.cmdm == nil {
		return
	}
	m.mu.Lock()
	var cmds []Command
	for _, name := range m.order {
		if !m.running[name] {
			continue
		}
		p := m.registered[name]
		for _, c := range p.Commands() {
			c.PluginName = name
			cmds = append(cmds, c)
		}
	}
	m.mu.Unlock()

	sort.SliceStable(cmds, func(i, j int) bool { return cmds[i].Route < cmds[j].Route })
	m.cmdm.SetRegistry(ctx, cmds)
}

// ValidateConfig runs each enabled plugin's validation hook against a
// candidate config. Used as the config manager's pre-commit validator.
func (m *Manager) ValidateConfig(ctx context.Context, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	m.mu.Lock()
	order := append([]string(nil), m.order...)
	reg := make(map[string]Plugin, len(m.registered))
	for k, v := range m.registered {
		reg[k] = v
	}
	m.mu.Unlock()

	for _, name := range order {
		raw, ok := cfg.Plugins[name]
		if !ok || !raw.Enabled {
			continue
		}
		v, ok := reg[name].(ConfigValidator)
		if !ok {
			continue
		}
		if err := safeCall(func() error { return v.ValidateConfig(ctx, raw.Config) }); err != nil {
			return fmt.Errorf("plugin %s: %w", name, err)
		}
	}
	return nil
}

// Quarantined returns the currently quarantined plugin names, for status
// reporting.
func (m *Manager) Quarantined() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.quarantined))
	for name, q := range m.quarantined {
		out[name] = q.reason
	}
	return out
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
