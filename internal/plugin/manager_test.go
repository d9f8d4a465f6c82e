package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"

	"steamwatch/internal/config"
	logx "steamwatch/pkg/logx"
)

type testPlugin struct {
	name string

	failStart  atomic.Bool
	starts     atomic.Int32
	stops      atomic.Int32
	lastConfig atomic.Value // raw config as string
	cfgChanges atomic.Int32
}

func (p *testPlugin) Name() string                              { return p.name }
func (p *testPlugin) Init(ctx context.Context, deps Deps) error { return nil }

func (p *testPlugin) Commands() []Command {
	return []Command{{Route: p.name, Handle: noop}}
}

func (p *testPlugin) Start(ctx context.Context) error {
	if p.failStart.Load() {
		return errors.New("refusing to start")
	}
	p.starts.Add(1)
	return nil
}

func (p *testPlugin) Stop(ctx context.Context) error {
	p.stops.Add(1)
	return nil
}

func (p *testPlugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	p.cfgChanges.Add(1)
	p.lastConfig.Store(string(raw))
	return nil
}

func cfgWith(name string, enabled bool, blob string) *config.Config {
	raw := config.PluginConfigRaw{Enabled: enabled}
	if blob != "" {
		raw.Config = json.RawMessage(blob)
	}
	return &config.Config{Plugins: map[string]config.PluginConfigRaw{name: raw}}
}

func newTestPluginManager(t *testing.T, p Plugin) *Manager {
	t.Helper()
	m := NewManager(Deps{Logger: logx.Nop()}, nil)
	if err := m.Register(p); err != nil {
		t.Fatal(err)
	}
	m.BindContext(context.Background())
	return m
}

func TestManagerStartsEnabledPlugin(t *testing.T) {
	t.Parallel()

	p := &testPlugin{name: "mon"}
	m := newTestPluginManager(t, p)

	m.StartAll(context.Background(), cfgWith("mon", true, `{"a":1}`))
	if p.starts.Load() != 1 {
		t.Fatalf("starts = %d", p.starts.Load())
	}
	if got, _ := p.lastConfig.Load().(string); got != `{"a":1}` {
		t.Fatalf("config not delivered: %q", got)
	}

	// Disable on reload.
	m.OnConfigUpdate(context.Background(), cfgWith("mon", false, ""))
	if p.stops.Load() != 1 {
		t.Fatalf("stops = %d", p.stops.Load())
	}
}

func TestManagerConfigChangeAppliedInPlace(t *testing.T) {
	t.Parallel()

	p := &testPlugin{name: "mon"}
	m := newTestPluginManager(t, p)

	m.StartAll(context.Background(), cfgWith("mon", true, `{"a":1}`))
	m.OnConfigUpdate(context.Background(), cfgWith("mon", true, `{"a":2}`))

	if p.starts.Load() != 1 {
		t.Fatalf("in-place apply should not restart; starts = %d", p.starts.Load())
	}
	if p.cfgChanges.Load() != 2 {
		t.Fatalf("config changes = %d", p.cfgChanges.Load())
	}

	// Same canonical blob (whitespace only) is not a change.
	m.OnConfigUpdate(context.Background(), cfgWith("mon", true, `{ "a": 2 }`))
	if p.cfgChanges.Load() != 2 {
		t.Fatal("formatting-only edit should be a no-op")
	}
}

func TestManagerQuarantineAndRecovery(t *testing.T) {
	t.Parallel()

	p := &testPlugin{name: "mon"}
	p.failStart.Store(true)
	m := newTestPluginManager(t, p)

	m.StartAll(context.Background(), cfgWith("mon", true, `{"a":1}`))
	if len(m.Quarantined()) != 1 {
		t.Fatal("failed start should quarantine")
	}

	// Same config: stays down.
	m.OnConfigUpdate(context.Background(), cfgWith("mon", true, `{"a":1}`))
	if p.starts.Load() != 0 {
		t.Fatal("quarantined plugin restarted without a config change")
	}

	// Changed config lifts the quarantine and retries.
	p.failStart.Store(false)
	m.OnConfigUpdate(context.Background(), cfgWith("mon", true, `{"a":2}`))
	if p.starts.Load() != 1 {
		t.Fatalf("fixed config should start the plugin; starts = %d", p.starts.Load())
	}
	if len(m.Quarantined()) != 0 {
		t.Fatal("quarantine should be cleared")
	}
}

func TestManagerValidateConfig(t *testing.T) {
	t.Parallel()

	p := &validatedPlugin{testPlugin: testPlugin{name: "mon"}}
	m := NewManager(Deps{Logger: logx.Nop()}, nil)
	if err := m.Register(p); err != nil {
		t.Fatal(err)
	}

	if err := m.ValidateConfig(context.Background(), cfgWith("mon", true, `{"ok":true}`)); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	if err := m.ValidateConfig(context.Background(), cfgWith("mon", true, `{"ok":false}`)); err == nil {
		t.Fatal("invalid config accepted")
	}
	// Disabled plugins are not consulted.
	if err := m.ValidateConfig(context.Background(), cfgWith("mon", false, `{"ok":false}`)); err != nil {
		t.Fatalf("disabled plugin validated: %v", err)
	}
}

type validatedPlugin struct {
	testPlugin
}

func (p *validatedPlugin) ValidateConfig(ctx context.Context, raw json.RawMessage) error {
	var v struct {
		OK bool `json:"ok"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	if !v.OK {
		return errors.New("not ok")
	}
	return nil
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	t.Parallel()

	m := NewManager(Deps{Logger: logx.Nop()}, nil)
	if err := m.Register(&testPlugin{name: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := m.Register(&testPlugin{name: "x"}); err == nil {
		t.Fatal("duplicate registration accepted")
	}
}

func TestEffectiveConfigHash(t *testing.T) {
	t.Parallel()

	a := effectiveConfigHash(json.RawMessage(`{"b":2,"a":1}`))
	b := effectiveConfigHash(json.RawMessage(`{ "a": 1, "b": 2 }`))
	if a != b {
		t.Fatal("key order and whitespace should not change the hash")
	}
	if a == effectiveConfigHash(json.RawMessage(`{"a":1,"b":3}`)) {
		t.Fatal("different values should hash differently")
	}
	if effectiveConfigHash(nil) != 0 {
		t.Fatal("empty blob should hash to zero")
	}
}
