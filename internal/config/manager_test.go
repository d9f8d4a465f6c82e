package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const yamlConfig = `
telegram:
  token: "123:abc"
  owner_user_ids: [7]
  poll_timeout: "10s"
logging:
  level: "INFO"
  console: true
scheduler:
  enabled: true
plugins:
  steam:
    enabled: true
    config:
      auto_check: true
`

func TestParseYAML(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "config.yaml", yamlConfig)
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || len(cfg.Telegram.OwnerUserIDs) != 1 {
		t.Fatalf("telegram section: %+v", cfg.Telegram)
	}
	p, ok := cfg.Plugins["steam"]
	if !ok || !p.Enabled || len(p.Config) == 0 {
		t.Fatalf("plugin section: %+v", cfg.Plugins)
	}
	if m.Get() != cfg {
		t.Fatal("Get should return the committed snapshot")
	}
}

func TestParseJSON(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "config.json",
		`{"telegram":{"token":"t"},"logging":{},"scheduler":{},"plugins":{}}`)
	if _, err := NewManager(path).Parse(); err != nil {
		t.Fatalf("parse json: %v", err)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "config.json",
		`{"telegram":{"token":"t","tokenn":"typo"}}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("unknown field should fail the parse")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "config.json", `{"telegram":{"token":"t"}} {"extra":1}`)
	if _, err := NewManager(path).Parse(); err == nil || !strings.Contains(err.Error(), "trailing") {
		t.Fatalf("want trailing data error, got %v", err)
	}
}

func TestSubscribePublishDropOldest(t *testing.T) {
	t.Parallel()

	m := NewManager("")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	first := &Config{Telegram: TelegramConfig{Token: "first"}}
	second := &Config{Telegram: TelegramConfig{Token: "second"}}
	m.publish(first)
	m.publish(second) // slow subscriber: the stale snapshot is replaced

	select {
	case got := <-ch:
		if got.Telegram.Token != "second" {
			t.Fatalf("want newest snapshot, got %q", got.Telegram.Token)
		}
	case <-time.After(time.Second):
		t.Fatal("nothing published")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	m := NewManager("")
	ch := m.Subscribe(1)
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	m.Unsubscribe(ch) // second call is a no-op
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()

	if d, err := ParseDurationField("x", " 5m "); err != nil || d != 5*time.Minute {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty should be zero: %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "soon"); err == nil {
		t.Fatal("garbage duration should error")
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative duration should error")
	}
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default not applied: %v, %v", d, err)
	}
}
