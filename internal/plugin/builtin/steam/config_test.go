package steam

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestResolveConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := resolveConfig(&rawConfig{AutoCheck: true})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Interval != defaultInterval || cfg.StartupGrace != defaultGrace {
		t.Fatalf("unexpected timing defaults: %+v", cfg)
	}
	if cfg.ProbeTimeout != defaultProbeTimeout || cfg.CmdTimeout != defaultCmdTimeout {
		t.Fatalf("unexpected timeout defaults: %+v", cfg)
	}
	if cfg.Permission.Mode != ModeWhitelist {
		t.Fatalf("mode default should be whitelist, got %q", cfg.Permission.Mode)
	}
	if len(cfg.Endpoints) != 3 {
		t.Fatalf("want the 3 default Steam endpoints, got %d", len(cfg.Endpoints))
	}
}

func TestResolveConfigErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		raw     rawConfig
		wantErr string
	}{
		{"bad interval", rawConfig{CheckInterval: "soon"}, "check_interval"},
		{"interval too short", rawConfig{CheckInterval: "100ms"}, "too short"},
		{"bad mode", rawConfig{Permission: PermissionConfig{Mode: "allowlist"}}, "unknown mode"},
		{"endpoint without url", rawConfig{Endpoints: []Endpoint{{Name: "X"}}}, "url is empty"},
		{"endpoint without name", rawConfig{Endpoints: []Endpoint{{URL: "https://x"}}}, "name is empty"},
		{"duplicate endpoint", rawConfig{Endpoints: []Endpoint{
			{Name: "X", URL: "https://x"}, {Name: "X", URL: "https://y"},
		}}, "duplicate"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := resolveConfig(&tc.raw)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("want error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestDecodeConfigStrict(t *testing.T) {
	t.Parallel()

	good := json.RawMessage(`{
		"auto_check": true,
		"push_groups": [" -100123 ", ""],
		"check_interval": "2m",
		"permission": {"mode": "blacklist", "groups": ["42"]},
		"timeouts": {"operation": "3s"}
	}`)
	cfg, err := decodeConfig(good)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(cfg.PushGroups) != 1 || cfg.PushGroups[0] != "-100123" {
		t.Fatalf("push groups should be trimmed and compacted: %+v", cfg.PushGroups)
	}
	if cfg.Interval != 2*time.Minute || cfg.ProbeTimeout != 3*time.Second {
		t.Fatalf("durations not applied: %+v", cfg)
	}

	if _, err := decodeConfig(json.RawMessage(`{"auto_check": true, "intervall": "5m"}`)); err == nil {
		t.Fatal("unknown field should be rejected")
	}
}

func TestDigestScheduleDefault(t *testing.T) {
	t.Parallel()

	cfg, err := resolveConfig(&rawConfig{Digest: DigestConfig{Enabled: true}})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Digest.Schedule == "" {
		t.Fatal("enabled digest should get a default schedule")
	}
}
