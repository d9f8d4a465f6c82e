package steam

import (
	"context"
	"strings"
	"sync"
	"testing"

	"steamwatch/internal/plugin"
	kit "steamwatch/internal/transport"
	logx "steamwatch/pkg/logx"
)

type fakeAdapter struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                         { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	f.sent = append(f.sent, text)
	f.mu.Unlock()
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeAdapter) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func initedPlugin(t *testing.T) *Plugin {
	t.Helper()
	p := New()
	if err := p.Init(context.Background(), plugin.Deps{Logger: logx.Nop()}); err != nil {
		t.Fatal(err)
	}
	return p
}

func statusRequest(adapter kit.Adapter, chatID int64) *plugin.Request {
	return &plugin.Request{
		Chat:    kit.ChatTarget{ChatID: chatID},
		Adapter: adapter,
		Logger:  logx.Nop(),
	}
}

func TestHandleStatusSilentDenial(t *testing.T) {
	t.Parallel()

	p := initedPlugin(t)
	// Default config: whitelist mode with no groups, so everyone is denied.
	adapter := &fakeAdapter{}

	if err := p.handleStatus(context.Background(), statusRequest(adapter, 123)); err != nil {
		t.Fatalf("denied query must not surface an error: %v", err)
	}
	if got := adapter.messages(); len(got) != 0 {
		t.Fatalf("denied query must send nothing, got %v", got)
	}
}

func TestHandleStatusPermittedAcksFirst(t *testing.T) {
	t.Parallel()

	p := initedPlugin(t)
	p.mu.Lock()
	p.cfg.Permission = PermissionConfig{Mode: ModeBlacklist} // empty blacklist permits all
	p.mu.Unlock()

	adapter := &fakeAdapter{}
	// Plugin not started: permitted callers still get the ack, then a
	// monitor-down notice instead of a report.
	if err := p.handleStatus(context.Background(), statusRequest(adapter, 123)); err != nil {
		t.Fatalf("handleStatus: %v", err)
	}
	got := adapter.messages()
	if len(got) != 2 {
		t.Fatalf("want ack + reply, got %v", got)
	}
	if !strings.Contains(got[0], "please wait") {
		t.Fatalf("first message should be the acknowledgment: %q", got[0])
	}
	if !strings.Contains(got[1], "not running") {
		t.Fatalf("second message should report the monitor state: %q", got[1])
	}
}

func TestHandleHistoryWithoutStore(t *testing.T) {
	t.Parallel()

	p := initedPlugin(t)
	adapter := &fakeAdapter{}
	if err := p.handleHistory(context.Background(), statusRequest(adapter, 7)); err != nil {
		t.Fatalf("handleHistory: %v", err)
	}
	got := adapter.messages()
	if len(got) != 1 || !strings.Contains(got[0], "disabled") {
		t.Fatalf("want a history-disabled notice, got %v", got)
	}
}

func TestCommandsRegistered(t *testing.T) {
	t.Parallel()

	p := initedPlugin(t)
	cmds := p.Commands()
	if len(cmds) != 2 {
		t.Fatalf("want 2 commands, got %d", len(cmds))
	}
	byRoute := map[string]plugin.Command{}
	for _, c := range cmds {
		byRoute[c.Route] = c
	}
	if _, ok := byRoute["steamstatus"]; !ok {
		t.Fatal("steamstatus command missing")
	}
	hist, ok := byRoute["steam history"]
	if !ok || hist.Access != plugin.AccessOwnerOnly {
		t.Fatal("steam history must be owner-only")
	}
}

func TestRenderNotice(t *testing.T) {
	t.Parallel()

	got := renderNotice([]Transition{
		{Name: "Steam Store", Up: false},
		{Name: "Steam Web API", Up: true},
	})
	want := "⚠️ Steam service status change:\nSteam Store: ❌ degraded\nSteam Web API: ✅ recovered"
	if got != want {
		t.Fatalf("notice = %q, want %q", got, want)
	}
}

func TestRenderReportOrder(t *testing.T) {
	t.Parallel()

	got := renderReport(testEndpoints(), map[string]bool{"A": true, "B": false, "C": true})
	lines := strings.Split(got, "\n")
	if len(lines) != 4 {
		t.Fatalf("report lines = %v", lines)
	}
	if lines[1] != "A: ✅ ok" || lines[2] != "B: ❌ down" || lines[3] != "C: ✅ ok" {
		t.Fatalf("report = %q", got)
	}
}
