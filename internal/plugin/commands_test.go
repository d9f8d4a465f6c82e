package plugin

import (
	"context"
	"strings"
	"sync"
	"testing"

	"steamwatch/internal/config"
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

func msgUpdate(text string, fromID int64, group bool) kit.Update {
	return kit.Update{
		Kind: kit.UpdateMessage,
		Message: &kit.Message{
			ID:      1,
			ChatID:  100,
			FromID:  fromID,
			Text:    text,
			IsGroup: group,
		},
	}
}

func newTestManager(adapter kit.Adapter) *CommandManager {
	return NewCommandManager(logx.Nop(), adapter, config.NewManager(""), &Services{}, []int64{7})
}

func noop(ctx context.Context, req *Request) error { return nil }

func TestRouteMessageMatchesSubcommand(t *testing.T) {
	t.Parallel()

	cm := newTestManager(&fakeAdapter{})
	cm.SetRegistry(context.Background(), []Command{
		{Route: "steam history", Handle: noop},
		{Route: "steamstatus", Aliases: []string{"steam_status"}, Handle: noop},
	})

	cm.routeMessage(context.Background(), msgUpdate("/steam history 5 --limit=2", 7, false))

	select {
	case job := <-cm.queue:
		if job.cmd.Route != "steam history" {
			t.Fatalf("matched %q", job.cmd.Route)
		}
		if len(job.req.Args) != 1 || job.req.Args[0] != "5" {
			t.Fatalf("args = %v", job.req.Args)
		}
		if job.req.Flags["limit"] != "2" {
			t.Fatalf("flags = %v", job.req.Flags)
		}
		if job.req.Command != "/steam history" {
			t.Fatalf("command = %q", job.req.Command)
		}
	default:
		t.Fatal("no job enqueued")
	}
}

func TestRouteMessageAliasAndBotSuffix(t *testing.T) {
	t.Parallel()

	cm := newTestManager(&fakeAdapter{})
	cm.SetRegistry(context.Background(), []Command{
		{Route: "steamstatus", Aliases: []string{"steam_status"}, Handle: noop},
	})

	cm.routeMessage(context.Background(), msgUpdate("/steam_status@somebot", 7, true))

	select {
	case job := <-cm.queue:
		if job.cmd.Route != "steamstatus" {
			t.Fatalf("alias routed to %q", job.cmd.Route)
		}
	default:
		t.Fatal("alias did not route")
	}
}

func TestRouteMessageUnknownRepliesOnlyInPrivate(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{}
	cm := newTestManager(adapter)
	cm.SetRegistry(context.Background(), nil)

	cm.routeMessage(context.Background(), msgUpdate("/nosuch", 7, true))
	if got := adapter.messages(); len(got) != 0 {
		t.Fatalf("group chat got an unknown-command reply: %v", got)
	}

	cm.routeMessage(context.Background(), msgUpdate("/nosuch", 7, false))
	got := adapter.messages()
	if len(got) != 1 || !strings.Contains(got[0], "Unknown command") {
		t.Fatalf("private chat should get a hint, got %v", got)
	}
}

func TestOwnerGate(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{}
	cm := newTestManager(adapter)
	cm.SetRegistry(context.Background(), []Command{
		{Route: "admin", Access: AccessOwnerOnly, Handle: noop},
	})

	cm.routeMessage(context.Background(), msgUpdate("/admin", 99, false))
	select {
	case <-cm.queue:
		t.Fatal("non-owner request reached the queue")
	default:
	}
	if got := adapter.messages(); len(got) != 1 || !strings.Contains(got[0], "restricted") {
		t.Fatalf("want restriction reply, got %v", got)
	}

	cm.routeMessage(context.Background(), msgUpdate("/admin", 7, false))
	select {
	case <-cm.queue:
	default:
		t.Fatal("owner request should reach the queue")
	}
}

func TestStatusCommandInjectedOwnerOnly(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{}
	cm := newTestManager(adapter)
	cm.SetStatusSource(func(ctx context.Context) []string {
		return []string{"plugins: running"}
	})
	cm.SetRegistry(context.Background(), []Command{
		{Route: "steam history", Handle: noop},
		{Route: "steamstatus", Handle: noop},
	})

	// Non-owner is refused before the handler runs.
	cm.routeMessage(context.Background(), msgUpdate("/status", 99, false))
	select {
	case <-cm.queue:
		t.Fatal("non-owner status request reached the queue")
	default:
	}

	cm.routeMessage(context.Background(), msgUpdate("/status", 7, false))
	var job queuedJob
	select {
	case job = <-cm.queue:
	default:
		t.Fatal("owner status request not enqueued")
	}
	if err := job.cmd.Handle(context.Background(), job.req); err != nil {
		t.Fatalf("status handler: %v", err)
	}

	got := adapter.messages()
	last := got[len(got)-1]
	if !strings.Contains(last, "plugins: running") {
		t.Fatalf("status missing host lines: %q", last)
	}
	if !strings.Contains(last, "/steam (+1)") || !strings.Contains(last, "/steamstatus") {
		t.Fatalf("status missing command summary: %q", last)
	}
}

func TestHelpInjectedAndFiltersRestricted(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{}
	cm := newTestManager(adapter)
	cm.SetRegistry(context.Background(), []Command{
		{Route: "steamstatus", Description: "Check Steam now", Handle: noop},
		{Route: "admin", Access: AccessOwnerOnly, Description: "Secret", Handle: noop},
	})

	cm.routeMessage(context.Background(), msgUpdate("/help", 99, false))
	job := <-cm.queue
	if err := job.cmd.Handle(context.Background(), job.req); err != nil {
		t.Fatalf("help handler: %v", err)
	}

	got := adapter.messages()
	if len(got) != 1 {
		t.Fatalf("want one help message, got %d", len(got))
	}
	if !strings.Contains(got[0], "/steamstatus") || !strings.Contains(got[0], "/help") {
		t.Fatalf("help missing public commands: %q", got[0])
	}
	if strings.Contains(got[0], "/admin") {
		t.Fatalf("help leaked a restricted command to a non-owner: %q", got[0])
	}
}
