package steam

import (
	"context"
	"strconv"

	"steamwatch/internal/plugin"
	logx "steamwatch/pkg/logx"
)

func (p *Plugin) Commands() []plugin.Command {
	cmdTimeout := p.snapshot().CmdTimeout
	return []plugin.Command{
		{
			Route:       "steamstatus",
			Aliases:     []string{"steam_status"},
			Description: "Check Steam service reachability now",
			Timeout:     cmdTimeout,
			Handle:      p.handleStatus,
		},
		{
			Route:       "steam history",
			Usage:       "[n]",
			Description: "Show recent status transitions",
			Access:      plugin.AccessOwnerOnly,
			Timeout:     cmdTimeout,
			Handle:      p.handleHistory,
		},
	}
}

// handleStatus is the manual check. Denied requesters get nothing back,
// not even an error, so the command is invisible to chats outside the
// policy. A manual probe never touches the monitor's registry.
func (p *Plugin) handleStatus(ctx context.Context, req *plugin.Request) error {
	cfg := p.snapshot()
	identity := strconv.FormatInt(req.Chat.ChatID, 10)

	if !permitted(cfg.Permission, identity, p.Log()) {
		req.Logger.Debug("status query dropped by policy",
			logx.String("identity", identity),
			logx.String("mode", string(cfg.Permission.Mode)))
		return nil
	}

	if _, err := req.Adapter.SendText(ctx, req.Chat, "Checking Steam services, please wait...", nil); err != nil {
		return err
	}

	p.mu.Lock()
	prober := p.prober
	p.mu.Unlock()
	if prober == nil {
		_, err := req.Adapter.SendText(ctx, req.Chat, "Monitor is not running.", nil)
		return err
	}

	verdicts := probeAll(ctx, prober, cfg.Endpoints)
	_, err := req.Adapter.SendText(ctx, req.Chat, renderReport(cfg.Endpoints, verdicts), nil)
	return err
}

const (
	historyDefault = 10
	historyMax     = 50
)

func (p *Plugin) handleHistory(ctx context.Context, req *plugin.Request) error {
	store := p.Deps().Store
	if store == nil {
		_, err := req.Adapter.SendText(ctx, req.Chat, "History is disabled (no storage configured).", nil)
		return err
	}

	n := historyDefault
	if len(req.Args) > 0 {
		if v, err := strconv.Atoi(req.Args[0]); err == nil && v > 0 {
			n = v
		}
	}
	if n > historyMax {
		n = historyMax
	}

	items, err := store.RecentTransitions(ctx, pluginName, n)
	if err != nil {
		return err
	}
	lines := make([]historyLine, 0, len(items))
	for _, it := range items {
		lines = append(lines, historyLine{At: it.At, Name: it.Endpoint, Up: it.Up})
	}
	_, err = req.Adapter.SendText(ctx, req.Chat, renderHistory(lines), nil)
	return err
}
