package plugin

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"steamwatch/internal/config"
	rtsup "steamwatch/internal/runtime/supervisor"
	kit "steamwatch/internal/transport"
	logx "steamwatch/pkg/logx"
)

const (
	defaultCommandTimeout = 60 * time.Second
	commandQueueSize      = 64
	commandWorkers        = 4
)

// CommandManager routes inbound messages to registered commands and runs
// the handlers on a bounded worker pool.
type CommandManager struct {
	log     logx.Logger
	adapter kit.Adapter
	cfgm    *config.Manager
	serv    *Services

	mu       sync.RWMutex
	root     *cmdNode
	aliases  map[string]string // alias -> canonical first token
	commands []Command
	owners   []int64
	statusFn func(ctx context.Context) []string

	queue chan queuedJob
	sup   *rtsup.Supervisor
	runMu sync.Mutex
}

type queuedJob struct {
	cmd *Command
	req *Request
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, cfgm *config.Manager, serv *Services, owners []int64) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &CommandManager{
		log:     log,
		adapter: adapter,
		cfgm:    cfgm,
		serv:    serv,
		root:    newRoot(),
		aliases: map[string]string{},
		owners:  append([]int64(nil), owners...),
		queue:   make(chan queuedJob, commandQueueSize),
	}
}

func (cm *CommandManager) SetOwners(owners []int64) {
	cm.mu.Lock()
	cm.owners = append([]int64(nil), owners...)
	cm.mu.Unlock()
}

// SetStatusSource installs the host callback behind the owner-only
// /status command. Set it before the first SetRegistry.
func (cm *CommandManager) SetStatusSource(fn func(ctx context.Context) []string) {
	cm.mu.Lock()
	cm.statusFn = fn
	cm.mu.Unlock()
}

// SetRegistry replaces the routable command set. A /help command is always
// present, and /status when the host installed a status source; plugins
// cannot shadow either. The platform command menu is synced best-effort
// when the adapter supports it.
func (cm *CommandManager) SetRegistry(ctx context.Context, cmds []Command) {
	cm.mu.RLock()
	statusFn := cm.statusFn
	cm.mu.RUnlock()

	reserved := map[string]bool{"help": true}
	if statusFn != nil {
		reserved["status"] = true
	}

	all := make([]Command, 0, len(cmds)+2)
	for _, c := range cmds {
		if strings.TrimSpace(c.Route) == "" || c.Handle == nil {
			continue
		}
		if reserved[splitRoute(c.Route)[0]] {
			continue
		}
		all = append(all, c)
	}
	all = append(all, Command{
		Route:       "help",
		Description: "List available commands",
		Handle:      cm.handleHelp,
	})
	if statusFn != nil {
		all = append(all, Command{
			Route:       "status",
			Description: "Show runtime status",
			Access:      AccessOwnerOnly,
			Handle:      cm.handleStatus,
		})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Route < all[j].Route })

	root := newRoot()
	aliases := map[string]string{}
	for _, c := range all {
		route := splitRoute(c.Route)
		root.add(route, c)
		for _, a := range c.Aliases {
			a = strings.TrimSpace(strings.TrimPrefix(a, "/"))
			if a != "" {
				aliases[a] = route[0]
			}
		}
	}

	cm.mu.Lock()
	cm.root = root
	cm.aliases = aliases
	cm.commands = all
	cm.mu.Unlock()

	cm.log.Info("command registry updated", logx.Int("commands", len(all)))
	cm.syncMenu(ctx, all)
}

func (cm *CommandManager) syncMenu(ctx context.Context, cmds []Command) {
	mu, ok := cm.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	menu := make([]kit.BotCommand, 0, len(cmds))
	seen := map[string]bool{}
	for _, c := range cmds {
		if c.Access == AccessOwnerOnly {
			continue
		}
		first := splitRoute(c.Route)[0]
		if seen[first] {
			continue
		}
		seen[first] = true
		menu = append(menu, kit.BotCommand{Command: first, Description: c.Description})
	}
	mctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := mu.UpdateMenuCommands(mctx, menu); err != nil {
		cm.log.Warn("command menu sync failed", logx.Err(err))
	}
}

// DispatchLoop consumes adapter updates until ctx is canceled. It blocks.
func (cm *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) {
	cm.runMu.Lock()
	cm.sup = rtsup.New(ctx, rtsup.WithLogger(cm.log.With(logx.String("comp", "commands"))))
	sup := cm.sup
	cm.runMu.Unlock()

	for i := 0; i < commandWorkers; i++ {
		sup.Go0("worker", func(c context.Context) {
			for {
				select {
				case <-c.Done():
					return
				case job := <-cm.queue:
					cm.runJob(c, job)
				}
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			sup.Cancel()
			wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			_ = sup.Wait(wctx)
			cancel()
			return
		case up, ok := <-updates:
			if !ok {
				sup.Cancel()
				return
			}
			cm.routeMessage(ctx, up)
		}
	}
}

func (cm *CommandManager) routeMessage(ctx context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	m := up.Message
	text := strings.TrimSpace(m.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}

	tokens := tokenizeCommandLine(strings.TrimPrefix(text, "/"))
	if len(tokens) == 0 {
		return
	}
	// In groups Telegram appends the bot name: /status@mybot.
	if i := strings.IndexByte(tokens[0], '@'); i >= 0 {
		tokens[0] = tokens[0][:i]
	}
	tokens[0] = strings.ToLower(tokens[0])

	cm.mu.RLock()
	root := cm.root
	if canon, ok := cm.aliases[tokens[0]]; ok {
		tokens[0] = canon
	}
	cm.mu.RUnlock()

	// Longest-prefix match against the route tree; the remainder is args.
	node := root
	var path []string
	var matched *Command
	consumed := 0
	for i, tok := range tokens {
		child, ok := node.child(tok)
		if !ok {
			break
		}
		node = child
		path = append(path, tok)
		if node.cmd != nil {
			matched = node.cmd
			consumed = i + 1
		}
	}

	if matched == nil {
		cm.log.Debug("unknown command",
			logx.String("cmd", tokens[0]), logx.Int64("chat_id", m.ChatID))
		if !m.IsGroup {
			cm.replyTo(ctx, m, "Unknown command. Try /help.")
		}
		return
	}

	rawArgs := tokens[consumed:]
	pos, flags, bools := parseFlags(rawArgs)

	req := &Request{
		Update:       up,
		Chat:         kit.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID},
		FromID:       m.FromID,
		Path:         path[:consumed],
		Command:      "/" + strings.Join(path[:consumed], " "),
		Args:         pos,
		RawArgs:      rawArgs,
		Flags:        flags,
		BoolFlags:    bools,
		ReqID:        newReqID(),
		Adapter:      cm.adapter,
		Config:       cm.cfgm.Get(),
		Services:     cm.serv,
		OwnerUserIDs: cm.ownersSnapshot(),
	}
	req.Logger = cm.log.With(
		logx.String("req_id", req.ReqID),
		logx.String("cmd", req.Command),
	)

	cm.enqueueCommand(ctx, matched, req)
}

func (cm *CommandManager) ownersSnapshot() []int64 {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return append([]int64(nil), cm.owners...)
}

func (cm *CommandManager) enqueueCommand(ctx context.Context, cmd *Command, req *Request) {
	if cmd.Access == AccessOwnerOnly && !req.IsOwner() {
		req.Logger.Warn("restricted command denied", logx.Int64("from_id", req.FromID))
		cm.replyTo(ctx, req.Update.Message, "This command is restricted.")
		return
	}
	select {
	case cm.queue <- queuedJob{cmd: cmd, req: req}:
	default:
		req.Logger.Warn("command queue full; rejecting",
			logx.Int64("chat_id", req.Chat.ChatID))
		cm.replyTo(ctx, req.Update.Message, "Busy right now, please retry in a moment.")
	}
}

func (cm *CommandManager) runJob(ctx context.Context, job queuedJob) {
	timeout := job.cmd.Timeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	h := Chain(job.cmd.Handle,
		MWTimeout(timeout),
		MWPanicRecover(cm.log),
		MWRequestLog(cm.log),
	)
	if err := h(ctx, job.req); err != nil {
		// MWRequestLog already logged it; avoid user-facing error spam in
		// groups, reply only in private chats.
		if m := job.req.Update.Message; m != nil && !m.IsGroup {
			cm.replyTo(ctx, m, "Command failed: "+err.Error())
		}
	}
}

func (cm *CommandManager) replyTo(ctx context.Context, m *kit.Message, text string) {
	if m == nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := cm.adapter.SendText(sctx, kit.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}, text, nil)
	if err != nil {
		cm.log.Warn("reply failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
	}
}

func (cm *CommandManager) handleHelp(ctx context.Context, req *Request) error {
	cm.mu.RLock()
	cmds := append([]Command(nil), cm.commands...)
	cm.mu.RUnlock()

	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, c := range cmds {
		if c.Access == AccessOwnerOnly && !req.IsOwner() {
			continue
		}
		b.WriteString("/")
		b.WriteString(c.Route)
		if c.Usage != "" {
			b.WriteString(" ")
			b.WriteString(c.Usage)
		}
		if c.Description != "" {
			b.WriteString(" - ")
			b.WriteString(c.Description)
		}
		b.WriteString("\n")
	}
	_, err := req.Adapter.SendText(ctx, req.Chat, strings.TrimRight(b.String(), "\n"), nil)
	return err
}

func (cm *CommandManager) handleStatus(ctx context.Context, req *Request) error {
	cm.mu.RLock()
	root := cm.root
	fn := cm.statusFn
	cm.mu.RUnlock()

	var b strings.Builder
	b.WriteString("Runtime status:\n")
	if fn != nil {
		for _, line := range fn(ctx) {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	parts := make([]string, 0, 8)
	for _, name := range root.childNames() {
		n := root.find([]string{name})
		if n == nil {
			continue
		}
		if subs := n.childNames(); len(subs) > 0 {
			parts = append(parts, fmt.Sprintf("/%s (+%d)", name, len(subs)))
			continue
		}
		parts = append(parts, "/"+name)
	}
	b.WriteString("commands: ")
	b.WriteString(strings.Join(parts, " "))

	_, err := req.Adapter.SendText(ctx, req.Chat, b.String(), nil)
	return err
}
