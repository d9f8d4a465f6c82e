package plugin

import (
	"context"
	"encoding/json"
	"time"

	"steamwatch/internal/config"
	"steamwatch/internal/eventbus"
	"steamwatch/internal/storage"
	kit "steamwatch/internal/transport"
	logx "steamwatch/pkg/logx"
)

type Plugin interface {
	Name() string
	Init(ctx context.Context, deps Deps) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Commands() []Command
}

// ConfigurablePlugin receives its raw config blob on enable and on every
// hot reload that changes it.
type ConfigurablePlugin interface {
	OnConfigChange(ctx context.Context, raw json.RawMessage) error
}

// ConfigValidator is an optional hook run before a new config commits.
type ConfigValidator interface {
	ValidateConfig(ctx context.Context, raw json.RawMessage) error
}

// SchedulerPort is the scheduling surface plugins see.
type SchedulerPort interface {
	Enabled() bool
	AddCron(name, spec string, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	AddInterval(name string, every, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	Remove(id string)
}

// NotifierPort is the delivery surface plugins see.
type NotifierPort interface {
	Notify(ctx context.Context, n kit.Notification) error
}

type Services struct {
	Scheduler SchedulerPort
	Notifier  NotifierPort
}

type Deps struct {
	Logger       logx.Logger
	Adapter      kit.Adapter
	Config       *config.Manager
	Services     *Services
	Bus          eventbus.Bus
	Store        storage.Store
	OwnerUserIDs []int64
}

// StopReason tags why a plugin is being stopped, for logs and events.
type StopReason string

const (
	StopShutdown   StopReason = "shutdown"
	StopDisable    StopReason = "disable"
	StopQuarantine StopReason = "quarantine"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	// Route is a space-separated command path, e.g. "steamstatus" or
	// "steam history".
	Route       string
	Aliases     []string
	Description string
	Usage       string
	Access      Access

	PluginName string
	Timeout    time.Duration // optional per-command override
	Handle     HandlerFunc
}

type HandlerFunc func(ctx context.Context, req *Request) error

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Path    []string // matched command path tokens
	Command string
	Args    []string

	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string

	Adapter      kit.Adapter
	Config       *config.Config
	Logger       logx.Logger
	Services     *Services
	OwnerUserIDs []int64
}

// IsOwner reports whether the requester is in the configured owner list.
func (r *Request) IsOwner() bool {
	return isOwner(r.FromID, r.OwnerUserIDs)
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}
