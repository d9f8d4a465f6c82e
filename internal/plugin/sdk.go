package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"steamwatch/internal/eventbus"
	"steamwatch/internal/storage"
	kit "steamwatch/internal/transport"
	logx "steamwatch/pkg/logx"
)

// PluginBase carries the boilerplate every plugin needs: deps, a scoped
// logger, a lifecycle context, and helpers for scheduling, delivery, and
// transition history. Embed it and implement the rest of Plugin.
type PluginBase struct {
	name string
	deps Deps
	log  logx.Logger

	mu      sync.Mutex
	ctx     context.Context
	taskIDs []string
}

func (b *PluginBase) InitBase(name string, deps Deps) {
	b.name = name
	b.deps = deps
	b.log = deps.Logger.With(logx.String("plugin", name))
	if b.log.IsZero() {
		b.log = logx.Nop()
	}
}

func (b *PluginBase) StartBase(ctx context.Context) {
	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()
}

// StopBase removes every scheduled task this plugin registered.
func (b *PluginBase) StopBase() {
	b.mu.Lock()
	ids := b.taskIDs
	b.taskIDs = nil
	b.ctx = nil
	b.mu.Unlock()

	if sched := b.deps.Services.schedulerOrNil(); sched != nil {
		for _, id := range ids {
			sched.Remove(id)
		}
	}
}

func (s *Services) schedulerOrNil() SchedulerPort {
	if s == nil {
		return nil
	}
	return s.Scheduler
}

// Context returns the lifecycle context set by StartBase, or Background
// before Start.
func (b *PluginBase) Context() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx == nil {
		return context.Background()
	}
	return b.ctx
}

func (b *PluginBase) Log() logx.Logger { return b.log }
func (b *PluginBase) Deps() Deps      { return b.deps }

func (b *PluginBase) ns(task string) string { return b.name + "." + task }

// Every registers a fixed-interval task scoped to this plugin. The id is
// remembered and removed on StopBase.
func (b *PluginBase) Every(task string, every, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	sched := b.deps.Services.schedulerOrNil()
	if sched == nil || !sched.Enabled() {
		return "", errors.New("scheduler disabled")
	}
	id, err := sched.AddInterval(b.ns(task), every, timeout, job)
	if err != nil {
		return "", err
	}
	b.rememberTask(id)
	return id, nil
}

// Cron registers a cron-spec task scoped to this plugin.
func (b *PluginBase) Cron(task, spec string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	sched := b.deps.Services.schedulerOrNil()
	if sched == nil || !sched.Enabled() {
		return "", errors.New("scheduler disabled")
	}
	id, err := sched.AddCron(b.ns(task), spec, timeout, job)
	if err != nil {
		return "", err
	}
	b.rememberTask(id)
	return id, nil
}

func (b *PluginBase) rememberTask(id string) {
	b.mu.Lock()
	b.taskIDs = append(b.taskIDs, id)
	b.mu.Unlock()
}

// RemoveTask removes a single scheduled task registered through Every or
// Cron, for plugins that re-register tasks on config change.
func (b *PluginBase) RemoveTask(id string) {
	if id == "" {
		return
	}
	if sched := b.deps.Services.schedulerOrNil(); sched != nil {
		sched.Remove(id)
	}
	b.mu.Lock()
	for i, t := range b.taskIDs {
		if t == id {
			b.taskIDs = append(b.taskIDs[:i], b.taskIDs[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
}

// Notify hands a message to the notifier pipeline, falling back to a
// direct adapter send when no notifier is wired.
func (b *PluginBase) Notify(ctx context.Context, n kit.Notification) error {
	if b.deps.Services != nil && b.deps.Services.Notifier != nil {
		return b.deps.Services.Notifier.Notify(ctx, n)
	}
	if b.deps.Adapter == nil {
		return errors.New("no delivery path configured")
	}
	_, err := b.deps.Adapter.SendText(ctx, n.Target, n.Text, n.Options)
	return err
}

// RecordTransition appends one status transition to the store. A missing
// store is not an error; history is simply off.
func (b *PluginBase) RecordTransition(ctx context.Context, t storage.Transition) error {
	if b.deps.Store == nil {
		return nil
	}
	if t.Plugin == "" {
		t.Plugin = b.name
	}
	if t.At.IsZero() {
		t.At = time.Now()
	}
	return b.deps.Store.AppendTransition(ctx, t)
}

// PublishEvent emits a namespaced event on the bus for observers.
func (b *PluginBase) PublishEvent(typ string, data map[string]any) {
	if b.deps.Bus == nil {
		return
	}
	b.deps.Bus.Publish(eventbus.Event{
		Type: b.ns(typ),
		Time: time.Now(),
		Data: data,
	})
}

// DecodePluginConfig strictly decodes a plugin's raw config blob into T.
// Unknown fields are rejected so typos surface instead of silently doing
// nothing.
func DecodePluginConfig[T any](raw json.RawMessage) (*T, error) {
	var out T
	if len(raw) == 0 {
		return &out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("plugin config: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, errors.New("plugin config: trailing data")
		}
		return nil, fmt.Errorf("plugin config: %w", err)
	}
	return &out, nil
}
