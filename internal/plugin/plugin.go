// Package plugin owns the adapter registry and the dispatch loop that
// consumes gateway commands from the inbound queue.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mone27/mqtt-adapter/internal/adapter"
	"github.com/mone27/mqtt-adapter/internal/bridge"
	"github.com/mone27/mqtt-adapter/internal/model"
	"github.com/mone27/mqtt-adapter/internal/wire"
)

// ErrAdapterNotFound is the reported outcome for commands referencing an
// adapter id that is not in the registry. The process keeps running.
var ErrAdapterNotFound = errors.New("adapter not found")

var (
	commandsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "plugin_commands_dispatched_total",
		Help: "Gateway commands routed to adapters, by tag.",
	}, []string{"tag"})
	commandsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "plugin_commands_rejected_total",
		Help: "Gateway commands not acted on, by reason.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(commandsDispatched, commandsRejected)
}

// Plugin is the dispatcher: it drains the inbound queue, validates and
// routes commands to adapters, and is the source of outbound events. It
// never touches the gateway channel; everything outbound goes through the
// mailbox.
type Plugin struct {
	id      string
	mailbox *bridge.Mailbox

	mu       sync.RWMutex
	adapters map[string]adapter.Adapter
}

func New(id string, mailbox *bridge.Mailbox) *Plugin {
	return &Plugin{
		id:       id,
		mailbox:  mailbox,
		adapters: make(map[string]adapter.Adapter),
	}
}

func (p *Plugin) ID() string { return p.id }

// AddAdapter registers an adapter and announces it to the gateway.
func (p *Plugin) AddAdapter(a adapter.Adapter) error {
	p.mu.Lock()
	if _, exists := p.adapters[a.ID()]; exists {
		p.mu.Unlock()
		return fmt.Errorf("adapter %q already registered", a.ID())
	}
	p.adapters[a.ID()] = a
	p.mu.Unlock()

	slog.Info("adapter registered", "adapter_id", a.ID(), "name", a.Name())
	return p.Emit(wire.AddAdapter{PluginID: p.id, AdapterID: a.ID(), Name: a.Name()})
}

// Emit routes an adapter- or plugin-originated event onto the outbound
// queue. A full queue drops the event with a log line rather than blocking
// the caller.
func (p *Plugin) Emit(msg wire.PluginMessage) error {
	if err := p.mailbox.EmitOutbound(msg); err != nil {
		slog.Warn("outbound queue full, dropping event", "tag", msg.Tag())
		return err
	}
	return nil
}

// Shutdown requests a graceful stop from the plugin side (e.g. on
// SIGTERM): the pluginUnloaded event travels the outbound queue and the
// relay closes the channel after writing it.
func (p *Plugin) Shutdown() {
	_ = p.Emit(wire.PluginUnloaded{PluginID: p.id})
}

// Run consumes the inbound queue until an unloadPlugin command addressed
// to this plugin arrives or the context is cancelled. Messages for other
// plugin ids are ignored silently; they are not errors.
func (p *Plugin) Run(ctx context.Context) error {
	slog.Info("dispatcher started", "plugin_id", p.id)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-p.mailbox.Inbound():
			if msg.Plugin() != p.id {
				commandsRejected.WithLabelValues("plugin_mismatch").Inc()
				continue
			}
			if err := p.dispatch(msg); err != nil {
				slog.Warn("command failed", "tag", msg.Tag(), "error", err)
			}
			if _, unload := msg.(wire.UnloadPlugin); unload {
				slog.Info("dispatcher exiting", "plugin_id", p.id)
				p.Shutdown()
				return nil
			}
		}
	}
}

// dispatch routes one command by tag. Lookup failures are reported
// outcomes; unrecognized tags are ignored for forward compatibility.
func (p *Plugin) dispatch(msg wire.GatewayMessage) error {
	switch m := msg.(type) {
	case wire.SetProperty:
		a, err := p.lookup(m.AdapterID)
		if err != nil {
			return err
		}
		commandsDispatched.WithLabelValues(m.Tag()).Inc()
		if err := a.SetProperty(m.DeviceID, m.Property); err != nil {
			return fmt.Errorf("set property %q on %s/%s: %w", m.Property.Name, m.AdapterID, m.DeviceID, err)
		}

	case wire.StartPairing:
		a, err := p.lookup(m.AdapterID)
		if err != nil {
			return err
		}
		commandsDispatched.WithLabelValues(m.Tag()).Inc()
		timeout := time.Duration(m.Timeout * float64(time.Second))
		if err := a.StartPairing(timeout); err != nil {
			return fmt.Errorf("start pairing on %s: %w", m.AdapterID, err)
		}

	case wire.CancelPairing:
		a, err := p.lookup(m.AdapterID)
		if err != nil {
			return err
		}
		commandsDispatched.WithLabelValues(m.Tag()).Inc()
		if err := a.CancelPairing(); err != nil {
			return fmt.Errorf("cancel pairing on %s: %w", m.AdapterID, err)
		}

	case wire.UnloadAdapter:
		return p.unloadAdapter(m.AdapterID)

	case wire.RemoveThing:
		a, err := p.lookup(m.AdapterID)
		if err != nil {
			return err
		}
		remover, ok := a.(adapter.DeviceRemover)
		if !ok {
			commandsRejected.WithLabelValues("unsupported").Inc()
			return nil
		}
		commandsDispatched.WithLabelValues(m.Tag()).Inc()
		if err := remover.RemoveDevice(m.DeviceID); err != nil {
			return fmt.Errorf("remove device %s/%s: %w", m.AdapterID, m.DeviceID, err)
		}

	case wire.CancelRemoveThing:
		a, err := p.lookup(m.AdapterID)
		if err != nil {
			return err
		}
		remover, ok := a.(adapter.DeviceRemover)
		if !ok {
			commandsRejected.WithLabelValues("unsupported").Inc()
			return nil
		}
		commandsDispatched.WithLabelValues(m.Tag()).Inc()
		if err := remover.CancelRemoveDevice(m.DeviceID); err != nil {
			return fmt.Errorf("cancel remove device %s/%s: %w", m.AdapterID, m.DeviceID, err)
		}

	case wire.UnloadPlugin:
		commandsDispatched.WithLabelValues(m.Tag()).Inc()
		p.unloadAll()
	}
	return nil
}

func (p *Plugin) lookup(adapterID string) (adapter.Adapter, error) {
	p.mu.RLock()
	a, ok := p.adapters[adapterID]
	p.mu.RUnlock()
	if !ok {
		commandsRejected.WithLabelValues("adapter_not_found").Inc()
		return nil, fmt.Errorf("%w: %q", ErrAdapterNotFound, adapterID)
	}
	return a, nil
}

func (p *Plugin) unloadAdapter(adapterID string) error {
	p.mu.Lock()
	a, ok := p.adapters[adapterID]
	if ok {
		delete(p.adapters, adapterID)
	}
	p.mu.Unlock()
	if !ok {
		commandsRejected.WithLabelValues("adapter_not_found").Inc()
		return fmt.Errorf("%w: %q", ErrAdapterNotFound, adapterID)
	}
	commandsDispatched.WithLabelValues(wire.TagUnloadAdapter).Inc()
	if stopper, ok := a.(adapter.Stopper); ok {
		stopper.Stop()
	}
	slog.Info("adapter unloaded", "adapter_id", adapterID)
	return p.Emit(wire.AdapterUnloaded{PluginID: p.id, AdapterID: adapterID})
}

func (p *Plugin) unloadAll() {
	p.mu.Lock()
	adapters := make([]adapter.Adapter, 0, len(p.adapters))
	for _, a := range p.adapters {
		adapters = append(adapters, a)
	}
	p.adapters = make(map[string]adapter.Adapter)
	p.mu.Unlock()

	for _, a := range adapters {
		if stopper, ok := a.(adapter.Stopper); ok {
			stopper.Stop()
		}
		_ = p.Emit(wire.AdapterUnloaded{PluginID: p.id, AdapterID: a.ID()})
	}
}

// AdapterInfo is a point-in-time view of one registered adapter.
type AdapterInfo struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Devices []model.Device `json:"devices,omitempty"`
}

// Snapshot lists registered adapters and, where supported, their devices.
// Sorted by adapter id for stable output.
func (p *Plugin) Snapshot() []AdapterInfo {
	p.mu.RLock()
	infos := make([]AdapterInfo, 0, len(p.adapters))
	for _, a := range p.adapters {
		info := AdapterInfo{ID: a.ID(), Name: a.Name()}
		if lister, ok := a.(adapter.DeviceLister); ok {
			info.Devices = lister.Devices()
		}
		infos = append(infos, info)
	}
	p.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}
