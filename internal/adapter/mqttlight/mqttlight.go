// Package mqttlight drives MQTT-attached lights: devices that announce
// themselves on a well-known topic and report property state as JSON.
package mqttlight

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/mone27/mqtt-adapter/internal/adapter"
	"github.com/mone27/mqtt-adapter/internal/model"
	"github.com/mone27/mqtt-adapter/internal/mqtt"
	"github.com/mone27/mqtt-adapter/internal/store"
	"github.com/mone27/mqtt-adapter/internal/wire"
)

const (
	announceTopic   = "mqttlight/announce"
	permitJoinTopic = "mqttlight/permit_join"
)

var stateTopic = regexp.MustCompile(`^mqttlight/([^/]+)/state$`)

type Adapter struct {
	id       string
	pluginID string
	client   mqtt.ClientAPI
	sink     adapter.EventSink
	cache    *store.StateCache // nil when no cache is configured

	mu      sync.RWMutex
	devices map[string]model.Device

	pairingMu     sync.Mutex
	pairingActive bool
	pairingCancel context.CancelFunc

	subscriptions []string
}

func New(id, pluginID string, client mqtt.ClientAPI, sink adapter.EventSink, cache *store.StateCache) *Adapter {
	return &Adapter{
		id:       id,
		pluginID: pluginID,
		client:   client,
		sink:     sink,
		cache:    cache,
		devices:  make(map[string]model.Device),
	}
}

func (a *Adapter) ID() string   { return a.id }
func (a *Adapter) Name() string { return "MQTT lights" }

// Start primes the registry from the cache and subscribes to the broker.
func (a *Adapter) Start(ctx context.Context) error {
	a.primeFromCache(ctx)
	if err := a.subscribe(announceTopic, a.handleAnnounce); err != nil {
		return err
	}
	if err := a.subscribe("mqttlight/+/state", a.handleState); err != nil {
		return err
	}
	slog.Info("mqttlight adapter started", "adapter_id", a.id)
	return nil
}

func (a *Adapter) subscribe(topic string, h mqtt.Handler) error {
	if err := a.client.Subscribe(topic, h); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	a.subscriptions = append(a.subscriptions, topic)
	return nil
}

func (a *Adapter) primeFromCache(ctx context.Context) {
	if a.cache == nil {
		return
	}
	ids, err := a.cache.List(ctx)
	if err != nil {
		slog.Warn("state cache unavailable, starting empty", "error", err)
		return
	}
	for _, id := range ids {
		b, err := a.cache.Get(ctx, id)
		if err != nil || b == nil {
			continue
		}
		var d model.Device
		if err := json.Unmarshal(b, &d); err != nil {
			slog.Debug("cached device decode failed", "device_id", id, "error", err)
			continue
		}
		d.Online = false
		a.mu.Lock()
		a.devices[d.ID] = d
		a.mu.Unlock()
	}
	slog.Info("mqttlight devices restored from cache", "count", len(ids))
}

// handleAnnounce registers a light that introduced itself. Announcements
// without an id get one assigned.
func (a *Adapter) handleAnnounce(_ paho.Client, m mqtt.Message) {
	var ann struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(m.Payload(), &ann); err != nil {
		slog.Debug("announce decode failed", "error", err)
		return
	}
	if strings.TrimSpace(ann.ID) == "" {
		ann.ID = uuid.NewString()
	}
	if ann.Name == "" {
		ann.Name = ann.ID
	}
	if ann.Type == "" {
		ann.Type = "onOffLight"
	}

	a.mu.Lock()
	if _, known := a.devices[ann.ID]; known {
		a.mu.Unlock()
		return
	}
	d := model.Device{
		ID:         ann.ID,
		Name:       ann.Name,
		Type:       ann.Type,
		Properties: map[string]any{},
		Online:     true,
		LastSeen:   time.Now(),
	}
	a.devices[ann.ID] = d
	a.mu.Unlock()

	a.persist(d)
	a.emitAdded(d)
}

// handleState absorbs a state report: first sight of a device adds it,
// subsequent reports emit one propertyChanged per changed property.
func (a *Adapter) handleState(_ paho.Client, m mqtt.Message) {
	match := stateTopic.FindStringSubmatch(m.Topic())
	if match == nil {
		return
	}
	deviceID := match[1]

	var props map[string]any
	if err := json.Unmarshal(m.Payload(), &props); err != nil {
		slog.Debug("state decode failed", "device_id", deviceID, "error", err)
		return
	}

	a.mu.Lock()
	d, known := a.devices[deviceID]
	if !known {
		d = model.Device{
			ID:         deviceID,
			Name:       deviceID,
			Type:       "onOffLight",
			Properties: map[string]any{},
		}
	}
	var changed []wire.Property
	for name, value := range props {
		if prev, ok := d.Properties[name]; !ok || !reflect.DeepEqual(prev, value) {
			changed = append(changed, wire.Property{Name: name, Value: value})
		}
		d.Properties[name] = value
	}
	d.Online = true
	d.LastSeen = time.Now()
	a.devices[deviceID] = d
	snapshot := d.Clone()
	a.mu.Unlock()

	a.persist(snapshot)
	if !known {
		a.emitAdded(snapshot)
		return
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i].Name < changed[j].Name })
	for _, prop := range changed {
		_ = a.sink.Emit(wire.PropertyChanged{
			PluginID:  a.pluginID,
			AdapterID: a.id,
			DeviceID:  deviceID,
			Property:  prop,
		})
	}
}

func (a *Adapter) emitAdded(d model.Device) {
	slog.Info("light discovered", "device_id", d.ID, "name", d.Name)
	_ = a.sink.Emit(wire.HandleDeviceAdded{
		PluginID:   a.pluginID,
		AdapterID:  a.id,
		ID:         d.ID,
		Name:       d.Name,
		Type:       d.Type,
		Properties: d.Properties,
		Actions:    d.Actions,
	})
}

func (a *Adapter) persist(d model.Device) {
	if a.cache == nil {
		return
	}
	b, err := json.Marshal(d)
	if err != nil {
		return
	}
	if err := a.cache.Set(context.Background(), d.ID, b); err != nil {
		slog.Debug("state cache write failed", "device_id", d.ID, "error", err)
	}
}

// SetProperty publishes a single-property write to the device's set topic.
func (a *Adapter) SetProperty(deviceID string, prop wire.Property) error {
	a.mu.RLock()
	_, known := a.devices[deviceID]
	a.mu.RUnlock()
	if !known {
		return fmt.Errorf("%w: %q", adapter.ErrDeviceNotFound, deviceID)
	}
	payload, err := json.Marshal(map[string]any{prop.Name: prop.Value})
	if err != nil {
		return fmt.Errorf("encode property %q: %w", prop.Name, err)
	}
	return a.client.Publish("mqttlight/"+deviceID+"/set", payload)
}

// StartPairing opens a permit-join window that closes itself after the
// timeout unless cancelled first.
func (a *Adapter) StartPairing(timeout time.Duration) error {
	a.pairingMu.Lock()
	if a.pairingActive {
		a.pairingMu.Unlock()
		return nil
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.pairingActive = true
	a.pairingCancel = cancel
	a.pairingMu.Unlock()

	if err := a.client.Publish(permitJoinTopic, []byte(fmt.Sprintf(`{"value":true,"time":%d}`, int(timeout.Seconds())))); err != nil {
		a.stopPairing()
		return err
	}
	go func() {
		select {
		case <-time.After(timeout):
			a.stopPairing()
		case <-ctx.Done():
		}
	}()
	slog.Info("pairing window opened", "adapter_id", a.id, "timeout", timeout)
	return nil
}

func (a *Adapter) CancelPairing() error {
	a.pairingMu.Lock()
	active := a.pairingActive
	a.pairingMu.Unlock()
	if !active {
		return nil
	}
	a.stopPairing()
	return nil
}

func (a *Adapter) stopPairing() {
	a.pairingMu.Lock()
	cancel := a.pairingCancel
	a.pairingCancel = nil
	a.pairingActive = false
	a.pairingMu.Unlock()
	if cancel != nil {
		cancel()
	}
	_ = a.client.Publish(permitJoinTopic, []byte(`{"value":false}`))
	slog.Info("pairing window closed", "adapter_id", a.id)
}

// RemoveDevice forgets a device and tells it to leave the network.
func (a *Adapter) RemoveDevice(deviceID string) error {
	a.mu.Lock()
	_, known := a.devices[deviceID]
	delete(a.devices, deviceID)
	a.mu.Unlock()
	if !known {
		return fmt.Errorf("%w: %q", adapter.ErrDeviceNotFound, deviceID)
	}
	if a.cache != nil {
		_ = a.cache.Delete(context.Background(), deviceID)
	}
	_ = a.client.Publish("mqttlight/"+deviceID+"/remove", []byte(`{}`))
	return a.sink.Emit(wire.HandleDeviceRemoved{PluginID: a.pluginID, AdapterID: a.id, ID: deviceID})
}

// CancelRemoveDevice is accepted for devices we still know; removal here
// is immediate, so there is nothing in flight to abort.
func (a *Adapter) CancelRemoveDevice(deviceID string) error {
	a.mu.RLock()
	_, known := a.devices[deviceID]
	a.mu.RUnlock()
	if !known {
		return fmt.Errorf("%w: %q", adapter.ErrDeviceNotFound, deviceID)
	}
	return nil
}

// Devices lists known devices, sorted by id.
func (a *Adapter) Devices() []model.Device {
	a.mu.RLock()
	out := make([]model.Device, 0, len(a.devices))
	for _, d := range a.devices {
		out = append(out, d.Clone())
	}
	a.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stop drops broker subscriptions and closes any open pairing window.
func (a *Adapter) Stop() {
	a.CancelPairing()
	for _, topic := range a.subscriptions {
		_ = a.client.Unsubscribe(topic)
	}
	a.subscriptions = nil
	slog.Info("mqttlight adapter stopped", "adapter_id", a.id)
}
