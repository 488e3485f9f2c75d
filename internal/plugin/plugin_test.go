package plugin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mone27/mqtt-adapter/internal/bridge"
	"github.com/mone27/mqtt-adapter/internal/wire"
)

type fakeAdapter struct {
	id           string
	setCalls     []setCall
	pairTimeouts []time.Duration
	cancelled    int
	stopped      int
	removed      []string
	err          error
}

type setCall struct {
	deviceID string
	prop     wire.Property
}

func (f *fakeAdapter) ID() string   { return f.id }
func (f *fakeAdapter) Name() string { return "fake " + f.id }

func (f *fakeAdapter) SetProperty(deviceID string, prop wire.Property) error {
	f.setCalls = append(f.setCalls, setCall{deviceID, prop})
	return f.err
}

func (f *fakeAdapter) StartPairing(timeout time.Duration) error {
	f.pairTimeouts = append(f.pairTimeouts, timeout)
	return f.err
}

func (f *fakeAdapter) CancelPairing() error {
	f.cancelled++
	return f.err
}

func (f *fakeAdapter) Stop() { f.stopped++ }

func (f *fakeAdapter) RemoveDevice(deviceID string) error {
	f.removed = append(f.removed, deviceID)
	return f.err
}

func (f *fakeAdapter) CancelRemoveDevice(deviceID string) error { return f.err }

func newTestPlugin(t *testing.T, adapters ...*fakeAdapter) (*Plugin, *bridge.Mailbox) {
	t.Helper()
	mb := bridge.NewMailbox(32)
	p := New("mqtt", mb)
	for _, a := range adapters {
		if err := p.AddAdapter(a); err != nil {
			t.Fatalf("AddAdapter(%s): %v", a.id, err)
		}
	}
	// Drain the addAdapter announcements so tests observe only the
	// traffic they generate.
	for {
		if _, ok := mb.NextOutbound(); !ok {
			break
		}
	}
	return p, mb
}

func TestDispatchSetPropertyRoutesExactlyOnce(t *testing.T) {
	a := &fakeAdapter{id: "a1"}
	p, _ := newTestPlugin(t, a)

	prop := wire.Property{Name: "on", Value: true}
	err := p.dispatch(wire.SetProperty{PluginID: "mqtt", AdapterID: "a1", DeviceID: "d1", Property: prop})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(a.setCalls) != 1 {
		t.Fatalf("expected exactly one SetProperty call, got %d", len(a.setCalls))
	}
	if a.setCalls[0].deviceID != "d1" || a.setCalls[0].prop.Name != "on" || a.setCalls[0].prop.Value != true {
		t.Fatalf("unexpected call %+v", a.setCalls[0])
	}
}

func TestDispatchUnknownAdapterReportsNotFound(t *testing.T) {
	a := &fakeAdapter{id: "a1"}
	p, _ := newTestPlugin(t, a)

	err := p.dispatch(wire.SetProperty{PluginID: "mqtt", AdapterID: "missing", DeviceID: "d1"})
	if !errors.Is(err, ErrAdapterNotFound) {
		t.Fatalf("expected ErrAdapterNotFound, got %v", err)
	}
	if len(a.setCalls) != 0 {
		t.Fatalf("registry adapter must not be touched, got %d calls", len(a.setCalls))
	}
	if got := len(p.Snapshot()); got != 1 {
		t.Fatalf("registry changed: %d adapters", got)
	}
}

func TestDispatchPairingTimeoutConversion(t *testing.T) {
	a := &fakeAdapter{id: "a1"}
	p, _ := newTestPlugin(t, a)

	if err := p.dispatch(wire.StartPairing{PluginID: "mqtt", AdapterID: "a1", Timeout: 2.5}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(a.pairTimeouts) != 1 || a.pairTimeouts[0] != 2500*time.Millisecond {
		t.Fatalf("unexpected pairing timeouts %v", a.pairTimeouts)
	}

	if err := p.dispatch(wire.CancelPairing{PluginID: "mqtt", AdapterID: "a1"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if a.cancelled != 1 {
		t.Fatalf("expected one CancelPairing call, got %d", a.cancelled)
	}
}

func TestDispatchUnloadAdapter(t *testing.T) {
	a := &fakeAdapter{id: "a1"}
	p, mb := newTestPlugin(t, a)

	if err := p.dispatch(wire.UnloadAdapter{PluginID: "mqtt", AdapterID: "a1"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if a.stopped != 1 {
		t.Fatalf("adapter not stopped")
	}
	if got := len(p.Snapshot()); got != 0 {
		t.Fatalf("adapter still registered")
	}
	msg, ok := mb.NextOutbound()
	if !ok {
		t.Fatal("expected adapterUnloaded event")
	}
	if evt, isEvt := msg.(wire.AdapterUnloaded); !isEvt || evt.AdapterID != "a1" {
		t.Fatalf("unexpected event %#v", msg)
	}
}

func TestDispatchRemoveThing(t *testing.T) {
	a := &fakeAdapter{id: "a1"}
	p, _ := newTestPlugin(t, a)

	if err := p.dispatch(wire.RemoveThing{PluginID: "mqtt", AdapterID: "a1", DeviceID: "d9"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(a.removed) != 1 || a.removed[0] != "d9" {
		t.Fatalf("unexpected removals %v", a.removed)
	}
}

func TestRunIgnoresOtherPluginIDs(t *testing.T) {
	a := &fakeAdapter{id: "a1"}
	p, mb := newTestPlugin(t, a)

	if err := mb.DeliverInbound(wire.SetProperty{PluginID: "zwave", AdapterID: "a1", DeviceID: "d1"}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if err := mb.DeliverInbound(wire.UnloadPlugin{PluginID: "mqtt"}); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(a.setCalls) != 0 {
		t.Fatalf("foreign command mutated adapter: %d calls", len(a.setCalls))
	}
}

func TestRunExitsOnUnloadPlugin(t *testing.T) {
	a := &fakeAdapter{id: "a1"}
	p, mb := newTestPlugin(t, a)

	if err := mb.DeliverInbound(wire.UnloadPlugin{PluginID: "mqtt"}); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not exit on unloadPlugin")
	}
	if a.stopped != 1 {
		t.Fatalf("adapter not stopped on plugin unload")
	}

	// Teardown traffic ends with the shutdown event.
	var tags []string
	for {
		msg, ok := mb.NextOutbound()
		if !ok {
			break
		}
		tags = append(tags, msg.Tag())
	}
	if len(tags) != 2 || tags[0] != wire.TagAdapterUnloaded || tags[1] != wire.TagPluginUnloaded {
		t.Fatalf("unexpected outbound sequence %v", tags)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	p, _ := newTestPlugin(t, &fakeAdapter{id: "a1"})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop on cancel")
	}
}

func TestAddAdapterAnnouncesAndRejectsDuplicates(t *testing.T) {
	mb := bridge.NewMailbox(8)
	p := New("mqtt", mb)
	a := &fakeAdapter{id: "a1"}

	if err := p.AddAdapter(a); err != nil {
		t.Fatalf("AddAdapter: %v", err)
	}
	msg, ok := mb.NextOutbound()
	if !ok {
		t.Fatal("expected addAdapter announcement")
	}
	if add, isAdd := msg.(wire.AddAdapter); !isAdd || add.AdapterID != "a1" || add.PluginID != "mqtt" {
		t.Fatalf("unexpected announcement %#v", msg)
	}

	if err := p.AddAdapter(&fakeAdapter{id: "a1"}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}
