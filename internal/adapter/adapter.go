// Package adapter defines the contract between the dispatcher and the
// protocol drivers it routes gateway commands to.
package adapter

import (
	"errors"
	"time"

	"github.com/mone27/mqtt-adapter/internal/model"
	"github.com/mone27/mqtt-adapter/internal/wire"
)

// ErrDeviceNotFound is returned by adapters when a command references a
// device id they do not own. A reported outcome, never a fault.
var ErrDeviceNotFound = errors.New("device not found")

// Adapter is the capability set the dispatcher invokes on behalf of the
// gateway.
type Adapter interface {
	ID() string
	Name() string
	// SetProperty applies one property write to a device.
	SetProperty(deviceID string, prop wire.Property) error
	// StartPairing opens a discovery window. The timeout is advisory; the
	// adapter is responsible for honoring it.
	StartPairing(timeout time.Duration) error
	CancelPairing() error
}

// EventSink receives adapter-originated events bound for the gateway.
// Implemented by the dispatcher, which routes them through the outbound
// queue; adapters never touch the gateway channel directly.
type EventSink interface {
	Emit(msg wire.PluginMessage) error
}

// Stopper is implemented by adapters that hold resources needing explicit
// teardown on unload.
type Stopper interface {
	Stop()
}

// DeviceRemover is implemented by adapters that support gateway-initiated
// device removal.
type DeviceRemover interface {
	RemoveDevice(deviceID string) error
	CancelRemoveDevice(deviceID string) error
}

// DeviceLister exposes an adapter's device registry to the status API.
type DeviceLister interface {
	Devices() []model.Device
}
