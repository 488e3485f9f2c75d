// Package wire defines the JSON message envelopes exchanged with the
// gateway. Every message is a discriminated union: a messageType tag and a
// data payload whose shape is fixed per tag. Field names are part of the
// protocol and must not change.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message tags, handshake family.
const (
	TagRegisterPlugin      = "registerPlugin"
	TagRegisterPluginReply = "registerPluginReply"
)

// Message tags, gateway -> plugin.
const (
	TagUnloadPlugin      = "unloadPlugin"
	TagUnloadAdapter     = "unloadAdapter"
	TagSetProperty       = "setProperty"
	TagStartPairing      = "startPairing"
	TagCancelPairing     = "cancelPairing"
	TagRemoveThing       = "removeThing"
	TagCancelRemoveThing = "cancelRemoveThing"
)

// Message tags, plugin -> gateway.
const (
	TagPluginUnloaded      = "pluginUnloaded"
	TagAdapterUnloaded     = "adapterUnloaded"
	TagAddAdapter          = "addAdapter"
	TagHandleDeviceAdded   = "handleDeviceAdded"
	TagHandleDeviceRemoved = "handleDeviceRemoved"
	TagPropertyChanged     = "propertyChanged"
)

// ErrUnknownTag marks a structurally valid envelope whose messageType is
// not part of the protocol. Callers ignore these for forward compatibility.
var ErrUnknownTag = errors.New("unknown message tag")

// Property is a named value on a device. The value is opaque to the
// bridge: any JSON scalar or structure.
type Property struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

type envelope struct {
	MessageType string          `json:"messageType"`
	Data        json.RawMessage `json:"data"`
}

// GatewayMessage is a steady-state command received from the gateway.
// Every variant carries the plugin id it is addressed to.
type GatewayMessage interface {
	Tag() string
	Plugin() string
}

// PluginMessage is a steady-state event sent to the gateway.
type PluginMessage interface {
	Tag() string
}

// Handshake messages.

type RegisterPlugin struct {
	PluginID string `json:"pluginId"`
}

type RegisterPluginReply struct {
	PluginID    string `json:"pluginId"`
	IPCBaseAddr string `json:"ipcBaseAddr"`
}

// Gateway -> plugin commands.

type UnloadPlugin struct {
	PluginID string `json:"pluginId"`
}

type UnloadAdapter struct {
	PluginID  string `json:"pluginId"`
	AdapterID string `json:"adapterId"`
}

type SetProperty struct {
	PluginID  string   `json:"pluginId"`
	AdapterID string   `json:"adapterId"`
	DeviceID  string   `json:"deviceId"`
	Property  Property `json:"property"`
}

type StartPairing struct {
	PluginID  string  `json:"pluginId"`
	AdapterID string  `json:"adapterId"`
	Timeout   float64 `json:"timeout"` // advisory, seconds
}

type CancelPairing struct {
	PluginID  string `json:"pluginId"`
	AdapterID string `json:"adapterId"`
}

type RemoveThing struct {
	PluginID  string `json:"pluginId"`
	AdapterID string `json:"adapterId"`
	DeviceID  string `json:"deviceId"`
}

type CancelRemoveThing struct {
	PluginID  string `json:"pluginId"`
	AdapterID string `json:"adapterId"`
	DeviceID  string `json:"deviceId"`
}

func (UnloadPlugin) Tag() string      { return TagUnloadPlugin }
func (UnloadAdapter) Tag() string     { return TagUnloadAdapter }
func (SetProperty) Tag() string       { return TagSetProperty }
func (StartPairing) Tag() string      { return TagStartPairing }
func (CancelPairing) Tag() string     { return TagCancelPairing }
func (RemoveThing) Tag() string       { return TagRemoveThing }
func (CancelRemoveThing) Tag() string { return TagCancelRemoveThing }

func (m UnloadPlugin) Plugin() string      { return m.PluginID }
func (m UnloadAdapter) Plugin() string     { return m.PluginID }
func (m SetProperty) Plugin() string       { return m.PluginID }
func (m StartPairing) Plugin() string      { return m.PluginID }
func (m CancelPairing) Plugin() string     { return m.PluginID }
func (m RemoveThing) Plugin() string       { return m.PluginID }
func (m CancelRemoveThing) Plugin() string { return m.PluginID }

// Plugin -> gateway events.

type PluginUnloaded struct {
	PluginID string `json:"pluginId"`
}

type AdapterUnloaded struct {
	PluginID  string `json:"pluginId"`
	AdapterID string `json:"adapterId"`
}

type AddAdapter struct {
	PluginID  string `json:"pluginId"`
	AdapterID string `json:"adapterId"`
	Name      string `json:"name"`
}

type HandleDeviceAdded struct {
	PluginID   string         `json:"pluginId"`
	AdapterID  string         `json:"adapterId"`
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	Actions    map[string]any `json:"actions"`
}

type HandleDeviceRemoved struct {
	PluginID  string `json:"pluginId"`
	AdapterID string `json:"adapterId"`
	ID        string `json:"id"`
}

type PropertyChanged struct {
	PluginID  string   `json:"pluginId"`
	AdapterID string   `json:"adapterId"`
	DeviceID  string   `json:"deviceId"`
	Property  Property `json:"property"`
}

func (PluginUnloaded) Tag() string      { return TagPluginUnloaded }
func (AdapterUnloaded) Tag() string     { return TagAdapterUnloaded }
func (AddAdapter) Tag() string          { return TagAddAdapter }
func (HandleDeviceAdded) Tag() string   { return TagHandleDeviceAdded }
func (HandleDeviceRemoved) Tag() string { return TagHandleDeviceRemoved }
func (PropertyChanged) Tag() string     { return TagPropertyChanged }

func encode(tag string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", tag, err)
	}
	b, err := json.Marshal(envelope{MessageType: tag, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", tag, err)
	}
	return b, nil
}

// EncodeRegisterPlugin builds the one-shot registration request.
func EncodeRegisterPlugin(pluginID string) ([]byte, error) {
	return encode(TagRegisterPlugin, RegisterPlugin{PluginID: pluginID})
}

// DecodeRegisterPluginReply parses the registration reply.
func DecodeRegisterPluginReply(b []byte) (RegisterPluginReply, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return RegisterPluginReply{}, fmt.Errorf("decode register reply envelope: %w", err)
	}
	if env.MessageType != TagRegisterPluginReply {
		return RegisterPluginReply{}, fmt.Errorf("%w: %q", ErrUnknownTag, env.MessageType)
	}
	var reply RegisterPluginReply
	if err := json.Unmarshal(env.Data, &reply); err != nil {
		return RegisterPluginReply{}, fmt.Errorf("decode register reply payload: %w", err)
	}
	return reply, nil
}

// EncodePlugin serializes an outbound event.
func EncodePlugin(msg PluginMessage) ([]byte, error) {
	return encode(msg.Tag(), msg)
}

// EncodeGateway serializes an inbound command. The plugin side only needs
// this in tests and gateway simulators; the shape matches what the real
// gateway sends.
func EncodeGateway(msg GatewayMessage) ([]byte, error) {
	return encode(msg.Tag(), msg)
}

// DecodeGateway parses one inbound frame. An unrecognized messageType
// yields ErrUnknownTag so callers can skip it without treating it as a
// protocol fault.
func DecodeGateway(b []byte) (GatewayMessage, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode gateway envelope: %w", err)
	}
	var (
		msg GatewayMessage
		err error
	)
	switch env.MessageType {
	case TagUnloadPlugin:
		var m UnloadPlugin
		err = json.Unmarshal(env.Data, &m)
		msg = m
	case TagUnloadAdapter:
		var m UnloadAdapter
		err = json.Unmarshal(env.Data, &m)
		msg = m
	case TagSetProperty:
		var m SetProperty
		err = json.Unmarshal(env.Data, &m)
		msg = m
	case TagStartPairing:
		var m StartPairing
		err = json.Unmarshal(env.Data, &m)
		msg = m
	case TagCancelPairing:
		var m CancelPairing
		err = json.Unmarshal(env.Data, &m)
		msg = m
	case TagRemoveThing:
		var m RemoveThing
		err = json.Unmarshal(env.Data, &m)
		msg = m
	case TagCancelRemoveThing:
		var m CancelRemoveThing
		err = json.Unmarshal(env.Data, &m)
		msg = m
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, env.MessageType)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.MessageType, err)
	}
	return msg, nil
}

// DecodePlugin parses one outbound frame. Used by tests and gateway-side
// tooling to verify what the relay puts on the wire.
func DecodePlugin(b []byte) (PluginMessage, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode plugin envelope: %w", err)
	}
	var (
		msg PluginMessage
		err error
	)
	switch env.MessageType {
	case TagPluginUnloaded:
		var m PluginUnloaded
		err = json.Unmarshal(env.Data, &m)
		msg = m
	case TagAdapterUnloaded:
		var m AdapterUnloaded
		err = json.Unmarshal(env.Data, &m)
		msg = m
	case TagAddAdapter:
		var m AddAdapter
		err = json.Unmarshal(env.Data, &m)
		msg = m
	case TagHandleDeviceAdded:
		var m HandleDeviceAdded
		err = json.Unmarshal(env.Data, &m)
		msg = m
	case TagHandleDeviceRemoved:
		var m HandleDeviceRemoved
		err = json.Unmarshal(env.Data, &m)
		msg = m
	case TagPropertyChanged:
		var m PropertyChanged
		err = json.Unmarshal(env.Data, &m)
		msg = m
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, env.MessageType)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.MessageType, err)
	}
	return msg, nil
}
