package model

import "time"

// Device is a controlled endpoint owned by an adapter: an identity plus a
// bag of named property values. Property values are arbitrary JSON-typed
// data, opaque to the bridge; only adapters interpret them.
type Device struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	Actions    map[string]any `json:"actions"`
	Online     bool           `json:"online"`
	LastSeen   time.Time      `json:"last_seen"`
}

// Clone returns a copy safe to hand across goroutine boundaries: the
// property and action maps are copied, values are shared.
func (d Device) Clone() Device {
	cp := d
	if d.Properties != nil {
		cp.Properties = make(map[string]any, len(d.Properties))
		for k, v := range d.Properties {
			cp.Properties[k] = v
		}
	}
	if d.Actions != nil {
		cp.Actions = make(map[string]any, len(d.Actions))
		for k, v := range d.Actions {
			cp.Actions[k] = v
		}
	}
	return cp
}
