package bridge

import (
	"errors"

	"github.com/mone27/mqtt-adapter/internal/wire"
)

// ErrMailboxFull is returned by the non-blocking send operations when the
// queue is at capacity. Callers drop the message and log; accepted
// messages are never reordered or displaced.
var ErrMailboxFull = errors.New("mailbox full")

const defaultMailboxCapacity = 128

// Mailbox is the local channel pair between the relay loop and the
// dispatcher: one FIFO queue per direction, each with a single producer
// and a single consumer. No other state is shared between the two loops.
//
// Inbound carries gateway commands (relay -> dispatcher); outbound carries
// plugin events (dispatcher/adapters -> relay). Ordering is FIFO per
// direction only; the two directions are not ordered relative to each
// other.
type Mailbox struct {
	inbound  chan wire.GatewayMessage
	outbound chan wire.PluginMessage
}

func NewMailbox(capacity int) *Mailbox {
	if capacity <= 0 {
		capacity = defaultMailboxCapacity
	}
	return &Mailbox{
		inbound:  make(chan wire.GatewayMessage, capacity),
		outbound: make(chan wire.PluginMessage, capacity),
	}
}

// DeliverInbound enqueues a gateway command without blocking. Relay side.
func (m *Mailbox) DeliverInbound(msg wire.GatewayMessage) error {
	select {
	case m.inbound <- msg:
		return nil
	default:
		return ErrMailboxFull
	}
}

// Inbound exposes the command queue to the dispatcher, which may block on
// it together with its cancellation context.
func (m *Mailbox) Inbound() <-chan wire.GatewayMessage {
	return m.inbound
}

// EmitOutbound enqueues a plugin event without blocking. Dispatcher side.
func (m *Mailbox) EmitOutbound(msg wire.PluginMessage) error {
	select {
	case m.outbound <- msg:
		return nil
	default:
		return ErrMailboxFull
	}
}

// NextOutbound dequeues at most one pending event. Relay side.
func (m *Mailbox) NextOutbound() (wire.PluginMessage, bool) {
	select {
	case msg := <-m.outbound:
		return msg, true
	default:
		return nil, false
	}
}

// Depths reports the number of queued messages per direction.
func (m *Mailbox) Depths() (inbound, outbound int) {
	return len(m.inbound), len(m.outbound)
}
