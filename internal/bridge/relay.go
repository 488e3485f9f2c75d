package bridge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mone27/mqtt-adapter/internal/ipc"
	"github.com/mone27/mqtt-adapter/internal/wire"
)

var (
	framesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bridge_frames_received_total",
		Help: "Inbound frames parsed and delivered to the dispatcher.",
	})
	framesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_frames_dropped_total",
		Help: "Inbound frames discarded, by reason.",
	}, []string{"reason"})
	eventsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bridge_events_sent_total",
		Help: "Outbound events written to the gateway channel.",
	})
)

func init() {
	prometheus.MustRegister(framesReceived, framesDropped, eventsSent)
}

// Relay owns the persistent duplex channel. Each iteration attempts one
// receive (the socket's receive deadline paces the loop when idle) and
// drains at most one queued outbound event. It is the only component that
// touches the socket; everything else goes through the mailbox.
//
// The loop ends in exactly one of three ways: the pluginUnloaded event is
// written (graceful, socket closed, nil return), the socket turns out to
// be unrecoverably closed (error return), or the context is cancelled.
type Relay struct {
	pluginID string
	sock     ipc.Socket
	mailbox  *Mailbox
	life     *Lifecycle
}

func NewRelay(pluginID string, sock ipc.Socket, mailbox *Mailbox, life *Lifecycle) *Relay {
	return &Relay{pluginID: pluginID, sock: sock, mailbox: mailbox, life: life}
}

func (r *Relay) Run(ctx context.Context) error {
	r.life.Set(StateRelaying)
	slog.Info("relay started", "plugin_id", r.pluginID)

	for {
		select {
		case <-ctx.Done():
			_ = r.sock.Close()
			r.life.Set(StateTerminated)
			return ctx.Err()
		default:
		}

		if err := r.readStep(); err != nil {
			r.life.Set(StateTerminated)
			return err
		}

		done, err := r.writeStep()
		if err != nil {
			r.life.Set(StateTerminated)
			return err
		}
		if done {
			err := r.sock.Close()
			r.life.Set(StateTerminated)
			slog.Info("relay exiting", "plugin_id", r.pluginID)
			return err
		}
	}
}

// readStep receives at most one frame. Each Recv yields a fresh buffer,
// so stale bytes can never leak into the next parse. Malformed frames are
// dropped, never propagated: partial or garbled input must not kill the
// channel.
func (r *Relay) readStep() error {
	frame, err := r.sock.Recv()
	switch {
	case err == nil:
	case ipc.IsTimeout(err):
		return nil
	case ipc.IsClosed(err):
		return fmt.Errorf("gateway channel closed: %w", err)
	default:
		slog.Warn("relay receive failed", "error", err)
		return nil
	}

	msg, err := wire.DecodeGateway(frame)
	if err != nil {
		slog.Debug("relay frame dropped", "error", err)
		framesDropped.WithLabelValues("parse").Inc()
		return nil
	}
	if err := r.mailbox.DeliverInbound(msg); err != nil {
		slog.Warn("inbound queue full, dropping command", "tag", msg.Tag())
		framesDropped.WithLabelValues("queue_full").Inc()
		return nil
	}
	framesReceived.Inc()
	return nil
}

// writeStep drains at most one outbound event. Writing the pluginUnloaded
// event is the shutdown signal: it reports done=true and the loop closes
// the channel. A transient send failure drops the event with a log line; a
// closed socket terminates the loop.
func (r *Relay) writeStep() (done bool, err error) {
	msg, ok := r.mailbox.NextOutbound()
	if !ok {
		return false, nil
	}

	_, unload := msg.(wire.PluginUnloaded)
	if unload {
		r.life.Set(StateShuttingDown)
	}

	frame, err := wire.EncodePlugin(msg)
	if err != nil {
		slog.Error("outbound encode failed", "tag", msg.Tag(), "error", err)
		return unload, nil
	}
	if err := r.sock.Send(frame); err != nil {
		if ipc.IsClosed(err) {
			return false, fmt.Errorf("gateway channel closed: %w", err)
		}
		// Best effort for the shutdown event: the loop still terminates.
		slog.Warn("relay send failed", "tag", msg.Tag(), "error", err)
		return unload, nil
	}
	eventsSent.Inc()
	return unload, nil
}
