package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/mone27/mqtt-adapter/internal/ipc"
	"github.com/mone27/mqtt-adapter/internal/wire"
)

// DialFunc opens a request/reply connection to the rendezvous address.
type DialFunc func(addr string) (ipc.Socket, error)

// Handshake performs the one-shot registration exchange: send exactly one
// registerPlugin request, block for exactly one reply, and derive the
// address of the persistent duplex channel from it. Any failure here is
// fatal to startup once the retry budget is exhausted.
type Handshake struct {
	pluginID     string
	registryAddr string
	baseURL      string
	maxRetries   uint64
	life         *Lifecycle
	dial         DialFunc
}

func NewHandshake(pluginID, registryAddr, baseURL string, maxRetries int, life *Lifecycle) *Handshake {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Handshake{
		pluginID:     pluginID,
		registryAddr: registryAddr,
		baseURL:      baseURL,
		maxRetries:   uint64(maxRetries),
		life:         life,
		dial: func(addr string) (ipc.Socket, error) {
			return ipc.DialReq(addr, 5*time.Second)
		},
	}
}

// Register runs the handshake with exponential backoff between attempts,
// bounded by maxRetries and the context deadline. It returns the address
// of the persistent channel: "<baseURL>/<ipcBaseAddr>".
func (h *Handshake) Register(ctx context.Context) (string, error) {
	h.life.Set(StateRegistering)

	attempt := 0
	op := func() (string, error) {
		attempt++
		addr, err := h.register()
		if err != nil {
			slog.Warn("plugin registration attempt failed", "plugin_id", h.pluginID, "attempt", attempt, "error", err)
			return "", err
		}
		return addr, nil
	}

	channelAddr, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(h.maxRetries)+1))
	if err != nil {
		return "", fmt.Errorf("register plugin %q: %w", h.pluginID, err)
	}
	slog.Info("plugin registered", "plugin_id", h.pluginID, "channel", channelAddr, "attempts", attempt)
	return channelAddr, nil
}

func (h *Handshake) register() (string, error) {
	sock, err := h.dial(h.registryAddr)
	if err != nil {
		return "", err
	}
	defer sock.Close()

	req, err := wire.EncodeRegisterPlugin(h.pluginID)
	if err != nil {
		return "", err
	}
	if err := sock.Send(req); err != nil {
		return "", fmt.Errorf("send registration: %w", err)
	}
	rep, err := sock.Recv()
	if err != nil {
		return "", fmt.Errorf("await registration reply: %w", err)
	}
	reply, err := wire.DecodeRegisterPluginReply(rep)
	if err != nil {
		return "", err
	}
	if reply.PluginID != h.pluginID {
		slog.Warn("registration reply for different plugin id", "want", h.pluginID, "got", reply.PluginID)
	}
	if reply.IPCBaseAddr == "" {
		return "", fmt.Errorf("registration reply missing ipcBaseAddr")
	}
	return ChannelAddr(h.baseURL, reply.IPCBaseAddr), nil
}

// ChannelAddr combines the fixed base location with the ipcBaseAddr from
// the registration reply.
func ChannelAddr(baseURL, ipcBaseAddr string) string {
	return strings.TrimSuffix(baseURL, "/") + "/" + ipcBaseAddr
}
