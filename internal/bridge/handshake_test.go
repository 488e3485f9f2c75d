package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mone27/mqtt-adapter/internal/ipc"
	"github.com/mone27/mqtt-adapter/internal/wire"
)

type fakeReqSocket struct {
	reply    []byte
	requests [][]byte
	closed   bool
}

func (s *fakeReqSocket) Send(b []byte) error {
	s.requests = append(s.requests, b)
	return nil
}

func (s *fakeReqSocket) Recv() ([]byte, error) {
	return s.reply, nil
}

func (s *fakeReqSocket) Close() error {
	s.closed = true
	return nil
}

func registerReply(t *testing.T, pluginID, ipcBaseAddr string) []byte {
	t.Helper()
	return []byte(`{"messageType":"registerPluginReply","data":{"pluginId":"` + pluginID + `","ipcBaseAddr":"` + ipcBaseAddr + `"}}`)
}

func TestHandshakeDerivesChannelAddr(t *testing.T) {
	sock := &fakeReqSocket{reply: registerReply(t, "mqtt", "gateway.plugin.mqtt")}
	life := NewLifecycle()
	hs := NewHandshake("mqtt", "ipc:///tmp/gateway.addonManager", "ipc:///tmp", 0, life)
	hs.dial = func(addr string) (ipc.Socket, error) {
		assert.Equal(t, "ipc:///tmp/gateway.addonManager", addr)
		return sock, nil
	}

	addr, err := hs.Register(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ipc:///tmp/gateway.plugin.mqtt", addr)
	assert.True(t, sock.closed)

	// Exactly one request, and it is a well-formed registerPlugin.
	require.Len(t, sock.requests, 1)
	var env struct {
		MessageType string              `json:"messageType"`
		Data        wire.RegisterPlugin `json:"data"`
	}
	require.NoError(t, json.Unmarshal(sock.requests[0], &env))
	assert.Equal(t, wire.TagRegisterPlugin, env.MessageType)
	assert.Equal(t, "mqtt", env.Data.PluginID)
}

func TestHandshakeRetriesThenSucceeds(t *testing.T) {
	attempts := 0
	hs := NewHandshake("mqtt", "ipc:///tmp/gateway.addonManager", "ipc:///tmp", 3, NewLifecycle())
	hs.dial = func(addr string) (ipc.Socket, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("connection refused")
		}
		return &fakeReqSocket{reply: registerReply(t, "mqtt", "gateway.plugin.mqtt")}, nil
	}

	addr, err := hs.Register(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ipc:///tmp/gateway.plugin.mqtt", addr)
	assert.Equal(t, 2, attempts)
}

func TestHandshakeExhaustsRetryBudget(t *testing.T) {
	attempts := 0
	hs := NewHandshake("mqtt", "ipc:///tmp/gateway.addonManager", "ipc:///tmp", 1, NewLifecycle())
	hs.dial = func(addr string) (ipc.Socket, error) {
		attempts++
		return nil, errors.New("connection refused")
	}

	_, err := hs.Register(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, attempts) // initial attempt + one retry
}

func TestHandshakeRejectsEmptyBaseAddr(t *testing.T) {
	hs := NewHandshake("mqtt", "ipc:///tmp/gateway.addonManager", "ipc:///tmp", 0, NewLifecycle())
	hs.dial = func(addr string) (ipc.Socket, error) {
		return &fakeReqSocket{reply: registerReply(t, "mqtt", "")}, nil
	}

	_, err := hs.Register(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ipcBaseAddr")
}

func TestChannelAddr(t *testing.T) {
	assert.Equal(t, "ipc:///tmp/gateway.plugin.mqtt", ChannelAddr("ipc:///tmp", "gateway.plugin.mqtt"))
	assert.Equal(t, "ipc:///tmp/gateway.plugin.mqtt", ChannelAddr("ipc:///tmp/", "gateway.plugin.mqtt"))
}
