package bridge

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mone27/mqtt-adapter/internal/wire"
)

func TestMailboxInboundFIFO(t *testing.T) {
	mb := NewMailbox(8)
	for i := 0; i < 8; i++ {
		require.NoError(t, mb.DeliverInbound(wire.SetProperty{
			PluginID: "mqtt",
			DeviceID: fmt.Sprintf("d%d", i),
		}))
	}
	for i := 0; i < 8; i++ {
		msg := <-mb.Inbound()
		sp, ok := msg.(wire.SetProperty)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("d%d", i), sp.DeviceID)
	}
}

func TestMailboxOutboundFIFOUnderConcurrentLoad(t *testing.T) {
	const n = 1000
	mb := NewMailbox(n)

	go func() {
		for i := 0; i < n; i++ {
			for mb.EmitOutbound(wire.PropertyChanged{PluginID: "mqtt", DeviceID: fmt.Sprintf("d%d", i)}) != nil {
			}
		}
	}()

	got := 0
	for got < n {
		msg, ok := mb.NextOutbound()
		if !ok {
			continue
		}
		pc, isPC := msg.(wire.PropertyChanged)
		require.True(t, isPC)
		require.Equal(t, fmt.Sprintf("d%d", got), pc.DeviceID)
		got++
	}
}

func TestMailboxFullPolicy(t *testing.T) {
	mb := NewMailbox(2)
	require.NoError(t, mb.EmitOutbound(wire.AddAdapter{AdapterID: "a1"}))
	require.NoError(t, mb.EmitOutbound(wire.AddAdapter{AdapterID: "a2"}))
	err := mb.EmitOutbound(wire.AddAdapter{AdapterID: "a3"})
	require.ErrorIs(t, err, ErrMailboxFull)

	// The rejected message must not displace accepted ones.
	msg, ok := mb.NextOutbound()
	require.True(t, ok)
	assert.Equal(t, "a1", msg.(wire.AddAdapter).AdapterID)
	msg, ok = mb.NextOutbound()
	require.True(t, ok)
	assert.Equal(t, "a2", msg.(wire.AddAdapter).AdapterID)
	_, ok = mb.NextOutbound()
	assert.False(t, ok)
}

func TestMailboxDepths(t *testing.T) {
	mb := NewMailbox(4)
	require.NoError(t, mb.DeliverInbound(wire.UnloadPlugin{PluginID: "mqtt"}))
	require.NoError(t, mb.EmitOutbound(wire.PluginUnloaded{PluginID: "mqtt"}))
	require.NoError(t, mb.EmitOutbound(wire.AddAdapter{AdapterID: "a1"}))
	in, out := mb.Depths()
	assert.Equal(t, 1, in)
	assert.Equal(t, 2, out)
}

func TestMailboxDefaultCapacity(t *testing.T) {
	mb := NewMailbox(0)
	for i := 0; i < defaultMailboxCapacity; i++ {
		require.NoError(t, mb.DeliverInbound(wire.UnloadPlugin{PluginID: "mqtt"}))
	}
	require.ErrorIs(t, mb.DeliverInbound(wire.UnloadPlugin{PluginID: "mqtt"}), ErrMailboxFull)
}
