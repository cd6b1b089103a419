package gateway

import (
	"testing"

	"github.com/stretchr/testify/require"

	"tradecore/internal/schema"
)

func TestLiveEncodeRequest(t *testing.T) {
	reg := newSimRegistry(t)
	l, err := NewLive(LiveConfig{URL: "wss://venue.invalid/ws"}, reg)
	require.NoError(t, err)

	msg, err := l.encodeRequest(schema.OrderRequest{
		Kind:       schema.RequestNew,
		OrderID:    9,
		Instrument: 1,
		Side:       schema.SideBuy,
		Type:       schema.OrderTypeLimit,
		Price:      101,
		Qty:        3,
	})
	require.NoError(t, err)
	require.Equal(t, "order.place", msg.Op)
	require.Equal(t, "BTC-USD", msg.Symbol)
	require.Equal(t, "buy", msg.Side)
	require.Equal(t, "101", msg.Price)
	require.Equal(t, "3", msg.Qty)

	msg, err = l.encodeRequest(schema.OrderRequest{Kind: schema.RequestCancel, OrderID: 9})
	require.NoError(t, err)
	require.Equal(t, "order.cancel", msg.Op)
}
