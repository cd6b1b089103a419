package feed

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"tradecore/internal/audit"
	"tradecore/internal/pipeline"
	"tradecore/internal/schema"
	"tradecore/internal/sequencer"
)

func newFeedRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()
	usd, err := reg.AddAsset("USD")
	require.NoError(t, err)
	btc, err := reg.AddAsset("BTC")
	require.NoError(t, err)
	_, err = reg.AddInstrument(schema.Instrument{
		Name: "BTC-USD", Base: btc, Quote: usd,
		TickSize: 1, LotSize: 1,
		Scale: schema.ScaleSpec{PriceScale: 2, QuantityScale: 3},
	})
	require.NoError(t, err)
	return reg
}

func newTestBinance(t *testing.T) *Binance {
	t.Helper()
	b, err := NewBinance(context.Background(), BinanceConfig{
		Source:  1,
		Symbols: map[string]string{"BTCUSDT": "BTC-USD"},
	}, newFeedRegistry(t))
	require.NoError(t, err)
	return b
}

func TestBinanceRejectsUnknownInstrument(t *testing.T) {
	_, err := NewBinance(context.Background(), BinanceConfig{
		Symbols: map[string]string{"ETHUSDT": "ETH-USD"},
	}, newFeedRegistry(t))
	require.Error(t, err)
}

func TestDecodeQuoteScalesBook(t *testing.T) {
	b := newTestBinance(t)

	ev, ok := b.decodeQuote(binanceBookTicker{
		Symbol:   "BTCUSDT",
		BidPrice: "25.35190000",
		BidQty:   "31.21000000",
		AskPrice: "25.36520000",
		AskQty:   "40.66000000",
	}, 42)
	require.True(t, ok)
	require.Equal(t, schema.EventQuote, ev.Header.Type)
	require.Equal(t, int64(42), ev.Header.TsEvent)
	require.Equal(t, schema.Price(2535), ev.Market.BidPrice)
	require.Equal(t, schema.Price(2536), ev.Market.AskPrice)
	require.Equal(t, schema.Quantity(31210), ev.Market.BidSize)
	require.Equal(t, schema.Quantity(40660), ev.Market.AskSize)
}

func TestDecodeTradeSetsAggressorSide(t *testing.T) {
	b := newTestBinance(t)

	trade := binanceTrade{
		EventType:  "trade",
		Symbol:     "BTCUSDT",
		Price:      "100.50",
		Qty:        "0.250",
		TradeTime:  1_700_000_000_000,
		BuyerMaker: true,
	}
	ev, ok := b.decodeTrade(trade, 1)
	require.True(t, ok)
	require.Equal(t, schema.EventTrade, ev.Header.Type)
	require.Equal(t, schema.SideSell, ev.Market.Side)
	require.Equal(t, schema.Price(10050), ev.Market.Price)
	require.Equal(t, schema.Quantity(250), ev.Market.Size)
	require.Equal(t, trade.TradeTime*1_000_000, ev.Header.TsEvent)

	trade.BuyerMaker = false
	ev, ok = b.decodeTrade(trade, 1)
	require.True(t, ok)
	require.Equal(t, schema.SideBuy, ev.Market.Side)

	_, ok = b.decodeTrade(binanceTrade{Symbol: "ETHUSDT"}, 1)
	require.False(t, ok)
}

func TestTruncateDecimal(t *testing.T) {
	require.Equal(t, "25.35", truncateDecimal("25.35190000", 2))
	require.Equal(t, "25", truncateDecimal("25.351", 0))
	require.Equal(t, "25.3", truncateDecimal("25.3", 2))
	require.Equal(t, "25", truncateDecimal("25", 2))
}

func writeTrail(t *testing.T, dir string, results []pipeline.Result) {
	t.Helper()
	cfg := audit.DefaultConfig(dir)
	cfg.Durable = true
	w, err := audit.NewWriter(cfg)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	for _, res := range results {
		require.NoError(t, w.Append(res))
	}
	require.NoError(t, w.Close())
}

func TestReplayYieldsMarketEventsOnly(t *testing.T) {
	dir := t.TempDir()

	quote := sequencer.NewMarketEvent(1, 100, 100, schema.MarketData{
		Instrument: 1, Kind: schema.MarketDataQuote,
		BidPrice: 99, BidSize: 10, AskPrice: 101, AskSize: 10,
	})
	quote.Header.Seq = 1
	fill := sequencer.NewAccountEvent(200, 200, 200, schema.AccountUpdate{
		Kind: schema.AccountFill, OrderID: 1, Instrument: 1, UpdateID: 1,
	})
	fill.Header.Seq = 2
	stop := sequencer.NewCommandEvent(900, 300, schema.Command{Kind: schema.CommandShutdown})
	stop.Header.Seq = 3

	writeTrail(t, dir, []pipeline.Result{
		{Event: quote, Applied: true},
		{Event: fill, Applied: true},
		{Event: stop, Applied: true},
	})

	src, err := NewReplay(ReplayConfig{Dir: dir, Source: 7})
	require.NoError(t, err)
	defer src.Close()
	require.Equal(t, schema.SourceID(7), src.ID())

	ctx := context.Background()
	ev, err := src.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, schema.EventQuote, ev.Header.Type)
	require.Equal(t, schema.SourceID(1), ev.Header.Source)
	require.Equal(t, uint64(0), ev.Header.Seq)

	_, err = src.Next(ctx)
	require.Equal(t, io.EOF, err)
}

func TestReplayCanIncludeAccountEvents(t *testing.T) {
	dir := t.TempDir()

	quote := sequencer.NewMarketEvent(1, 100, 100, schema.MarketData{
		Instrument: 1, Kind: schema.MarketDataQuote, BidPrice: 99, AskPrice: 101,
	})
	fill := sequencer.NewAccountEvent(200, 200, 200, schema.AccountUpdate{
		Kind: schema.AccountFill, OrderID: 1, Instrument: 1, UpdateID: 1,
	})
	writeTrail(t, dir, []pipeline.Result{
		{Event: quote, Applied: true},
		{Event: fill, Applied: true},
	})

	src, err := NewReplay(ReplayConfig{Dir: dir, IncludeAccount: true})
	require.NoError(t, err)
	defer src.Close()

	ctx := context.Background()
	types := []schema.EventType{}
	for {
		ev, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		types = append(types, ev.Header.Type)
	}
	require.Equal(t, []schema.EventType{schema.EventQuote, schema.EventFill}, types)
}

func TestReplayEmptyDirFails(t *testing.T) {
	_, err := NewReplay(ReplayConfig{Dir: t.TempDir()})
	require.Error(t, err)
}
