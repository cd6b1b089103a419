package strategy

import (
	"testing"

	"tradecore/internal/schema"
	"tradecore/internal/sequencer"
	"tradecore/internal/state"
)

func newTestStore(t *testing.T) *state.Store {
	t.Helper()
	reg := schema.NewRegistry()
	usd, err := reg.AddAsset("USD")
	if err != nil {
		t.Fatalf("add asset: %v", err)
	}
	btc, err := reg.AddAsset("BTC")
	if err != nil {
		t.Fatalf("add asset: %v", err)
	}
	if _, err := reg.AddInstrument(schema.Instrument{
		Name:     "BTC-USD",
		Base:     btc,
		Quote:    usd,
		TickSize: 1,
		LotSize:  1,
	}); err != nil {
		t.Fatalf("add instrument: %v", err)
	}
	return state.NewStore(reg, state.Config{})
}

func quoteEvent(ts int64, bidSize, askSize schema.Quantity) sequencer.Event {
	return sequencer.NewMarketEvent(1, ts, ts, schema.MarketData{
		Instrument: 1,
		Kind:       schema.MarketDataQuote,
		BidPrice:   99,
		BidSize:    bidSize,
		AskPrice:   101,
		AskSize:    askSize,
	})
}

func feedQuote(s *state.Store, ev sequencer.Event) {
	s.SetClock(ev.Header.Seq, ev.Header.TsEvent)
	s.ApplyMarket(ev.Market)
}

func TestImbalanceEntersHeavySide(t *testing.T) {
	s := newTestStore(t)
	im := NewImbalance(Config{StrategyID: 7, Instrument: 1, EntryBps: 2000, OrderSize: 2})

	ev := quoteEvent(1, 90, 10)
	feedQuote(s, ev)
	sigs := im.OnEvent(s.View(), ev)
	if len(sigs) != 1 {
		t.Fatalf("expected one signal, got %d", len(sigs))
	}
	if sigs[0].Intent != schema.IntentEnter || sigs[0].Side != schema.SideBuy {
		t.Fatalf("expected buy entry, got %+v", sigs[0])
	}
	if sigs[0].SizeHint != 2 {
		t.Fatalf("expected size hint 2, got %d", sigs[0].SizeHint)
	}
}

func TestImbalanceQuietBookStaysFlat(t *testing.T) {
	s := newTestStore(t)
	im := NewImbalance(Config{StrategyID: 7, Instrument: 1, EntryBps: 2000})

	ev := quoteEvent(1, 51, 49)
	feedQuote(s, ev)
	if sigs := im.OnEvent(s.View(), ev); len(sigs) != 0 {
		t.Fatalf("expected no signal on balanced book, got %+v", sigs)
	}
}

func TestImbalanceIgnoresOtherEvents(t *testing.T) {
	s := newTestStore(t)
	im := NewImbalance(Config{StrategyID: 7, Instrument: 1})

	ev := sequencer.NewMarketEvent(1, 1, 1, schema.MarketData{
		Instrument: 1,
		Kind:       schema.MarketDataTrade,
		Price:      100,
		Size:       1,
	})
	s.SetClock(0, 1)
	s.ApplyMarket(ev.Market)
	if sigs := im.OnEvent(s.View(), ev); len(sigs) != 0 {
		t.Fatalf("expected no signal for trade event, got %+v", sigs)
	}
}

func TestImbalanceSkipsEntryWithOpenOrder(t *testing.T) {
	s := newTestStore(t)
	if err := s.Deposit(1, 10_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := s.TrackRequest(schema.OrderRequest{
		Kind:       schema.RequestNew,
		OrderID:    1,
		Instrument: 1,
		Side:       schema.SideBuy,
		Type:       schema.OrderTypeLimit,
		Price:      100,
		Qty:        1,
	}); err != nil {
		t.Fatalf("track: %v", err)
	}
	im := NewImbalance(Config{StrategyID: 7, Instrument: 1, EntryBps: 2000})

	ev := quoteEvent(1, 90, 10)
	feedQuote(s, ev)
	if sigs := im.OnEvent(s.View(), ev); len(sigs) != 0 {
		t.Fatalf("expected no entry while an order is open, got %+v", sigs)
	}
}

func TestImbalanceExitsWhenBookFlips(t *testing.T) {
	s := newTestStore(t)
	if err := s.Deposit(1, 10_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := s.TrackRequest(schema.OrderRequest{
		Kind:       schema.RequestNew,
		OrderID:    1,
		Instrument: 1,
		Side:       schema.SideBuy,
		Type:       schema.OrderTypeLimit,
		Price:      100,
		Qty:        2,
	}); err != nil {
		t.Fatalf("track: %v", err)
	}
	for i, au := range []schema.AccountUpdate{
		{Kind: schema.AccountOrderAccepted, UpdateID: 1, OrderID: 1, Instrument: 1, Side: schema.SideBuy, Price: 100, LeavesQty: 2},
		{Kind: schema.AccountFill, UpdateID: 2, OrderID: 1, Instrument: 1, Side: schema.SideBuy, Price: 100, Qty: 2, LeavesQty: 0},
	} {
		if _, err := s.Apply(au); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}
	im := NewImbalance(Config{StrategyID: 7, Instrument: 1, EntryBps: 2000, ExitBps: 500})

	ev := quoteEvent(2, 10, 90)
	feedQuote(s, ev)
	sigs := im.OnEvent(s.View(), ev)
	if len(sigs) != 1 || sigs[0].Intent != schema.IntentExit {
		t.Fatalf("expected exit signal, got %+v", sigs)
	}
}
