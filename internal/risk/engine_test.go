package risk

import (
	"testing"
	"time"

	"tradecore/internal/schema"
	"tradecore/internal/state"
)

func newTestStore(t *testing.T, usdFunds schema.Notional) *state.Store {
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
	_, err = reg.AddInstrument(schema.Instrument{
		Name:     "BTC-USD",
		Base:     btc,
		Quote:    usd,
		TickSize: 1,
		LotSize:  1,
	})
	if err != nil {
		t.Fatalf("add instrument: %v", err)
	}
	s := state.NewStore(reg, state.Config{})
	if err := s.Deposit(usd, usdFunds); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	s.ApplyMarket(schema.MarketData{
		Instrument: 1,
		Kind:       schema.MarketDataQuote,
		BidPrice:   99,
		BidSize:    10,
		AskPrice:   101,
		AskSize:    10,
	})
	return s
}

func enterSignal(qty schema.Quantity) schema.Signal {
	return schema.Signal{
		StrategyID: 7,
		Instrument: 1,
		Intent:     schema.IntentEnter,
		Side:       schema.SideBuy,
		SizeHint:   qty,
	}
}

func TestAssessEnterBuildsMarketableLimit(t *testing.T) {
	s := newTestStore(t, 10_000)
	e := NewEngine(Config{MaxOrderQty: 100, MaxPosition: 100})

	d := e.Assess(s.View(), enterSignal(3))
	if d.Action != schema.RiskActionAllow {
		t.Fatalf("expected allow, got %v reason %v", d.Action, d.Reason)
	}
	if d.Request.Kind != schema.RequestNew || d.Request.Side != schema.SideBuy {
		t.Fatalf("unexpected request: %+v", d.Request)
	}
	if d.Request.Price != 101 {
		t.Fatalf("expected price at touch 101, got %d", d.Request.Price)
	}
	if d.Request.Qty != 3 {
		t.Fatalf("expected qty 3, got %d", d.Request.Qty)
	}
}

func TestAssessDeniesInsufficientFunds(t *testing.T) {
	s := newTestStore(t, 100)
	e := NewEngine(Config{})

	d := e.Assess(s.View(), enterSignal(3))
	if d.Action != schema.RiskActionDeny || d.Reason != schema.RiskReasonInsufficientFunds {
		t.Fatalf("expected insufficient funds denial, got %v reason %v", d.Action, d.Reason)
	}
	if d.Request != (schema.OrderRequest{}) {
		t.Fatalf("denied decision must carry no request: %+v", d.Request)
	}
}

func TestAssessFundsIncludeWorstCaseFee(t *testing.T) {
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
		Name:        "BTC-USD",
		Base:        btc,
		Quote:       usd,
		TickSize:    1,
		LotSize:     1,
		MakerFeeBps: 10,
		TakerFeeBps: 20,
	}); err != nil {
		t.Fatalf("add instrument: %v", err)
	}
	s := state.NewStore(reg, state.Config{})
	// Exactly the order notional (101*3): no headroom for the fee.
	if err := s.Deposit(usd, 303); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	s.ApplyMarket(schema.MarketData{
		Instrument: 1,
		Kind:       schema.MarketDataQuote,
		BidPrice:   99,
		BidSize:    10,
		AskPrice:   101,
		AskSize:    10,
	})
	e := NewEngine(Config{})

	d := e.Assess(s.View(), enterSignal(3))
	if d.Action != schema.RiskActionDeny || d.Reason != schema.RiskReasonInsufficientFunds {
		t.Fatalf("expected insufficient funds denial, got %v reason %v", d.Action, d.Reason)
	}

	// One extra unit covers the 20 bps fee on 303, rounded up.
	if err := s.Deposit(usd, 1); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	d = e.Assess(s.View(), enterSignal(3))
	if d.Action != schema.RiskActionAllow {
		t.Fatalf("expected allow with fee covered, got %v reason %v", d.Action, d.Reason)
	}
}

func TestAssessDeniesPositionLimit(t *testing.T) {
	s := newTestStore(t, 10_000)
	e := NewEngine(Config{MaxPosition: 2})

	d := e.Assess(s.View(), enterSignal(3))
	if d.Action != schema.RiskActionDeny || d.Reason != schema.RiskReasonPositionLimit {
		t.Fatalf("expected position limit denial, got %v reason %v", d.Action, d.Reason)
	}
}

func TestAssessKillSwitch(t *testing.T) {
	s := newTestStore(t, 10_000)
	e := NewEngine(Config{KillSwitch: true})

	d := e.Assess(s.View(), enterSignal(1))
	if d.Action != schema.RiskActionDeny || d.Reason != schema.RiskReasonKillSwitch {
		t.Fatalf("expected kill switch denial, got %v reason %v", d.Action, d.Reason)
	}
}

func TestAssessCancelUnknownOrder(t *testing.T) {
	s := newTestStore(t, 10_000)
	e := NewEngine(Config{})

	d := e.Assess(s.View(), schema.Signal{
		StrategyID:    7,
		Instrument:    1,
		Intent:        schema.IntentCancel,
		CancelOrderID: 42,
	})
	if d.Action != schema.RiskActionDeny || d.Reason != schema.RiskReasonBadSignal {
		t.Fatalf("expected bad signal denial, got %v reason %v", d.Action, d.Reason)
	}
}

func TestAssessExitFlattensPosition(t *testing.T) {
	s := newTestStore(t, 10_000)
	if err := s.Deposit(2, 5); err != nil {
		t.Fatalf("deposit base: %v", err)
	}
	if err := s.TrackRequest(schema.OrderRequest{
		Kind:       schema.RequestNew,
		OrderID:    1,
		Instrument: 1,
		Side:       schema.SideBuy,
		Type:       schema.OrderTypeLimit,
		Price:      100,
		Qty:        5,
	}); err != nil {
		t.Fatalf("track: %v", err)
	}
	for i, au := range []schema.AccountUpdate{
		{Kind: schema.AccountOrderAccepted, UpdateID: 1, OrderID: 1, Instrument: 1, Side: schema.SideBuy, Price: 100, LeavesQty: 5},
		{Kind: schema.AccountFill, UpdateID: 2, OrderID: 1, Instrument: 1, Side: schema.SideBuy, Price: 100, Qty: 5, LeavesQty: 0},
	} {
		if _, err := s.Apply(au); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}

	e := NewEngine(Config{})
	d := e.Assess(s.View(), schema.Signal{StrategyID: 7, Instrument: 1, Intent: schema.IntentExit})
	if d.Action != schema.RiskActionAllow {
		t.Fatalf("expected allow, got %v reason %v", d.Action, d.Reason)
	}
	if d.Request.Side != schema.SideSell || d.Request.Qty != 5 {
		t.Fatalf("expected sell 5, got %+v", d.Request)
	}
	if d.Request.Type != schema.OrderTypeMarket {
		t.Fatalf("expected market order, got %v", d.Request.Type)
	}
}

func TestAssessRateLimitUsesEventClock(t *testing.T) {
	s := newTestStore(t, 10_000)
	e := NewEngine(Config{OrderRateLimit: 2, OrderRateWindow: time.Second})

	s.SetClock(1, time.Second.Nanoseconds())
	view := s.View()
	for i := 0; i < 2; i++ {
		if d := e.Assess(view, enterSignal(1)); d.Action != schema.RiskActionAllow {
			t.Fatalf("order %d: expected allow, got reason %v", i, d.Reason)
		}
	}
	if d := e.Assess(view, enterSignal(1)); d.Reason != schema.RiskReasonRateLimit {
		t.Fatalf("expected rate limit denial, got %v", d.Reason)
	}

	s.SetClock(2, 3*time.Second.Nanoseconds())
	if d := e.Assess(s.View(), enterSignal(1)); d.Action != schema.RiskActionAllow {
		t.Fatalf("expected allow after window reset, got reason %v", d.Reason)
	}
}
