package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"tradecore/internal/errors"
	"tradecore/internal/schema"
	"tradecore/internal/sequencer"
	"tradecore/internal/state"
)

type stubStrategy struct {
	id      uint32
	signals []schema.Signal
	panics  bool
}

func (s *stubStrategy) ID() uint32 { return s.id }

func (s *stubStrategy) OnEvent(view state.View, ev sequencer.Event) []schema.Signal {
	if s.panics {
		panic("boom")
	}
	return s.signals
}

type stubRisk struct {
	calls  int
	deny   bool
	panics bool
}

func (r *stubRisk) Assess(view state.View, sig schema.Signal) schema.RiskDecision {
	r.calls++
	if r.panics {
		panic("boom")
	}
	d := schema.RiskDecision{
		StrategyID: sig.StrategyID,
		Instrument: sig.Instrument,
		Action:     schema.RiskActionAllow,
	}
	if r.deny {
		d.Action = schema.RiskActionDeny
		d.Reason = schema.RiskReasonKillSwitch
		return d
	}
	d.Request = schema.OrderRequest{
		Kind:       schema.RequestNew,
		StrategyID: sig.StrategyID,
		Instrument: sig.Instrument,
		Side:       schema.SideBuy,
		Type:       schema.OrderTypeLimit,
		Price:      100,
		Qty:        1,
	}
	return d
}

type stubGateway struct {
	submitted []schema.OrderRequest
	err       error
	events    chan sequencer.Event
}

func newStubGateway() *stubGateway {
	return &stubGateway{events: make(chan sequencer.Event, 16)}
}

func (g *stubGateway) Submit(ctx context.Context, req schema.OrderRequest) error {
	g.submitted = append(g.submitted, req)
	return g.err
}

func (g *stubGateway) OnMarket(ts int64, md schema.MarketData) {}
func (g *stubGateway) Events() <-chan sequencer.Event          { return g.events }
func (g *stubGateway) Close() error                            { return nil }

func newTestStore(t *testing.T) *state.Store {
	t.Helper()
	reg := schema.NewRegistry()
	usd, err := reg.AddAsset("USD")
	require.NoError(t, err)
	btc, err := reg.AddAsset("BTC")
	require.NoError(t, err)
	_, err = reg.AddInstrument(schema.Instrument{
		Name:     "BTC-USD",
		Base:     btc,
		Quote:    usd,
		TickSize: 1,
		LotSize:  1,
	})
	require.NoError(t, err)
	s := state.NewStore(reg, state.Config{})
	require.NoError(t, s.Deposit(usd, 10_000))
	return s
}

func quoteEvent(seq uint64, ts int64) sequencer.Event {
	ev := sequencer.NewMarketEvent(1, ts, ts, schema.MarketData{
		Instrument: 1,
		Kind:       schema.MarketDataQuote,
		BidPrice:   99,
		BidSize:    10,
		AskPrice:   101,
		AskSize:    10,
	})
	ev.Header.Seq = seq
	return ev
}

func enterSignal() schema.Signal {
	return schema.Signal{Instrument: 1, Intent: schema.IntentEnter, Side: schema.SideBuy, SizeHint: 1}
}

func TestProcessApprovedSignalSubmitsOrder(t *testing.T) {
	store := newTestStore(t)
	gw := newStubGateway()
	risk := &stubRisk{}
	st := &stubStrategy{id: 7, signals: []schema.Signal{enterSignal()}}
	p, err := New(Config{}, store, risk, gw, st)
	require.NoError(t, err)

	res, err := p.Process(context.Background(), quoteEvent(1, 10))
	require.NoError(t, err)
	require.True(t, res.Applied)
	require.Len(t, res.Signals, 1)
	require.Len(t, res.Decisions, 1)
	require.Len(t, res.Requests, 1)
	require.Empty(t, res.Faults)
	require.Equal(t, uint64(1), res.Requests[0].OrderID)
	require.Equal(t, res.Requests, gw.submitted)

	o, ok := store.View().Order(1)
	require.True(t, ok)
	require.Equal(t, state.OrderStatusPending, o.Status)

	// Order ids keep counting across events.
	res, err = p.Process(context.Background(), quoteEvent(2, 20))
	require.NoError(t, err)
	require.Equal(t, uint64(2), res.Requests[0].OrderID)
}

func TestProcessEverySignalAssessedOnce(t *testing.T) {
	store := newTestStore(t)
	gw := newStubGateway()
	risk := &stubRisk{deny: true}
	st := &stubStrategy{id: 7, signals: []schema.Signal{enterSignal(), enterSignal()}}
	p, err := New(Config{}, store, risk, gw, st)
	require.NoError(t, err)

	res, err := p.Process(context.Background(), quoteEvent(1, 10))
	require.NoError(t, err)
	require.Equal(t, 2, risk.calls)
	require.Len(t, res.Decisions, 2)
	require.Empty(t, res.Requests, "denied signals must not reach the gateway")
	require.Empty(t, gw.submitted)
}

func TestProcessStrategyPanicIsolated(t *testing.T) {
	store := newTestStore(t)
	gw := newStubGateway()
	risk := &stubRisk{}
	bad := &stubStrategy{id: 1, panics: true}
	good := &stubStrategy{id: 2, signals: []schema.Signal{enterSignal()}}
	p, err := New(Config{}, store, risk, gw, bad, good)
	require.NoError(t, err)

	res, err := p.Process(context.Background(), quoteEvent(1, 10))
	require.NoError(t, err)
	require.Len(t, res.Faults, 1)
	require.Equal(t, schema.FaultStrategy, res.Faults[0].Kind)
	require.Len(t, res.Requests, 1, "surviving strategies still run")
}

func TestProcessRiskPanicDropsSignal(t *testing.T) {
	store := newTestStore(t)
	gw := newStubGateway()
	risk := &stubRisk{panics: true}
	st := &stubStrategy{id: 7, signals: []schema.Signal{enterSignal()}}
	p, err := New(Config{}, store, risk, gw, st)
	require.NoError(t, err)

	res, err := p.Process(context.Background(), quoteEvent(1, 10))
	require.NoError(t, err)
	require.Len(t, res.Faults, 1)
	require.Equal(t, schema.FaultRisk, res.Faults[0].Kind)
	require.Empty(t, gw.submitted)
}

func TestProcessGatewayTimeoutMarksUnknown(t *testing.T) {
	store := newTestStore(t)
	gw := newStubGateway()
	gw.err = errors.Wrap(errors.ErrGatewayTimeout, "order 1")
	risk := &stubRisk{}
	st := &stubStrategy{id: 7, signals: []schema.Signal{enterSignal()}}
	p, err := New(Config{}, store, risk, gw, st)
	require.NoError(t, err)

	res, err := p.Process(context.Background(), quoteEvent(1, 10))
	require.NoError(t, err)
	require.Len(t, res.Faults, 1)
	require.Equal(t, schema.FaultGatewayTimeout, res.Faults[0].Kind)

	o, ok := store.View().Order(1)
	require.True(t, ok)
	require.Equal(t, state.OrderStatusUnknownPending, o.Status)
}

func TestProcessDuplicateAccountEventFaults(t *testing.T) {
	store := newTestStore(t)
	gw := newStubGateway()
	p, err := New(Config{}, store, &stubRisk{deny: true}, gw)
	require.NoError(t, err)

	require.NoError(t, store.TrackRequest(schema.OrderRequest{
		Kind:       schema.RequestNew,
		OrderID:    1,
		Instrument: 1,
		Side:       schema.SideBuy,
		Type:       schema.OrderTypeLimit,
		Price:      100,
		Qty:        1,
	}))
	accepted := sequencer.NewAccountEvent(2, 10, 10, schema.AccountUpdate{
		Kind:       schema.AccountOrderAccepted,
		UpdateID:   1,
		OrderID:    1,
		Instrument: 1,
		Side:       schema.SideBuy,
		Price:      100,
		LeavesQty:  1,
	})
	accepted.Header.Seq = 1

	res, err := p.Process(context.Background(), accepted)
	require.NoError(t, err)
	require.True(t, res.Applied)

	dup := accepted
	dup.Header.Seq = 2
	res, err = p.Process(context.Background(), dup)
	require.NoError(t, err)
	require.False(t, res.Applied)
	require.Len(t, res.Faults, 1)
	require.Equal(t, schema.FaultDuplicateEvent, res.Faults[0].Kind)

	o, ok := store.View().Order(1)
	require.True(t, ok)
	require.Equal(t, state.OrderStatusActive, o.Status)
}

func TestSwapRiskAppliesOnNextEvent(t *testing.T) {
	store := newTestStore(t)
	gw := newStubGateway()
	st := &stubStrategy{id: 7, signals: []schema.Signal{enterSignal()}}
	p, err := New(Config{}, store, &stubRisk{}, gw, st)
	require.NoError(t, err)

	res, err := p.Process(context.Background(), quoteEvent(1, 10))
	require.NoError(t, err)
	require.Len(t, res.Requests, 1)

	require.Error(t, p.SwapRisk(nil))
	require.NoError(t, p.SwapRisk(&stubRisk{deny: true}))

	res, err = p.Process(context.Background(), quoteEvent(2, 20))
	require.NoError(t, err)
	require.Len(t, res.Decisions, 1)
	require.Equal(t, schema.RiskActionDeny, res.Decisions[0].Action)
	require.Empty(t, res.Requests)
}
