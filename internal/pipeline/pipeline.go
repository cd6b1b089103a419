// Package pipeline runs the per-event decision path: apply the event to
// state, let strategies react, gate every signal through risk, and
// forward approved requests to the gateway. One event is fully
// processed before the next one enters; plugins never see a
// half-applied store.
package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"tradecore/internal/errors"
	"tradecore/internal/gateway"
	"tradecore/internal/schema"
	"tradecore/internal/sequencer"
	"tradecore/internal/state"
)

// Strategy reacts to sequenced events with zero or more signals. A
// strategy only reads the world through the view; anything else breaks
// replay determinism.
type Strategy interface {
	ID() uint32
	OnEvent(view state.View, ev sequencer.Event) []schema.Signal
}

// RiskManager turns signals into approved order requests or denials.
// Every signal passes through it exactly once.
type RiskManager interface {
	Assess(view state.View, sig schema.Signal) schema.RiskDecision
}

// Config controls the pipeline.
type Config struct {
	// SubmitTimeout bounds each gateway submission.
	SubmitTimeout time.Duration
	// FirstOrderID seeds the order id counter, so recovered runs keep
	// allocating past previously issued ids.
	FirstOrderID uint64
}

func (c Config) withDefaults() Config {
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 2 * time.Second
	}
	if c.FirstOrderID == 0 {
		c.FirstOrderID = 1
	}
	return c
}

// Result is everything one event produced, in the order it was
// produced. The audit trail serializes it verbatim.
type Result struct {
	Event     sequencer.Event
	Applied   bool
	Delta     state.Delta
	Signals   []schema.Signal
	Decisions []schema.RiskDecision
	Requests  []schema.OrderRequest
	Faults    []schema.Fault
}

// Pipeline owns the single-writer decision path.
type Pipeline struct {
	cfg         Config
	store       *state.Store
	strategies  []Strategy
	risk        atomic.Value // riskBox
	gw          gateway.Gateway
	nextOrderID uint64
}

// riskBox keeps atomic.Value happy across differing concrete types.
type riskBox struct {
	rm RiskManager
}

// New wires the pipeline. The strategy slice order is the signal
// processing order.
func New(cfg Config, store *state.Store, risk RiskManager, gw gateway.Gateway, strategies ...Strategy) (*Pipeline, error) {
	cfg = cfg.withDefaults()
	if store == nil || risk == nil || gw == nil {
		return nil, fmt.Errorf("pipeline needs a store, a risk manager and a gateway")
	}
	p := &Pipeline{
		cfg:         cfg,
		store:       store,
		strategies:  strategies,
		gw:          gw,
		nextOrderID: cfg.FirstOrderID,
	}
	p.risk.Store(riskBox{rm: risk})
	return p, nil
}

// SwapRisk replaces the risk manager. The swap takes effect on the next
// event, never in the middle of one.
func (p *Pipeline) SwapRisk(risk RiskManager) error {
	if risk == nil {
		return fmt.Errorf("pipeline needs a risk manager")
	}
	p.risk.Store(riskBox{rm: risk})
	return nil
}

// Process runs one sequenced event through the full path. Recoverable
// faults are captured in the result; the returned error is reserved for
// fatal conditions.
func (p *Pipeline) Process(ctx context.Context, ev sequencer.Event) (Result, error) {
	res := Result{Event: ev}
	rm := p.risk.Load().(riskBox).rm
	p.store.SetClock(ev.Header.Seq, ev.Header.TsEvent)

	switch {
	case ev.Header.Type.IsMarket():
		p.store.ApplyMarket(ev.Market)
		res.Applied = true
		p.gw.OnMarket(ev.Header.TsEvent, ev.Market)
	case ev.Header.Type.IsAccount():
		delta, err := p.store.Apply(ev.Account)
		if err != nil {
			res.Faults = append(res.Faults, faultFor(err, ev))
			logs.Warnf("drop account event, seq: %d, order: %d, err: %+v",
				ev.Header.Seq, ev.Account.OrderID, err)
		} else {
			res.Applied = true
			res.Delta = delta
		}
	case ev.Header.Type == schema.EventCommand:
		// Commands are handled by the engine loop; strategies still
		// observe them.
		res.Applied = true
	}

	view := p.store.View()
	for _, st := range p.strategies {
		signals, fault := p.runStrategy(st, view, ev)
		if fault != nil {
			res.Faults = append(res.Faults, *fault)
			continue
		}
		for _, sig := range signals {
			sig.StrategyID = st.ID()
			res.Signals = append(res.Signals, sig)
			p.processSignal(ctx, rm, sig, &res)
		}
	}
	return res, nil
}

// NextOrderID exposes the order id counter for snapshots.
func (p *Pipeline) NextOrderID() uint64 {
	return p.nextOrderID
}

func (p *Pipeline) runStrategy(st Strategy, view state.View, ev sequencer.Event) (signals []schema.Signal, fault *schema.Fault) {
	defer func() {
		if r := recover(); r != nil {
			logs.Errorf("strategy %d panicked, seq: %d, err: %+v", st.ID(), ev.Header.Seq, r)
			signals = nil
			fault = &schema.Fault{Kind: schema.FaultStrategy}
		}
	}()
	return st.OnEvent(view, ev), nil
}

func (p *Pipeline) processSignal(ctx context.Context, rm RiskManager, sig schema.Signal, res *Result) {
	decision, fault := p.assess(rm, sig)
	if fault != nil {
		res.Faults = append(res.Faults, *fault)
		return
	}
	res.Decisions = append(res.Decisions, decision)
	if decision.Action != schema.RiskActionAllow {
		return
	}

	req := decision.Request
	if req.Kind == schema.RequestNew {
		req.OrderID = p.nextOrderID
		p.nextOrderID++
		if err := p.store.TrackRequest(req); err != nil {
			res.Faults = append(res.Faults, schema.Fault{
				Kind:       schema.FaultInvariantViolation,
				Instrument: req.Instrument,
				OrderID:    req.OrderID,
			})
			return
		}
	}
	res.Requests = append(res.Requests, req)
	p.submit(ctx, req, res)
}

func (p *Pipeline) assess(rm RiskManager, sig schema.Signal) (decision schema.RiskDecision, fault *schema.Fault) {
	defer func() {
		if r := recover(); r != nil {
			logs.Errorf("risk manager panicked, strategy: %d, err: %+v", sig.StrategyID, r)
			fault = &schema.Fault{Kind: schema.FaultRisk, Instrument: sig.Instrument}
		}
	}()
	return rm.Assess(p.store.View(), sig), nil
}

func (p *Pipeline) submit(ctx context.Context, req schema.OrderRequest, res *Result) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.SubmitTimeout)
	defer cancel()

	err := p.gw.Submit(ctx, req)
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, errors.ErrGatewayTimeout) || errors.Is(err, context.DeadlineExceeded):
		if req.Kind == schema.RequestNew {
			p.store.MarkUnknownPending(req.OrderID)
		}
		res.Faults = append(res.Faults, schema.Fault{
			Kind:       schema.FaultGatewayTimeout,
			Instrument: req.Instrument,
			OrderID:    req.OrderID,
		})
		logs.Warnf("gateway timeout, order: %d", req.OrderID)
	default:
		if req.Kind == schema.RequestNew {
			p.store.MarkRefused(req.OrderID)
		}
		res.Faults = append(res.Faults, schema.Fault{
			Kind:       schema.FaultGatewayReject,
			Instrument: req.Instrument,
			OrderID:    req.OrderID,
		})
		logs.Warnf("gateway refused order %d, err: %+v", req.OrderID, err)
	}
}

func faultFor(err error, ev sequencer.Event) schema.Fault {
	kind := schema.FaultInvariantViolation
	if errors.Is(err, errors.ErrDuplicateEvent) {
		kind = schema.FaultDuplicateEvent
	}
	return schema.Fault{
		Kind:       kind,
		Instrument: ev.Account.Instrument,
		OrderID:    ev.Account.OrderID,
	}
}
