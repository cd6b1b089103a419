package risk

import (
	"time"

	"tradecore/internal/schema"
	"tradecore/internal/state"
)

const maxInt64 = int64(^uint64(0) >> 1)

// Config defines static risk limits.
type Config struct {
	Version              uint16          `json:"version" yaml:"version"`
	KillSwitch           bool            `json:"killSwitch" yaml:"killSwitch"`
	MaxOrderQty          schema.Quantity `json:"maxOrderQty" yaml:"maxOrderQty"`
	MaxOrderNotional     schema.Notional `json:"maxOrderNotional" yaml:"maxOrderNotional"`
	MaxPosition          schema.Quantity `json:"maxPosition" yaml:"maxPosition"`
	OrderRateLimit       int             `json:"orderRateLimit" yaml:"orderRateLimit"`
	OrderRateWindow      time.Duration   `json:"orderRateWindow" yaml:"orderRateWindow"`
	MaxPriceDeviationBps int64           `json:"maxPriceDeviationBps" yaml:"maxPriceDeviationBps"`
}

// Engine gates strategy signals behind static limits and balance checks.
// It implements the pipeline's RiskManager contract. The rate window
// uses the event clock, never the wall clock, so replays of the same
// event sequence reproduce the same decisions.
type Engine struct {
	cfg             Config
	rateWindowStart int64
	rateCount       int
}

// NewEngine creates a risk engine with static limits.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Assess turns one signal into an approved order request or a denial.
// It never mutates engine state beyond its own rate window.
func (e *Engine) Assess(view state.View, sig schema.Signal) schema.RiskDecision {
	decision := schema.RiskDecision{
		StrategyID:  sig.StrategyID,
		Instrument:  sig.Instrument,
		Action:      schema.RiskActionAllow,
		Reason:      schema.RiskReasonNone,
		MaxPos:      e.cfg.MaxPosition,
		MaxNotional: e.cfg.MaxOrderNotional,
	}
	if pos, ok := view.Position(sig.Instrument); ok {
		decision.CurrentPos = pos.Qty
	}

	if e.cfg.KillSwitch {
		return deny(decision, schema.RiskReasonKillSwitch)
	}

	if sig.Intent == schema.IntentCancel {
		return e.assessCancel(view, sig, decision)
	}

	inst, ok := view.Instrument(sig.Instrument)
	if !ok {
		return deny(decision, schema.RiskReasonBadSignal)
	}
	req, reason := buildRequest(view, inst, sig)
	if reason != schema.RiskReasonNone {
		return deny(decision, reason)
	}
	decision.Request = req

	if e.cfg.OrderRateLimit > 0 && e.cfg.OrderRateWindow > 0 {
		now := view.Now()
		window := int64(e.cfg.OrderRateWindow)
		if e.rateWindowStart == 0 || now-e.rateWindowStart >= window {
			e.rateWindowStart = now
			e.rateCount = 0
		}
		e.rateCount++
		if e.rateCount > e.cfg.OrderRateLimit {
			return deny(decision, schema.RiskReasonRateLimit)
		}
	}

	if e.cfg.MaxOrderQty > 0 && req.Qty > e.cfg.MaxOrderQty {
		return deny(decision, schema.RiskReasonMaxQty)
	}

	checkPrice := req.Price
	mark := view.Mark(sig.Instrument)
	if req.Type == schema.OrderTypeMarket {
		checkPrice = mark
	}
	if checkPrice <= 0 {
		return deny(decision, schema.RiskReasonNoReference)
	}

	if e.cfg.MaxPriceDeviationBps > 0 && req.Type == schema.OrderTypeLimit && mark > 0 {
		diff := absInt64(int64(req.Price) - int64(mark))
		if exceedsDeviation(diff, int64(mark), e.cfg.MaxPriceDeviationBps) {
			return deny(decision, schema.RiskReasonPriceBand)
		}
	}

	notional, overflow := scaleNotional(int64(checkPrice), int64(req.Qty), inst.Scale.QuantityScale)
	if overflow {
		return deny(decision, schema.RiskReasonMaxNotional)
	}
	if e.cfg.MaxOrderNotional > 0 && notional > e.cfg.MaxOrderNotional {
		return deny(decision, schema.RiskReasonMaxNotional)
	}

	nextPos := applySide(decision.CurrentPos, req.Side, req.Qty)
	if e.cfg.MaxPosition > 0 && absQuantity(nextPos) > e.cfg.MaxPosition {
		return deny(decision, schema.RiskReasonPositionLimit)
	}

	if reason := checkFunds(view, inst, req, notional); reason != schema.RiskReasonNone {
		return deny(decision, reason)
	}

	return decision
}

func (e *Engine) assessCancel(view state.View, sig schema.Signal, decision schema.RiskDecision) schema.RiskDecision {
	order, ok := view.Order(sig.CancelOrderID)
	if !ok || order.Status.IsTerminal() {
		return deny(decision, schema.RiskReasonBadSignal)
	}
	decision.Request = schema.OrderRequest{
		Kind:       schema.RequestCancel,
		OrderID:    sig.CancelOrderID,
		StrategyID: sig.StrategyID,
		Instrument: order.Instrument,
		Side:       order.Side,
	}
	return decision
}

// buildRequest turns an Enter or Exit intent into a fully specified
// order. Enter places a marketable limit at the touched quote; Exit
// closes the current position with a market order.
func buildRequest(view state.View, inst schema.Instrument, sig schema.Signal) (schema.OrderRequest, schema.RiskReason) {
	req := schema.OrderRequest{
		Kind:        schema.RequestNew,
		StrategyID:  sig.StrategyID,
		Instrument:  sig.Instrument,
		TimeInForce: schema.TimeInForceGTC,
	}

	switch sig.Intent {
	case schema.IntentEnter:
		if sig.Side == schema.SideUnknown {
			return req, schema.RiskReasonBadSignal
		}
		quote, ok := view.Quote(sig.Instrument)
		if !ok {
			return req, schema.RiskReasonNoReference
		}
		req.Side = sig.Side
		req.Type = schema.OrderTypeLimit
		if sig.Side == schema.SideBuy {
			req.Price = quote.AskPrice
		} else {
			req.Price = quote.BidPrice
		}
		if req.Price <= 0 {
			return req, schema.RiskReasonNoReference
		}
		req.Qty = snapQty(sig.SizeHint, inst.LotSize)
		if req.Qty <= 0 {
			return req, schema.RiskReasonBadSignal
		}
		return req, schema.RiskReasonNone

	case schema.IntentExit:
		pos, ok := view.Position(sig.Instrument)
		if !ok || pos.Qty == 0 {
			return req, schema.RiskReasonBadSignal
		}
		req.Type = schema.OrderTypeMarket
		req.TimeInForce = schema.TimeInForceIOC
		if pos.Qty > 0 {
			req.Side = schema.SideSell
			req.Qty = pos.Qty
		} else {
			req.Side = schema.SideBuy
			req.Qty = -pos.Qty
		}
		return req, schema.RiskReasonNone

	default:
		return req, schema.RiskReasonBadSignal
	}
}

// checkFunds verifies the request is coverable: quote-asset notional
// plus worst-case fee for buys, base-asset quantity for sells.
// Uncovered orders are denied here so they never reach the gateway.
func checkFunds(view state.View, inst schema.Instrument, req schema.OrderRequest, notional schema.Notional) schema.RiskReason {
	if req.Side == schema.SideBuy {
		fee := worstCaseFee(inst, notional)
		if int64(notional) > maxInt64-int64(fee) {
			return schema.RiskReasonInsufficientFunds
		}
		balance, ok := view.Balance(inst.Quote)
		if !ok || balance.Available < notional+fee {
			return schema.RiskReasonInsufficientFunds
		}
		return schema.RiskReasonNone
	}
	balance, ok := view.Balance(inst.Base)
	if !ok || balance.Available < schema.Notional(req.Qty) {
		return schema.RiskReasonInsufficientFunds
	}
	return schema.RiskReasonNone
}

func deny(decision schema.RiskDecision, reason schema.RiskReason) schema.RiskDecision {
	decision.Action = schema.RiskActionDeny
	decision.Reason = reason
	decision.Request = schema.OrderRequest{}
	return decision
}

func snapQty(qty, lot schema.Quantity) schema.Quantity {
	if lot <= 0 {
		return qty
	}
	return qty - qty%lot
}

func applySide(pos schema.Quantity, side schema.Side, qty schema.Quantity) schema.Quantity {
	switch side {
	case schema.SideBuy:
		return schema.Quantity(int64(pos) + int64(qty))
	case schema.SideSell:
		return schema.Quantity(int64(pos) - int64(qty))
	default:
		return pos
	}
}

// worstCaseFee is the fee charged at the higher of the instrument's
// maker and taker rates, rounded up. It matches the store's buy-side
// reservation headroom.
func worstCaseFee(inst schema.Instrument, notional schema.Notional) schema.Notional {
	bps := int64(inst.TakerFeeBps)
	if int64(inst.MakerFeeBps) > bps {
		bps = int64(inst.MakerFeeBps)
	}
	if bps <= 0 || notional <= 0 {
		return 0
	}
	if int64(notional) > maxInt64/bps {
		return schema.Notional(maxInt64)
	}
	return schema.Notional((int64(notional)*bps + 9_999) / 10_000)
}

func absQuantity(q schema.Quantity) schema.Quantity {
	if q < 0 {
		return -q
	}
	return q
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func scaleNotional(a, b int64, scale schema.Scale) (schema.Notional, bool) {
	if a == 0 || b == 0 {
		return 0, false
	}
	absA, absB := absInt64(a), absInt64(b)
	if absA > maxInt64/absB {
		return 0, true
	}
	n := int64(1)
	for i := schema.Scale(0); i < scale; i++ {
		n *= 10
	}
	return schema.Notional(a * b / n), false
}

func exceedsDeviation(diff int64, ref int64, bps int64) bool {
	if diff <= 0 || ref <= 0 || bps <= 0 {
		return false
	}
	if diff > maxInt64/10000 {
		return true
	}
	lhs := diff * 10000
	if ref > maxInt64/bps {
		return true
	}
	rhs := ref * bps
	return lhs > rhs
}
