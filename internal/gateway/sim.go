package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"tradecore/internal/errors"
	"tradecore/internal/schema"
	"tradecore/internal/sequencer"
)

const maxInt64 = int64(^uint64(0) >> 1)

// SimConfig controls the simulated venue.
type SimConfig struct {
	// Source identifies the simulator in event headers and sequencer
	// priorities.
	Source schema.SourceID
	// Buffer bounds the account event channel. The engine drains it
	// after every submit and market event, so it only needs to hold one
	// burst.
	Buffer int
}

func (c SimConfig) withDefaults() SimConfig {
	if c.Source == 0 {
		c.Source = 200
	}
	if c.Buffer <= 0 {
		c.Buffer = 4096
	}
	return c
}

type simBook struct {
	bid, ask schema.Price
}

type simOrder struct {
	req        schema.OrderRequest
	leaves     schema.Quantity
	nextUpdate uint64
}

// Sim is a deterministic top-of-book execution simulator. Marketable
// orders fill immediately and fully at the opposite touch with the
// taker fee; non-crossing limits rest and fill fully at their own price
// with the maker fee once the touch reaches them. The same request and
// market sequence always produces the same update sequence.
type Sim struct {
	cfg    SimConfig
	reg    *schema.Registry
	now    int64
	orders map[uint64]*simOrder
	books  []simBook
	events chan sequencer.Event
	closed atomic.Bool
}

// NewSim creates a simulator over the instrument registry.
func NewSim(cfg SimConfig, reg *schema.Registry) *Sim {
	cfg = cfg.withDefaults()
	return &Sim{
		cfg:    cfg,
		reg:    reg,
		orders: make(map[uint64]*simOrder),
		books:  make([]simBook, reg.InstrumentCount()+1),
		events: make(chan sequencer.Event, cfg.Buffer),
	}
}

// Submit acknowledges a request synchronously. All lifecycle updates,
// including rejections, are emitted as account events.
func (s *Sim) Submit(ctx context.Context, req schema.OrderRequest) error {
	if s.closed.Load() {
		return errors.Wrap(errors.ErrInvariant, "sim gateway closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	switch req.Kind {
	case schema.RequestNew:
		return s.submitNew(req)
	case schema.RequestCancel:
		return s.submitCancel(req)
	default:
		return errors.Wrap(errors.ErrInvariant, fmt.Sprintf("sim gateway: unknown request kind %d", req.Kind))
	}
}

func (s *Sim) submitNew(req schema.OrderRequest) error {
	if _, ok := s.orders[req.OrderID]; ok {
		return errors.Wrap(errors.ErrInvariant, fmt.Sprintf("sim gateway: duplicate order %d", req.OrderID))
	}
	inst, ok := s.reg.Instrument(req.Instrument)
	if !ok {
		s.reject(req, 1, schema.RejectReasonVenue)
		return nil
	}
	if req.Qty <= 0 {
		s.reject(req, 1, schema.RejectReasonInvalidQty)
		return nil
	}
	if req.Type == schema.OrderTypeLimit && req.Price <= 0 {
		s.reject(req, 1, schema.RejectReasonInvalidPrice)
		return nil
	}

	book := s.book(req.Instrument)
	touch := s.oppositeTouch(book, req.Side)
	if req.Type == schema.OrderTypeMarket && touch <= 0 {
		s.reject(req, 1, schema.RejectReasonNoMarket)
		return nil
	}

	o := &simOrder{req: req, leaves: req.Qty, nextUpdate: 1}
	s.accept(o)

	marketable := req.Type == schema.OrderTypeMarket ||
		(touch > 0 && crosses(req.Side, req.Price, touch))
	if marketable {
		s.fill(o, inst, touch, int64(inst.TakerFeeBps))
		return nil
	}
	if req.TimeInForce == schema.TimeInForceIOC {
		s.cancel(o)
		return nil
	}
	s.orders[req.OrderID] = o
	return nil
}

func (s *Sim) submitCancel(req schema.OrderRequest) error {
	o, ok := s.orders[req.OrderID]
	if !ok {
		return errors.Wrap(errors.ErrInvariant, fmt.Sprintf("sim gateway: cancel unknown order %d", req.OrderID))
	}
	delete(s.orders, req.OrderID)
	s.cancel(o)
	return nil
}

// OnMarket advances the simulator clock, refreshes the book and fills
// resting orders whose price the touch reached. Resting orders are
// visited in ascending order-ID order.
func (s *Sim) OnMarket(ts int64, md schema.MarketData) {
	if s.closed.Load() {
		return
	}
	s.now = ts
	idx := int(md.Instrument)
	if idx <= 0 || idx >= len(s.books) {
		return
	}
	book := &s.books[idx]
	switch md.Kind {
	case schema.MarketDataQuote:
		book.bid, book.ask = md.BidPrice, md.AskPrice
	case schema.MarketDataBookDelta:
		if md.Side == schema.SideBuy && md.Price > 0 {
			book.bid = md.Price
		}
		if md.Side == schema.SideSell && md.Price > 0 {
			book.ask = md.Price
		}
	case schema.MarketDataTrade:
		return
	}

	ids := make([]uint64, 0, len(s.orders))
	for id, o := range s.orders {
		if o.req.Instrument == md.Instrument {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		o := s.orders[id]
		touch := s.oppositeTouch(*book, o.req.Side)
		if touch <= 0 || !crosses(o.req.Side, o.req.Price, touch) {
			continue
		}
		inst, ok := s.reg.Instrument(o.req.Instrument)
		if !ok {
			continue
		}
		delete(s.orders, id)
		s.fill(o, inst, o.req.Price, int64(inst.MakerFeeBps))
	}
}

// Events is the simulated account update feed.
func (s *Sim) Events() <-chan sequencer.Event {
	return s.events
}

// Close stops the simulator and closes the event feed.
func (s *Sim) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		close(s.events)
	}
	return nil
}

func (s *Sim) book(id schema.InstrumentID) simBook {
	idx := int(id)
	if idx <= 0 || idx >= len(s.books) {
		return simBook{}
	}
	return s.books[idx]
}

func (s *Sim) oppositeTouch(book simBook, side schema.Side) schema.Price {
	if side == schema.SideBuy {
		return book.ask
	}
	return book.bid
}

func crosses(side schema.Side, price, touch schema.Price) bool {
	if side == schema.SideBuy {
		return price >= touch
	}
	return price <= touch
}

func (s *Sim) accept(o *simOrder) {
	s.emit(o, schema.AccountUpdate{
		Kind:      schema.AccountOrderAccepted,
		Price:     o.req.Price,
		LeavesQty: o.leaves,
	})
}

func (s *Sim) reject(req schema.OrderRequest, updateID uint64, reason schema.RejectReason) {
	s.send(schema.AccountUpdate{
		Kind:       schema.AccountOrderRejected,
		UpdateID:   updateID,
		OrderID:    req.OrderID,
		Instrument: req.Instrument,
		Side:       req.Side,
		Reason:     reason,
	})
}

func (s *Sim) cancel(o *simOrder) {
	s.emit(o, schema.AccountUpdate{
		Kind:      schema.AccountCancelled,
		LeavesQty: o.leaves,
	})
}

func (s *Sim) fill(o *simOrder, inst schema.Instrument, price schema.Price, feeBps int64) {
	qty := o.leaves
	o.leaves = 0
	s.emit(o, schema.AccountUpdate{
		Kind:  schema.AccountFill,
		Price: price,
		Qty:   qty,
		Fee:   feeOf(price, qty, inst.Scale.QuantityScale, feeBps),
	})
}

func (s *Sim) emit(o *simOrder, au schema.AccountUpdate) {
	au.UpdateID = o.nextUpdate
	o.nextUpdate++
	au.OrderID = o.req.OrderID
	au.Instrument = o.req.Instrument
	au.Side = o.req.Side
	s.send(au)
}

func (s *Sim) send(au schema.AccountUpdate) {
	s.events <- sequencer.NewAccountEvent(s.cfg.Source, s.now, s.now, au)
}

func feeOf(price schema.Price, qty schema.Quantity, qtyScale schema.Scale, bps int64) schema.Fee {
	notional := scaleMul(int64(price), int64(qty), qtyScale)
	return schema.Fee(notional * bps / 10_000)
}

func scaleMul(a, b int64, scale schema.Scale) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	n := int64(1)
	for i := schema.Scale(0); i < scale; i++ {
		n *= 10
	}
	if a > maxInt64/b {
		return maxInt64
	}
	return a * b / n
}
