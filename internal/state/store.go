package state

import (
	"tradecore/internal/errors"
	"tradecore/internal/schema"
)

const maxInt64 = int64(^uint64(0) >> 1)

// OrderStatus tracks the lifecycle of an open order.
type OrderStatus uint16

const (
	OrderStatusUnknown OrderStatus = iota
	OrderStatusPending
	OrderStatusActive
	OrderStatusPartiallyFilled
	OrderStatusFilled
	OrderStatusCancelled
	OrderStatusRejected
	// OrderStatusUnknownPending marks an order whose submission was never
	// acknowledged within the gateway timeout. Non-terminal: a late ack,
	// fill or cancel may still resolve it.
	OrderStatusUnknownPending
)

// IsTerminal reports whether the status admits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusPending:
		return "pending"
	case OrderStatusActive:
		return "active"
	case OrderStatusPartiallyFilled:
		return "partiallyFilled"
	case OrderStatusFilled:
		return "filled"
	case OrderStatusCancelled:
		return "cancelled"
	case OrderStatusRejected:
		return "rejected"
	case OrderStatusUnknownPending:
		return "unknownPending"
	default:
		return "unknown"
	}
}

// Position is the store's record for one instrument.
type Position struct {
	Instrument  schema.InstrumentID
	Qty         schema.Quantity
	AvgEntry    schema.Price
	RealizedPnL schema.Notional
}

// Balance is the store's record for one asset. Available never exceeds
// Total; the difference is the sum of active order reservations.
type Balance struct {
	Asset     schema.AssetID
	Total     schema.Notional
	Available schema.Notional
}

// OpenOrder is the store's record for one order.
type OpenOrder struct {
	OrderID      uint64
	Instrument   schema.InstrumentID
	Side         schema.Side
	Type         schema.OrderType
	Price        schema.Price
	Qty          schema.Quantity
	LeavesQty    schema.Quantity
	Status       OrderStatus
	Reserved     schema.Notional
	ReserveAsset schema.AssetID
	LastUpdateID uint64
}

// Config controls store policies.
type Config struct {
	// RemoveFlat deletes a position record once its quantity returns to
	// zero. Default is to retain the zero record.
	RemoveFlat bool
}

// Store is the engine's mutable account state: positions, balances and
// open orders. Apply is the only mutator and is never called concurrently;
// the sequencer's merge point is the single writer funnel.
type Store struct {
	cfg Config
	reg *schema.Registry

	positions map[schema.InstrumentID]*Position
	balances  map[schema.AssetID]*Balance
	orders    map[uint64]*OpenOrder

	// Last observed market data, indexed by dense instrument ID.
	quotes []schema.MarketData
	marks  []schema.Price

	now         int64
	lastSeq     uint64
	lastEventTs int64
}

// NewStore creates an empty store over a loaded registry.
func NewStore(reg *schema.Registry, cfg Config) *Store {
	n := reg.InstrumentCount() + 1
	return &Store{
		cfg:       cfg,
		reg:       reg,
		positions: make(map[schema.InstrumentID]*Position),
		balances:  make(map[schema.AssetID]*Balance),
		orders:    make(map[uint64]*OpenOrder),
		quotes:    make([]schema.MarketData, n),
		marks:     make([]schema.Price, n),
	}
}

// Deposit seeds an asset balance. Used at startup and by reconciliation.
func (s *Store) Deposit(asset schema.AssetID, amount schema.Notional) error {
	if _, ok := s.reg.Asset(asset); !ok {
		return errors.Wrap(errors.ErrInvariant, "deposit: unknown asset")
	}
	if amount < 0 {
		return errors.Wrap(errors.ErrInvariant, "deposit: negative amount")
	}
	b := s.balance(asset)
	b.Total += amount
	b.Available += amount
	return nil
}

// SetClock advances the store's logical clock. The pipeline calls this
// with the current event timestamp before Apply; views expose it so
// plugins never read the wall clock.
func (s *Store) SetClock(seq uint64, tsEvent int64) {
	s.now = tsEvent
	if seq > s.lastSeq {
		s.lastSeq = seq
	}
	if tsEvent > s.lastEventTs {
		s.lastEventTs = tsEvent
	}
}

// ApplyMarket records the latest quote or trade for an instrument.
func (s *Store) ApplyMarket(md schema.MarketData) {
	idx := int(md.Instrument)
	if idx <= 0 || idx >= len(s.quotes) {
		return
	}
	switch md.Kind {
	case schema.MarketDataQuote:
		s.quotes[idx] = md
		if md.BidPrice > 0 && md.AskPrice > 0 {
			s.marks[idx] = (md.BidPrice + md.AskPrice) / 2
		}
	case schema.MarketDataTrade:
		if md.Price > 0 {
			s.marks[idx] = md.Price
		}
	case schema.MarketDataBookDelta:
		// Top-of-book deltas refresh the resting quote in place.
		q := &s.quotes[idx]
		q.Instrument = md.Instrument
		q.Kind = schema.MarketDataQuote
		if md.Side == schema.SideBuy && md.Price > 0 {
			q.BidPrice, q.BidSize = md.Price, md.Size
		}
		if md.Side == schema.SideSell && md.Price > 0 {
			q.AskPrice, q.AskSize = md.Price, md.Size
		}
		if q.BidPrice > 0 && q.AskPrice > 0 {
			s.marks[idx] = (q.BidPrice + q.AskPrice) / 2
		}
	}
}

// TrackRequest registers a submitted order in Pending status. Called by
// the pipeline when it forwards an approved request to the gateway.
func (s *Store) TrackRequest(req schema.OrderRequest) error {
	if req.OrderID == 0 {
		return errors.Wrap(errors.ErrInvariant, "track request: zero order id")
	}
	if _, ok := s.orders[req.OrderID]; ok {
		return errors.Wrap(errors.ErrInvariant, "track request: duplicate order id")
	}
	inst, ok := s.reg.Instrument(req.Instrument)
	if !ok {
		return errors.Wrap(errors.ErrInvariant, "track request: unknown instrument")
	}
	reserveAsset := inst.Quote
	if req.Side == schema.SideSell {
		reserveAsset = inst.Base
	}
	s.orders[req.OrderID] = &OpenOrder{
		OrderID:      req.OrderID,
		Instrument:   req.Instrument,
		Side:         req.Side,
		Type:         req.Type,
		Price:        req.Price,
		Qty:          req.Qty,
		LeavesQty:    req.Qty,
		Status:       OrderStatusPending,
		ReserveAsset: reserveAsset,
	}
	return nil
}

// MarkUnknownPending flags an unacknowledged order after a gateway
// timeout. The order stays open for late resolution.
func (s *Store) MarkUnknownPending(orderID uint64) {
	o, ok := s.orders[orderID]
	if !ok || o.Status.IsTerminal() {
		return
	}
	o.Status = OrderStatusUnknownPending
}

// MarkRefused terminates a pending order the venue refused to take.
// Nothing is reserved before acceptance, so there is nothing to release.
func (s *Store) MarkRefused(orderID uint64) {
	o, ok := s.orders[orderID]
	if !ok || o.Status != OrderStatusPending {
		return
	}
	o.Status = OrderStatusRejected
}

// Apply mutates the store from one account update and returns the
// resulting delta. It is the only mutator. On error nothing is applied:
// readers observe either the pre- or post-mutation state, never an
// intermediate one.
func (s *Store) Apply(au schema.AccountUpdate) (Delta, error) {
	o, ok := s.orders[au.OrderID]
	if !ok {
		return Delta{}, errors.Wrap(errors.ErrInvariant, "apply: unknown order")
	}
	if au.UpdateID <= o.LastUpdateID {
		return Delta{}, errors.Wrap(errors.ErrDuplicateEvent, "apply: stale update id")
	}
	if o.Status.IsTerminal() {
		return Delta{}, errors.Wrap(errors.ErrInvariant, "apply: order already terminal")
	}

	var (
		delta Delta
		err   error
	)
	switch au.Kind {
	case schema.AccountOrderAccepted:
		delta, err = s.applyAccepted(o, au)
	case schema.AccountOrderRejected:
		delta, err = s.applyRejected(o, au)
	case schema.AccountFill:
		delta, err = s.applyFill(o, au)
	case schema.AccountCancelled:
		delta, err = s.applyCancelled(o, au)
	default:
		return Delta{}, errors.Wrap(errors.ErrInvariant, "apply: unknown account update kind")
	}
	if err != nil {
		return Delta{}, err
	}
	o.LastUpdateID = au.UpdateID
	return delta, nil
}

func (s *Store) applyAccepted(o *OpenOrder, au schema.AccountUpdate) (Delta, error) {
	if o.Status != OrderStatusPending && o.Status != OrderStatusUnknownPending {
		return Delta{}, errors.Wrap(errors.ErrInvariant, "accept: order not pending")
	}
	inst, ok := s.reg.Instrument(o.Instrument)
	if !ok {
		return Delta{}, errors.Wrap(errors.ErrInvariant, "accept: unknown instrument")
	}

	price := o.Price
	if au.Price > 0 {
		price = au.Price
	}
	reserve, overflow := reserveAmount(inst, o.Side, price, o.LeavesQty)
	if overflow {
		return Delta{}, errors.Wrap(errors.ErrInvariant, "accept: reservation overflow")
	}

	b := s.balance(o.ReserveAsset)
	next := b.Available - reserve
	if next < 0 || next > b.Total {
		return Delta{}, errors.Wrap(errors.ErrInvariant, "accept: reservation exceeds available balance")
	}

	b.Available = next
	o.Status = OrderStatusActive
	o.Reserved = reserve
	if au.Price > 0 {
		o.Price = au.Price
	}

	delta := s.deltaFor(o)
	delta.addBalance(*b)
	return delta, nil
}

func (s *Store) applyRejected(o *OpenOrder, au schema.AccountUpdate) (Delta, error) {
	b := s.balance(o.ReserveAsset)
	if o.Reserved > 0 {
		b.Available += o.Reserved
		o.Reserved = 0
	}
	o.Status = OrderStatusRejected
	o.LeavesQty = 0

	delta := s.deltaFor(o)
	delta.addBalance(*b)
	return delta, nil
}

func (s *Store) applyCancelled(o *OpenOrder, au schema.AccountUpdate) (Delta, error) {
	b := s.balance(o.ReserveAsset)
	if o.Reserved > 0 {
		b.Available += o.Reserved
		o.Reserved = 0
	}
	o.Status = OrderStatusCancelled
	o.LeavesQty = 0

	delta := s.deltaFor(o)
	delta.addBalance(*b)
	return delta, nil
}

func (s *Store) applyFill(o *OpenOrder, au schema.AccountUpdate) (Delta, error) {
	switch o.Status {
	case OrderStatusActive, OrderStatusPartiallyFilled, OrderStatusUnknownPending:
	default:
		return Delta{}, errors.Wrap(errors.ErrInvariant, "fill: order not active")
	}
	if au.Qty <= 0 || au.Qty > o.LeavesQty {
		return Delta{}, errors.Wrap(errors.ErrInvariant, "fill: quantity out of range")
	}
	if au.Price <= 0 {
		return Delta{}, errors.Wrap(errors.ErrInvariant, "fill: price must be > 0")
	}
	inst, ok := s.reg.Instrument(o.Instrument)
	if !ok {
		return Delta{}, errors.Wrap(errors.ErrInvariant, "fill: unknown instrument")
	}

	cost, overflow := notionalOf(inst, au.Price, au.Qty)
	if overflow {
		return Delta{}, errors.Wrap(errors.ErrInvariant, "fill: notional overflow")
	}
	release, overflow := reserveAmount(inst, o.Side, o.Price, au.Qty)
	if overflow {
		return Delta{}, errors.Wrap(errors.ErrInvariant, "fill: release overflow")
	}
	if release > o.Reserved {
		release = o.Reserved
	}

	quote := *s.balance(inst.Quote)
	base := *s.balance(inst.Base)
	fee := schema.Notional(au.Fee)

	switch o.Side {
	case schema.SideBuy:
		quote.Total -= cost + fee
		quote.Available += release - cost - fee
		base.Total += schema.Notional(au.Qty)
		base.Available += schema.Notional(au.Qty)
	case schema.SideSell:
		base.Total -= schema.Notional(au.Qty)
		base.Available += release - schema.Notional(au.Qty)
		quote.Total += cost - fee
		quote.Available += cost - fee
	default:
		return Delta{}, errors.Wrap(errors.ErrInvariant, "fill: unknown side")
	}

	if quote.Available < 0 || quote.Available > quote.Total {
		return Delta{}, errors.Wrap(errors.ErrInvariant, "fill: quote balance invariant")
	}
	if base.Available < 0 || base.Available > base.Total {
		return Delta{}, errors.Wrap(errors.ErrInvariant, "fill: base balance invariant")
	}

	// All checks passed: commit balances, order and position together.
	*s.balance(inst.Quote) = quote
	*s.balance(inst.Base) = base

	o.Reserved -= release
	o.LeavesQty -= au.Qty
	if o.LeavesQty == 0 {
		o.Status = OrderStatusFilled
		if o.Reserved > 0 {
			s.balance(o.ReserveAsset).Available += o.Reserved
			o.Reserved = 0
		}
	} else {
		o.Status = OrderStatusPartiallyFilled
	}

	pos := s.applyPositionFill(inst, o.Side, au.Price, au.Qty)

	delta := s.deltaFor(o)
	delta.Instrument = o.Instrument
	delta.PositionQty = pos.Qty
	delta.AvgEntry = pos.AvgEntry
	delta.RealizedPnL = pos.RealizedPnL
	delta.addBalance(quote)
	if inst.Base != inst.Quote {
		delta.addBalance(base)
	}
	return delta, nil
}

// applyPositionFill folds one fill into the instrument position and
// returns the post-fill record. Sign convention: positive Qty is long.
func (s *Store) applyPositionFill(inst schema.Instrument, side schema.Side, price schema.Price, qty schema.Quantity) Position {
	p := s.positions[inst.ID]
	if p == nil {
		p = &Position{Instrument: inst.ID}
		s.positions[inst.ID] = p
	}

	signed := int64(qty)
	if side == schema.SideSell {
		signed = -signed
	}
	cur := int64(p.Qty)

	if cur == 0 || (cur > 0) == (signed > 0) {
		// Extending (or opening): size-weighted average entry.
		total := abs64(cur) + abs64(signed)
		if total > 0 {
			p.AvgEntry = schema.Price((int64(p.AvgEntry)*abs64(cur) + int64(price)*abs64(signed)) / total)
		}
		p.Qty = schema.Quantity(cur + signed)
	} else {
		closed := min64(abs64(cur), abs64(signed))
		pnlPerUnit := int64(price) - int64(p.AvgEntry)
		if cur < 0 {
			pnlPerUnit = -pnlPerUnit
		}
		realized, overflow := scaleNotional(pnlPerUnit, closed, inst.Scale.QuantityScale)
		if !overflow {
			p.RealizedPnL += realized
		}
		remaining := cur + signed
		p.Qty = schema.Quantity(remaining)
		if remaining == 0 {
			p.AvgEntry = 0
		} else if (remaining > 0) != (cur > 0) {
			// Flipped through flat: the residual opens at the fill price.
			p.AvgEntry = price
		}
	}

	out := *p
	if p.Qty == 0 && s.cfg.RemoveFlat {
		delete(s.positions, inst.ID)
	}
	return out
}

func (s *Store) balance(asset schema.AssetID) *Balance {
	b := s.balances[asset]
	if b == nil {
		b = &Balance{Asset: asset}
		s.balances[asset] = b
	}
	return b
}

func (s *Store) deltaFor(o *OpenOrder) Delta {
	return Delta{
		OrderID:     o.OrderID,
		OrderStatus: o.Status,
		LeavesQty:   o.LeavesQty,
	}
}

// reserveAmount returns the balance reservation for one order slice:
// base quantity for sells, quote notional plus worst-case fee for buys.
// Buy fills charge their fee from the quote balance, so the fee must be
// covered up front or a fully committed balance rejects the fill.
func reserveAmount(inst schema.Instrument, side schema.Side, price schema.Price, qty schema.Quantity) (schema.Notional, bool) {
	if side == schema.SideSell {
		return schema.Notional(qty), false
	}
	notional, overflow := notionalOf(inst, price, qty)
	if overflow {
		return 0, true
	}
	fee, overflow := worstCaseFee(inst, notional)
	if overflow || int64(notional) > maxInt64-int64(fee) {
		return 0, true
	}
	return notional + fee, false
}

// worstCaseFee is the fee on a slice at the higher of the instrument's
// maker and taker rates, rounded up so the reservation always covers
// the venue's floor-rounded charge.
func worstCaseFee(inst schema.Instrument, notional schema.Notional) (schema.Notional, bool) {
	bps := int64(inst.TakerFeeBps)
	if int64(inst.MakerFeeBps) > bps {
		bps = int64(inst.MakerFeeBps)
	}
	if bps <= 0 || notional <= 0 {
		return 0, false
	}
	if int64(notional) > maxInt64/bps {
		return 0, true
	}
	return schema.Notional((int64(notional)*bps + 9_999) / 10_000), false
}

func notionalOf(inst schema.Instrument, price schema.Price, qty schema.Quantity) (schema.Notional, bool) {
	return scaleNotional(int64(price), int64(qty), inst.Scale.QuantityScale)
}

func scaleNotional(a, b int64, scale schema.Scale) (schema.Notional, bool) {
	if a == 0 || b == 0 {
		return 0, false
	}
	absA, absB := abs64(a), abs64(b)
	if absA > maxInt64/absB {
		return 0, true
	}
	return schema.Notional(a * b / pow10(scale)), false
}

func pow10(scale schema.Scale) int64 {
	n := int64(1)
	for i := schema.Scale(0); i < scale; i++ {
		n *= 10
	}
	return n
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
