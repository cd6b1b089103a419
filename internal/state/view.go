package state

import (
	"sort"

	"tradecore/internal/schema"
)

// View is a read-only window over the store handed to strategy and risk
// plugins. Accessors return value copies, never mutable records.
// A view is only valid until the next Apply call; the pipeline's
// single-writer ordering makes that safe without locks.
type View struct {
	s *Store
}

// View returns a read-only view of the current state.
func (s *Store) View() View {
	return View{s: s}
}

// Now is the timestamp of the event being processed. Plugins use it
// instead of the wall clock so replays stay deterministic.
func (v View) Now() int64 {
	return v.s.now
}

// Position returns the position for an instrument, if any.
func (v View) Position(id schema.InstrumentID) (Position, bool) {
	p := v.s.positions[id]
	if p == nil {
		return Position{}, false
	}
	return *p, true
}

// Balance returns the balance for an asset, if any.
func (v View) Balance(asset schema.AssetID) (Balance, bool) {
	b := v.s.balances[asset]
	if b == nil {
		return Balance{}, false
	}
	return *b, true
}

// Order returns the tracked order, if any.
func (v View) Order(orderID uint64) (OpenOrder, bool) {
	o := v.s.orders[orderID]
	if o == nil {
		return OpenOrder{}, false
	}
	return *o, true
}

// Quote returns the last observed quote for an instrument.
func (v View) Quote(id schema.InstrumentID) (schema.MarketData, bool) {
	idx := int(id)
	if idx <= 0 || idx >= len(v.s.quotes) {
		return schema.MarketData{}, false
	}
	q := v.s.quotes[idx]
	return q, q.Kind != schema.MarketDataUnknown
}

// Mark returns the last mark price for an instrument, 0 if none seen.
func (v View) Mark(id schema.InstrumentID) schema.Price {
	idx := int(id)
	if idx <= 0 || idx >= len(v.s.marks) {
		return 0
	}
	return v.s.marks[idx]
}

// Instrument resolves instrument metadata from the registry.
func (v View) Instrument(id schema.InstrumentID) (schema.Instrument, bool) {
	return v.s.reg.Instrument(id)
}

// EachOpenOrder calls fn for every non-terminal order in ascending
// order-ID order, so plugin output never depends on map iteration.
// Iteration stops when fn returns false.
func (v View) EachOpenOrder(fn func(OpenOrder) bool) {
	ids := make([]uint64, 0, len(v.s.orders))
	for id, o := range v.s.orders {
		if o.Status.IsTerminal() {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if !fn(*v.s.orders[id]) {
			return
		}
	}
}
