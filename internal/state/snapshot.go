package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"tradecore/internal/errors"
	"tradecore/internal/schema"
)

// Snapshot captures positions, balances and open orders at a point in
// time, with the last applied sequence for recovery cut-off.
type Snapshot struct {
	Timestamp   int64           `json:"timestamp"`
	LastSeq     uint64          `json:"lastSeq"`
	LastEventTs int64           `json:"lastEventTs"`
	Positions   []PositionEntry `json:"positions"`
	Balances    []BalanceEntry  `json:"balances"`
	Orders      []OrderEntry    `json:"orders"`
}

// PositionEntry is a single instrument position entry.
type PositionEntry struct {
	Instrument  schema.InstrumentID `json:"instrument"`
	Qty         schema.Quantity     `json:"qty"`
	AvgEntry    schema.Price        `json:"avgEntry"`
	RealizedPnL schema.Notional     `json:"realizedPnl"`
}

// BalanceEntry is a single asset balance entry.
type BalanceEntry struct {
	Asset     schema.AssetID  `json:"asset"`
	Total     schema.Notional `json:"total"`
	Available schema.Notional `json:"available"`
}

// OrderEntry is a single non-terminal order entry.
type OrderEntry struct {
	OrderID      uint64              `json:"orderId"`
	Instrument   schema.InstrumentID `json:"instrument"`
	Side         schema.Side         `json:"side"`
	Type         schema.OrderType    `json:"type"`
	Price        schema.Price        `json:"price"`
	Qty          schema.Quantity     `json:"qty"`
	LeavesQty    schema.Quantity     `json:"leavesQty"`
	Status       OrderStatus         `json:"status"`
	Reserved     schema.Notional     `json:"reserved"`
	ReserveAsset schema.AssetID      `json:"reserveAsset"`
	LastUpdateID uint64              `json:"lastUpdateId"`
}

// Snapshot builds a snapshot of the current state. Entries are sorted so
// identical state always serializes identically.
func (s *Store) Snapshot() Snapshot {
	positions := make([]PositionEntry, 0, len(s.positions))
	for id, p := range s.positions {
		positions = append(positions, PositionEntry{
			Instrument:  id,
			Qty:         p.Qty,
			AvgEntry:    p.AvgEntry,
			RealizedPnL: p.RealizedPnL,
		})
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Instrument < positions[j].Instrument
	})

	balances := make([]BalanceEntry, 0, len(s.balances))
	for asset, b := range s.balances {
		balances = append(balances, BalanceEntry{
			Asset:     asset,
			Total:     b.Total,
			Available: b.Available,
		})
	}
	sort.Slice(balances, func(i, j int) bool {
		return balances[i].Asset < balances[j].Asset
	})

	orders := make([]OrderEntry, 0, len(s.orders))
	for id, o := range s.orders {
		if o.Status.IsTerminal() {
			continue
		}
		orders = append(orders, OrderEntry{
			OrderID:      id,
			Instrument:   o.Instrument,
			Side:         o.Side,
			Type:         o.Type,
			Price:        o.Price,
			Qty:          o.Qty,
			LeavesQty:    o.LeavesQty,
			Status:       o.Status,
			Reserved:     o.Reserved,
			ReserveAsset: o.ReserveAsset,
			LastUpdateID: o.LastUpdateID,
		})
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].OrderID < orders[j].OrderID
	})

	return Snapshot{
		Timestamp:   s.lastEventTs,
		LastSeq:     s.lastSeq,
		LastEventTs: s.lastEventTs,
		Positions:   positions,
		Balances:    balances,
		Orders:      orders,
	}
}

// Restore replaces the store's state with a snapshot. The store must be
// freshly constructed; market data is not part of a snapshot and warms
// up from the replayed or live feed.
func (s *Store) Restore(snap Snapshot) error {
	if len(s.positions) != 0 || len(s.balances) != 0 || len(s.orders) != 0 {
		return errors.Wrap(errors.ErrInvariant, "restore into non-empty store")
	}

	for _, p := range snap.Positions {
		if _, ok := s.reg.Instrument(p.Instrument); !ok {
			return errors.Wrap(errors.ErrInvariant, fmt.Sprintf("restore: unknown instrument %d", p.Instrument))
		}
		s.positions[p.Instrument] = &Position{
			Instrument:  p.Instrument,
			Qty:         p.Qty,
			AvgEntry:    p.AvgEntry,
			RealizedPnL: p.RealizedPnL,
		}
	}
	for _, b := range snap.Balances {
		if _, ok := s.reg.Asset(b.Asset); !ok {
			return errors.Wrap(errors.ErrInvariant, fmt.Sprintf("restore: unknown asset %d", b.Asset))
		}
		s.balances[b.Asset] = &Balance{Asset: b.Asset, Total: b.Total, Available: b.Available}
	}
	for _, o := range snap.Orders {
		if _, ok := s.reg.Instrument(o.Instrument); !ok {
			return errors.Wrap(errors.ErrInvariant, fmt.Sprintf("restore: unknown instrument %d", o.Instrument))
		}
		s.orders[o.OrderID] = &OpenOrder{
			OrderID:      o.OrderID,
			Instrument:   o.Instrument,
			Side:         o.Side,
			Type:         o.Type,
			Price:        o.Price,
			Qty:          o.Qty,
			LeavesQty:    o.LeavesQty,
			Status:       o.Status,
			Reserved:     o.Reserved,
			ReserveAsset: o.ReserveAsset,
			LastUpdateID: o.LastUpdateID,
		}
	}

	s.lastSeq = snap.LastSeq
	s.lastEventTs = snap.LastEventTs
	s.now = snap.LastEventTs
	return nil
}

// WriteSnapshot writes a snapshot to disk as JSON.
func WriteSnapshot(path string, snapshot Snapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadSnapshot loads a snapshot from disk.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// CompareSnapshots checks if two snapshots carry the same state.
func CompareSnapshots(expected, actual Snapshot) error {
	if len(expected.Positions) != len(actual.Positions) {
		return fmt.Errorf("position count mismatch: expected=%d actual=%d", len(expected.Positions), len(actual.Positions))
	}
	for i := range expected.Positions {
		if expected.Positions[i] != actual.Positions[i] {
			return fmt.Errorf("position mismatch at %d: expected=%+v actual=%+v", i, expected.Positions[i], actual.Positions[i])
		}
	}
	if len(expected.Balances) != len(actual.Balances) {
		return fmt.Errorf("balance count mismatch: expected=%d actual=%d", len(expected.Balances), len(actual.Balances))
	}
	for i := range expected.Balances {
		if expected.Balances[i] != actual.Balances[i] {
			return fmt.Errorf("balance mismatch at %d: expected=%+v actual=%+v", i, expected.Balances[i], actual.Balances[i])
		}
	}
	if len(expected.Orders) != len(actual.Orders) {
		return fmt.Errorf("order count mismatch: expected=%d actual=%d", len(expected.Orders), len(actual.Orders))
	}
	for i := range expected.Orders {
		if expected.Orders[i] != actual.Orders[i] {
			return fmt.Errorf("order mismatch at %d: expected=%+v actual=%+v", i, expected.Orders[i], actual.Orders[i])
		}
	}
	return nil
}
