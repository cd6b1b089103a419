package state

import "tradecore/internal/schema"

// BalanceDelta is the post-mutation value of one touched balance.
type BalanceDelta struct {
	Asset     schema.AssetID
	Total     schema.Notional
	Available schema.Notional
}

// Delta summarizes one Apply call: post-state values of the touched
// order, position and balances. Together with the applied event it is
// enough to reconstruct the mutation without re-running plugins.
type Delta struct {
	OrderID     uint64
	OrderStatus OrderStatus
	LeavesQty   schema.Quantity

	Instrument  schema.InstrumentID
	PositionQty schema.Quantity
	AvgEntry    schema.Price
	RealizedPnL schema.Notional

	Balances     [2]BalanceDelta
	BalanceCount uint16
}

func (d *Delta) addBalance(b Balance) {
	if int(d.BalanceCount) >= len(d.Balances) {
		return
	}
	d.Balances[d.BalanceCount] = BalanceDelta{
		Asset:     b.Asset,
		Total:     b.Total,
		Available: b.Available,
	}
	d.BalanceCount++
}
