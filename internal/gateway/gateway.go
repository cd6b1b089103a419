// Package gateway submits approved order requests to an execution venue
// and feeds the venue's account updates back into the event stream. Two
// implementations share the contract: a deterministic simulator for
// backtests and paper trading, and a websocket venue session for live
// runs.
package gateway

import (
	"context"

	"tradecore/internal/schema"
	"tradecore/internal/sequencer"
)

// Gateway is the execution venue boundary.
type Gateway interface {
	// Submit forwards one approved request and returns once the venue
	// acknowledged it. The resulting lifecycle updates arrive on Events,
	// never through the return value.
	Submit(ctx context.Context, req schema.OrderRequest) error

	// OnMarket lets the venue observe the market data stream. The
	// simulator fills resting orders from it; live venues ignore it.
	OnMarket(ts int64, md schema.MarketData)

	// Events is the account update feed. Callers drain it after every
	// Submit and OnMarket call.
	Events() <-chan sequencer.Event

	Close() error
}
