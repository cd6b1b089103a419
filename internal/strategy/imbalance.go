package strategy

import (
	"time"

	"tradecore/internal/schema"
	"tradecore/internal/sequencer"
	"tradecore/internal/state"
)

// Config tunes the imbalance strategy.
type Config struct {
	StrategyID uint32              `json:"strategyId" yaml:"strategyId"`
	Instrument schema.InstrumentID `json:"instrument" yaml:"instrument"`
	EntryBps   int64               `json:"entryBps" yaml:"entryBps"`
	ExitBps    int64               `json:"exitBps" yaml:"exitBps"`
	OrderSize  schema.Quantity     `json:"orderSize" yaml:"orderSize"`
	Cooldown   time.Duration       `json:"cooldown" yaml:"cooldown"`
}

func (c Config) withDefaults() Config {
	if c.EntryBps <= 0 {
		c.EntryBps = 2000
	}
	if c.ExitBps <= 0 {
		c.ExitBps = 500
	}
	if c.OrderSize <= 0 {
		c.OrderSize = 1
	}
	return c
}

// Imbalance is a top-of-book imbalance strategy. It enters in the
// direction of the heavier side of the book when the size imbalance
// crosses the entry threshold, and exits once the imbalance fades
// below the exit threshold or flips against the position.
//
// It is deliberately small. Its job is to exercise the full signal
// path, not to make money.
type Imbalance struct {
	cfg       Config
	lastEntry int64
}

// NewImbalance creates the strategy with the given thresholds.
func NewImbalance(cfg Config) *Imbalance {
	return &Imbalance{cfg: cfg.withDefaults()}
}

// ID reports the strategy identifier stamped on emitted signals.
func (im *Imbalance) ID() uint32 {
	return im.cfg.StrategyID
}

// OnEvent reacts to quote events for the configured instrument.
func (im *Imbalance) OnEvent(view state.View, ev sequencer.Event) []schema.Signal {
	if ev.Header.Type != schema.EventQuote || ev.Market.Instrument != im.cfg.Instrument {
		return nil
	}
	quote, ok := view.Quote(im.cfg.Instrument)
	if !ok || quote.BidSize <= 0 || quote.AskSize <= 0 {
		return nil
	}

	bid, ask := int64(quote.BidSize), int64(quote.AskSize)
	imbalanceBps := (bid - ask) * 10_000 / (bid + ask)

	pos, _ := view.Position(im.cfg.Instrument)
	if pos.Qty == 0 {
		return im.maybeEnter(view, imbalanceBps)
	}

	faded := absBps(imbalanceBps) < im.cfg.ExitBps
	against := (pos.Qty > 0 && imbalanceBps < 0) || (pos.Qty < 0 && imbalanceBps > 0)
	if faded || against {
		return []schema.Signal{{
			StrategyID: im.cfg.StrategyID,
			Instrument: im.cfg.Instrument,
			Intent:     schema.IntentExit,
		}}
	}
	return nil
}

func (im *Imbalance) maybeEnter(view state.View, imbalanceBps int64) []schema.Signal {
	if absBps(imbalanceBps) < im.cfg.EntryBps {
		return nil
	}
	if open := im.hasOpenOrder(view); open {
		return nil
	}
	now := view.Now()
	if im.cfg.Cooldown > 0 && im.lastEntry > 0 && now-im.lastEntry < int64(im.cfg.Cooldown) {
		return nil
	}
	im.lastEntry = now

	side := schema.SideBuy
	if imbalanceBps < 0 {
		side = schema.SideSell
	}
	return []schema.Signal{{
		StrategyID: im.cfg.StrategyID,
		Instrument: im.cfg.Instrument,
		Intent:     schema.IntentEnter,
		Side:       side,
		SizeHint:   im.cfg.OrderSize,
	}}
}

func (im *Imbalance) hasOpenOrder(view state.View) bool {
	open := false
	view.EachOpenOrder(func(o state.OpenOrder) bool {
		if o.Instrument == im.cfg.Instrument {
			open = true
			return false
		}
		return true
	})
	return open
}

func absBps(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
