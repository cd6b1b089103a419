// Package feed turns external market data into sequencer events: a live
// websocket venue feed and a replay source over recorded audit trails.
package feed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"

	"tradecore/internal/schema"
	"tradecore/internal/sequencer"
)

const defaultBinanceWsURL = "wss://data-stream.binance.vision/ws"

// BinanceConfig configures the live market data session.
type BinanceConfig struct {
	URL    string
	Source schema.SourceID
	Buffer int
	// Symbols maps venue stream symbols to registry instrument names.
	Symbols map[string]string
}

func (c BinanceConfig) withDefaults() BinanceConfig {
	if c.URL == "" {
		c.URL = defaultBinanceWsURL
	}
	if c.Source == 0 {
		c.Source = 1
	}
	if c.Buffer <= 0 {
		c.Buffer = 4096
	}
	return c
}

// Validate checks if the config is usable.
func (c BinanceConfig) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("invalid feed config: no symbols")
	}
	return nil
}

type feedInstrument struct {
	id    schema.InstrumentID
	scale schema.ScaleSpec
}

// Binance streams best-quote and trade updates and emits them as
// sequencer events. Wire it in with sequencer.NewChannelSource over
// Events().
type Binance struct {
	cfg     BinanceConfig
	wss     *ws.WebSocket
	symbols map[string]feedInstrument
	events  chan sequencer.Event
	nextID  int64
}

// NewBinance resolves the symbol map against the registry and prepares
// the websocket session. Start must be called before subscribing.
func NewBinance(ctx context.Context, cfg BinanceConfig, reg *schema.Registry) (*Binance, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	symbols := make(map[string]feedInstrument, len(cfg.Symbols))
	for sym, name := range cfg.Symbols {
		id, ok := reg.InstrumentIDByName(name)
		if !ok {
			return nil, fmt.Errorf("feed symbol %q: unknown instrument %q", sym, name)
		}
		inst, _ := reg.Instrument(id)
		symbols[strings.ToUpper(sym)] = feedInstrument{id: id, scale: inst.Scale}
	}

	return &Binance{
		cfg:     cfg,
		wss:     ws.New(ctx, cfg.URL),
		symbols: symbols,
		events:  make(chan sequencer.Event, cfg.Buffer),
	}, nil
}

// Events is the stream read by the sequencer's channel source. It is
// closed when Run returns.
func (b *Binance) Events() <-chan sequencer.Event {
	return b.events
}

func (b *Binance) Start(ctx context.Context) error {
	if err := b.wss.Start(ctx); err != nil {
		return errors.Wrap(err, "start wss")
	}
	return nil
}

func (b *Binance) Close() {
	b.wss.Close()
}

type binanceSubscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type binanceSubscribeResponse struct {
	ID     int64 `json:"id"`
	Result any   `json:"result"`
}

// SubscribeQuotes subscribes the bookTicker stream for every configured
// symbol.
func (b *Binance) SubscribeQuotes(ctx context.Context) error {
	return b.subscribe(ctx, "bookTicker")
}

// SubscribeTrades subscribes the trade stream for every configured
// symbol.
func (b *Binance) SubscribeTrades(ctx context.Context) error {
	return b.subscribe(ctx, "trade")
}

func (b *Binance) subscribe(ctx context.Context, stream string) error {
	b.nextID++
	id := b.nextID

	params := make([]string, 0, len(b.symbols))
	for sym := range b.symbols {
		params = append(params, fmt.Sprintf("%s@%s", strings.ToLower(sym), stream))
	}

	if err := b.wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, ws *ws.WebSocket) error {
			payload := binanceSubscribeRequest{
				Method: "SUBSCRIBE",
				Params: params,
				ID:     id,
			}

			if err := ws.WriteJSON(payload); err != nil {
				return errors.Wrap(err, "write subscribe payload").With("payload", payload)
			}

			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			var resp binanceSubscribeResponse
			if err := m.Unmarshal(&resp); err != nil || resp.ID != id {
				return false, nil
			}

			if resp.Result != nil {
				return false, errors.Errorf("subscribe %s, err: %+v", stream, resp.Result)
			}
			return true, nil
		},
	}, true); err != nil {
		return errors.Wrap(err, "send and wait")
	}

	return nil
}

type binanceBookTicker struct {
	UpdateID int64  `json:"u"`
	Symbol   string `json:"s"`
	BidPrice string `json:"b"`
	BidQty   string `json:"B"`
	AskPrice string `json:"a"`
	AskQty   string `json:"A"`
}

type binanceTrade struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	Qty       string `json:"q"`
	TradeTime int64  `json:"T"`
	// BuyerMaker true means the aggressor sold into the bid.
	BuyerMaker bool `json:"m"`
}

// Run decodes stream messages into events until the context ends or the
// websocket closes, then closes Events.
func (b *Binance) Run(ctx context.Context) {
	ch, cancel := b.wss.Subscribe()

	go func() {
		defer cancel()
		defer close(b.events)
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}

				ev, ok := b.decode(m)
				if !ok {
					continue
				}

				select {
				case b.events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
}

func (b *Binance) decode(m ws.Message) (sequencer.Event, bool) {
	recv := time.Now().UnixNano()

	if trade, ok := ws.ReadMessage[binanceTrade](m); ok && trade.EventType == "trade" {
		return b.decodeTrade(trade, recv)
	}
	if tick, ok := ws.ReadMessage[binanceBookTicker](m); ok && tick.BidPrice != "" && tick.AskPrice != "" {
		return b.decodeQuote(tick, recv)
	}
	return sequencer.Event{}, false
}

func (b *Binance) decodeQuote(tick binanceBookTicker, recv int64) (sequencer.Event, bool) {
	inst, ok := b.symbols[tick.Symbol]
	if !ok {
		return sequencer.Event{}, false
	}

	md := schema.MarketData{Instrument: inst.id, Kind: schema.MarketDataQuote}
	var err error
	if md.BidPrice, err = parsePrice(tick.BidPrice, inst.scale.PriceScale); err == nil {
		if md.AskPrice, err = parsePrice(tick.AskPrice, inst.scale.PriceScale); err == nil {
			if md.BidSize, err = parseQty(tick.BidQty, inst.scale.QuantityScale); err == nil {
				md.AskSize, err = parseQty(tick.AskQty, inst.scale.QuantityScale)
			}
		}
	}
	if err != nil {
		logs.Warnf("drop quote %s: %v", tick.Symbol, err)
		return sequencer.Event{}, false
	}

	// bookTicker carries no venue timestamp.
	return sequencer.NewMarketEvent(b.cfg.Source, recv, recv, md), true
}

func (b *Binance) decodeTrade(trade binanceTrade, recv int64) (sequencer.Event, bool) {
	inst, ok := b.symbols[trade.Symbol]
	if !ok {
		return sequencer.Event{}, false
	}

	md := schema.MarketData{Instrument: inst.id, Kind: schema.MarketDataTrade, Side: schema.SideBuy}
	if trade.BuyerMaker {
		md.Side = schema.SideSell
	}
	var err error
	if md.Price, err = parsePrice(trade.Price, inst.scale.PriceScale); err == nil {
		md.Size, err = parseQty(trade.Qty, inst.scale.QuantityScale)
	}
	if err != nil {
		logs.Warnf("drop trade %s: %v", trade.Symbol, err)
		return sequencer.Event{}, false
	}

	tsEvent := trade.TradeTime * int64(time.Millisecond)
	if tsEvent <= 0 {
		tsEvent = recv
	}
	return sequencer.NewMarketEvent(b.cfg.Source, tsEvent, recv, md), true
}

func parsePrice(s string, scale schema.Scale) (schema.Price, error) {
	v, err := schema.ParseScaled(truncateDecimal(s, scale), scale)
	return schema.Price(v), err
}

func parseQty(s string, scale schema.Scale) (schema.Quantity, error) {
	v, err := schema.ParseScaled(truncateDecimal(s, scale), scale)
	return schema.Quantity(v), err
}

// truncateDecimal drops fractional digits beyond the scale. Venues
// publish more precision than the engine keeps.
func truncateDecimal(s string, scale schema.Scale) string {
	whole, frac, ok := strings.Cut(s, ".")
	if !ok || len(frac) <= int(scale) {
		return s
	}
	if scale == 0 {
		return whole
	}
	return whole + "." + frac[:scale]
}
