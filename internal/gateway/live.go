package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/decimal"
	"github.com/yanun0323/logs"

	"tradecore/internal/errors"
	"tradecore/internal/schema"
	"tradecore/internal/sequencer"
)

// LiveConfig controls the live venue session.
type LiveConfig struct {
	URL    string
	Source schema.SourceID
	// AckTimeout bounds how long Submit waits for the venue ack before
	// the order is treated as unknown-pending.
	AckTimeout   time.Duration
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	PingInterval time.Duration
	Buffer       int
}

func (c LiveConfig) withDefaults() LiveConfig {
	if c.Source == 0 {
		c.Source = 201
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 2 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.Buffer <= 0 {
		c.Buffer = 1024
	}
	return c
}

// Validate checks if the config is usable.
func (c LiveConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("invalid live gateway config: URL is empty")
	}
	return nil
}

// liveOrderMsg is the outgoing order frame.
type liveOrderMsg struct {
	Op          string `json:"op"`
	OrderID     uint64 `json:"orderId"`
	Symbol      string `json:"symbol,omitempty"`
	Side        string `json:"side,omitempty"`
	Type        string `json:"type,omitempty"`
	TimeInForce string `json:"tif,omitempty"`
	Price       string `json:"price,omitempty"`
	Qty         string `json:"qty,omitempty"`
}

// liveFrame is the incoming frame envelope. Acks answer a submitted
// frame; reports carry order lifecycle updates.
type liveFrame struct {
	Op       string          `json:"op"`
	OrderID  uint64          `json:"orderId"`
	UpdateID uint64          `json:"updateId"`
	Symbol   string          `json:"symbol"`
	Status   string          `json:"status"`
	Reason   string          `json:"reason"`
	OK       bool            `json:"ok"`
	Ts       int64           `json:"ts"`
	Price    decimal.Decimal `json:"price"`
	Qty      decimal.Decimal `json:"qty"`
	Leaves   decimal.Decimal `json:"leaves"`
	Fee      decimal.Decimal `json:"fee"`
}

// Live is a websocket session against an execution venue. Outgoing
// requests are correlated with venue acks by order id; execution
// reports are translated to account events and fed to the sequencer
// through Events.
type Live struct {
	cfg  LiveConfig
	reg  *schema.Registry
	conn *websocket.Conn

	mu      sync.Mutex
	pending map[uint64]chan liveFrame

	send   chan []byte
	events chan sequencer.Event
	done   chan struct{}
	closed atomic.Bool
}

// NewLive creates a live gateway session. Connect must be called before
// Submit.
func NewLive(cfg LiveConfig, reg *schema.Registry) (*Live, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Live{
		cfg:     cfg,
		reg:     reg,
		pending: make(map[uint64]chan liveFrame),
		send:    make(chan []byte, cfg.Buffer),
		events:  make(chan sequencer.Event, cfg.Buffer),
		done:    make(chan struct{}),
	}, nil
}

// Connect dials the venue and starts the read and write pumps.
func (l *Live) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.cfg.URL, nil)
	if err != nil {
		return errors.Wrap(err, "dial venue")
	}
	l.conn = conn
	logs.Infof("venue session connected, url: %s", l.cfg.URL)

	go l.readPump()
	go l.writePump()
	return nil
}

// Submit sends the request and waits for the venue ack. A missing ack
// within AckTimeout returns ErrGatewayTimeout; the order's true state
// is then unknown until a report arrives.
func (l *Live) Submit(ctx context.Context, req schema.OrderRequest) error {
	if l.closed.Load() {
		return errors.Wrap(errors.ErrInvariant, "live gateway closed")
	}
	msg, err := l.encodeRequest(req)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal order frame")
	}

	ack := make(chan liveFrame, 1)
	l.mu.Lock()
	l.pending[req.OrderID] = ack
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.pending, req.OrderID)
		l.mu.Unlock()
	}()

	select {
	case l.send <- raw:
	case <-l.done:
		return errors.Wrap(errors.ErrInvariant, "live gateway closed")
	case <-ctx.Done():
		return ctx.Err()
	}

	timer := time.NewTimer(l.cfg.AckTimeout)
	defer timer.Stop()
	select {
	case frame := <-ack:
		if !frame.OK {
			return errors.Wrap(errors.ErrInvariant,
				fmt.Sprintf("venue nack order %d: %s", req.OrderID, frame.Reason))
		}
		return nil
	case <-timer.C:
		return errors.Wrap(errors.ErrGatewayTimeout,
			fmt.Sprintf("order %d", req.OrderID))
	case <-l.done:
		return errors.Wrap(errors.ErrInvariant, "live gateway closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnMarket is a no-op; the venue matches orders itself.
func (l *Live) OnMarket(ts int64, md schema.MarketData) {}

// Events is the translated execution report feed.
func (l *Live) Events() <-chan sequencer.Event {
	return l.events
}

// Close stops the pumps and closes the event feed.
func (l *Live) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(l.done)
	if l.conn != nil {
		l.conn.Close()
	}
	close(l.events)
	return nil
}

func (l *Live) writePump() {
	ticker := time.NewTicker(l.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case raw := <-l.send:
			l.conn.SetWriteDeadline(time.Now().Add(l.cfg.WriteTimeout))
			if err := l.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				logs.Errorf("venue write failed, err: %+v", err)
				return
			}
		case <-ticker.C:
			l.conn.SetWriteDeadline(time.Now().Add(l.cfg.WriteTimeout))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (l *Live) readPump() {
	l.conn.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout))
	l.conn.SetPongHandler(func(string) error {
		l.conn.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout))
		return nil
	})
	for {
		_, raw, err := l.conn.ReadMessage()
		if err != nil {
			if !l.closed.Load() {
				logs.Errorf("venue read failed, err: %+v", err)
			}
			return
		}
		l.conn.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout))

		var frame liveFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			logs.Warnf("drop malformed venue frame, err: %+v", err)
			continue
		}
		switch frame.Op {
		case "ack":
			l.dispatchAck(frame)
		case "report":
			l.dispatchReport(frame)
		}
	}
}

func (l *Live) dispatchAck(frame liveFrame) {
	l.mu.Lock()
	ack := l.pending[frame.OrderID]
	l.mu.Unlock()
	if ack == nil {
		return
	}
	select {
	case ack <- frame:
	default:
	}
}

func (l *Live) dispatchReport(frame liveFrame) {
	au, err := l.decodeReport(frame)
	if err != nil {
		logs.Warnf("drop venue report, order: %d, err: %+v", frame.OrderID, err)
		return
	}
	ts := frame.Ts
	if ts == 0 {
		ts = time.Now().UTC().UnixNano()
	}
	ev := sequencer.NewAccountEvent(l.cfg.Source, ts, time.Now().UTC().UnixNano(), au)
	select {
	case l.events <- ev:
	case <-l.done:
	}
}

func (l *Live) encodeRequest(req schema.OrderRequest) (liveOrderMsg, error) {
	if req.Kind == schema.RequestCancel {
		return liveOrderMsg{Op: "order.cancel", OrderID: req.OrderID}, nil
	}
	inst, ok := l.reg.Instrument(req.Instrument)
	if !ok {
		return liveOrderMsg{}, errors.Wrap(errors.ErrInvariant,
			fmt.Sprintf("unknown instrument %d", req.Instrument))
	}
	msg := liveOrderMsg{
		Op:      "order.place",
		OrderID: req.OrderID,
		Symbol:  inst.Name,
		Side:    sideString(req.Side),
		Type:    typeString(req.Type),
		Qty:     schema.FormatScaled(int64(req.Qty), inst.Scale.QuantityScale),
	}
	if req.TimeInForce == schema.TimeInForceIOC {
		msg.TimeInForce = "IOC"
	}
	if req.Type == schema.OrderTypeLimit {
		msg.Price = schema.FormatScaled(int64(req.Price), inst.Scale.PriceScale)
	}
	return msg, nil
}

func (l *Live) decodeReport(frame liveFrame) (schema.AccountUpdate, error) {
	instID, ok := l.reg.InstrumentIDByName(frame.Symbol)
	if !ok {
		return schema.AccountUpdate{}, fmt.Errorf("unknown symbol %q", frame.Symbol)
	}
	inst, _ := l.reg.Instrument(instID)

	au := schema.AccountUpdate{
		UpdateID:   frame.UpdateID,
		OrderID:    frame.OrderID,
		Instrument: instID,
	}
	switch frame.Status {
	case "accepted":
		au.Kind = schema.AccountOrderAccepted
	case "rejected":
		au.Kind = schema.AccountOrderRejected
		au.Reason = schema.RejectReasonVenue
	case "filled", "partial":
		au.Kind = schema.AccountFill
	case "cancelled":
		au.Kind = schema.AccountCancelled
	default:
		return schema.AccountUpdate{}, fmt.Errorf("unknown status %q", frame.Status)
	}

	var err error
	if au.Price, err = parsePrice(frame.Price, inst.Scale.PriceScale); err != nil {
		return schema.AccountUpdate{}, err
	}
	if au.Qty, err = parseQty(frame.Qty, inst.Scale.QuantityScale); err != nil {
		return schema.AccountUpdate{}, err
	}
	if au.LeavesQty, err = parseQty(frame.Leaves, inst.Scale.QuantityScale); err != nil {
		return schema.AccountUpdate{}, err
	}
	fee, err := schema.ParseScaled(frame.Fee.String(), inst.Scale.NotionalScale)
	if err != nil {
		return schema.AccountUpdate{}, err
	}
	au.Fee = schema.Fee(fee)
	return au, nil
}

func parsePrice(d decimal.Decimal, scale schema.Scale) (schema.Price, error) {
	v, err := schema.ParseScaled(d.String(), scale)
	return schema.Price(v), err
}

func parseQty(d decimal.Decimal, scale schema.Scale) (schema.Quantity, error) {
	v, err := schema.ParseScaled(d.String(), scale)
	return schema.Quantity(v), err
}

func sideString(s schema.Side) string {
	if s == schema.SideSell {
		return "sell"
	}
	return "buy"
}

func typeString(t schema.OrderType) string {
	if t == schema.OrderTypeMarket {
		return "market"
	}
	return "limit"
}
