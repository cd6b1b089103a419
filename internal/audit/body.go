package audit

import (
	"encoding/binary"
	"fmt"

	"tradecore/internal/codec"
	"tradecore/internal/pipeline"
	"tradecore/internal/schema"
	"tradecore/internal/sequencer"
	"tradecore/internal/state"
)

const (
	bodyPrefixSize   = 12
	deltaEncodedSize = 88
)

// EncodeBody serializes everything one event produced, minus the event
// header (the record header carries it). Layout: fixed prefix, the
// event payload, the state delta, then the signal, decision, request
// and fault arrays with sizes taken from the prefix counts.
func EncodeBody(dst []byte, res pipeline.Result) []byte {
	size := bodySize(res)
	if cap(dst) < size {
		dst = make([]byte, size)
	} else {
		dst = dst[:size]
	}

	applied := byte(0)
	if res.Applied {
		applied = 1
	}
	dst[0] = applied
	dst[1] = 0
	binary.LittleEndian.PutUint16(dst[2:4], uint16(len(res.Signals)))
	binary.LittleEndian.PutUint16(dst[4:6], uint16(len(res.Decisions)))
	binary.LittleEndian.PutUint16(dst[6:8], uint16(len(res.Requests)))
	binary.LittleEndian.PutUint16(dst[8:10], uint16(len(res.Faults)))
	binary.LittleEndian.PutUint16(dst[10:12], 0)

	off := bodyPrefixSize
	off += encodeEventPayload(dst[off:], res.Event)
	encodeDelta(dst[off:], res.Delta)
	off += deltaEncodedSize
	for _, sig := range res.Signals {
		codec.EncodeSignal(dst[off:off+codec.SignalPayloadSize], sig)
		off += codec.SignalPayloadSize
	}
	for _, d := range res.Decisions {
		codec.EncodeRiskDecision(dst[off:off+codec.RiskDecisionPayloadSize], d)
		off += codec.RiskDecisionPayloadSize
	}
	for _, req := range res.Requests {
		codec.EncodeOrderRequest(dst[off:off+codec.OrderRequestPayloadSize], req)
		off += codec.OrderRequestPayloadSize
	}
	for _, f := range res.Faults {
		codec.EncodeFault(dst[off:off+codec.FaultPayloadSize], f)
		off += codec.FaultPayloadSize
	}
	return dst
}

// Record is one decoded audit entry.
type Record struct {
	Event     sequencer.Event
	Applied   bool
	Delta     state.Delta
	Signals   []schema.Signal
	Decisions []schema.RiskDecision
	Requests  []schema.OrderRequest
	Faults    []schema.Fault
}

// DecodeBody rebuilds a record from a record header and body.
func DecodeBody(header schema.EventHeader, body []byte) (Record, error) {
	if len(body) < bodyPrefixSize {
		return Record{}, fmt.Errorf("audit body too short: %d", len(body))
	}
	rec := Record{
		Event:   sequencer.Event{Header: header},
		Applied: body[0] == 1,
	}
	signals := int(binary.LittleEndian.Uint16(body[2:4]))
	decisions := int(binary.LittleEndian.Uint16(body[4:6]))
	requests := int(binary.LittleEndian.Uint16(body[6:8]))
	faults := int(binary.LittleEndian.Uint16(body[8:10]))

	off := bodyPrefixSize
	n, err := decodeEventPayload(&rec.Event, body[off:])
	if err != nil {
		return Record{}, err
	}
	off += n
	if len(body) < off+deltaEncodedSize {
		return Record{}, fmt.Errorf("audit body truncated at delta")
	}
	rec.Delta = decodeDelta(body[off:])
	off += deltaEncodedSize

	want := signals*codec.SignalPayloadSize +
		decisions*codec.RiskDecisionPayloadSize +
		requests*codec.OrderRequestPayloadSize +
		faults*codec.FaultPayloadSize
	if len(body) < off+want {
		return Record{}, fmt.Errorf("audit body truncated at arrays")
	}
	for i := 0; i < signals; i++ {
		sig, _ := codec.DecodeSignal(body[off:])
		rec.Signals = append(rec.Signals, sig)
		off += codec.SignalPayloadSize
	}
	for i := 0; i < decisions; i++ {
		d, _ := codec.DecodeRiskDecision(body[off:])
		rec.Decisions = append(rec.Decisions, d)
		off += codec.RiskDecisionPayloadSize
	}
	for i := 0; i < requests; i++ {
		req, _ := codec.DecodeOrderRequest(body[off:])
		rec.Requests = append(rec.Requests, req)
		off += codec.OrderRequestPayloadSize
	}
	for i := 0; i < faults; i++ {
		f, _ := codec.DecodeFault(body[off:])
		rec.Faults = append(rec.Faults, f)
		off += codec.FaultPayloadSize
	}
	return rec, nil
}

func bodySize(res pipeline.Result) int {
	return bodyPrefixSize +
		eventPayloadSize(res.Event.Header.Type) +
		deltaEncodedSize +
		len(res.Signals)*codec.SignalPayloadSize +
		len(res.Decisions)*codec.RiskDecisionPayloadSize +
		len(res.Requests)*codec.OrderRequestPayloadSize +
		len(res.Faults)*codec.FaultPayloadSize
}

func eventPayloadSize(t schema.EventType) int {
	switch {
	case t.IsMarket():
		return codec.MarketDataPayloadSize
	case t.IsAccount():
		return codec.AccountUpdatePayloadSize
	case t == schema.EventCommand:
		return codec.CommandPayloadSize
	default:
		return 0
	}
}

func encodeEventPayload(dst []byte, ev sequencer.Event) int {
	switch {
	case ev.Header.Type.IsMarket():
		codec.EncodeMarketData(dst[:codec.MarketDataPayloadSize], ev.Market)
		return codec.MarketDataPayloadSize
	case ev.Header.Type.IsAccount():
		codec.EncodeAccountUpdate(dst[:codec.AccountUpdatePayloadSize], ev.Account)
		return codec.AccountUpdatePayloadSize
	case ev.Header.Type == schema.EventCommand:
		codec.EncodeCommand(dst[:codec.CommandPayloadSize], ev.Command)
		return codec.CommandPayloadSize
	default:
		return 0
	}
}

func decodeEventPayload(ev *sequencer.Event, src []byte) (int, error) {
	switch {
	case ev.Header.Type.IsMarket():
		md, ok := codec.DecodeMarketData(src)
		if !ok {
			return 0, fmt.Errorf("audit body truncated at market payload")
		}
		ev.Market = md
		return codec.MarketDataPayloadSize, nil
	case ev.Header.Type.IsAccount():
		au, ok := codec.DecodeAccountUpdate(src)
		if !ok {
			return 0, fmt.Errorf("audit body truncated at account payload")
		}
		ev.Account = au
		return codec.AccountUpdatePayloadSize, nil
	case ev.Header.Type == schema.EventCommand:
		cmd, ok := codec.DecodeCommand(src)
		if !ok {
			return 0, fmt.Errorf("audit body truncated at command payload")
		}
		ev.Command = cmd
		return codec.CommandPayloadSize, nil
	default:
		return 0, nil
	}
}

func encodeDelta(dst []byte, d state.Delta) {
	_ = dst[deltaEncodedSize-1]
	binary.LittleEndian.PutUint64(dst[0:8], d.OrderID)
	binary.LittleEndian.PutUint16(dst[8:10], uint16(d.OrderStatus))
	binary.LittleEndian.PutUint16(dst[10:12], d.BalanceCount)
	binary.LittleEndian.PutUint32(dst[12:16], uint32(d.Instrument))
	binary.LittleEndian.PutUint64(dst[16:24], uint64(d.LeavesQty))
	binary.LittleEndian.PutUint64(dst[24:32], uint64(d.PositionQty))
	binary.LittleEndian.PutUint64(dst[32:40], uint64(d.AvgEntry))
	binary.LittleEndian.PutUint64(dst[40:48], uint64(d.RealizedPnL))
	off := 48
	for i := range d.Balances {
		binary.LittleEndian.PutUint16(dst[off:off+2], uint16(d.Balances[i].Asset))
		binary.LittleEndian.PutUint16(dst[off+2:off+4], 0)
		binary.LittleEndian.PutUint64(dst[off+4:off+12], uint64(d.Balances[i].Total))
		binary.LittleEndian.PutUint64(dst[off+12:off+20], uint64(d.Balances[i].Available))
		off += 20
	}
}

func decodeDelta(src []byte) state.Delta {
	d := state.Delta{
		OrderID:      binary.LittleEndian.Uint64(src[0:8]),
		OrderStatus:  state.OrderStatus(binary.LittleEndian.Uint16(src[8:10])),
		BalanceCount: binary.LittleEndian.Uint16(src[10:12]),
		Instrument:   schema.InstrumentID(binary.LittleEndian.Uint32(src[12:16])),
		LeavesQty:    schema.Quantity(binary.LittleEndian.Uint64(src[16:24])),
		PositionQty:  schema.Quantity(binary.LittleEndian.Uint64(src[24:32])),
		AvgEntry:     schema.Price(binary.LittleEndian.Uint64(src[32:40])),
		RealizedPnL:  schema.Notional(binary.LittleEndian.Uint64(src[40:48])),
	}
	off := 48
	for i := range d.Balances {
		d.Balances[i] = state.BalanceDelta{
			Asset:     schema.AssetID(binary.LittleEndian.Uint16(src[off : off+2])),
			Total:     schema.Notional(binary.LittleEndian.Uint64(src[off+4 : off+12])),
			Available: schema.Notional(binary.LittleEndian.Uint64(src[off+12 : off+20])),
		}
		off += 20
	}
	return d
}
