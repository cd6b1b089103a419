package codec

import (
	"encoding/binary"

	"tradecore/internal/schema"
)

const OrderRequestPayloadSize = 44

// EncodeOrderRequest serializes an order request into a fixed-size payload.
func EncodeOrderRequest(dst []byte, req schema.OrderRequest) []byte {
	if cap(dst) < OrderRequestPayloadSize {
		dst = make([]byte, OrderRequestPayloadSize)
	} else {
		dst = dst[:OrderRequestPayloadSize]
	}

	encodeOrderRequestInto(dst, req)
	return dst
}

func encodeOrderRequestInto(dst []byte, req schema.OrderRequest) {
	binary.LittleEndian.PutUint64(dst[0:8], req.OrderID)
	binary.LittleEndian.PutUint32(dst[8:12], req.StrategyID)
	binary.LittleEndian.PutUint32(dst[12:16], uint32(req.Instrument))
	binary.LittleEndian.PutUint16(dst[16:18], uint16(req.Kind))
	binary.LittleEndian.PutUint16(dst[18:20], uint16(req.Side))
	binary.LittleEndian.PutUint16(dst[20:22], uint16(req.Type))
	binary.LittleEndian.PutUint16(dst[22:24], uint16(req.TimeInForce))
	binary.LittleEndian.PutUint16(dst[24:26], req.Flags)
	binary.LittleEndian.PutUint16(dst[26:28], 0)
	binary.LittleEndian.PutUint64(dst[28:36], uint64(req.Price))
	binary.LittleEndian.PutUint64(dst[36:44], uint64(req.Qty))
}

// DecodeOrderRequest parses a fixed-size order request payload.
func DecodeOrderRequest(src []byte) (schema.OrderRequest, bool) {
	if len(src) < OrderRequestPayloadSize {
		return schema.OrderRequest{}, false
	}
	return decodeOrderRequestFrom(src), true
}

func decodeOrderRequestFrom(src []byte) schema.OrderRequest {
	return schema.OrderRequest{
		OrderID:     binary.LittleEndian.Uint64(src[0:8]),
		StrategyID:  binary.LittleEndian.Uint32(src[8:12]),
		Instrument:  schema.InstrumentID(binary.LittleEndian.Uint32(src[12:16])),
		Kind:        schema.RequestKind(binary.LittleEndian.Uint16(src[16:18])),
		Side:        schema.Side(binary.LittleEndian.Uint16(src[18:20])),
		Type:        schema.OrderType(binary.LittleEndian.Uint16(src[20:22])),
		TimeInForce: schema.TimeInForce(binary.LittleEndian.Uint16(src[22:24])),
		Flags:       binary.LittleEndian.Uint16(src[24:26]),
		Price:       schema.Price(int64(binary.LittleEndian.Uint64(src[28:36]))),
		Qty:         schema.Quantity(int64(binary.LittleEndian.Uint64(src[36:44]))),
	}
}
