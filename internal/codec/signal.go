package codec

import (
	"encoding/binary"

	"tradecore/internal/schema"
)

const SignalPayloadSize = 32

// EncodeSignal serializes a signal into a fixed-size payload.
func EncodeSignal(dst []byte, sig schema.Signal) []byte {
	if cap(dst) < SignalPayloadSize {
		dst = make([]byte, SignalPayloadSize)
	} else {
		dst = dst[:SignalPayloadSize]
	}

	binary.LittleEndian.PutUint32(dst[0:4], sig.StrategyID)
	binary.LittleEndian.PutUint32(dst[4:8], uint32(sig.Instrument))
	binary.LittleEndian.PutUint16(dst[8:10], uint16(sig.Intent))
	binary.LittleEndian.PutUint16(dst[10:12], uint16(sig.Side))
	binary.LittleEndian.PutUint32(dst[12:16], 0)
	binary.LittleEndian.PutUint64(dst[16:24], uint64(sig.SizeHint))
	binary.LittleEndian.PutUint64(dst[24:32], sig.CancelOrderID)

	return dst
}

// DecodeSignal parses a fixed-size signal payload.
func DecodeSignal(src []byte) (schema.Signal, bool) {
	if len(src) < SignalPayloadSize {
		return schema.Signal{}, false
	}
	return schema.Signal{
		StrategyID:    binary.LittleEndian.Uint32(src[0:4]),
		Instrument:    schema.InstrumentID(binary.LittleEndian.Uint32(src[4:8])),
		Intent:        schema.SignalIntent(binary.LittleEndian.Uint16(src[8:10])),
		Side:          schema.Side(binary.LittleEndian.Uint16(src[10:12])),
		SizeHint:      schema.Quantity(int64(binary.LittleEndian.Uint64(src[16:24]))),
		CancelOrderID: binary.LittleEndian.Uint64(src[24:32]),
	}, true
}
