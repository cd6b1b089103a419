package codec

import (
	"encoding/binary"

	"tradecore/internal/schema"
)

const RiskDecisionPayloadSize = 36 + OrderRequestPayloadSize

// EncodeRiskDecision serializes a risk decision into a fixed-size payload.
func EncodeRiskDecision(dst []byte, decision schema.RiskDecision) []byte {
	if cap(dst) < RiskDecisionPayloadSize {
		dst = make([]byte, RiskDecisionPayloadSize)
	} else {
		dst = dst[:RiskDecisionPayloadSize]
	}

	binary.LittleEndian.PutUint32(dst[0:4], decision.StrategyID)
	binary.LittleEndian.PutUint32(dst[4:8], uint32(decision.Instrument))
	binary.LittleEndian.PutUint16(dst[8:10], uint16(decision.Action))
	binary.LittleEndian.PutUint16(dst[10:12], uint16(decision.Reason))
	binary.LittleEndian.PutUint64(dst[12:20], uint64(decision.CurrentPos))
	binary.LittleEndian.PutUint64(dst[20:28], uint64(decision.MaxPos))
	binary.LittleEndian.PutUint64(dst[28:36], uint64(decision.MaxNotional))
	encodeOrderRequestInto(dst[36:], decision.Request)

	return dst
}

// DecodeRiskDecision parses a fixed-size risk decision payload.
func DecodeRiskDecision(src []byte) (schema.RiskDecision, bool) {
	if len(src) < RiskDecisionPayloadSize {
		return schema.RiskDecision{}, false
	}
	return schema.RiskDecision{
		StrategyID:  binary.LittleEndian.Uint32(src[0:4]),
		Instrument:  schema.InstrumentID(binary.LittleEndian.Uint32(src[4:8])),
		Action:      schema.RiskAction(binary.LittleEndian.Uint16(src[8:10])),
		Reason:      schema.RiskReason(binary.LittleEndian.Uint16(src[10:12])),
		CurrentPos:  schema.Quantity(int64(binary.LittleEndian.Uint64(src[12:20]))),
		MaxPos:      schema.Quantity(int64(binary.LittleEndian.Uint64(src[20:28]))),
		MaxNotional: schema.Notional(int64(binary.LittleEndian.Uint64(src[28:36]))),
		Request:     decodeOrderRequestFrom(src[36:]),
	}, true
}
