package codec

import (
	"encoding/binary"

	"tradecore/internal/schema"
)

const AccountUpdatePayloadSize = 60

// EncodeAccountUpdate serializes an account update into a fixed-size payload.
func EncodeAccountUpdate(dst []byte, au schema.AccountUpdate) []byte {
	if cap(dst) < AccountUpdatePayloadSize {
		dst = make([]byte, AccountUpdatePayloadSize)
	} else {
		dst = dst[:AccountUpdatePayloadSize]
	}

	binary.LittleEndian.PutUint64(dst[0:8], au.UpdateID)
	binary.LittleEndian.PutUint64(dst[8:16], au.OrderID)
	binary.LittleEndian.PutUint32(dst[16:20], uint32(au.Instrument))
	binary.LittleEndian.PutUint16(dst[20:22], uint16(au.Kind))
	binary.LittleEndian.PutUint16(dst[22:24], uint16(au.Side))
	binary.LittleEndian.PutUint16(dst[24:26], au.Flags)
	binary.LittleEndian.PutUint16(dst[26:28], uint16(au.Reason))
	binary.LittleEndian.PutUint64(dst[28:36], uint64(au.Price))
	binary.LittleEndian.PutUint64(dst[36:44], uint64(au.Qty))
	binary.LittleEndian.PutUint64(dst[44:52], uint64(au.LeavesQty))
	binary.LittleEndian.PutUint64(dst[52:60], uint64(au.Fee))

	return dst
}

// DecodeAccountUpdate parses a fixed-size account update payload.
func DecodeAccountUpdate(src []byte) (schema.AccountUpdate, bool) {
	if len(src) < AccountUpdatePayloadSize {
		return schema.AccountUpdate{}, false
	}
	return schema.AccountUpdate{
		UpdateID:   binary.LittleEndian.Uint64(src[0:8]),
		OrderID:    binary.LittleEndian.Uint64(src[8:16]),
		Instrument: schema.InstrumentID(binary.LittleEndian.Uint32(src[16:20])),
		Kind:       schema.AccountKind(binary.LittleEndian.Uint16(src[20:22])),
		Side:       schema.Side(binary.LittleEndian.Uint16(src[22:24])),
		Flags:      binary.LittleEndian.Uint16(src[24:26]),
		Reason:     schema.RejectReason(binary.LittleEndian.Uint16(src[26:28])),
		Price:      schema.Price(int64(binary.LittleEndian.Uint64(src[28:36]))),
		Qty:        schema.Quantity(int64(binary.LittleEndian.Uint64(src[36:44]))),
		LeavesQty:  schema.Quantity(int64(binary.LittleEndian.Uint64(src[44:52]))),
		Fee:        schema.Fee(int64(binary.LittleEndian.Uint64(src[52:60]))),
	}, true
}
