package codec

import (
	"encoding/binary"

	"tradecore/internal/schema"
)

const (
	CommandPayloadSize = 4
	FaultPayloadSize   = 16
)

// EncodeCommand serializes a control command into a fixed-size payload.
func EncodeCommand(dst []byte, cmd schema.Command) []byte {
	if cap(dst) < CommandPayloadSize {
		dst = make([]byte, CommandPayloadSize)
	} else {
		dst = dst[:CommandPayloadSize]
	}
	binary.LittleEndian.PutUint16(dst[0:2], uint16(cmd.Kind))
	binary.LittleEndian.PutUint16(dst[2:4], cmd.Flags)
	return dst
}

// DecodeCommand parses a fixed-size command payload.
func DecodeCommand(src []byte) (schema.Command, bool) {
	if len(src) < CommandPayloadSize {
		return schema.Command{}, false
	}
	return schema.Command{
		Kind:  schema.CommandKind(binary.LittleEndian.Uint16(src[0:2])),
		Flags: binary.LittleEndian.Uint16(src[2:4]),
	}, true
}

// EncodeFault serializes a fault record into a fixed-size payload.
func EncodeFault(dst []byte, fault schema.Fault) []byte {
	if cap(dst) < FaultPayloadSize {
		dst = make([]byte, FaultPayloadSize)
	} else {
		dst = dst[:FaultPayloadSize]
	}
	binary.LittleEndian.PutUint16(dst[0:2], uint16(fault.Kind))
	binary.LittleEndian.PutUint16(dst[2:4], fault.Flags)
	binary.LittleEndian.PutUint32(dst[4:8], uint32(fault.Instrument))
	binary.LittleEndian.PutUint64(dst[8:16], fault.OrderID)
	return dst
}

// DecodeFault parses a fixed-size fault payload.
func DecodeFault(src []byte) (schema.Fault, bool) {
	if len(src) < FaultPayloadSize {
		return schema.Fault{}, false
	}
	return schema.Fault{
		Kind:       schema.FaultKind(binary.LittleEndian.Uint16(src[0:2])),
		Flags:      binary.LittleEndian.Uint16(src[2:4]),
		Instrument: schema.InstrumentID(binary.LittleEndian.Uint32(src[4:8])),
		OrderID:    binary.LittleEndian.Uint64(src[8:16]),
	}, true
}
