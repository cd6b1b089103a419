package codec

import (
	"encoding/binary"

	"tradecore/internal/schema"
)

const MarketDataPayloadSize = 60

// EncodeMarketData serializes market data into a fixed-size payload.
func EncodeMarketData(dst []byte, md schema.MarketData) []byte {
	if cap(dst) < MarketDataPayloadSize {
		dst = make([]byte, MarketDataPayloadSize)
	} else {
		dst = dst[:MarketDataPayloadSize]
	}

	binary.LittleEndian.PutUint32(dst[0:4], uint32(md.Instrument))
	binary.LittleEndian.PutUint16(dst[4:6], uint16(md.Kind))
	binary.LittleEndian.PutUint16(dst[6:8], md.Flags)
	binary.LittleEndian.PutUint16(dst[8:10], uint16(md.Side))
	binary.LittleEndian.PutUint16(dst[10:12], 0)
	binary.LittleEndian.PutUint64(dst[12:20], uint64(md.Price))
	binary.LittleEndian.PutUint64(dst[20:28], uint64(md.Size))
	binary.LittleEndian.PutUint64(dst[28:36], uint64(md.BidPrice))
	binary.LittleEndian.PutUint64(dst[36:44], uint64(md.BidSize))
	binary.LittleEndian.PutUint64(dst[44:52], uint64(md.AskPrice))
	binary.LittleEndian.PutUint64(dst[52:60], uint64(md.AskSize))

	return dst
}

// DecodeMarketData parses a fixed-size market data payload.
func DecodeMarketData(src []byte) (schema.MarketData, bool) {
	if len(src) < MarketDataPayloadSize {
		return schema.MarketData{}, false
	}
	return schema.MarketData{
		Instrument: schema.InstrumentID(binary.LittleEndian.Uint32(src[0:4])),
		Kind:       schema.MarketDataKind(binary.LittleEndian.Uint16(src[4:6])),
		Flags:      binary.LittleEndian.Uint16(src[6:8]),
		Side:       schema.Side(binary.LittleEndian.Uint16(src[8:10])),
		Price:      schema.Price(int64(binary.LittleEndian.Uint64(src[12:20]))),
		Size:       schema.Quantity(int64(binary.LittleEndian.Uint64(src[20:28]))),
		BidPrice:   schema.Price(int64(binary.LittleEndian.Uint64(src[28:36]))),
		BidSize:    schema.Quantity(int64(binary.LittleEndian.Uint64(src[36:44]))),
		AskPrice:   schema.Price(int64(binary.LittleEndian.Uint64(src[44:52]))),
		AskSize:    schema.Quantity(int64(binary.LittleEndian.Uint64(src[52:60]))),
	}, true
}
