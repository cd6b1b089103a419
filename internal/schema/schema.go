package schema

// SchemaVersion is the current event schema version.
const SchemaVersion uint16 = 1

// SourceID identifies an upstream event source. The value and its merge
// priority are assigned by configuration.
type SourceID uint16

// EventType defines the category of an event flowing through the engine
// and recorded in the audit trail.
type EventType uint16

const (
	EventUnknown EventType = iota
	EventQuote
	EventTrade
	EventBookDelta
	EventOrderAccepted
	EventOrderRejected
	EventFill
	EventCancelled
	EventSignal
	EventRiskDecision
	EventOrderRequest
	EventFault
	EventCommand
)

// IsMarket reports whether the event carries market data.
func (t EventType) IsMarket() bool {
	switch t {
	case EventQuote, EventTrade, EventBookDelta:
		return true
	default:
		return false
	}
}

// IsAccount reports whether the event carries an account update.
func (t EventType) IsAccount() bool {
	switch t {
	case EventOrderAccepted, EventOrderRejected, EventFill, EventCancelled:
		return true
	default:
		return false
	}
}

func (t EventType) String() string {
	switch t {
	case EventQuote:
		return "quote"
	case EventTrade:
		return "trade"
	case EventBookDelta:
		return "bookDelta"
	case EventOrderAccepted:
		return "orderAccepted"
	case EventOrderRejected:
		return "orderRejected"
	case EventFill:
		return "fill"
	case EventCancelled:
		return "cancelled"
	case EventSignal:
		return "signal"
	case EventRiskDecision:
		return "riskDecision"
	case EventOrderRequest:
		return "orderRequest"
	case EventFault:
		return "fault"
	case EventCommand:
		return "command"
	default:
		return "unknown"
	}
}

// EventHeader is the common metadata attached to every event.
//
// Seq is assigned by the sequencer at ingestion and is strictly monotonic
// across the whole merged stream. Together with (TsEvent, source priority)
// it defines the engine's total event order.
type EventHeader struct {
	Type    EventType
	Version uint16
	Source  SourceID
	Flags   uint16
	Seq     uint64
	TsEvent int64
	TsRecv  int64
	TraceID uint64
}

// NewHeader builds a header with the current schema version.
func NewHeader(eventType EventType, source SourceID, seq uint64, tsEvent, tsRecv int64) EventHeader {
	return EventHeader{
		Type:    eventType,
		Version: SchemaVersion,
		Source:  source,
		Seq:     seq,
		TsEvent: tsEvent,
		TsRecv:  tsRecv,
	}
}
