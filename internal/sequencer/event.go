package sequencer

import "tradecore/internal/schema"

// Event is the sequencer's unifying wrapper: a header plus exactly one
// payload, selected by Header.Type. Payloads are inlined so the hot path
// never allocates per event.
type Event struct {
	Header  schema.EventHeader
	Market  schema.MarketData
	Account schema.AccountUpdate
	Command schema.Command
}

// NewMarketEvent wraps market data in an unsequenced event.
func NewMarketEvent(source schema.SourceID, tsEvent, tsRecv int64, md schema.MarketData) Event {
	return Event{
		Header: schema.NewHeader(md.Kind.EventType(), source, 0, tsEvent, tsRecv),
		Market: md,
	}
}

// NewAccountEvent wraps an account update in an unsequenced event.
func NewAccountEvent(source schema.SourceID, tsEvent, tsRecv int64, au schema.AccountUpdate) Event {
	return Event{
		Header:  schema.NewHeader(au.Kind.EventType(), source, 0, tsEvent, tsRecv),
		Account: au,
	}
}

// NewCommandEvent wraps a control command in an unsequenced event.
func NewCommandEvent(source schema.SourceID, tsEvent int64, cmd schema.Command) Event {
	return Event{
		Header:  schema.NewHeader(schema.EventCommand, source, 0, tsEvent, tsEvent),
		Command: cmd,
	}
}

// IsShutdown reports whether the event is a shutdown command.
func (e Event) IsShutdown() bool {
	return e.Header.Type == schema.EventCommand && e.Command.Kind == schema.CommandShutdown
}
