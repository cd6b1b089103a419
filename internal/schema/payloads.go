package schema

// Price is a scaled integer. The scale is defined per instrument.
type Price int64

// Quantity is a scaled integer. The scale is defined per instrument.
type Quantity int64

// Notional is a scaled integer. The scale is defined per instrument.
type Notional int64

// Fee is a scaled integer. The scale is defined per instrument.
type Fee int64

// Side describes trade or order direction.
type Side uint16

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// MarketDataKind describes the meaning of the market data payload.
type MarketDataKind uint16

const (
	MarketDataUnknown MarketDataKind = iota
	MarketDataQuote
	MarketDataTrade
	MarketDataBookDelta
)

// EventType maps the kind to its engine event type.
func (k MarketDataKind) EventType() EventType {
	switch k {
	case MarketDataQuote:
		return EventQuote
	case MarketDataTrade:
		return EventTrade
	case MarketDataBookDelta:
		return EventBookDelta
	default:
		return EventUnknown
	}
}

// MarketData is the payload for quote, trade and book-delta events.
// Quote fields are populated for MarketDataQuote; Price/Size/Side for
// MarketDataTrade and MarketDataBookDelta. Immutable once constructed.
type MarketData struct {
	Instrument InstrumentID
	Kind       MarketDataKind
	Flags      uint16
	Price      Price
	Size       Quantity
	Side       Side
	BidPrice   Price
	BidSize    Quantity
	AskPrice   Price
	AskSize    Quantity
}

// AccountKind describes the meaning of an account update.
type AccountKind uint16

const (
	AccountUnknown AccountKind = iota
	AccountOrderAccepted
	AccountOrderRejected
	AccountFill
	AccountCancelled
)

// EventType maps the kind to its engine event type.
func (k AccountKind) EventType() EventType {
	switch k {
	case AccountOrderAccepted:
		return EventOrderAccepted
	case AccountOrderRejected:
		return EventOrderRejected
	case AccountFill:
		return EventFill
	case AccountCancelled:
		return EventCancelled
	default:
		return EventUnknown
	}
}

// RejectReason is a coarse reason code for order rejections.
type RejectReason uint16

const (
	RejectReasonNone RejectReason = iota
	RejectReasonVenue
	RejectReasonRisk
	RejectReasonInvalidPrice
	RejectReasonInvalidQty
	RejectReasonNoMarket
	RejectReasonUnknownOrder
)

// AccountUpdate is the payload for all account events emitted by an
// execution gateway. UpdateID is strictly increasing per order and is the
// state store's duplicate-delivery guard. Immutable once constructed.
type AccountUpdate struct {
	Kind       AccountKind
	UpdateID   uint64
	OrderID    uint64
	Instrument InstrumentID
	Side       Side
	Flags      uint16
	Reason     RejectReason
	Price      Price
	Qty        Quantity
	LeavesQty  Quantity
	Fee        Fee
}

// SignalIntent describes what a strategy wants to do.
type SignalIntent uint16

const (
	IntentUnknown SignalIntent = iota
	IntentEnter
	IntentExit
	IntentCancel
)

// Signal is a strategy's trading intent before risk approval. It is
// ephemeral: it lives only for the decision that consumes it, though a
// copy is kept in the audit record.
type Signal struct {
	StrategyID    uint32
	Instrument    InstrumentID
	Intent        SignalIntent
	Side          Side
	SizeHint      Quantity
	CancelOrderID uint64
}

// OrderType describes order pricing.
type OrderType uint16

const (
	OrderTypeUnknown OrderType = iota
	OrderTypeLimit
	OrderTypeMarket
)

// TimeInForce describes order time-in-force.
type TimeInForce uint16

const (
	TimeInForceUnknown TimeInForce = iota
	TimeInForceGTC
	TimeInForceIOC
	TimeInForceFOK
)

// RequestKind separates new-order requests from cancels.
type RequestKind uint16

const (
	RequestNew RequestKind = iota + 1
	RequestCancel
)

// OrderRequest is a risk-approved, fully specified order ready for the
// execution gateway. Produced at most once per approved signal.
type OrderRequest struct {
	Kind        RequestKind
	OrderID     uint64
	StrategyID  uint32
	Instrument  InstrumentID
	Side        Side
	Type        OrderType
	TimeInForce TimeInForce
	Flags       uint16
	Price       Price
	Qty         Quantity
}

// RiskAction is the outcome of a risk decision.
type RiskAction uint16

const (
	RiskActionUnknown RiskAction = iota
	RiskActionAllow
	RiskActionDeny
)

// RiskReason is a coarse reason code for risk decisions.
type RiskReason uint16

const (
	RiskReasonNone RiskReason = iota
	RiskReasonKillSwitch
	RiskReasonMaxQty
	RiskReasonMaxNotional
	RiskReasonRateLimit
	RiskReasonPriceBand
	RiskReasonPositionLimit
	RiskReasonInsufficientFunds
	RiskReasonNoReference
	RiskReasonBadSignal
)

// RiskDecision is the risk manager's verdict on a single signal. When the
// action is Allow, Request holds the order to forward to the gateway.
type RiskDecision struct {
	StrategyID  uint32
	Instrument  InstrumentID
	Action      RiskAction
	Reason      RiskReason
	CurrentPos  Quantity
	MaxPos      Quantity
	MaxNotional Notional
	Request     OrderRequest
}

// CommandKind describes an engine control command.
type CommandKind uint16

const (
	CommandUnknown CommandKind = iota
	CommandShutdown
	CommandSnapshot
)

// Command is the payload for engine control events.
type Command struct {
	Kind  CommandKind
	Flags uint16
}

// FaultKind categorizes recoverable faults recorded in the audit trail.
type FaultKind uint16

const (
	FaultUnknown FaultKind = iota
	FaultInvariantViolation
	FaultDuplicateEvent
	FaultStrategy
	FaultRisk
	FaultGatewayTimeout
	FaultGatewayReject
)

func (k FaultKind) String() string {
	switch k {
	case FaultInvariantViolation:
		return "invariantViolation"
	case FaultDuplicateEvent:
		return "duplicateEvent"
	case FaultStrategy:
		return "strategyFault"
	case FaultRisk:
		return "riskFault"
	case FaultGatewayTimeout:
		return "gatewayTimeout"
	case FaultGatewayReject:
		return "gatewayReject"
	default:
		return "unknown"
	}
}

// Fault records a recoverable error isolated to one event or signal.
type Fault struct {
	Kind       FaultKind
	Instrument InstrumentID
	OrderID    uint64
	Flags      uint16
}
