package errors

import (
	"errors"
)

var (
	_ error = (*wrappedError)(nil)
)

// Engine fault taxonomy. Every recoverable fault wraps one of these
// sentinels so callers can classify with errors.Is.
var (
	// ErrInvariant marks a state mutation that would break a store
	// invariant. The offending event is dropped; the engine continues.
	ErrInvariant = errors.New("state invariant violation")

	// ErrDuplicateEvent marks a duplicate account update id. The event is
	// dropped; the engine continues.
	ErrDuplicateEvent = errors.New("duplicate account event")

	// ErrStrategyFault marks a strategy plugin failure. The signal is
	// dropped; the engine continues.
	ErrStrategyFault = errors.New("strategy fault")

	// ErrRiskFault marks a risk manager plugin failure. The signal is
	// dropped; the engine continues.
	ErrRiskFault = errors.New("risk manager fault")

	// ErrGatewayTimeout marks a missing execution acknowledgment within
	// the configured bound. The order is left Unknown-Pending.
	ErrGatewayTimeout = errors.New("gateway acknowledgment timeout")

	// ErrSequencerFatal marks a permanently failed upstream source. The
	// engine drains and stops.
	ErrSequencerFatal = errors.New("sequencer source failed")
)

func New(text string) error {
	return errors.New(text)
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func Wrap(err error, text string) error {
	if err == nil {
		return nil
	}

	if len(text) == 0 {
		return err
	}

	return &wrappedError{
		err: err,
		msg: text,
	}
}

type wrappedError struct {
	err error
	msg string
}

const sep = ", err: "

func (err wrappedError) Error() string {
	if err.err == nil {
		return err.msg
	}

	return err.msg + sep + err.err.Error()
}

func (err wrappedError) Unwrap() error {
	if err.err == nil {
		return errors.New(err.msg)
	}

	return err.err
}
