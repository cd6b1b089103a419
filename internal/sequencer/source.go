package sequencer

import (
	"context"
	"io"

	"tradecore/internal/schema"
)

// Source produces a lazy, time-ordered (within itself) sequence of
// events. Next returns io.EOF once the source is permanently drained;
// any other error is fatal for the source.
type Source interface {
	ID() schema.SourceID
	Next(ctx context.Context) (Event, error)
}

// SliceSource replays a fixed event slice. Used for backtests and tests.
type SliceSource struct {
	id     schema.SourceID
	events []Event
	next   int
}

// NewSliceSource creates a source over pre-built events. The slice must
// already be time-ordered.
func NewSliceSource(id schema.SourceID, events []Event) *SliceSource {
	return &SliceSource{id: id, events: events}
}

func (s *SliceSource) ID() schema.SourceID {
	return s.id
}

func (s *SliceSource) Next(ctx context.Context) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	if s.next >= len(s.events) {
		return Event{}, io.EOF
	}
	ev := s.events[s.next]
	s.next++
	ev.Header.Source = s.id
	return ev, nil
}

// ChannelSource adapts a channel feed (live market data, gateway account
// events) to the Source contract. A closed channel drains the source.
type ChannelSource struct {
	id schema.SourceID
	ch <-chan Event
}

// NewChannelSource wraps an event channel.
func NewChannelSource(id schema.SourceID, ch <-chan Event) *ChannelSource {
	return &ChannelSource{id: id, ch: ch}
}

func (s *ChannelSource) ID() schema.SourceID {
	return s.id
}

func (s *ChannelSource) Next(ctx context.Context) (Event, error) {
	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case ev, ok := <-s.ch:
		if !ok {
			return Event{}, io.EOF
		}
		ev.Header.Source = s.id
		return ev, nil
	}
}
