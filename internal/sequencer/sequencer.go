package sequencer

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"tradecore/internal/errors"
	"tradecore/internal/schema"
)

// Mode selects how the merged stream terminates.
type Mode uint16

const (
	// ModeBacktest ends the stream once every source is drained.
	ModeBacktest Mode = iota + 1
	// ModeLive runs until a shutdown command event is merged; the
	// command is always the terminal element.
	ModeLive
)

const defaultPriority = 1 << 14

// Config controls the merge behavior.
type Config struct {
	Mode Mode
	// Buffer bounds the live ingestion funnel. Producers block when it
	// is full; no event is ever dropped.
	Buffer int
	// Priorities break exact timestamp ties: lower values merge first.
	// Sources without an entry share a default priority and fall back to
	// ingestion order.
	Priorities map[schema.SourceID]int
}

func (c Config) withDefaults() Config {
	if c.Buffer <= 0 {
		c.Buffer = 1024
	}
	if c.Mode == 0 {
		c.Mode = ModeBacktest
	}
	return c
}

// Validate checks if the config is usable.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeBacktest, ModeLive:
	default:
		return fmt.Errorf("invalid sequencer config: unknown mode %d", c.Mode)
	}
	if c.Buffer < 0 {
		return fmt.Errorf("invalid sequencer config: Buffer must be >= 0")
	}
	return nil
}

// Sequencer merges N upstream sources into one strictly ordered stream.
// Order is (timestamp, source priority, ingestion sequence); the sequence
// number is assigned here and makes the order total even when timestamps
// collide.
type Sequencer struct {
	cfg     Config
	sources []Source
	nextSeq uint64
}

// New creates a sequencer over the given sources.
func New(cfg Config, sources ...Source) (*Sequencer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("sequencer needs at least one source")
	}
	return &Sequencer{cfg: cfg, sources: sources}, nil
}

// Run merges until terminal and feeds every event to emit in total
// order. Emit errors abort the run. A nil return means the stream
// terminated normally (drained or shutdown command delivered).
func (s *Sequencer) Run(ctx context.Context, emit func(Event) error) error {
	if emit == nil {
		return fmt.Errorf("sequencer emit is nil")
	}
	if s.cfg.Mode == ModeLive {
		return s.runLive(ctx, emit)
	}
	return s.runBacktest(ctx, emit)
}

func (s *Sequencer) priority(id schema.SourceID) int {
	if p, ok := s.cfg.Priorities[id]; ok {
		return p
	}
	return defaultPriority
}

// Stamp assigns the next sequence number to an event injected at the
// merge point, so feedback events produced while handling an emitted
// event slot into the same total order. Only the goroutine running
// emit may call it.
func (s *Sequencer) Stamp(ev *Event) {
	s.stamp(ev)
}

// stamp finalizes an event's header at ingestion into the merged stream.
func (s *Sequencer) stamp(ev *Event) {
	s.nextSeq++
	ev.Header.Seq = s.nextSeq
	if ev.Header.TsRecv == 0 {
		ev.Header.TsRecv = ev.Header.TsEvent
	}
}

func (s *Sequencer) runBacktest(ctx context.Context, emit func(Event) error) error {
	type head struct {
		ev      Event
		ok      bool
		drained bool
	}
	heads := make([]head, len(s.sources))

	refill := func(i int) error {
		ev, err := s.sources[i].Next(ctx)
		if err != nil {
			if err == io.EOF {
				heads[i] = head{drained: true}
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(errors.ErrSequencerFatal, fmt.Sprintf("source %d: %v", s.sources[i].ID(), err))
		}
		heads[i] = head{ev: ev, ok: true}
		return nil
	}

	for i := range s.sources {
		if err := refill(i); err != nil {
			return err
		}
	}

	for {
		best := -1
		for i := range heads {
			if !heads[i].ok {
				continue
			}
			if best == -1 || s.headLess(heads[i].ev, heads[best].ev) {
				best = i
			}
		}
		if best == -1 {
			return nil // Drained.
		}

		ev := heads[best].ev
		s.stamp(&ev)
		if err := emit(ev); err != nil {
			return err
		}
		if ev.IsShutdown() {
			return nil
		}
		if err := refill(best); err != nil {
			return err
		}
	}
}

// headLess orders two candidate heads before sequence numbers exist:
// timestamp, then configured priority. Equal keys keep the caller's
// stable first-seen order.
func (s *Sequencer) headLess(a, b Event) bool {
	if a.Header.TsEvent != b.Header.TsEvent {
		return a.Header.TsEvent < b.Header.TsEvent
	}
	return s.priority(a.Header.Source) < s.priority(b.Header.Source)
}

type ingestItem struct {
	ev  Event
	err error
	src schema.SourceID
}

func (s *Sequencer) runLive(ctx context.Context, emit func(Event) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	funnel := make(chan ingestItem, s.cfg.Buffer)
	var wg sync.WaitGroup
	for _, src := range s.sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			for {
				ev, err := src.Next(ctx)
				if err != nil {
					if err == io.EOF || ctx.Err() != nil {
						return
					}
					select {
					case funnel <- ingestItem{err: err, src: src.ID()}:
					case <-ctx.Done():
					}
					return
				}
				select {
				case funnel <- ingestItem{ev: ev}:
				case <-ctx.Done():
					return
				}
			}
		}(src)
	}
	defer wg.Wait()

	// batch holds the events gathered in one drain pass, reordered by
	// (ts, priority, arrival) before emission. Later arrivals can no
	// longer be sorted before already-emitted events; that is the live
	// ordering contract.
	var batch []Event
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item := <-funnel:
			if item.err != nil {
				return errors.Wrap(errors.ErrSequencerFatal, fmt.Sprintf("source %d: %v", item.src, item.err))
			}
			batch = append(batch[:0], item.ev)
		}

	drain:
		for {
			select {
			case item := <-funnel:
				if item.err != nil {
					return errors.Wrap(errors.ErrSequencerFatal, fmt.Sprintf("source %d: %v", item.src, item.err))
				}
				batch = append(batch, item.ev)
			default:
				break drain
			}
		}

		sort.SliceStable(batch, func(i, j int) bool {
			return s.headLess(batch[i], batch[j])
		})
		for i := range batch {
			ev := batch[i]
			s.stamp(&ev)
			if err := emit(ev); err != nil {
				return err
			}
			if ev.IsShutdown() {
				cancel()
				return nil
			}
		}
	}
}
