// Package engine owns the run loop: it drives the sequencer's total
// order through the pipeline, folds gateway feedback back into the
// stream, and records every processed event to the audit trail.
package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"tradecore/internal/audit"
	"tradecore/internal/gateway"
	"tradecore/internal/obs"
	"tradecore/internal/pipeline"
	"tradecore/internal/schema"
	"tradecore/internal/sequencer"
	"tradecore/internal/state"
)

// RunState is the engine lifecycle. It only moves forward; a stopped
// engine is not restartable.
type RunState uint32

const (
	StateInitializing RunState = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s RunState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config controls run loop behavior.
type Config struct {
	// DrainTimeout bounds how long shutdown waits for in-flight gateway
	// feedback.
	DrainTimeout time.Duration
	// SnapshotPath is where snapshot commands write state. Empty
	// disables snapshotting.
	SnapshotPath string
	// TraceSeed seeds trace id generation. Backtests must pin it so two
	// runs of the same input produce identical trails.
	TraceSeed uint64
	// SequencedFeedback marks the gateway feed as one of the sequencer's
	// sources. The run loop then leaves Events() to the sequencer's merge
	// instead of folding it in inline; the drain phase still empties
	// whatever the channel holds at shutdown.
	SequencedFeedback bool
}

func (c Config) withDefaults() Config {
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 5 * time.Second
	}
	if c.TraceSeed == 0 {
		c.TraceSeed = 1
	}
	return c
}

// Deps are the engine's collaborators. Sequencer, Pipeline, Store and
// Gateway are required; Trail, Sink and Metrics are optional.
type Deps struct {
	Sequencer *sequencer.Sequencer
	Pipeline  *pipeline.Pipeline
	Store     *state.Store
	Gateway   gateway.Gateway
	Trail     *audit.Writer
	Sink      *audit.PgSink
	Metrics   *obs.Metrics
}

// Engine is the single-threaded event loop. Run may be called once.
type Engine struct {
	cfg   Config
	deps  Deps
	trace *obs.TraceGenerator
	state atomic.Uint32
}

// New validates the wiring. The audit writer, when present, must
// already be started.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Sequencer == nil || deps.Pipeline == nil || deps.Store == nil || deps.Gateway == nil {
		return nil, fmt.Errorf("engine: missing dependency")
	}
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:   cfg,
		deps:  deps,
		trace: obs.NewTraceGenerator(cfg.TraceSeed),
	}, nil
}

// State reports the current lifecycle state.
func (e *Engine) State() RunState {
	return RunState(e.state.Load())
}

// Run drives the merged stream to completion: source drain, shutdown
// command, context cancellation or a fatal error, whichever first.
func (e *Engine) Run(ctx context.Context) error {
	if !e.state.CompareAndSwap(uint32(StateInitializing), uint32(StateRunning)) {
		return fmt.Errorf("engine: already started")
	}
	defer e.state.Store(uint32(StateStopped))

	err := e.deps.Sequencer.Run(ctx, func(ev sequencer.Event) error {
		return e.emit(ctx, ev)
	})
	if err != nil {
		// A dead source still gets an orderly drain before the stop.
		e.state.Store(uint32(StateDraining))
		if derr := e.drain(ctx); derr != nil {
			logs.Errorf("drain after sequencer failure, err: %+v", derr)
		}
		return err
	}

	if e.State() == StateDraining {
		return e.drain(ctx)
	}
	return nil
}

// emit processes one sequenced event and then folds in any feedback the
// gateway produced while handling it, in submission order.
func (e *Engine) emit(ctx context.Context, ev sequencer.Event) error {
	if ev.IsShutdown() {
		e.state.Store(uint32(StateDraining))
	}

	if err := e.handle(ctx, ev); err != nil {
		return err
	}
	if e.cfg.SequencedFeedback {
		return nil
	}

	for {
		select {
		case fb, ok := <-e.deps.Gateway.Events():
			if !ok {
				return nil
			}
			e.deps.Sequencer.Stamp(&fb)
			if err := e.handle(ctx, fb); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (e *Engine) handle(ctx context.Context, ev sequencer.Event) error {
	if ev.Header.TraceID == 0 {
		ev.Header.TraceID = e.trace.Next()
	}

	res, err := e.deps.Pipeline.Process(ctx, ev)
	if err != nil {
		return err
	}

	e.observe(res)
	if err := e.record(res); err != nil {
		return err
	}

	if ev.Header.Type == schema.EventCommand && ev.Command.Kind == schema.CommandSnapshot {
		e.snapshot()
	}
	return nil
}

func (e *Engine) observe(res pipeline.Result) {
	m := e.deps.Metrics
	if m == nil {
		return
	}
	m.ObserveEvent(res.Event.Header)
	for _, d := range res.Decisions {
		m.IncRiskReason(d.Reason)
	}
	for _, f := range res.Faults {
		m.IncFault(f.Kind)
	}
}

func (e *Engine) record(res pipeline.Result) error {
	if e.deps.Trail != nil {
		if err := e.deps.Trail.Append(res); err != nil {
			return fmt.Errorf("audit append: %w", err)
		}
	}
	if e.deps.Sink != nil {
		if err := e.deps.Sink.Add(res); err != nil {
			logs.Errorf("audit sink add, seq: %d, err: %+v", res.Event.Header.Seq, err)
		}
	}
	return nil
}

func (e *Engine) snapshot() {
	if e.cfg.SnapshotPath == "" {
		return
	}
	if err := state.WriteSnapshot(e.cfg.SnapshotPath, e.deps.Store.Snapshot()); err != nil {
		logs.Errorf("write snapshot, path: %s, err: %+v", e.cfg.SnapshotPath, err)
	}
}

// drain waits out in-flight gateway feedback after a shutdown command,
// processing whatever still arrives within the timeout.
func (e *Engine) drain(ctx context.Context) error {
	timer := time.NewTimer(e.cfg.DrainTimeout)
	defer timer.Stop()

	for {
		select {
		case fb, ok := <-e.deps.Gateway.Events():
			if !ok {
				return nil
			}
			e.deps.Sequencer.Stamp(&fb)
			if err := e.handle(ctx, fb); err != nil {
				return err
			}
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
