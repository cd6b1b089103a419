package feed

import (
	"context"
	"fmt"
	"io"
	"os"

	"tradecore/internal/audit"
	"tradecore/internal/schema"
	"tradecore/internal/sequencer"
)

// ReplayConfig selects a recorded audit trail to feed back into the
// engine as backtest input.
type ReplayConfig struct {
	Dir        string
	FilePrefix string
	Source     schema.SourceID
	// IncludeAccount also replays recorded account events. Leave it off
	// when a sim gateway regenerates them.
	IncludeAccount  bool
	DisableChecksum bool
	MaxPayloadSize  int
}

func (c ReplayConfig) withDefaults() ReplayConfig {
	if c.Source == 0 {
		c.Source = 1
	}
	return c
}

// Replay is a sequencer source over the input events of an audit trail.
// Recorded headers keep their original source and timestamps, so a
// replayed run orders exactly as the recorded one did.
type Replay struct {
	cfg   ReplayConfig
	files []string
	next  int
	file  *os.File
	r     *audit.Reader
}

// NewReplay opens the trail directory and lists its segments.
func NewReplay(cfg ReplayConfig) (*Replay, error) {
	cfg = cfg.withDefaults()
	files, err := audit.SegmentFiles(cfg.Dir, cfg.FilePrefix)
	if err != nil {
		return nil, fmt.Errorf("list trail segments: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no trail segments in %s", cfg.Dir)
	}
	return &Replay{cfg: cfg, files: files}, nil
}

func (r *Replay) ID() schema.SourceID {
	return r.cfg.Source
}

// Next returns the next replayable event. Decisions, faults and command
// events are products of a run, not inputs, and are skipped.
func (r *Replay) Next(ctx context.Context) (sequencer.Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return sequencer.Event{}, err
		}

		if r.r == nil {
			if r.next >= len(r.files) {
				return sequencer.Event{}, io.EOF
			}
			file, err := os.Open(r.files[r.next])
			if err != nil {
				return sequencer.Event{}, err
			}
			r.next++
			r.file = file
			r.r = audit.NewReader(file, audit.ReaderOptions{
				DisableChecksum: r.cfg.DisableChecksum,
				MaxPayloadSize:  r.cfg.MaxPayloadSize,
			})
		}

		rec, err := r.r.NextRecord()
		if err == io.EOF {
			r.closeCurrent()
			continue
		}
		if err != nil {
			r.closeCurrent()
			return sequencer.Event{}, err
		}

		t := rec.Event.Header.Type
		if t.IsMarket() || (r.cfg.IncludeAccount && t.IsAccount()) {
			ev := rec.Event
			ev.Header.Seq = 0
			return ev, nil
		}
	}
}

// Close releases the currently open segment.
func (r *Replay) Close() error {
	r.closeCurrent()
	return nil
}

func (r *Replay) closeCurrent() {
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
	r.r = nil
}
