package audit

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"tradecore/internal/pipeline"
	"tradecore/internal/schema"
	"tradecore/internal/sequencer"
	"tradecore/internal/state"
)

func sampleResults() []pipeline.Result {
	quote := sequencer.NewMarketEvent(1, 10, 11, schema.MarketData{
		Instrument: 1,
		Kind:       schema.MarketDataQuote,
		BidPrice:   99,
		BidSize:    5,
		AskPrice:   101,
		AskSize:    7,
	})
	quote.Header.Seq = 1

	fill := sequencer.NewAccountEvent(2, 20, 21, schema.AccountUpdate{
		Kind:       schema.AccountFill,
		UpdateID:   2,
		OrderID:    9,
		Instrument: 1,
		Side:       schema.SideBuy,
		Price:      101,
		Qty:        3,
	})
	fill.Header.Seq = 2

	return []pipeline.Result{
		{
			Event:   quote,
			Applied: true,
			Signals: []schema.Signal{{
				StrategyID: 7,
				Instrument: 1,
				Intent:     schema.IntentEnter,
				Side:       schema.SideBuy,
				SizeHint:   3,
			}},
			Decisions: []schema.RiskDecision{{
				StrategyID: 7,
				Instrument: 1,
				Action:     schema.RiskActionAllow,
				Request: schema.OrderRequest{
					Kind:       schema.RequestNew,
					OrderID:    9,
					Instrument: 1,
					Side:       schema.SideBuy,
					Type:       schema.OrderTypeLimit,
					Price:      101,
					Qty:        3,
				},
			}},
			Requests: []schema.OrderRequest{{
				Kind:       schema.RequestNew,
				OrderID:    9,
				StrategyID: 7,
				Instrument: 1,
				Side:       schema.SideBuy,
				Type:       schema.OrderTypeLimit,
				Price:      101,
				Qty:        3,
			}},
		},
		{
			Event:   fill,
			Applied: true,
			Delta: state.Delta{
				OrderID:      9,
				OrderStatus:  state.OrderStatusFilled,
				Instrument:   1,
				PositionQty:  3,
				AvgEntry:     101,
				BalanceCount: 2,
				Balances: [2]state.BalanceDelta{
					{Asset: 1, Total: 697, Available: 697},
					{Asset: 2, Total: 3, Available: 3},
				},
			},
			Faults: []schema.Fault{{Kind: schema.FaultGatewayTimeout, Instrument: 1, OrderID: 8}},
		},
	}
}

func writeTrail(t *testing.T, dir string, results []pipeline.Result) {
	t.Helper()
	w, err := NewWriter(Config{Dir: dir, Durable: true})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	for _, res := range results {
		require.NoError(t, w.Append(res))
	}
	require.NoError(t, w.Close())
}

func trailRecords(t *testing.T, dir string) []Record {
	t.Helper()
	p, err := NewPlayback(PlaybackConfig{Dir: dir})
	require.NoError(t, err)
	var recs []Record
	require.NoError(t, p.Run(context.Background(), func(rec Record) error {
		recs = append(recs, rec)
		return nil
	}))
	return recs
}

func TestTrailRoundTrip(t *testing.T) {
	dir := t.TempDir()
	results := sampleResults()
	writeTrail(t, dir, results)

	recs := trailRecords(t, dir)
	require.Len(t, recs, len(results))
	for i, rec := range recs {
		want := results[i]
		header := want.Event.Header
		header.Version = schema.SchemaVersion
		require.Equal(t, header, rec.Event.Header, "record %d", i)
		require.Equal(t, want.Event.Market, rec.Event.Market, "record %d", i)
		require.Equal(t, want.Event.Account, rec.Event.Account, "record %d", i)
		require.Equal(t, want.Applied, rec.Applied, "record %d", i)
		require.Equal(t, want.Delta, rec.Delta, "record %d", i)
		require.Equal(t, want.Signals, rec.Signals, "record %d", i)
		require.Equal(t, want.Decisions, rec.Decisions, "record %d", i)
		require.Equal(t, want.Requests, rec.Requests, "record %d", i)
		require.Equal(t, want.Faults, rec.Faults, "record %d", i)
	}
}

func TestTrailBytesDeterministic(t *testing.T) {
	dirA, dirB := t.TempDir(), t.TempDir()
	writeTrail(t, dirA, sampleResults())
	writeTrail(t, dirB, sampleResults())
	require.Equal(t, trailBytes(t, dirA), trailBytes(t, dirB))
}

func trailBytes(t *testing.T, dir string) []byte {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var out []byte
	for _, entry := range entries {
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		require.NoError(t, err)
		out = append(out, raw...)
	}
	return out
}

func TestReaderDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	writeTrail(t, dir, sampleResults())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	path := filepath.Join(dir, entries[0].Name())
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[recordHeaderSize+2] ^= 0xff
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()
	r := NewReader(file, ReaderOptions{})
	_, _, err = r.Next()
	require.ErrorIs(t, err, ErrChecksumMismatch)
}
