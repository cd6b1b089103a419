package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"tradecore/internal/audit"
	"tradecore/internal/engine"
	"tradecore/internal/ops"
	"tradecore/internal/schema"
	"tradecore/internal/state"
)

func main() {
	dir := flag.String("dir", "testdata/audit", "Audit trail directory")
	prefix := flag.String("prefix", "", "Trail file prefix (default: audit)")
	speed := flag.Float64("speed", 0, "Playback speed (1=real-time, 0=no pacing)")
	useRecv := flag.Bool("use-recv-time", false, "Use receive timestamp for pacing")
	noChecksum := flag.Bool("no-checksum", false, "Disable checksum validation")
	maxPayload := flag.Int("max-payload", 0, "Max record size in bytes (0=unlimited)")
	verbose := flag.Bool("v", false, "Print signals, decisions and requests per record")
	configPath := flag.String("config", "", "Config path, required for -verify-snapshot")
	verifySnapshot := flag.String("verify-snapshot", "", "Rebuild state from the trail and compare against this snapshot")
	flag.Parse()

	pb, err := audit.NewPlayback(audit.PlaybackConfig{
		Dir:             *dir,
		FilePrefix:      *prefix,
		Speed:           *speed,
		UseRecvTime:     *useRecv,
		DisableChecksum: *noChecksum,
		MaxPayloadSize:  *maxPayload,
	})
	if err != nil {
		log.Fatalf("playback init failed: %v", err)
	}

	ctx := context.Background()
	var index int
	counts := make(map[schema.EventType]int)
	err = pb.Run(ctx, func(rec audit.Record) error {
		index++
		header := rec.Event.Header
		counts[header.Type]++
		fmt.Printf("%06d seq=%d type=%s source=%d ts_event=%d applied=%t signals=%d decisions=%d requests=%d faults=%d\n",
			index, header.Seq, header.Type, header.Source, header.TsEvent,
			rec.Applied, len(rec.Signals), len(rec.Decisions), len(rec.Requests), len(rec.Faults))
		if *verbose {
			printDetail(rec)
		}
		return nil
	})
	if err != nil {
		log.Fatalf("playback run failed: %v", err)
	}
	log.Printf("replay completed: total=%d counts=%v", index, counts)

	if *verifySnapshot != "" {
		if err := verify(*configPath, *dir, *prefix, *verifySnapshot); err != nil {
			log.Fatalf("verify failed: %v", err)
		}
		log.Printf("snapshot verified: %s", *verifySnapshot)
	}
}

// verify replays the trail into a fresh store and compares the result
// against the recorded snapshot.
func verify(configPath, dir, prefix, snapshotPath string) error {
	if configPath == "" {
		return fmt.Errorf("-verify-snapshot needs -config for the registry and deposits")
	}
	loaded, err := ops.Load(configPath)
	if err != nil {
		return err
	}

	deposits := make([]engine.Deposit, 0, len(loaded.Deposits))
	for _, d := range loaded.Deposits {
		deposits = append(deposits, engine.Deposit{Asset: d.Asset, Amount: d.Amount})
	}
	rec, err := engine.Recover(engine.RecoverConfig{
		TrailDir:   dir,
		FilePrefix: prefix,
		Deposits:   deposits,
	}, loaded.Registry, loaded.Store)
	if err != nil {
		return err
	}

	expected, err := state.ReadSnapshot(snapshotPath)
	if err != nil {
		return err
	}
	return state.CompareSnapshots(expected, rec.Store.Snapshot())
}

func printDetail(rec audit.Record) {
	for _, sig := range rec.Signals {
		fmt.Printf("  signal strategy=%d instrument=%d intent=%d side=%d size=%d\n",
			sig.StrategyID, sig.Instrument, sig.Intent, sig.Side, sig.SizeHint)
	}
	for _, d := range rec.Decisions {
		fmt.Printf("  decision order=%d action=%d reason=%d\n", d.Request.OrderID, d.Action, d.Reason)
	}
	for _, req := range rec.Requests {
		fmt.Printf("  request kind=%d order=%d side=%d type=%d price=%d qty=%d\n",
			req.Kind, req.OrderID, req.Side, req.Type, req.Price, req.Qty)
	}
	for _, f := range rec.Faults {
		fmt.Printf("  fault kind=%d order=%d\n", f.Kind, f.OrderID)
	}
	if rec.Delta.OrderID != 0 {
		fmt.Printf("  delta order=%d status=%d leaves=%d pos=%d pnl=%d\n",
			rec.Delta.OrderID, rec.Delta.OrderStatus, rec.Delta.LeavesQty,
			rec.Delta.PositionQty, rec.Delta.RealizedPnL)
	}
}
