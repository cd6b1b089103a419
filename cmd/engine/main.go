package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"

	"tradecore/internal/audit"
	"tradecore/internal/engine"
	"tradecore/internal/feed"
	"tradecore/internal/gateway"
	"tradecore/internal/obs"
	"tradecore/internal/ops"
	"tradecore/internal/pipeline"
	"tradecore/internal/risk"
	"tradecore/internal/schema"
	"tradecore/internal/sequencer"
	"tradecore/internal/state"
	"tradecore/internal/strategy"
	"tradecore/pkg/conn"
)

var errBacktestInput = errors.New("backtest mode needs -input, the trail directory to replay")

const commandSource schema.SourceID = 999

func main() {
	configPath := flag.String("config", "", "Path to YAML or JSON config")
	inputDir := flag.String("input", "", "Audit trail directory used as backtest input")
	inputPrefix := flag.String("input-prefix", "", "Input trail file prefix (default: audit)")
	recoverEnabled := flag.Bool("recover", false, "Rebuild state from snapshot + audit trail before running")
	snapshotPath := flag.String("snapshot-path", "", "State snapshot path (default: <audit-dir>/state.json)")
	drainTimeout := flag.Duration("drain-timeout", 5*time.Second, "Shutdown drain timeout")
	reloadInterval := flag.Duration("reload-interval", 0, "Config poll interval for risk limit reloads (0=disabled)")
	traceSeed := flag.Uint64("trace-seed", 1, "Trace id seed")
	pyroscopeAddr := flag.String("pyroscope", "", "Pyroscope server address (empty=disabled)")
	flag.Parse()

	if *configPath == "" {
		log.Fatal("missing -config")
	}
	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if *pyroscopeAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "tradecore",
			ServerAddress:   *pyroscopeAddr,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	opts := runOptions{
		configPath:     *configPath,
		inputDir:       *inputDir,
		inputPrefix:    *inputPrefix,
		recover:        *recoverEnabled,
		snapshotPath:   resolveSnapshotPath(loaded.Audit.Dir, *snapshotPath),
		drainTimeout:   *drainTimeout,
		reloadInterval: *reloadInterval,
		traceSeed:      *traceSeed,
	}
	if err := run(context.Background(), loaded, opts); err != nil {
		log.Fatalf("run failed: %v", err)
	}
}

type runOptions struct {
	configPath     string
	inputDir       string
	inputPrefix    string
	recover        bool
	snapshotPath   string
	drainTimeout   time.Duration
	reloadInterval time.Duration
	traceSeed      uint64
}

func run(ctx context.Context, loaded ops.Loaded, opts runOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store, firstOrderID, err := buildState(loaded, opts)
	if err != nil {
		return err
	}

	gw, err := buildGateway(ctx, loaded)
	if err != nil {
		return err
	}
	defer gw.Close()

	pipeCfg := loaded.Pipeline
	if firstOrderID > pipeCfg.FirstOrderID {
		pipeCfg.FirstOrderID = firstOrderID
	}
	pipe, err := pipeline.New(pipeCfg, store, risk.NewEngine(loaded.Risk), gw,
		strategy.NewImbalance(loaded.Strategy))
	if err != nil {
		return err
	}
	if opts.reloadInterval > 0 {
		go watchRiskConfig(ctx, opts.configPath, opts.reloadInterval, loaded.Risk.Version, pipe)
	}

	sources, closeSources, err := buildSources(ctx, loaded, opts, gw)
	if err != nil {
		return err
	}
	defer closeSources()

	seq, err := sequencer.New(loaded.Sequencer, sources...)
	if err != nil {
		return err
	}

	var trail *audit.Writer
	if loaded.Audit.Dir != "" {
		trail, err = audit.NewWriter(loaded.Audit)
		if err != nil {
			return err
		}
		if err := trail.Start(ctx); err != nil {
			return err
		}
	}

	sink, closeSink, err := buildSink(loaded)
	if err != nil {
		return err
	}
	defer closeSink()

	metrics := obs.NewMetrics()
	eng, err := engine.New(engine.Config{
		DrainTimeout:      opts.drainTimeout,
		SnapshotPath:      opts.snapshotPath,
		TraceSeed:         opts.traceSeed,
		SequencedFeedback: loaded.Mode == sequencer.ModeLive,
	}, engine.Deps{
		Sequencer: seq,
		Pipeline:  pipe,
		Store:     store,
		Gateway:   gw,
		Trail:     trail,
		Sink:      sink,
		Metrics:   metrics,
	})
	if err != nil {
		return err
	}

	runErr := eng.Run(ctx)

	if trail != nil {
		if err := trail.Close(); err != nil && runErr == nil {
			runErr = err
		}
	}
	if runErr == nil && opts.snapshotPath != "" {
		runErr = state.WriteSnapshot(opts.snapshotPath, store.Snapshot())
	}

	snap := metrics.Snapshot()
	log.Printf("metrics: events=%v risk_reasons=%v faults=%v event_latency=%+v",
		snap.EventCounts, snap.RiskReasonCounts, snap.FaultCounts, snap.EventLatency)
	return runErr
}

func buildState(loaded ops.Loaded, opts runOptions) (*state.Store, uint64, error) {
	if opts.recover {
		deposits := make([]engine.Deposit, 0, len(loaded.Deposits))
		for _, d := range loaded.Deposits {
			deposits = append(deposits, engine.Deposit{Asset: d.Asset, Amount: d.Amount})
		}
		rec, err := engine.Recover(engine.RecoverConfig{
			SnapshotPath: opts.snapshotPath,
			TrailDir:     loaded.Audit.Dir,
			FilePrefix:   loaded.Audit.FilePrefix,
			Deposits:     deposits,
		}, loaded.Registry, loaded.Store)
		if err != nil {
			return nil, 0, err
		}
		log.Printf("recovered: last_seq=%d next_order_id=%d", rec.LastSeq, rec.NextOrderID)
		return rec.Store, rec.NextOrderID, nil
	}

	store := state.NewStore(loaded.Registry, loaded.Store)
	for _, d := range loaded.Deposits {
		if err := store.Deposit(d.Asset, d.Amount); err != nil {
			return nil, 0, err
		}
	}
	return store, 0, nil
}

func buildGateway(ctx context.Context, loaded ops.Loaded) (gateway.Gateway, error) {
	if loaded.GatewayKind == "live" {
		live, err := gateway.NewLive(loaded.Live, loaded.Registry)
		if err != nil {
			return nil, err
		}
		if err := live.Connect(ctx); err != nil {
			return nil, err
		}
		return live, nil
	}
	return gateway.NewSim(loaded.Sim, loaded.Registry), nil
}

func buildSources(ctx context.Context, loaded ops.Loaded, opts runOptions, gw gateway.Gateway) ([]sequencer.Source, func(), error) {
	if loaded.Mode == sequencer.ModeLive {
		bn, err := feed.NewBinance(ctx, loaded.Feed, loaded.Registry)
		if err != nil {
			return nil, nil, err
		}
		if err := bn.Start(ctx); err != nil {
			return nil, nil, err
		}
		if err := bn.SubscribeQuotes(ctx); err != nil {
			return nil, nil, err
		}
		if err := bn.SubscribeTrades(ctx); err != nil {
			return nil, nil, err
		}
		bn.Run(ctx)

		// The gateway's account feed re-enters the stream as its own
		// source, so fills merge in even when the market feed is quiet.
		sources := []sequencer.Source{
			sequencer.NewChannelSource(loaded.Feed.Source, bn.Events()),
			sequencer.NewChannelSource(gatewaySource(loaded), gw.Events()),
			sequencer.NewChannelSource(commandSource, commandEvents(ctx)),
		}
		return sources, bn.Close, nil
	}

	if opts.inputDir == "" {
		return nil, nil, errBacktestInput
	}
	replay, err := feed.NewReplay(feed.ReplayConfig{
		Dir:        opts.inputDir,
		FilePrefix: opts.inputPrefix,
	})
	if err != nil {
		return nil, nil, err
	}
	return []sequencer.Source{replay}, func() { replay.Close() }, nil
}

// gatewaySource mirrors the gateway's own default source id.
func gatewaySource(loaded ops.Loaded) schema.SourceID {
	if loaded.GatewayKind == "live" {
		if loaded.Live.Source != 0 {
			return loaded.Live.Source
		}
		return 201
	}
	if loaded.Sim.Source != 0 {
		return loaded.Sim.Source
	}
	return 200
}

// watchRiskConfig polls the config file and swaps the risk engine when
// the risk version bumps. The new limits apply from the next event.
func watchRiskConfig(ctx context.Context, path string, interval time.Duration, version uint16, pipe *pipeline.Pipeline) {
	var lastMod time.Time
	if info, err := os.Stat(path); err == nil {
		lastMod = info.ModTime()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		info, err := os.Stat(path)
		if err != nil || !info.ModTime().After(lastMod) {
			continue
		}
		lastMod = info.ModTime()

		reloaded, err := ops.Load(path)
		if err != nil {
			log.Printf("config reload failed: %v", err)
			continue
		}
		if reloaded.Risk.Version == version {
			continue
		}
		if err := pipe.SwapRisk(risk.NewEngine(reloaded.Risk)); err != nil {
			log.Printf("risk swap failed: %v", err)
			continue
		}
		log.Printf("risk limits reloaded: version %d -> %d", version, reloaded.Risk.Version)
		version = reloaded.Risk.Version
	}
}

// commandEvents turns the first interrupt into a shutdown command so
// the run drains through the normal path. A second interrupt kills the
// process the hard way.
func commandEvents(ctx context.Context) <-chan sequencer.Event {
	ch := make(chan sequencer.Event, 1)
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer close(ch)
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			ch <- sequencer.NewCommandEvent(commandSource, time.Now().UTC().UnixNano(),
				schema.Command{Kind: schema.CommandShutdown})
		}
		select {
		case <-ctx.Done():
		case <-sigCh:
			log.Fatal("second interrupt, exiting")
		}
	}()
	return ch
}

func buildSink(loaded ops.Loaded) (*audit.PgSink, func(), error) {
	if loaded.AuditPg == nil {
		return nil, func() {}, nil
	}
	client, err := conn.New(*loaded.AuditPg)
	if err != nil {
		return nil, nil, err
	}
	sink, err := audit.NewPgSink(client, 0)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	closer := func() {
		if err := sink.Close(); err != nil {
			log.Printf("audit sink close failed: %v", err)
		}
		client.Close()
	}
	return sink, closer, nil
}

func resolveSnapshotPath(dir string, path string) string {
	if path != "" {
		return path
	}
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "state.json")
}
