// Package ops loads run configuration from disk and resolves it into
// the typed configs the engine wires together.
package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"tradecore/internal/audit"
	"tradecore/internal/feed"
	"tradecore/internal/gateway"
	"tradecore/internal/pipeline"
	"tradecore/internal/risk"
	"tradecore/internal/schema"
	"tradecore/internal/sequencer"
	"tradecore/internal/state"
	"tradecore/internal/strategy"
	"tradecore/pkg/conn"
)

// FileConfig mirrors the on-disk config layout. YAML and JSON share the
// same shape; durations are given in milliseconds, prices and sizes as
// decimal strings resolved against the instrument scales.
type FileConfig struct {
	Mode      string          `json:"mode" yaml:"mode"`
	Registry  RegistryConfig  `json:"registry" yaml:"registry"`
	Deposits  []DepositConfig `json:"deposits" yaml:"deposits"`
	Risk      RiskConfig      `json:"risk" yaml:"risk"`
	Strategy  StrategyConfig  `json:"strategy" yaml:"strategy"`
	Store     StoreConfig     `json:"store" yaml:"store"`
	Sequencer SequencerConfig `json:"sequencer" yaml:"sequencer"`
	Pipeline  PipelineConfig  `json:"pipeline" yaml:"pipeline"`
	Audit     AuditConfig     `json:"audit" yaml:"audit"`
	Gateway   GatewayConfig   `json:"gateway" yaml:"gateway"`
	Feed      FeedConfig      `json:"feed" yaml:"feed"`
}

type RegistryConfig struct {
	Assets      []string           `json:"assets" yaml:"assets"`
	Instruments []InstrumentConfig `json:"instruments" yaml:"instruments"`
}

type InstrumentConfig struct {
	Name        string      `json:"name" yaml:"name"`
	Base        string      `json:"base" yaml:"base"`
	Quote       string      `json:"quote" yaml:"quote"`
	TickSize    string      `json:"tickSize" yaml:"tickSize"`
	LotSize     string      `json:"lotSize" yaml:"lotSize"`
	MakerFeeBps int32       `json:"makerFeeBps" yaml:"makerFeeBps"`
	TakerFeeBps int32       `json:"takerFeeBps" yaml:"takerFeeBps"`
	Scale       ScaleConfig `json:"scale" yaml:"scale"`
}

type ScaleConfig struct {
	Price    int32 `json:"price" yaml:"price"`
	Quantity int32 `json:"quantity" yaml:"quantity"`
	Notional int32 `json:"notional" yaml:"notional"`
	Fee      int32 `json:"fee" yaml:"fee"`
}

// DepositConfig seeds an opening balance. Amount is a raw scaled
// integer because assets carry no scale of their own.
type DepositConfig struct {
	Asset  string `json:"asset" yaml:"asset"`
	Amount int64  `json:"amount" yaml:"amount"`
}

type RiskConfig struct {
	Version              uint16 `json:"version" yaml:"version"`
	KillSwitch           bool   `json:"killSwitch" yaml:"killSwitch"`
	MaxOrderQty          int64  `json:"maxOrderQty" yaml:"maxOrderQty"`
	MaxOrderNotional     int64  `json:"maxOrderNotional" yaml:"maxOrderNotional"`
	MaxPosition          int64  `json:"maxPosition" yaml:"maxPosition"`
	OrderRateLimit       int    `json:"orderRateLimit" yaml:"orderRateLimit"`
	OrderRateWindowMs    int64  `json:"orderRateWindowMs" yaml:"orderRateWindowMs"`
	MaxPriceDeviationBps int64  `json:"maxPriceDeviationBps" yaml:"maxPriceDeviationBps"`
}

type StrategyConfig struct {
	StrategyID uint32 `json:"strategyId" yaml:"strategyId"`
	Instrument string `json:"instrument" yaml:"instrument"`
	EntryBps   int64  `json:"entryBps" yaml:"entryBps"`
	ExitBps    int64  `json:"exitBps" yaml:"exitBps"`
	OrderSize  string `json:"orderSize" yaml:"orderSize"`
	CooldownMs int64  `json:"cooldownMs" yaml:"cooldownMs"`
}

type StoreConfig struct {
	RemoveFlat bool `json:"removeFlat" yaml:"removeFlat"`
}

type SequencerConfig struct {
	Buffer     int            `json:"buffer" yaml:"buffer"`
	Priorities map[uint16]int `json:"priorities" yaml:"priorities"`
}

type PipelineConfig struct {
	SubmitTimeoutMs int64  `json:"submitTimeoutMs" yaml:"submitTimeoutMs"`
	FirstOrderID    uint64 `json:"firstOrderId" yaml:"firstOrderId"`
}

type AuditConfig struct {
	Dir             string    `json:"dir" yaml:"dir"`
	Durable         bool      `json:"durable" yaml:"durable"`
	SegmentMaxBytes int64     `json:"segmentMaxBytes" yaml:"segmentMaxBytes"`
	FilePrefix      string    `json:"filePrefix" yaml:"filePrefix"`
	FlushIntervalMs int64     `json:"flushIntervalMs" yaml:"flushIntervalMs"`
	SyncIntervalMs  int64     `json:"syncIntervalMs" yaml:"syncIntervalMs"`
	QueueSize       int       `json:"queueSize" yaml:"queueSize"`
	Postgres        *PgConfig `json:"postgres" yaml:"postgres"`
}

type PgConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	Database string `json:"database" yaml:"database"`
	SSLMode  string `json:"sslMode" yaml:"sslMode"`
}

type GatewayConfig struct {
	// Kind selects the venue connector: "sim" or "live".
	Kind           string `json:"kind" yaml:"kind"`
	URL            string `json:"url" yaml:"url"`
	Source         uint16 `json:"source" yaml:"source"`
	Buffer         int    `json:"buffer" yaml:"buffer"`
	AckTimeoutMs   int64  `json:"ackTimeoutMs" yaml:"ackTimeoutMs"`
	WriteTimeoutMs int64  `json:"writeTimeoutMs" yaml:"writeTimeoutMs"`
	ReadTimeoutMs  int64  `json:"readTimeoutMs" yaml:"readTimeoutMs"`
	PingIntervalMs int64  `json:"pingIntervalMs" yaml:"pingIntervalMs"`
}

// FeedConfig configures the live market data source. Symbols maps
// venue stream symbols to registry instrument names.
type FeedConfig struct {
	URL     string            `json:"url" yaml:"url"`
	Source  uint16            `json:"source" yaml:"source"`
	Buffer  int               `json:"buffer" yaml:"buffer"`
	Symbols map[string]string `json:"symbols" yaml:"symbols"`
}

// Deposit is a resolved opening balance.
type Deposit struct {
	Asset  schema.AssetID
	Amount schema.Notional
}

// Loaded is the fully resolved run configuration.
type Loaded struct {
	Mode      sequencer.Mode
	Registry  *schema.Registry
	Deposits  []Deposit
	Risk      risk.Config
	Strategy  strategy.Config
	Store     state.Config
	Sequencer sequencer.Config
	Pipeline  pipeline.Config
	Audit     audit.Config
	// AuditPg is nil when the relational sink is disabled.
	AuditPg     *conn.Option
	GatewayKind string
	Sim         gateway.SimConfig
	Live        gateway.LiveConfig
	Feed        feed.BinanceConfig
}

// Load reads a YAML or JSON config file and resolves it.
func Load(path string) (Loaded, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, fmt.Errorf("read config: %w", err)
	}

	var fc FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &fc); err != nil {
			return Loaded{}, fmt.Errorf("decode config %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(raw, &fc); err != nil {
			return Loaded{}, fmt.Errorf("decode config %s: %w", path, err)
		}
	default:
		return Loaded{}, fmt.Errorf("unsupported config extension %q", filepath.Ext(path))
	}

	return Resolve(fc)
}

// Resolve turns the file layout into typed engine configs.
func Resolve(fc FileConfig) (Loaded, error) {
	mode, err := resolveMode(fc.Mode)
	if err != nil {
		return Loaded{}, err
	}

	reg, err := buildRegistry(fc.Registry)
	if err != nil {
		return Loaded{}, err
	}

	deposits, err := resolveDeposits(reg, fc.Deposits)
	if err != nil {
		return Loaded{}, err
	}

	strat, err := resolveStrategy(reg, fc.Strategy)
	if err != nil {
		return Loaded{}, err
	}

	out := Loaded{
		Mode:     mode,
		Registry: reg,
		Deposits: deposits,
		Risk: risk.Config{
			Version:              fc.Risk.Version,
			KillSwitch:           fc.Risk.KillSwitch,
			MaxOrderQty:          schema.Quantity(fc.Risk.MaxOrderQty),
			MaxOrderNotional:     schema.Notional(fc.Risk.MaxOrderNotional),
			MaxPosition:          schema.Quantity(fc.Risk.MaxPosition),
			OrderRateLimit:       fc.Risk.OrderRateLimit,
			OrderRateWindow:      time.Duration(fc.Risk.OrderRateWindowMs) * time.Millisecond,
			MaxPriceDeviationBps: fc.Risk.MaxPriceDeviationBps,
		},
		Strategy: strat,
		Store:    state.Config{RemoveFlat: fc.Store.RemoveFlat},
		Sequencer: sequencer.Config{
			Mode:       mode,
			Buffer:     fc.Sequencer.Buffer,
			Priorities: resolvePriorities(fc.Sequencer.Priorities),
		},
		Pipeline: pipeline.Config{
			SubmitTimeout: time.Duration(fc.Pipeline.SubmitTimeoutMs) * time.Millisecond,
			FirstOrderID:  fc.Pipeline.FirstOrderID,
		},
		Audit:       resolveAudit(fc.Audit),
		GatewayKind: fc.Gateway.Kind,
		Feed: feed.BinanceConfig{
			URL:     fc.Feed.URL,
			Source:  schema.SourceID(fc.Feed.Source),
			Buffer:  fc.Feed.Buffer,
			Symbols: fc.Feed.Symbols,
		},
	}

	switch fc.Gateway.Kind {
	case "", "sim":
		out.GatewayKind = "sim"
		out.Sim = gateway.SimConfig{
			Source: schema.SourceID(fc.Gateway.Source),
			Buffer: fc.Gateway.Buffer,
		}
	case "live":
		if fc.Gateway.URL == "" {
			return Loaded{}, fmt.Errorf("live gateway requires a url")
		}
		out.Live = gateway.LiveConfig{
			URL:          fc.Gateway.URL,
			Source:       schema.SourceID(fc.Gateway.Source),
			AckTimeout:   time.Duration(fc.Gateway.AckTimeoutMs) * time.Millisecond,
			WriteTimeout: time.Duration(fc.Gateway.WriteTimeoutMs) * time.Millisecond,
			ReadTimeout:  time.Duration(fc.Gateway.ReadTimeoutMs) * time.Millisecond,
			PingInterval: time.Duration(fc.Gateway.PingIntervalMs) * time.Millisecond,
			Buffer:       fc.Gateway.Buffer,
		}
	default:
		return Loaded{}, fmt.Errorf("unknown gateway kind %q", fc.Gateway.Kind)
	}

	if pg := fc.Audit.Postgres; pg != nil {
		out.AuditPg = &conn.Option{
			Host:     pg.Host,
			Port:     pg.Port,
			User:     pg.User,
			Password: pg.Password,
			Database: pg.Database,
			SSLMode:  pg.SSLMode,
		}
	}

	return out, nil
}

func resolveMode(s string) (sequencer.Mode, error) {
	switch s {
	case "", "backtest":
		return sequencer.ModeBacktest, nil
	case "live":
		return sequencer.ModeLive, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}

// buildRegistry materialises the asset and instrument tables. Assets
// must be declared before the instruments that reference them.
func buildRegistry(rc RegistryConfig) (*schema.Registry, error) {
	if len(rc.Instruments) == 0 {
		return nil, fmt.Errorf("registry has no instruments")
	}

	reg := schema.NewRegistry()
	for _, name := range rc.Assets {
		if _, err := reg.AddAsset(name); err != nil {
			return nil, fmt.Errorf("asset %q: %w", name, err)
		}
	}

	for _, ic := range rc.Instruments {
		scale := schema.ScaleSpec{
			PriceScale:    schema.Scale(ic.Scale.Price),
			QuantityScale: schema.Scale(ic.Scale.Quantity),
			NotionalScale: schema.Scale(ic.Scale.Notional),
			FeeScale:      schema.Scale(ic.Scale.Fee),
		}
		if err := validateScale(ic.Name, scale); err != nil {
			return nil, err
		}

		base, ok := reg.AssetIDByName(ic.Base)
		if !ok {
			return nil, fmt.Errorf("instrument %q: unknown base asset %q", ic.Name, ic.Base)
		}
		quote, ok := reg.AssetIDByName(ic.Quote)
		if !ok {
			return nil, fmt.Errorf("instrument %q: unknown quote asset %q", ic.Name, ic.Quote)
		}

		tick, err := schema.ParseScaled(ic.TickSize, scale.PriceScale)
		if err != nil {
			return nil, fmt.Errorf("instrument %q tickSize: %w", ic.Name, err)
		}
		lot, err := schema.ParseScaled(ic.LotSize, scale.QuantityScale)
		if err != nil {
			return nil, fmt.Errorf("instrument %q lotSize: %w", ic.Name, err)
		}

		_, err = reg.AddInstrument(schema.Instrument{
			Name:        ic.Name,
			Base:        base,
			Quote:       quote,
			TickSize:    schema.Price(tick),
			LotSize:     schema.Quantity(lot),
			MakerFeeBps: ic.MakerFeeBps,
			TakerFeeBps: ic.TakerFeeBps,
			Scale:       scale,
		})
		if err != nil {
			return nil, fmt.Errorf("instrument %q: %w", ic.Name, err)
		}
	}

	return reg, nil
}

func validateScale(name string, s schema.ScaleSpec) error {
	for _, v := range []schema.Scale{s.PriceScale, s.QuantityScale, s.NotionalScale, s.FeeScale} {
		if v < 0 || v > 18 {
			return fmt.Errorf("instrument %q: scale %d out of range", name, v)
		}
	}
	return nil
}

func resolveDeposits(reg *schema.Registry, dcs []DepositConfig) ([]Deposit, error) {
	out := make([]Deposit, 0, len(dcs))
	for _, dc := range dcs {
		id, ok := reg.AssetIDByName(dc.Asset)
		if !ok {
			return nil, fmt.Errorf("deposit: unknown asset %q", dc.Asset)
		}
		if dc.Amount <= 0 {
			return nil, fmt.Errorf("deposit %q: amount must be positive", dc.Asset)
		}
		out = append(out, Deposit{Asset: id, Amount: schema.Notional(dc.Amount)})
	}
	return out, nil
}

func resolveStrategy(reg *schema.Registry, sc StrategyConfig) (strategy.Config, error) {
	id, ok := reg.InstrumentIDByName(sc.Instrument)
	if !ok {
		return strategy.Config{}, fmt.Errorf("strategy: unknown instrument %q", sc.Instrument)
	}
	inst, _ := reg.Instrument(id)

	size, err := schema.ParseScaled(sc.OrderSize, inst.Scale.QuantityScale)
	if err != nil {
		return strategy.Config{}, fmt.Errorf("strategy orderSize: %w", err)
	}

	return strategy.Config{
		StrategyID: sc.StrategyID,
		Instrument: id,
		EntryBps:   sc.EntryBps,
		ExitBps:    sc.ExitBps,
		OrderSize:  schema.Quantity(size),
		Cooldown:   time.Duration(sc.CooldownMs) * time.Millisecond,
	}, nil
}

func resolvePriorities(in map[uint16]int) map[schema.SourceID]int {
	if len(in) == 0 {
		return nil
	}
	out := make(map[schema.SourceID]int, len(in))
	for k, v := range in {
		out[schema.SourceID(k)] = v
	}
	return out
}

func resolveAudit(ac AuditConfig) audit.Config {
	cfg := audit.DefaultConfig(ac.Dir)
	cfg.Durable = ac.Durable
	if ac.SegmentMaxBytes > 0 {
		cfg.SegmentMaxBytes = ac.SegmentMaxBytes
	}
	if ac.FilePrefix != "" {
		cfg.FilePrefix = ac.FilePrefix
	}
	if ac.FlushIntervalMs > 0 {
		cfg.FlushInterval = time.Duration(ac.FlushIntervalMs) * time.Millisecond
	}
	if ac.SyncIntervalMs > 0 {
		cfg.SyncInterval = time.Duration(ac.SyncIntervalMs) * time.Millisecond
	}
	if ac.QueueSize > 0 {
		cfg.QueueSize = ac.QueueSize
	}
	return cfg
}
