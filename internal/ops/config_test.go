package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tradecore/internal/schema"
	"tradecore/internal/sequencer"
)

const sampleYAML = `
mode: backtest
registry:
  assets: [USD, BTC]
  instruments:
    - name: BTC-USD
      base: BTC
      quote: USD
      tickSize: "0.01"
      lotSize: "0.001"
      makerFeeBps: 10
      takerFeeBps: 20
      scale: {price: 2, quantity: 3, notional: 2, fee: 2}
deposits:
  - {asset: USD, amount: 1000000}
risk:
  maxOrderQty: 5000
  maxOrderNotional: 200000
  maxPosition: 10000
  orderRateLimit: 5
  orderRateWindowMs: 1000
  maxPriceDeviationBps: 500
strategy:
  strategyId: 7
  instrument: BTC-USD
  entryBps: 2500
  exitBps: 400
  orderSize: "0.25"
  cooldownMs: 5000
sequencer:
  buffer: 2048
  priorities: {1: 10, 200: 20}
pipeline:
  submitTimeoutMs: 1500
audit:
  dir: /tmp/audit
  durable: true
gateway:
  kind: sim
  source: 200
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	loaded, err := Load(writeConfig(t, "engine.yaml", sampleYAML))
	require.NoError(t, err)

	require.Equal(t, sequencer.ModeBacktest, loaded.Mode)
	require.Equal(t, sequencer.ModeBacktest, loaded.Sequencer.Mode)
	require.Equal(t, 2048, loaded.Sequencer.Buffer)
	require.Equal(t, 10, loaded.Sequencer.Priorities[schema.SourceID(1)])

	id, ok := loaded.Registry.InstrumentIDByName("BTC-USD")
	require.True(t, ok)
	inst, ok := loaded.Registry.Instrument(id)
	require.True(t, ok)
	require.Equal(t, schema.Price(1), inst.TickSize)
	require.Equal(t, schema.Quantity(1), inst.LotSize)
	require.Equal(t, int32(20), inst.TakerFeeBps)

	require.Len(t, loaded.Deposits, 1)
	require.Equal(t, schema.Notional(1000000), loaded.Deposits[0].Amount)

	require.Equal(t, uint32(7), loaded.Strategy.StrategyID)
	require.Equal(t, id, loaded.Strategy.Instrument)
	require.Equal(t, schema.Quantity(250), loaded.Strategy.OrderSize)
	require.Equal(t, 5*time.Second, loaded.Strategy.Cooldown)

	require.Equal(t, time.Second, loaded.Risk.OrderRateWindow)
	require.Equal(t, 1500*time.Millisecond, loaded.Pipeline.SubmitTimeout)

	require.True(t, loaded.Audit.Durable)
	require.Equal(t, "/tmp/audit", loaded.Audit.Dir)
	require.Nil(t, loaded.AuditPg)

	require.Equal(t, "sim", loaded.GatewayKind)
	require.Equal(t, schema.SourceID(200), loaded.Sim.Source)
}

func TestLoadJSON(t *testing.T) {
	body := `{
  "registry": {
    "assets": ["USD", "BTC"],
    "instruments": [{
      "name": "BTC-USD", "base": "BTC", "quote": "USD",
      "tickSize": "1", "lotSize": "1",
      "scale": {"price": 0, "quantity": 0, "notional": 0, "fee": 0}
    }]
  },
  "strategy": {"instrument": "BTC-USD", "orderSize": "1"},
  "gateway": {"kind": "live", "url": "wss://venue.invalid/ws", "ackTimeoutMs": 250}
}`
	loaded, err := Load(writeConfig(t, "engine.json", body))
	require.NoError(t, err)
	require.Equal(t, "live", loaded.GatewayKind)
	require.Equal(t, "wss://venue.invalid/ws", loaded.Live.URL)
	require.Equal(t, 250*time.Millisecond, loaded.Live.AckTimeout)
}

func TestLoadRejectsBadConfig(t *testing.T) {
	cases := map[string]string{
		"unknown mode":    "mode: paper",
		"no instruments":  "registry: {assets: [USD]}",
		"unknown base":    "registry: {assets: [USD], instruments: [{name: X, base: ETH, quote: USD, tickSize: \"1\", lotSize: \"1\"}]}",
		"excess fraction": "registry: {assets: [USD, BTC], instruments: [{name: BTC-USD, base: BTC, quote: USD, tickSize: \"0.001\", lotSize: \"1\", scale: {price: 2}}]}",
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, "bad.yaml", body)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}

	_, err := Resolve(FileConfig{
		Registry: RegistryConfig{
			Assets: []string{"USD", "BTC"},
			Instruments: []InstrumentConfig{{
				Name: "BTC-USD", Base: "BTC", Quote: "USD",
				TickSize: "1", LotSize: "1",
			}},
		},
		Strategy: StrategyConfig{Instrument: "BTC-USD", OrderSize: "1"},
		Gateway:  GatewayConfig{Kind: "live"},
	})
	require.Error(t, err)
}
