package codec

import (
	"testing"

	"tradecore/internal/schema"
)

func TestAccountUpdateRoundTrip(t *testing.T) {
	orig := schema.AccountUpdate{
		Kind:       schema.AccountFill,
		UpdateID:   7,
		OrderID:    1001,
		Instrument: 3,
		Side:       schema.SideBuy,
		Reason:     schema.RejectReasonNone,
		Price:      10_050_000_000,
		Qty:        250_000_000,
		LeavesQty:  0,
		Fee:        2_512_500,
	}

	decoded, ok := DecodeAccountUpdate(EncodeAccountUpdate(nil, orig))
	if !ok {
		t.Fatalf("decode failed")
	}
	if decoded != orig {
		t.Fatalf("account update round-trip mismatch: got %+v want %+v", decoded, orig)
	}
}

func TestRiskDecisionRoundTrip(t *testing.T) {
	orig := schema.RiskDecision{
		StrategyID: 1,
		Instrument: 2,
		Action:     schema.RiskActionAllow,
		Reason:     schema.RiskReasonNone,
		CurrentPos: -500,
		MaxPos:     10_000,
		Request: schema.OrderRequest{
			Kind:        schema.RequestNew,
			OrderID:     42,
			StrategyID:  1,
			Instrument:  2,
			Side:        schema.SideSell,
			Type:        schema.OrderTypeLimit,
			TimeInForce: schema.TimeInForceGTC,
			Price:       99_990_000,
			Qty:         1_000_000,
		},
	}

	decoded, ok := DecodeRiskDecision(EncodeRiskDecision(nil, orig))
	if !ok {
		t.Fatalf("decode failed")
	}
	if decoded != orig {
		t.Fatalf("risk decision round-trip mismatch: got %+v want %+v", decoded, orig)
	}
}
