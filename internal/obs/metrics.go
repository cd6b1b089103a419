// Package obs collects run counters and latency aggregates. Everything
// here is observation only; nothing feeds back into decisions, so the
// wall clock is allowed.
package obs

import (
	"sync/atomic"
	"time"

	"tradecore/internal/schema"
)

const (
	maxEventType  = int(schema.EventCommand)
	maxRiskReason = int(schema.RiskReasonBadSignal)
	maxFaultKind  = int(schema.FaultGatewayReject)
)

// Metrics counts processed events, risk outcomes and faults, and tracks
// feed-to-ingest latency. Safe for concurrent use.
type Metrics struct {
	eventCounts      [maxEventType + 1]atomic.Uint64
	riskReasonCounts [maxRiskReason + 1]atomic.Uint64
	faultCounts      [maxFaultKind + 1]atomic.Uint64

	eventLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count atomic.Uint64
	sum   atomic.Uint64
	min   atomic.Uint64
	max   atomic.Uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values. Zero counters are
// omitted from the maps.
type Snapshot struct {
	EventCounts      map[schema.EventType]uint64
	RiskReasonCounts map[schema.RiskReason]uint64
	FaultCounts      map[schema.FaultKind]uint64
	EventLatency     LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveEvent counts the event and, when both timestamps are present,
// samples the venue-to-ingest latency.
func (m *Metrics) ObserveEvent(header schema.EventHeader) {
	if m == nil {
		return
	}
	if idx := int(header.Type); idx >= 0 && idx < len(m.eventCounts) {
		m.eventCounts[idx].Add(1)
	}
	if header.TsEvent > 0 && header.TsRecv >= header.TsEvent {
		m.eventLatency.Observe(time.Duration(header.TsRecv - header.TsEvent))
	}
}

// IncRiskReason counts one risk decision outcome.
func (m *Metrics) IncRiskReason(reason schema.RiskReason) {
	if m == nil {
		return
	}
	if idx := int(reason); idx >= 0 && idx < len(m.riskReasonCounts) {
		m.riskReasonCounts[idx].Add(1)
	}
}

// IncFault counts one recorded fault.
func (m *Metrics) IncFault(kind schema.FaultKind) {
	if m == nil {
		return
	}
	if idx := int(kind); idx >= 0 && idx < len(m.faultCounts) {
		m.faultCounts[idx].Add(1)
	}
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	eventCounts := make(map[schema.EventType]uint64)
	for i := range m.eventCounts {
		if v := m.eventCounts[i].Load(); v > 0 {
			eventCounts[schema.EventType(i)] = v
		}
	}
	riskCounts := make(map[schema.RiskReason]uint64)
	for i := range m.riskReasonCounts {
		if v := m.riskReasonCounts[i].Load(); v > 0 {
			riskCounts[schema.RiskReason(i)] = v
		}
	}
	faultCounts := make(map[schema.FaultKind]uint64)
	for i := range m.faultCounts {
		if v := m.faultCounts[i].Load(); v > 0 {
			faultCounts[schema.FaultKind(i)] = v
		}
	}
	return Snapshot{
		EventCounts:      eventCounts,
		RiskReasonCounts: riskCounts,
		FaultCounts:      faultCounts,
		EventLatency:     m.eventLatency.Snapshot(),
	}
}

// Observe records one duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	l.count.Add(1)
	l.sum.Add(nanos)

	for {
		min := l.min.Load()
		if min != 0 && nanos >= min {
			break
		}
		if l.min.CompareAndSwap(min, nanos) {
			break
		}
	}
	for {
		max := l.max.Load()
		if nanos <= max {
			break
		}
		if l.max.CompareAndSwap(max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := l.count.Load()
	if count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(l.min.Load()),
		Max:   time.Duration(l.max.Load()),
		Avg:   time.Duration(l.sum.Load() / count),
	}
}
