package audit

import (
	"fmt"

	"tradecore/internal/pipeline"
	"tradecore/pkg/conn"
)

// RecordRow mirrors one audit record in PostgreSQL for offline
// querying. The binary body stays authoritative; rows add the columns
// analysts filter on.
type RecordRow struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	Seq        uint64 `gorm:"uniqueIndex"`
	TsEvent    int64  `gorm:"index"`
	EventType  uint16
	Source     uint16
	Applied    bool
	OrderID    uint64 `gorm:"index"`
	Instrument uint32
	Signals    int
	Requests   int
	Faults     int
	Body       []byte
}

// TableName sets the table used by the sink.
func (RecordRow) TableName() string {
	return "audit_records"
}

// PgSink batches audit records into PostgreSQL. It is an optional
// mirror beside the segment files, not a replacement for them.
type PgSink struct {
	client    *conn.Client
	batch     []RecordRow
	batchSize int
}

// NewPgSink migrates the audit table and returns a batching sink.
func NewPgSink(client *conn.Client, batchSize int) (*PgSink, error) {
	if client == nil {
		return nil, fmt.Errorf("audit pg sink needs a client")
	}
	if batchSize <= 0 {
		batchSize = 256
	}
	if err := client.DB().AutoMigrate(&RecordRow{}); err != nil {
		return nil, fmt.Errorf("migrate audit table: %w", err)
	}
	return &PgSink{client: client, batchSize: batchSize}, nil
}

// Add buffers one result and flushes when the batch is full.
func (s *PgSink) Add(res pipeline.Result) error {
	row := RecordRow{
		Seq:        res.Event.Header.Seq,
		TsEvent:    res.Event.Header.TsEvent,
		EventType:  uint16(res.Event.Header.Type),
		Source:     uint16(res.Event.Header.Source),
		Applied:    res.Applied,
		OrderID:    res.Event.Account.OrderID,
		Instrument: uint32(res.Event.Account.Instrument),
		Signals:    len(res.Signals),
		Requests:   len(res.Requests),
		Faults:     len(res.Faults),
		Body:       EncodeBody(nil, res),
	}
	if res.Event.Header.Type.IsMarket() {
		row.Instrument = uint32(res.Event.Market.Instrument)
		row.OrderID = 0
	}
	s.batch = append(s.batch, row)
	if len(s.batch) >= s.batchSize {
		return s.Flush()
	}
	return nil
}

// Flush writes the buffered rows.
func (s *PgSink) Flush() error {
	if len(s.batch) == 0 {
		return nil
	}
	if err := s.client.DB().CreateInBatches(s.batch, s.batchSize).Error; err != nil {
		return fmt.Errorf("insert audit batch: %w", err)
	}
	s.batch = s.batch[:0]
	return nil
}

// Close flushes the remaining rows.
func (s *PgSink) Close() error {
	return s.Flush()
}
