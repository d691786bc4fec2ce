// Package store persists flushed tick buffers to Parquet files and keeps
// the subscription configuration in SQLite.
package store

import (
	"context"
	"time"
)

// TickRecord is the on-disk schema for one accepted depth tick. Mapped is
// the validator's millisecond-resolution output; RecvOffsetMs is the
// receive offset in milliseconds since the watcher started.
type TickRecord struct {
	Instrument   string  `parquet:"instrument"`
	Mapped       int64   `parquet:"mapped"`
	UpdateTime   string  `parquet:"update_time"`
	Millisec     int32   `parquet:"millisec"`
	LastPrice    float64 `parquet:"last_price"`
	Volume       int64   `parquet:"volume"`
	AskPrice1    float64 `parquet:"ask_price1"`
	AskVolume1   int64   `parquet:"ask_volume1"`
	BidPrice1    float64 `parquet:"bid_price1"`
	BidVolume1   int64   `parquet:"bid_volume1"`
	RecvOffsetMs int64   `parquet:"recv_offset_ms"`
}

// TickStore persists one flushed tick buffer per call and reads flushes
// back for replay and verification.
type TickStore interface {
	// WriteTicks persists an ordered tick buffer for one instrument as a
	// single unit named after the flush instant.
	WriteTicks(ctx context.Context, instrument string, flushedAt time.Time, ticks []TickRecord) error

	// ReadTicks reads one previously flushed unit back in order.
	ReadTicks(ctx context.Context, path string) ([]TickRecord, error)

	// ListFlushes returns the flush unit paths for an instrument, ordered
	// by flush instant.
	ListFlushes(ctx context.Context, instrument string) ([]string, error)
}
