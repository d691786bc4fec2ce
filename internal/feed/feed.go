// Package feed defines the market-data feed collaborator: the external
// component that connects to an exchange front, reports the current trading
// day, and hands parsed tick records to the core.
package feed

import (
	"context"

	"tickwatch/internal/domain"
)

// Handler receives feed callbacks. Implementations must not block for long;
// the watcher posts each callback onto its event loop and returns.
type Handler interface {
	// OnConnected is called when the feed front is connected and logged in.
	OnConnected()

	// OnDisconnected is called when the front connection is lost.
	OnDisconnected(reason string)

	// OnTick delivers one parsed depth market-data record.
	OnTick(tick domain.Tick)
}

// Feed is a market-data source. It delivers callbacks to the Handler given
// at construction and accepts subscription requests.
type Feed interface {
	// Run connects and pumps feed callbacks until ctx is cancelled or the
	// feed is exhausted.
	Run(ctx context.Context) error

	// Subscribe requests market data for the given instruments. Valid only
	// while connected.
	Subscribe(instruments []string) error

	// TradingDay returns the trading day (YYYYMMDD) the feed currently
	// reports.
	TradingDay() string
}
