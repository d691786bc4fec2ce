package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata/stream"

	"tickwatch/internal/domain"
	"tickwatch/internal/util"
)

// Compile-time interface check.
var _ Feed = (*AlpacaFeed)(nil)

// AlpacaFeed adapts the Alpaca stocks WebSocket stream to the Feed
// interface, proving the core is exchange-agnostic. Trades arrive without
// depth, so the quote fields of the produced ticks stay zero.
type AlpacaFeed struct {
	apiKey    string
	apiSecret string
	streamURL string
	feedType  string
	loc       *time.Location
	handler   Handler
	log       *slog.Logger

	mu      sync.Mutex
	client  *stream.StocksClient
	symbols map[string]bool
}

// NewAlpacaFeed creates an AlpacaFeed. Tick times of day are rendered in
// loc, which must match the watcher's zone.
func NewAlpacaFeed(apiKey, apiSecret, streamURL, feedType string, loc *time.Location, handler Handler) *AlpacaFeed {
	return &AlpacaFeed{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		streamURL: streamURL,
		feedType:  feedType,
		loc:       loc,
		handler:   handler,
		log:       slog.Default().With("feed", "alpaca"),
		symbols:   make(map[string]bool),
	}
}

// Run connects to the stream and reconnects with backoff whenever it
// terminates, until ctx is cancelled.
func (f *AlpacaFeed) Run(ctx context.Context) error {
	for {
		if err := f.connectOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.log.Error("stream connect failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
}

func (f *AlpacaFeed) connectOnce(ctx context.Context) error {
	opts := []stream.StockOption{
		stream.WithCredentials(f.apiKey, f.apiSecret),
		stream.WithTrades(f.onTrade, f.currentSymbols()...),
	}
	if f.streamURL != "" {
		opts = append(opts, stream.WithBaseURL(f.streamURL))
	}
	c := stream.NewStocksClient(f.feedType, opts...)

	err := util.Retry(ctx, 5, 2*time.Second, func() error {
		return c.Connect(ctx)
	})
	if err != nil {
		return fmt.Errorf("connecting to alpaca stream: %w", err)
	}

	f.mu.Lock()
	f.client = c
	f.mu.Unlock()

	f.handler.OnConnected()
	f.log.Info("stream connected", "feed", f.feedType)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-c.Terminated():
		f.mu.Lock()
		f.client = nil
		f.mu.Unlock()
		reason := "stream terminated"
		if err != nil {
			reason = err.Error()
		}
		f.handler.OnDisconnected(reason)
		return nil
	}
}

// Subscribe requests trade updates for the given instruments on the live
// stream. The set is remembered and re-subscribed after reconnects.
func (f *AlpacaFeed) Subscribe(instruments []string) error {
	f.mu.Lock()
	for _, id := range instruments {
		f.symbols[id] = true
	}
	c := f.client
	f.mu.Unlock()

	if c == nil {
		return fmt.Errorf("alpaca feed not connected")
	}
	return c.SubscribeToTrades(f.onTrade, instruments...)
}

// TradingDay reports the current local date (YYYYMMDD). US equities have no
// overnight session spilling into the next trading day.
func (f *AlpacaFeed) TradingDay() string {
	return time.Now().In(f.loc).Format("20060102")
}

func (f *AlpacaFeed) currentSymbols() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.symbols))
	for id := range f.symbols {
		out = append(out, id)
	}
	return out
}

func (f *AlpacaFeed) onTrade(t stream.Trade) {
	local := t.Timestamp.In(f.loc)
	f.handler.OnTick(domain.Tick{
		Instrument: t.Symbol,
		UpdateTime: local.Format("15:04:05"),
		Millisec:   local.Nanosecond() / 1e6,
		LastPrice:  t.Price,
		Volume:     int64(t.Size),
	})
}
