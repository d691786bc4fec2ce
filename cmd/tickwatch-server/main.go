package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"tickwatch/internal/calendar"
	"tickwatch/internal/config"
	"tickwatch/internal/domain"
	"tickwatch/internal/feed"
	"tickwatch/internal/httpapi"
	"tickwatch/internal/store"
	"tickwatch/internal/util"
	"tickwatch/internal/watcher"
)

func main() {
	cfgPath := "config/tickwatch.yaml"
	if p := os.Getenv("TICKWATCH_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	loc, err := time.LoadLocation(cfg.Watcher.Timezone)
	if err != nil {
		log.Fatalf("loading timezone %q: %v", cfg.Watcher.Timezone, err)
	}

	cal, err := loadCalendar(cfg, loc)
	if err != nil {
		log.Fatalf("loading trading calendar: %v", err)
	}

	schedule, err := cfg.Watcher.Schedule()
	if err != nil {
		log.Fatalf("parsing session schedule: %v", err)
	}
	cutoff, err := cfg.Watcher.Cutoff()
	if err != nil {
		log.Fatalf("parsing saturday cutoff: %v", err)
	}

	saveTicks := cfg.Watcher.SaveTicks
	if saveTicks {
		if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
			logger.Warn("data directory unavailable, tick saving disabled",
				"dir", cfg.Storage.DataDir, "error", err)
			saveTicks = false
		}
	}

	subscribe := cfg.Watcher.Subscribe
	var subcfg *store.SubscriptionStore
	if cfg.Storage.SQLitePath != "" {
		subcfg, err = store.NewSubscriptionStore(cfg.Storage.SQLitePath)
		if err != nil {
			log.Fatalf("opening subscription store: %v", err)
		}
		defer subcfg.Close()

		persisted, err := subcfg.List(context.Background())
		if err != nil {
			log.Fatalf("reading persisted subscriptions: %v", err)
		}
		subscribe = mergeInstruments(subscribe, persisted)
	}

	w := watcher.New(watcher.Params{
		Log:           logger,
		Loc:           loc,
		Calendar:      cal,
		Store:         store.NewParquetStore(cfg.Storage.DataDir),
		Subscriptions: subcfg,
		Schedule:      schedule,
		Subscribe:     subscribe,
		SaveTicks:     saveTicks,
		Grace:         time.Duration(cfg.Watcher.GraceSeconds) * time.Second,
		Policy:        &watcher.WeekendPolicy{SaturdayCutoff: cutoff},
	})

	f, err := buildFeed(cfg, loc, w)
	if err != nil {
		log.Fatalf("building feed: %v", err)
	}
	w.SetFeed(f)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.HTTP.Addr != "" {
		api := httpapi.NewServer(w, store.NewParquetStore(cfg.Storage.DataDir), logger)
		httpServer := &http.Server{
			Addr:    cfg.HTTP.Addr,
			Handler: api.Handler(),
		}
		go func() {
			logger.Info("control API listening", "addr", httpServer.Addr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("shutdown error", "error", err)
			}
		}()
	}

	logger.Info("tickwatch starting",
		"feed", cfg.Feed.Provider,
		"instruments", len(subscribe),
		"saveTicks", saveTicks,
	)
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("watcher error: %v", err)
	}
}

// loadCalendar reads the holiday table from disk, or falls back to the
// Alpaca trading-calendar API when no table is configured and the Alpaca
// feed is in use.
func loadCalendar(cfg *config.Config, loc *time.Location) (*calendar.Calendar, error) {
	if cfg.Watcher.CalendarPath != "" {
		return calendar.Load(cfg.Watcher.CalendarPath, loc)
	}
	now := time.Now().In(loc)
	return calendar.FetchAlpaca(
		cfg.Feed.APIKey, cfg.Feed.APISecret, cfg.Feed.BaseURL,
		now.AddDate(0, -1, 0), now.AddDate(1, 0, 0),
	)
}

func buildFeed(cfg *config.Config, loc *time.Location, w *watcher.Watcher) (feed.Feed, error) {
	switch cfg.Feed.Provider {
	case "alpaca":
		return feed.NewAlpacaFeed(
			cfg.Feed.APIKey, cfg.Feed.APISecret,
			cfg.Feed.StreamURL, cfg.Feed.FeedType,
			loc, w,
		), nil
	case "replay":
		records, err := store.NewParquetStore("").ReadTicks(context.Background(), cfg.Feed.ReplayPath)
		if err != nil {
			return nil, err
		}
		return feed.NewReplayFeed(recordsToTicks(records), cfg.Feed.ReplayDay, 0, w), nil
	default:
		return nil, fmt.Errorf("unknown feed provider %q", cfg.Feed.Provider)
	}
}

// recordsToTicks turns previously flushed records back into raw ticks for
// the replay feed.
func recordsToTicks(records []store.TickRecord) []domain.Tick {
	ticks := make([]domain.Tick, 0, len(records))
	for _, r := range records {
		ticks = append(ticks, domain.Tick{
			Instrument: r.Instrument,
			UpdateTime: r.UpdateTime,
			Millisec:   int(r.Millisec),
			LastPrice:  r.LastPrice,
			Volume:     r.Volume,
			AskPrice1:  r.AskPrice1,
			AskVolume1: r.AskVolume1,
			BidPrice1:  r.BidPrice1,
			BidVolume1: r.BidVolume1,
		})
	}
	return ticks
}

func mergeInstruments(a, b []string) []string {
	set := make(map[string]bool, len(a)+len(b))
	for _, id := range a {
		set[id] = true
	}
	for _, id := range b {
		set[id] = true
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
