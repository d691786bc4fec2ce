// Package httpapi serves the watcher's control API: status and trading-day
// queries, runtime subscription additions, and flush-file listings.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"tickwatch/internal/store"
	"tickwatch/internal/watcher"
)

// Server serves the control HTTP API over a running watcher.
type Server struct {
	watcher *watcher.Watcher
	store   store.TickStore
	log     *slog.Logger
}

// NewServer creates a control API server for the given watcher and store.
func NewServer(w *watcher.Watcher, st store.TickStore, log *slog.Logger) *Server {
	return &Server{
		watcher: w,
		store:   st,
		log:     log.With("component", "httpapi"),
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/subscriptions", s.handleGetSubscriptions)
	mux.HandleFunc("POST /api/subscriptions", s.handleAddSubscriptions)
	mux.HandleFunc("GET /api/flushes/{instrument}", s.handleFlushes)
}

// Handler returns an http.Handler serving the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, StatusResponse{
		Status:        s.watcher.Status(),
		TradingDay:    s.watcher.TradingDay(),
		Subscriptions: s.watcher.SubscribeList(),
		UptimeSeconds: int64(s.watcher.Uptime().Seconds()),
	})
}

func (s *Server) handleGetSubscriptions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, SubscriptionsResponse{Instruments: s.watcher.SubscribeList()})
}

func (s *Server) handleAddSubscriptions(w http.ResponseWriter, r *http.Request) {
	var req AddSubscriptionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Instruments) == 0 {
		writeError(w, http.StatusBadRequest, "instruments list is empty")
		return
	}
	for _, id := range req.Instruments {
		if id == "" {
			writeError(w, http.StatusBadRequest, "empty instrument ID")
			return
		}
	}

	// Applied asynchronously on the watcher's dispatch loop.
	s.watcher.AddInstruments(req.Instruments)
	s.log.Info("subscription add requested", "instruments", req.Instruments)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(SubscriptionsResponse{Instruments: req.Instruments})
}

func (s *Server) handleFlushes(w http.ResponseWriter, r *http.Request) {
	instrument := r.PathValue("instrument")
	flushes, err := s.store.ListFlushes(r.Context(), instrument)
	if err != nil {
		s.log.Error("listing flushes", "instrument", instrument, "error", err)
		writeError(w, http.StatusInternalServerError, "listing flushes failed")
		return
	}
	if flushes == nil {
		flushes = []string{}
	}
	writeJSON(w, FlushesResponse{Instrument: instrument, Flushes: flushes})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
