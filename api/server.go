// Package api serves the cap-table HTTP interface: snapshot and holder
// queries, event and corporate-action feeds, analytics, CSV/JSON export,
// health, and the Prometheus exposition endpoint. Handlers are read-only
// over the store and safe to serve concurrently with the indexer's writes.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"github.com/BiscuitNick/chainequity-sub000/captable"
	"github.com/BiscuitNick/chainequity-sub000/indexer"
	"github.com/BiscuitNick/chainequity-sub000/log"
	"github.com/BiscuitNick/chainequity-sub000/metrics"
	"github.com/BiscuitNick/chainequity-sub000/store"
)

// SyncStatus is the view of the indexer the API needs for health and token
// info. *indexer.Indexer satisfies it.
type SyncStatus interface {
	State() indexer.State
	LastProcessedBlock() uint64
	Decimals() uint8
}

// Config holds HTTP server settings.
type Config struct {
	Port        int
	CORSOrigins []string

	// Per-client throttle. The defaults allow a 120-request burst refilled
	// at two requests per second, i.e. 120 per minute sustained.
	RateLimit rate.Limit
	RateBurst int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:        4000,
		CORSOrigins: []string{"*"},
		RateLimit:   rate.Every(500 * time.Millisecond),
		RateBurst:   120,
	}
}

// Server is the HTTP API server.
type Server struct {
	store   *store.Store
	engine  *captable.Engine
	status  SyncStatus
	logger  *log.Logger
	metrics *metrics.Metrics

	httpSrv  *http.Server
	limiters *clientLimiters
	started  time.Time
}

// NewServer wires the routing stack. cfg may be nil for defaults.
func NewServer(cfg *Config, st *store.Store, engine *captable.Engine, status SyncStatus, logger *log.Logger, m *metrics.Metrics) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Server{
		store:    st,
		engine:   engine,
		status:   status,
		logger:   logger.Module("api"),
		metrics:  m,
		limiters: newClientLimiters(cfg.RateLimit, cfg.RateBurst),
		started:  time.Now(),
	}

	r := mux.NewRouter()
	r.Use(s.observe)
	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.throttle)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api.HandleFunc("/captable", s.handleCapTable).Methods(http.MethodGet)
	api.HandleFunc("/captable/block/{height}", s.handleCapTableAt).Methods(http.MethodGet)
	api.HandleFunc("/captable/export", s.handleExport).Methods(http.MethodGet)
	api.HandleFunc("/captable/holders", s.handleHolders).Methods(http.MethodGet)
	api.HandleFunc("/captable/holder/{address}", s.handleHolder).Methods(http.MethodGet)
	api.HandleFunc("/captable/top/{n}", s.handleTopHolders).Methods(http.MethodGet)
	api.HandleFunc("/captable/summary", s.handleSummary).Methods(http.MethodGet)

	api.HandleFunc("/analytics/overview", s.handleOverview).Methods(http.MethodGet)
	api.HandleFunc("/analytics/holders", s.handleAnalyticsHolders).Methods(http.MethodGet)
	api.HandleFunc("/analytics/supply", s.handleSupply).Methods(http.MethodGet)
	api.HandleFunc("/analytics/distribution", s.handleDistribution).Methods(http.MethodGet)
	api.HandleFunc("/analytics/events", s.handleEventFeed).Methods(http.MethodGet)

	api.HandleFunc("/corporate/history", s.handleCorporateHistory).Methods(http.MethodGet)
	api.HandleFunc("/corporate/splits", s.handleSplits).Methods(http.MethodGet)
	api.HandleFunc("/corporate/symbols", s.handleSymbolChanges).Methods(http.MethodGet)
	api.HandleFunc("/corporate/names", s.handleNameChanges).Methods(http.MethodGet)

	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	api.HandleFunc("/events/transfers", s.handleTransfers).Methods(http.MethodGet)
	api.HandleFunc("/events/wallet-approvals", s.handleWalletApprovals).Methods(http.MethodGet)
	api.HandleFunc("/events/corporate", s.handleCorporateEvents).Methods(http.MethodGet)
	api.HandleFunc("/events/address/{address}", s.handleEventsByAddress).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})

	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           c.Handler(r),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the full routing stack, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start begins serving in the background. The returned channel delivers at
// most one listen error; a clean shutdown delivers nothing.
func (s *Server) Start() <-chan error {
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("api: serve: %w", err)
		}
	}()
	return errc
}

// Shutdown drains in-flight requests and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, fmt.Sprintf("route not found: %s", r.URL.Path))
}
