package dashboard

import (
	"context"
	_ "embed"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"portfolioDash/internal/advisor"
	"portfolioDash/internal/alert"
	"portfolioDash/internal/config"
	"portfolioDash/internal/market"
)

//go:embed index.html
var indexPage []byte

// MarketFetcher is the slice of the market fetcher the dashboard consumes.
type MarketFetcher interface {
	FetchAll(ctx context.Context, spec market.Spec, start, end time.Time) (map[string]market.PriceSeries, []market.FetchFailure)
}

// Server is the dashboard HTTP surface. Each request recomputes everything
// from a fresh fetch; the only cross-request state is the chart image cache.
type Server struct {
	router   *mux.Router
	server   *http.Server
	fetcher  MarketFetcher
	notifier *alert.Notifier
	advisor  *advisor.Advisor
	cfg      config.Config
	cache    *chartCache
	log      zerolog.Logger
}

func NewServer(cfg config.Config, fetcher MarketFetcher, notifier *alert.Notifier, adv *advisor.Advisor, logger zerolog.Logger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		fetcher:  fetcher,
		notifier: notifier,
		advisor:  adv,
		cfg:      cfg,
		cache:    newChartCache(cfg.ChartCacheTTL),
		log:      logger.With().Str("component", "dashboard").Logger(),
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/portfolio/analyze", s.handleAnalyze).Methods(http.MethodPost)
	api.HandleFunc("/portfolio/optimize", s.handleOptimize).Methods(http.MethodPost)
	api.HandleFunc("/portfolio/trades", s.handleTrades).Methods(http.MethodPost)
	api.HandleFunc("/portfolio/advice", s.handleAdvice).Methods(http.MethodPost)
	api.HandleFunc("/charts/allocation", s.handleAllocationChart).Methods(http.MethodGet)
	api.HandleFunc("/charts/value", s.handleValueChart).Methods(http.MethodGet)
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexPage)
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("listening")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
