// Package api is the HTTP gateway: a chi router over the claim, raw-text,
// market and ledger services, plus the WebSocket price feed.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/prophet/market-engine/internal/claims"
	"github.com/prophet/market-engine/internal/ledger"
	"github.com/prophet/market-engine/internal/market"
	"github.com/prophet/market-engine/internal/metrics"
	"github.com/prophet/market-engine/internal/rawtext"
)

// Config holds the gateway's own settings.
type Config struct {
	APIKey         string
	CORSOrigins    []string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the domain services.
type Server struct {
	claims *claims.Service
	texts  *rawtext.Service
	engine *market.Engine
	ledger *ledger.Ledger
	hub    *WSHub
	cfg    Config
	logger *slog.Logger
}

// NewServer creates the gateway. hub may be nil to disable /api/ws.
func NewServer(cs *claims.Service, texts *rawtext.Service, engine *market.Engine, lg *ledger.Ledger,
	hub *WSHub, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Server{
		claims: cs,
		texts:  texts,
		engine: engine,
		ledger: lg,
		hub:    hub,
		cfg:    cfg,
		logger: logger.With("component", "api"),
	}
}

// Router builds the HTTP handler. Trailing slashes are accepted on every
// route.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(metrics.Middleware)
	r.Use(cors(s.cfg.CORSOrigins))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "prophet-market-engine"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		if s.hub != nil {
			r.Get("/ws", s.hub.HandleWS)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.cfg.RequestTimeout))

			r.Route("/claims", func(r chi.Router) {
				r.Get("/", s.listClaims)
				r.Post("/", s.submitClaim)
				r.Post("/generate-from-text", s.generateClaims)
				r.Get("/slug/{slug}", s.getClaimBySlug)
				r.Get("/{claimID}", s.getClaim)
				r.With(requireAPIKey(s.cfg.APIKey)).Post("/{claimID}/review", s.reviewCallback)
			})

			r.Route("/rawtexts", func(r chi.Router) {
				r.Post("/", s.createRawText)
				r.Post("/check-duplicate", s.checkDuplicate)
			})

			r.Route("/markets", func(r chi.Router) {
				r.Get("/", s.listMarkets)
				r.Post("/create/{claimID}", s.createMarket)
				r.Get("/claim/{claimID}", s.getMarketByClaim)
				r.Get("/{marketID}", s.getMarket)
				r.Get("/{marketID}/history", s.marketHistory)
				r.Post("/{marketID}/buy", s.buy)
			})

			r.Route("/users/{wallet}", func(r chi.Router) {
				r.Get("/balance", s.balance)
				r.With(requireAPIKey(s.cfg.APIKey)).Post("/deposit", s.deposit)
				r.Get("/positions", s.positions)
				r.Get("/history", s.history)
			})
		})
	})
	return r
}
