package rpc

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"tribeone/core"
	"tribeone/observability"
)

// ServerConfig carries the API surface knobs.
type ServerConfig struct {
	// JWTSecret enables bearer-token auth on mutating routes when set.
	JWTSecret string
	// RateLimitRPS bounds per-client request rates; zero disables limiting.
	RateLimitRPS int
}

// Server exposes the protocol engines over HTTP. Queries are public; mutating
// routes require a bearer token when a secret is configured.
type Server struct {
	cfg     ServerConfig
	system  *core.System
	logger  *slog.Logger
	metrics *observability.RPCMetrics
	auth    *authenticator
	limiter *rateLimiter
}

// NewServer wires the API server around the system facade.
func NewServer(cfg ServerConfig, system *core.System, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		system:  system,
		logger:  logger,
		metrics: observability.RPC(),
		auth:    newAuthenticator(cfg.JWTSecret),
		limiter: newRateLimiter(cfg.RateLimitRPS),
	}
}

// Router builds the HTTP handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.observe)
	if s.limiter != nil {
		r.Use(s.limiter.middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/debt/{account}", s.handleDebtBalance)
		v1.Get("/collateralisation/{account}", s.handleCollateralisation)
		v1.Get("/issuable/{account}", s.handleIssuable)
		v1.Get("/total-issued/{key}", s.handleTotalIssued)
		v1.Get("/settlement-owing/{account}/{key}", s.handleSettlementOwing)
		v1.Get("/debt-cache", s.handleDebtCache)
		v1.Get("/events", s.handleEvents)

		v1.Group(func(protected chi.Router) {
			protected.Use(s.auth.middleware)
			protected.Post("/collateral/deposit", s.handleDeposit)
			protected.Post("/collateral/withdraw", s.handleWithdraw)
			protected.Post("/issue", s.handleIssue)
			protected.Post("/issue-max", s.handleIssueMax)
			protected.Post("/burn", s.handleBurn)
			protected.Post("/burn-to-target", s.handleBurnToTarget)
			protected.Post("/exchange", s.handleExchange)
			protected.Post("/settle", s.handleSettle)
			protected.Post("/redeem", s.handleRedeem)
			protected.Post("/approval", s.handleApproval)

			protected.Post("/oracle/rate", s.handleUpdateRate)
			protected.Post("/oracle/spot-rate", s.handleUpdateSpotRate)
			protected.Post("/admin/suspend", s.handleSuspend)
			protected.Post("/admin/resume", s.handleResume)
			protected.Post("/admin/breaker/reset", s.handleResetBreaker)
			protected.Post("/admin/snapshot", s.handleSnapshot)
		})
	})

	return otelhttp.NewHandler(r, "tribeone.rpc")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			s.logger.Error("encode response", "error", err)
		}
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
