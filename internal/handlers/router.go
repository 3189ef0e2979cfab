package handlers

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"billing/internal/config"
	"billing/internal/db"
	"billing/internal/middleware"
	"billing/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

type Handler struct {
	txRunner db.TxRunner
	cfg      config.Config
	logger   *zap.Logger
	users    UserStore
	clients  ClientStore
	deposits DepositStore
	admin    AdminStore
	audit    AuditStore
	service  DepositService
	verifier SignatureVerifier
	hub      *websocket.Hub
}

func New(txRunner db.TxRunner, cfg config.Config, logger *zap.Logger, users UserStore, clients ClientStore, deposits DepositStore, admin AdminStore, audit AuditStore, service DepositService, verifier SignatureVerifier, hub *websocket.Hub) *Handler {
	return &Handler{
		txRunner: txRunner,
		cfg:      cfg,
		logger:   logger,
		users:    users,
		clients:  clients,
		deposits: deposits,
		admin:    admin,
		audit:    audit,
		service:  service,
		verifier: verifier,
		hub:      hub,
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Recoverer)
	router.Use(h.requestLogger)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{h.cfg.AllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Signature"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.With(middleware.Auth(h.cfg.JWTSecret)).Get("/me", h.Me)
	})

	router.Route("/payment", func(r chi.Router) {
		r.Post("/sbp-webhook", h.SBPWebhook)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(h.cfg.JWTSecret))
			r.Post("/deposit", h.CreateDeposit)
			r.Get("/sbp-status/{paymentID}", h.SBPStatus)
			r.Get("/deposits", h.ListDeposits)
			r.Get("/balance", h.Balance)
		})
	})

	router.Route("/admin", func(r chi.Router) {
		r.Use(middleware.Auth(h.cfg.JWTSecret))
		r.Use(middleware.RequireAdmin(h.admin))
		r.Post("/reconcile/{paymentID}", h.AdminReconcile)
		r.Get("/audit", h.ListAuditLogs)
	})

	router.Get("/ws/deposits", h.WSDeposits)
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return router
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack keeps the websocket upgrade working through the logging wrapper.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		h.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", recorder.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
