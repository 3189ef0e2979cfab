package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"billing/internal/config"
	"billing/internal/db"
	"billing/internal/gateway"
	"billing/internal/handlers"
	"billing/internal/services"
	"billing/internal/store"
	"billing/internal/websocket"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.AppEnv)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect database", zap.Error(err))
	}
	defer database.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	users := store.NewUserStore(database)
	clients := store.NewClientStore(database)
	deposits := store.NewDepositStore(database)
	notifications := store.NewNotificationStore(database)
	admin := store.NewAdminStore(database)
	audit := store.NewAuditStore(database)
	txRunner := db.NewTxRunner(database)
	hub := websocket.NewHub()

	gatewayClient := gateway.NewClient(gateway.Config{
		BaseURL:  cfg.Gateway.BaseURL,
		UserName: cfg.Gateway.UserName,
		Password: cfg.Gateway.Password,
		Timeout:  cfg.Gateway.Timeout,
	})
	verifier, err := newVerifier(cfg.Gateway, logger)
	if err != nil {
		logger.Fatal("failed to build webhook verifier", zap.Error(err))
	}

	invoices := services.NewFileInvoiceGenerator(cfg.InvoiceDir)
	cache := services.NewRedisStatusCache(rdb, 3*time.Second)
	service := services.NewDepositService(txRunner, deposits, clients, notifications, audit, gatewayClient, hub, invoices, cache, services.CallbackURLs{
		ClientBaseURL: cfg.ClientBaseURL,
		ServerBaseURL: cfg.BaseURL,
	}, logger)

	handler := handlers.New(txRunner, cfg, logger, users, clients, deposits, admin, audit, service, verifier, hub)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("billing API listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("shutdown error", zap.Error(err))
	}
}

func newLogger(appEnv string) (*zap.Logger, error) {
	if appEnv == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newVerifier(cfg config.GatewayConfig, logger *zap.Logger) (*gateway.Verifier, error) {
	if cfg.SecretKey != "" {
		return gateway.NewHMACVerifier(cfg.SecretKey), nil
	}
	if cfg.PublicKeyPEM != "" {
		return gateway.NewRSAVerifier([]byte(cfg.PublicKeyPEM))
	}
	// With no trust material every webhook is rejected; deposits still
	// complete through the poll channel.
	logger.Warn("no webhook signature trust material configured")
	return gateway.NewHMACVerifier(""), nil
}
