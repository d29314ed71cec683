package cmd

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/novacart/ms-go-payments/app/audit"
	"github.com/novacart/ms-go-payments/app/auth"
	"github.com/novacart/ms-go-payments/app/controller"
	"github.com/novacart/ms-go-payments/app/dedup"
	"github.com/novacart/ms-go-payments/app/provider"
	"github.com/novacart/ms-go-payments/app/repository"
	"github.com/novacart/ms-go-payments/app/service"
	"github.com/novacart/ms-go-payments/app/webhook"
	"github.com/novacart/ms-go-payments/config"

	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  "Start the HTTP (Echo) server for the payments service.",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) {
	cfg, orchestrator, cleanup := mustCreateOrchestrator()
	defer cleanup()

	paymentController := controller.NewPaymentController(orchestrator)
	e := setupHTTPServer(paymentController, cfg)

	go func() {
		httpAddr := net.JoinHostPort(cfg.HTTP.Host, cfg.HTTP.Port)
		logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
		if err := e.Start(httpAddr); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP shutdown error")
	}

	logrus.Info("Server stopped")
}

func setupHTTPServer(paymentController *controller.PaymentController, cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"user_agent": v.UserAgent,
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(echomiddleware.RequestID())

	e.GET("/health", paymentController.Health)

	payments := e.Group("/payments", auth.RequireActor([]byte(cfg.JWT.Secret)))
	payments.POST("", paymentController.InitiatePayment)
	payments.GET("/:id", paymentController.GetPayment)
	payments.POST("/:id/verify", paymentController.VerifyPayment)
	payments.POST("/:id/refund", paymentController.RefundPayment)

	// Provider callbacks authenticate with the IP allowlist and per-provider
	// signatures, not bearer tokens.
	e.POST("/webhooks/:method", paymentController.HandleProviderCallback)

	return e
}

func mustCreateOrchestrator() (*config.Config, *service.Orchestrator, func()) {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to ping database")
	}

	paymentRepo := repository.NewPaymentRepository(db)

	registry := provider.NewRegistry(
		provider.NewMpesaGateway(provider.MpesaConfig{
			BaseURL:        cfg.Mpesa.BaseURL,
			ConsumerKey:    cfg.Mpesa.ConsumerKey,
			ConsumerSecret: cfg.Mpesa.ConsumerSecret,
			ShortCode:      cfg.Mpesa.ShortCode,
			Passkey:        cfg.Mpesa.Passkey,
			HTTPTimeout:    cfg.Mpesa.HTTPTimeout,
		}),
		provider.NewStripeGateway(provider.StripeConfig{
			BaseURL:     cfg.Stripe.BaseURL,
			SecretKey:   cfg.Stripe.SecretKey,
			HTTPTimeout: cfg.Stripe.HTTPTimeout,
		}),
		provider.NewPaypalGateway(provider.PaypalConfig{
			BaseURL:      cfg.Paypal.BaseURL,
			ClientID:     cfg.Paypal.ClientID,
			ClientSecret: cfg.Paypal.ClientSecret,
			HTTPTimeout:  cfg.Paypal.HTTPTimeout,
		}),
	)

	authenticator := webhook.NewAuthenticator(webhook.Config{
		Allowlist:   cfg.Webhook.IPAllowlist,
		TrustProxy:  cfg.Webhook.TrustProxy,
		Environment: cfg.App.Environment,
	})

	var sink audit.Sink = audit.NewLogSink()
	if cfg.Audit.PersistEvents {
		sink = audit.NewFanoutSink(audit.NewLogSink(), repository.NewAuditLogRepository(db))
	}
	trail := audit.NewTrail(sink, audit.Config{
		RedactKeys:     cfg.Audit.RedactKeys,
		BufferSize:     cfg.Audit.BufferSize,
		EnqueueTimeout: cfg.Audit.EnqueueTimeout,
	})

	deduper, err := dedup.NewDeduper(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.DedupTTL)
	if err != nil {
		logrus.WithError(err).Warn("Redis unavailable, using in-memory callback dedup")
	}

	orchestrator := service.NewOrchestrator(
		paymentRepo,
		registry,
		authenticator,
		trail,
		deduper,
		cfg.Payments,
	)

	cleanup := func() {
		trail.Close()
		if err := db.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close database")
		}
	}

	return cfg, orchestrator, cleanup
}
