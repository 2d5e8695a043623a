package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"gopkg.in/gomail.v2"
	"gorm.io/gorm"

	"github.com/HSouheill/barrim_settlement/config"
	"github.com/HSouheill/barrim_settlement/controllers"
	"github.com/HSouheill/barrim_settlement/metrics"
	"github.com/HSouheill/barrim_settlement/middleware"
	"github.com/HSouheill/barrim_settlement/repositories"
	"github.com/HSouheill/barrim_settlement/routes"
	"github.com/HSouheill/barrim_settlement/services"
	"github.com/HSouheill/barrim_settlement/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.IsDevelopment() {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetFormatter(&log.JSONFormatter{})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to the commission ledger
	db, err := config.ConnectPostgres(ctx, cfg.Postgres)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	if cfg.Postgres.RunMigrations {
		if err := config.RunMigrations(ctx, db); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
	}
	caps := config.ProbeCapabilities(ctx, db)

	// Connect to the provider directory
	client, err := config.ConnectMongo(ctx, cfg.Mongo)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}

	// Connect to Redis for the cross-instance collection lock
	redisClient := config.ConnectRedis(ctx, cfg.Redis)
	var locker services.Locker
	if redisClient != nil {
		locker = services.NewRedisLocker(redisClient)
	}

	// Create WebSocket hub
	wsHub := websocket.NewHub()
	go wsHub.Run(ctx)

	// Repositories
	ledgerRepo := repositories.NewLedgerRepository(db, caps)
	providerRepo := repositories.NewProviderRepository(client, cfg.Mongo.Database)
	notificationRepo := repositories.NewNotificationRepository(client, cfg.Mongo.Database)

	// Notification channels; a channel that fails to initialize is skipped
	dispatcherOpts := services.DispatcherOptions{
		Inbox:         notificationRepo,
		Admins:        wsHub,
		Directory:     providerRepo,
		MailFrom:      cfg.SMTP.User,
		Finance:       cfg.SMTP.FinanceRecipients(),
		AdminPanelURL: cfg.SMTP.AdminPanelURL,
	}
	if app, err := config.InitFirebase(ctx, cfg.Firebase); err != nil {
		log.Warnf("Push notifications disabled: %v", err)
	} else if messagingClient, err := app.Messaging(ctx); err != nil {
		log.Warnf("Push notifications disabled: %v", err)
	} else {
		dispatcherOpts.Push = messagingClient
	}
	if cfg.SMTP.Host != "" {
		dispatcherOpts.Mail = gomail.NewDialer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Pass)
	} else {
		log.Warn("SMTP_HOST not set; finance alert emails disabled")
	}
	dispatcher := services.NewNotificationDispatcher(dispatcherOpts)

	// Receipt storage
	var receipts services.ReceiptStorage
	gcs, err := services.NewGCSReceiptStorage(ctx, cfg.Storage, cfg.Firebase)
	if err != nil {
		log.Warnf("Receipt storage disabled: %v", err)
	} else {
		receipts = gcs
		defer gcs.Close()
	}

	// Services
	whishService := services.NewWhishService(cfg.Whish)
	debtService := services.NewDebtService(ledgerRepo, dispatcher)
	collectionService := services.NewCollectionService(ledgerRepo, whishService, providerRepo, dispatcher)
	manualPaymentService := services.NewManualPaymentService(ledgerRepo, receipts, dispatcher, cfg.Storage.SignedURLTTL)
	decisionService := services.NewDecisionService(ledgerRepo, dispatcher, caps)
	scheduler := services.NewCollectionScheduler(collectionService, debtService, locker, cfg.Schedule)

	if cfg.Schedule.Disabled {
		log.Info("Collection scheduler disabled")
	} else if err := scheduler.Start(ctx); err != nil {
		log.Fatalf("Failed to start %s: %v", scheduler.Name(), err)
	}

	// Controllers
	commissionController := controllers.NewCommissionController(providerRepo, debtService, manualPaymentService)
	adminController := controllers.NewAdminCommissionController(debtService, manualPaymentService, decisionService, scheduler)
	webhookController := controllers.NewWebhookController(decisionService, debtService)

	// Create a new Echo instance
	e := echo.New()
	e.HideBanner = true
	e.Validator = controllers.NewCustomValidator()

	// Initialize rate limiter
	rateLimiter := middleware.NewRateLimiter()
	go rateLimiter.Cleanup(ctx)

	// Middleware
	e.Use(echoMiddleware.RequestID())
	e.Use(echoMiddleware.Logger())
	e.Use(echoMiddleware.Recover())
	e.Use(metrics.Middleware())
	e.Use(middleware.GlobalCORS(cfg.AllowedOrigins()...))
	e.Use(middleware.SecurityHeaders())
	e.Use(rateLimiter.RateLimit())
	e.Use(httpsRedirect())

	routes.RegisterMainRoutes(e, healthChecks(db, client, redisClient)...)
	routes.RegisterCommissionRoutes(e, cfg.JWTSecret, commissionController)
	routes.RegisterAdminRoutes(e, cfg.JWTSecret, adminController, wsHub)
	routes.RegisterWebhookRoutes(e, cfg.WebhookSecret, webhookController)

	// Start server
	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Errorf("HTTP shutdown: %v", err)
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		log.Errorf("Scheduler shutdown: %v", err)
	}
	dispatcher.Wait()

	if redisClient != nil {
		_ = redisClient.Close()
	}
	if err := client.Disconnect(shutdownCtx); err != nil {
		log.Errorf("MongoDB disconnect: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func httpsRedirect() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Header.Get("X-Forwarded-Proto") == "http" {
				return c.Redirect(http.StatusMovedPermanently, "https://"+c.Request().Host+c.Request().RequestURI)
			}
			return next(c)
		}
	}
}

// healthCheck adapts a store ping to routes.HealthChecker
type healthCheck struct {
	name string
	ping func(ctx context.Context) error
}

func (h healthCheck) Name() string                   { return h.name }
func (h healthCheck) Ping(ctx context.Context) error { return h.ping(ctx) }

func healthChecks(db *gorm.DB, client *mongo.Client, redisClient *redis.Client) []routes.HealthChecker {
	checks := []routes.HealthChecker{
		healthCheck{name: "postgres", ping: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}},
		healthCheck{name: "mongodb", ping: func(ctx context.Context) error {
			return client.Ping(ctx, nil)
		}},
	}
	if redisClient != nil {
		checks = append(checks, healthCheck{name: "redis", ping: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}
	return checks
}
