package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-railway/internal/api"
	"ms-railway/internal/auth"
	"ms-railway/internal/booking"
	"ms-railway/internal/cancellation"
	"ms-railway/internal/catalog"
	"ms-railway/internal/config"
	"ms-railway/internal/database/migrations"
	"ms-railway/internal/idgen"
	"ms-railway/internal/inventory"
	"ms-railway/internal/inventory/cache"
	"ms-railway/internal/kafka"
	"ms-railway/internal/logger"
	"ms-railway/internal/payment"
	"ms-railway/internal/query"
	"ms-railway/internal/reconcile"
	"ms-railway/internal/refund"
	"ms-railway/internal/store"
	"ms-railway/internal/tickets/qr"
)

func connectPostgres(cfg config.DatabaseConfig, log *logger.Logger) *bun.DB {
	var sqldb *sql.DB
	var err error
	retries := cfg.ConnectRetry
	if retries < 1 {
		retries = 1
	}

	for i := 0; i < retries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, retries))
		sqldb, err = sql.Open("postgres", cfg.DSN())
		if err == nil {
			if err = sqldb.Ping(); err == nil {
				break
			}
			sqldb.Close()
		}
		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < retries-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", retries, err))
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)

	log.Info("DATABASE", "PostgreSQL connection successful")
	return bun.NewDB(sqldb, pgdialect.New())
}

// connectRedis returns nil when the cache is disabled or unreachable; the
// service then reads availability straight from the ledger.
func connectRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) *redis.Client {
	if !cfg.Enabled {
		log.Info("REDIS", "Availability cache disabled")
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("REDIS", fmt.Sprintf("Redis unavailable at %s, continuing without cache: %v", cfg.Addr, err))
		client.Close()
		return nil
	}
	log.Info("REDIS", fmt.Sprintf("Redis connection successful to %s (DB: %d)", cfg.Addr, cfg.DB))
	return client
}

func newVerifier(ctx context.Context, cfg config.AuthConfig, log *logger.Logger) auth.TokenVerifier {
	if cfg.OIDCIssuer != "" {
		v, err := auth.NewOIDCVerifier(ctx, cfg.OIDCIssuer, cfg.ClientID)
		if err != nil {
			log.Fatal("AUTH", fmt.Sprintf("OIDC discovery failed for %s: %v", cfg.OIDCIssuer, err))
		}
		log.Info("AUTH", fmt.Sprintf("Verifying tokens against %s", cfg.OIDCIssuer))
		return v
	}
	if cfg.JWTSecret == "" {
		log.Fatal("CONFIG", "JWT_SECRET or OIDC_ISSUER must be set")
	}
	log.Info("AUTH", "Verifying HS256 tokens with shared secret")
	return auth.NewHMACVerifier(cfg.JWTSecret, "")
}

func main() {
	envErr := godotenv.Load()
	cfg := config.Load()

	log, err := logger.NewLogger(cfg.Log.Dir, cfg.Log.Service)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()
	log.SetLevel(logger.ParseLevel(cfg.Log.Level))

	log.Info("APP", "Starting railway reservation service")
	if envErr != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := time.LoadLocation(cfg.Booking.DepartureLocation)
	if err != nil {
		log.Warn("CONFIG", fmt.Sprintf("Unknown timezone %q, using UTC: %v", cfg.Booking.DepartureLocation, err))
		loc = time.UTC
	}

	db := connectPostgres(cfg.Database, log)
	defer db.Close()

	if cfg.Migration.AutoRun {
		runner := migrations.NewRunner(db, cfg.Migration, log)
		if err := runner.Run(); err != nil {
			log.Fatal("MIGRATION", fmt.Sprintf("Migrations failed: %v", err))
		}
		runner.Close()
	}

	var publisher kafka.Publisher = kafka.LogPublisher{Log: log}
	if cfg.Kafka.Enabled {
		topics := []string{
			cfg.Kafka.Topics.TicketBooked,
			cfg.Kafka.Topics.TicketCancelled,
			cfg.Kafka.Topics.PaymentRecorded,
			cfg.Kafka.Topics.PaymentResults,
		}
		if err := kafka.EnsureTopicsExist(ctx, cfg.Kafka.Brokers, topics, log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		producer := kafka.NewProducer(cfg.Kafka.Brokers, log)
		defer producer.Close()
		publisher = producer
		log.Info("KAFKA", fmt.Sprintf("Kafka producer initialized for %v", cfg.Kafka.Brokers))
	}

	st := store.New(db)
	cat := catalog.New(db)
	ledger := inventory.NewLedger(db)
	ids := idgen.New()
	releaseRetry := inventory.RetryPolicy{Attempts: cfg.Booking.ReleaseAttempts, Initial: cfg.Booking.ReleaseBackoff}
	readRetry := inventory.RetryPolicy{Attempts: cfg.Booking.ReadAttempts, Initial: cfg.Booking.ReleaseBackoff}

	bookingDeps := booking.Deps{Catalog: cat, Ledger: ledger, Store: st, IDs: ids, Publisher: publisher, Log: log}
	cancelDeps := cancellation.Deps{
		Store: st, Schedule: cat, Ledger: ledger, IDs: ids,
		Refund: refund.Default(), Publisher: publisher, Log: log,
	}
	queryDeps := query.Deps{Catalog: cat, Ledger: ledger, Store: st, Log: log}
	var invalidator reconcile.AvailabilityCache

	if rdb := connectRedis(ctx, cfg.Redis, log); rdb != nil {
		defer rdb.Close()
		availability := cache.New(rdb, cfg.Booking.AvailabilityTTL)
		bookingDeps.Cache = availability
		cancelDeps.Cache = availability
		queryDeps.Cache = availability
		invalidator = availability
	}

	bookings := booking.NewManager(bookingDeps, booking.Options{
		Retry: releaseRetry, Topic: cfg.Kafka.Topics.TicketBooked, Location: loc,
	})
	cancellations := cancellation.NewManager(cancelDeps, cancellation.Options{
		Retry: releaseRetry, Topic: cfg.Kafka.Topics.TicketCancelled, Location: loc,
	})
	payments := payment.NewService(st, ids, publisher, cfg.Kafka.Topics.PaymentRecorded, log)
	queries := query.NewService(queryDeps, readRetry)
	reconciler := reconcile.NewService(st, ledger, invalidator, releaseRetry, log)

	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.PaymentResults, cfg.Kafka.GroupID, log)
		defer consumer.Close()
		go func() {
			if err := consumer.Start(ctx, kafka.JSONHandler(payments.HandleResult)); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("KAFKA", fmt.Sprintf("Payment results consumer stopped: %v", err))
			}
		}()
	}

	codes, err := qr.NewGenerator(cfg.Ticket.QRSecret, cfg.Ticket.QRSize)
	if err != nil {
		log.Fatal("CONFIG", fmt.Sprintf("QR generator: %v", err))
	}

	handler := &api.Handler{
		Bookings:      bookings,
		Cancellations: cancellations,
		Payments:      payments,
		Queries:       queries,
		QR:            codes,
		Reconcile:     reconciler,
		Logger:        log,
	}
	router := api.NewRouter(handler, newVerifier(ctx, cfg.Auth, log), api.RouterConfig{
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
		RateLimitRequests:  cfg.Server.RateLimitRequests,
		RateLimitWindow:    cfg.Server.RateLimitWindow,
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("Railway reservation service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	<-ctx.Done()
	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server shutdown failed: %v", err))
	} else {
		log.Info("HTTP", "Shutdown complete")
	}
}
