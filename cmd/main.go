// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/Shivanand-hulikatti/class-booking/internal/config"
	"github.com/Shivanand-hulikatti/class-booking/internal/database"
	"github.com/Shivanand-hulikatti/class-booking/internal/events"
	"github.com/Shivanand-hulikatti/class-booking/internal/handler"
	"github.com/Shivanand-hulikatti/class-booking/internal/logger"
	"github.com/Shivanand-hulikatti/class-booking/internal/repository"
	"github.com/Shivanand-hulikatti/class-booking/internal/repository/memory"
	"github.com/Shivanand-hulikatti/class-booking/internal/repository/mongostore"
	"github.com/Shivanand-hulikatti/class-booking/internal/service"
	"github.com/Shivanand-hulikatti/class-booking/internal/telemetry"
)

const serviceName = "class-booking"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 1. Configuration and logging ──────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: serviceName,
	})

	shutdownTracing, err := telemetry.Setup(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		log.Fatal("telemetry setup failed", "error", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	// ── 2. Storage ────────────────────────────────────────────────────────
	sessions, bookings, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("storage setup failed", "driver", cfg.StorageDriver, "error", err)
	}
	defer closeStore()
	log.Info("storage ready", "driver", cfg.StorageDriver, "lock_timeout", cfg.LockTimeout)

	// ── 3. Booking events ─────────────────────────────────────────────────
	var publisher service.EventPublisher = events.Noop{}
	if cfg.Kafka.Enabled() {
		producer, err := events.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Fatal("kafka producer setup failed", "error", err)
		}
		bookingEvents := events.NewBookingPublisher(producer)
		defer func() {
			if err := bookingEvents.Close(); err != nil {
				log.Warn("kafka producer close failed", "error", err)
			}
		}()
		publisher = bookingEvents
		log.Info("publishing booking events", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	// ── 4. Wire up layers ─────────────────────────────────────────────────
	svc := service.NewSessionService(sessions, bookings, publisher, log,
		service.WithPublishTimeout(cfg.Kafka.PublishTimeout))
	if cfg.SeedSampleSessions {
		if err := svc.SeedSamples(ctx); err != nil {
			log.Fatal("seeding sample sessions failed", "error", err)
		}
		log.Info("sample sessions seeded")
	}
	router := handler.NewRouter(handler.NewSessionHandler(svc, log), log)

	// ── 5. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		log.Error("server error", "error", err)
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	if err := svc.Drain(shutdownCtx); err != nil {
		log.Warn("pending booking events not flushed", "error", err)
	}
	log.Info("server stopped")
}

// openStore builds the session and booking stores selected by STORAGE_DRIVER.
// The returned close function releases the underlying connections.
func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (service.SessionStore, service.BookingStore, func(), error) {
	switch cfg.StorageDriver {
	case config.DriverPostgres:
		pool, err := database.NewPool(ctx, cfg.DB, log)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		return repository.NewSessionRepository(pool),
			repository.NewBookingRepository(pool, cfg.LockTimeout),
			pool.Close,
			nil

	case config.DriverMongo:
		client, err := mongostore.Connect(ctx, cfg.Mongo)
		if err != nil {
			return nil, nil, nil, err
		}
		disconnect := func() {
			if err := client.Disconnect(context.Background()); err != nil {
				log.Warn("mongo disconnect failed", "error", err)
			}
		}
		store := mongostore.New(client.Database(cfg.Mongo.Database))
		if err := store.EnsureIndexes(ctx); err != nil {
			disconnect()
			return nil, nil, nil, err
		}
		return store, store, disconnect, nil

	case config.DriverMemory:
		store := memory.New(cfg.LockTimeout)
		return store, store, func() {}, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
}
