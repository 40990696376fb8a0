package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/parkline/capacity-engine/internal/audit"
	"github.com/parkline/capacity-engine/internal/booking"
	"github.com/parkline/capacity-engine/internal/checkin"
	"github.com/parkline/capacity-engine/internal/config"
	"github.com/parkline/capacity-engine/internal/conflict"
	"github.com/parkline/capacity-engine/internal/database"
	"github.com/parkline/capacity-engine/internal/handler"
	"github.com/parkline/capacity-engine/internal/hold"
	"github.com/parkline/capacity-engine/internal/middleware"
	"github.com/parkline/capacity-engine/internal/parcel"
	"github.com/parkline/capacity-engine/internal/queue"
	"github.com/parkline/capacity-engine/internal/repository"
	"github.com/parkline/capacity-engine/internal/router"
	"github.com/parkline/capacity-engine/internal/store"
	"github.com/parkline/capacity-engine/internal/trip"
)

func main() {
	config.LoadDotEnv()
	cfg := config.Load()
	ecfg := config.LoadEngineConfig()

	logger := log.New("server")
	if cfg.Env == "prod" {
		logger.SetLevel(log.INFO)
	} else {
		logger.SetLevel(log.DEBUG)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, db, err := openBackend(ctx, cfg)
	if err != nil {
		logger.Fatalf("open %s store: %v", cfg.StoreBackend, err)
	}
	if db != nil {
		defer db.Close()
	}

	rdb := config.NewRedisClient()
	var locker conflict.Locker
	if rdb != nil {
		defer rdb.Close()
		locker = conflict.NewRedisLocker(rdb, "parkline:lock", 10*time.Second)
		logger.Info("redis connected: distributed assignment lock, rate limit and audit cache enabled")
	} else {
		logger.Warn("redis unavailable: using in-process assignment lock, rate limit and audit cache disabled")
	}

	var notifier booking.Notifier
	if ecfg.NotifyEnabled {
		notifier = queue.NewPublisher(ecfg.RabbitMQURL)
		consumer := queue.NewConsumer(ecfg.RabbitMQURL, ecfg.BookingLogDir)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorf("booking consumer stopped: %v", err)
			}
		}()
	}

	auditLog := audit.NewLog(backend)
	holds := hold.NewManager(backend, backend, backend, auditLog, ecfg.Hold)
	engine := booking.NewEngine(backend, holds, auditLog, notifier)
	engine.NotifyTimeout = ecfg.NotifyTimeout
	go holds.Run(ctx)
	logger.Infof("hold duration %s, sweep every %s", holds.Config().Duration, holds.Config().SweepInterval)

	e := echo.New()
	e.HideBanner = true
	e.Logger = logger
	e.Use(echomw.Recover())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			if v.Error != nil {
				logger.Errorf("%s %s %d %s ip=%s err=%v", v.Method, v.URI, v.Status, v.Latency, v.RemoteIP, v.Error)
				return nil
			}
			logger.Infof("%s %s %d %s ip=%s", v.Method, v.URI, v.Status, v.Latency, v.RemoteIP)
			return nil
		},
	}))

	trips := trip.NewService(backend, auditLog)
	trips.Bookings = engine

	var pinger handler.Pinger
	if db != nil {
		pinger = db
	}
	router.RegisterRoutes(e, pinger)
	router.RegisterAPI(e, router.Handlers{
		Trips:       handler.NewTripHandler(trips, engine),
		Bookings:    handler.NewBookingHandler(engine),
		Assignments: handler.NewAssignmentHandler(conflict.NewDetector(backend, locker, auditLog)),
		Parcels:     handler.NewParcelHandler(parcel.NewAllocator(backend, auditLog)),
		CheckIn:     handler.NewCheckInHandler(checkin.NewService(backend, auditLog, ecfg.Location)),
		Audit:       handler.NewAuditHandler(auditLog),
	}, router.Options{
		JWTSecret:    cfg.JWTSecret,
		BookingLimit: middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb),
		AuditCache:   middleware.NewRedisCache(config.LoadCacheConfig(), rdb),
	})

	addr := ":" + cfg.Port
	go func() {
		logger.Infof("listening on %s (env=%s, store=%s)", addr, cfg.Env, cfg.StoreBackend)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
}

// openBackend builds the configured store.  The returned *sql.DB is nil for
// the memory backend.
func openBackend(ctx context.Context, cfg config.Config) (store.Backend, *sql.DB, error) {
	if cfg.StoreBackend != config.BackendMySQL {
		return store.NewMemory(), nil, nil
	}
	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return nil, nil, err
	}
	if err := database.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, nil, err
	}
	return repository.NewStore(db), db, nil
}
