// Package app wires the settlement engine together and runs it.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bodarent/backend/internal/domain/loyalty"
	"github.com/bodarent/backend/internal/domain/promo"
	"github.com/bodarent/backend/internal/domain/settlement"
	"github.com/bodarent/backend/internal/handler"
	"github.com/bodarent/backend/internal/payment/momo"
	"github.com/bodarent/backend/internal/reconcile"
	"github.com/bodarent/backend/internal/repository"
	"github.com/bodarent/backend/pkg/health"
	"github.com/bodarent/backend/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and the reconciliation
// poller, and handles graceful shutdown. It is the single wiring point for
// the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.DatabasePingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)

	// Repositories.
	bikeRepo := repository.NewBikeRepository(pool)
	addOnRepo := repository.NewAddOnRepository(pool)
	reservationRepo := repository.NewReservationRepository(pool)
	promoRepo := repository.NewPromoRepository(pool)
	loyaltyRepo := repository.NewLoyaltyRepository(pool)
	profileRepo := repository.NewProfileRepository(pool)

	// Payment gateway: real provider, or the simulator when explicitly
	// requested.
	var gateway momo.Gateway
	if cfg.Payment.Simulate {
		gateway = momo.NewSimulator(cfg.Payment.SimulateDelay, cfg.Payment.CountryCode, lg)
	} else {
		gateway = momo.NewClient(momo.Config{
			BaseURL:     cfg.Payment.BaseURL,
			APIKey:      cfg.Payment.APIKey,
			TargetEnv:   cfg.Payment.TargetEnv,
			CountryCode: cfg.Payment.CountryCode,
			Timeout:     cfg.Payment.Timeout,
		})
	}

	// Domain services.
	promoValidator := promo.NewRepoValidator(promoRepo)
	awarder := loyalty.NewAwarder(loyaltyRepo)
	settlementSvc := settlement.NewService(
		bikeRepo, addOnRepo, reservationRepo,
		promoValidator, promoRepo, gateway, awarder, profileRepo,
	)

	reconcileMetrics, err := reconcile.NewMetrics(m.MeterProvider().Meter("bodarent.reconcile"))
	if err != nil {
		return errors.Wrap(err, "create reconcile metrics")
	}
	poller := reconcile.NewPoller(reservationRepo, gateway, settlementSvc, reconcile.Config{
		Interval:  cfg.Reconcile.Interval,
		MinAge:    cfg.Reconcile.MinAge,
		BatchSize: cfg.Reconcile.BatchSize,
	}).WithMetrics(reconcileMetrics)

	// HTTP surface.
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	handler.NewHandler(settlementSvc, bikeRepo, loyaltyRepo).Routes(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("bodarent-api", m.TracerProvider(), m.MeterProvider()),
			httpmiddleware.LogRequests(),
		),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return poller.Run(ctx)
	})

	g.Go(func() error {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})

	g.Go(func() error {
		healthSvc.SetReady(true)
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
