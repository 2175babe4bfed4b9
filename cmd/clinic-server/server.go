package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/clinicmanager/clinic/internal/config"
	"github.com/clinicmanager/clinic/internal/domain/billing"
	"github.com/clinicmanager/clinic/internal/domain/chat"
	"github.com/clinicmanager/clinic/internal/domain/clinic"
	"github.com/clinicmanager/clinic/internal/domain/inventory"
	"github.com/clinicmanager/clinic/internal/domain/lab"
	"github.com/clinicmanager/clinic/internal/domain/notification"
	"github.com/clinicmanager/clinic/internal/domain/patient"
	"github.com/clinicmanager/clinic/internal/domain/prescription"
	"github.com/clinicmanager/clinic/internal/domain/queue"
	"github.com/clinicmanager/clinic/internal/domain/specialist"
	"github.com/clinicmanager/clinic/internal/platform/auth"
	"github.com/clinicmanager/clinic/internal/platform/db"
	"github.com/clinicmanager/clinic/internal/platform/metrics"
	"github.com/clinicmanager/clinic/internal/platform/middleware"
	"github.com/clinicmanager/clinic/internal/platform/websocket"
)

const version = "0.1.0"

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	verify := auth.JWTMiddleware(jwtConfig(cfg))
	if cfg.IsDev() {
		return auth.DevAuthMiddleware(verify)
	}
	return verify
}

func jwtConfig(cfg *config.Config) auth.JWTConfig {
	return auth.JWTConfig{
		SigningKey: []byte(cfg.AuthSigningKey),
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
	}
}

// buildServer mounts every route on a new echo instance. Gateway callbacks
// sit outside authentication; clinic management needs a user but no clinic;
// everything else is clinic scoped.
func buildServer(cfg *config.Config, pool *pgxpool.Pool, a *app, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", db.ClinicHeader},
	}))
	e.Use(middleware.SecurityHeaders(!cfg.IsDev()))
	if cfg.MetricsEnabled {
		e.Use(middleware.Metrics())
		e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	apiV1 := e.Group("/api/v1",
		middleware.RateLimit(rateLimitCfg),
		middleware.RequestTimeout(cfg.RequestTimeout),
		middleware.BodyLimit(cfg.BodyLimit),
	)

	billingHandler := billing.NewHandler(a.billing)
	billingHandler.RegisterPublicRoutes(apiV1)

	authed := apiV1.Group("", authMiddleware(cfg), middleware.Audit(logger))
	clinic.NewHandler(a.clinics).RegisterRoutes(authed)

	clinicLimit := rateLimitCfg
	clinicLimit.Key = middleware.ClinicKey
	scoped := authed.Group("", db.ClinicMiddleware(cfg.IsDev()), middleware.RateLimit(clinicLimit))
	patient.NewHandler(a.patients).RegisterRoutes(scoped)
	queue.NewHandler(a.queues).RegisterRoutes(scoped)
	billingHandler.RegisterRoutes(scoped)
	inventory.NewHandler(a.inventory).RegisterRoutes(scoped)
	specialist.NewHandler(a.specialists).RegisterRoutes(scoped)
	prescription.NewHandler(a.prescribing).RegisterRoutes(scoped)
	lab.NewHandler(a.labs).RegisterRoutes(scoped)
	notification.NewHandler(a.notification).RegisterRoutes(scoped)
	chat.NewHandler(a.chat).RegisterRoutes(scoped)
	websocket.NewHandler(a.hub, cfg.CORSOrigins).RegisterRoutes(scoped)

	return e
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := newLogger(cfg.Env)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	if !cfg.PaymentsEnabled() {
		logger.Warn().Msg("PAYSTACK_SECRET_KEY not set, online payments disabled")
	}

	e := buildServer(cfg, pool, newApp(cfg, pool, logger), logger)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
