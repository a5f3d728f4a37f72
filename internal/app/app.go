package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/skycast-app/skycast/internal/cache"
	"github.com/skycast-app/skycast/internal/config"
	"github.com/skycast-app/skycast/internal/database"
	"github.com/skycast-app/skycast/internal/http/handler"
	"github.com/skycast-app/skycast/internal/http/router"
	"github.com/skycast-app/skycast/internal/observability"
	"github.com/skycast-app/skycast/internal/repository"
	"github.com/skycast-app/skycast/internal/security"
	"github.com/skycast-app/skycast/internal/service"
	"github.com/skycast-app/skycast/internal/weather"
)

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Observability *observability.Runtime

	db    *gorm.DB
	redis *redis.Client
}

// Build wires the full dependency graph from config.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	runtime, err := observability.InitRuntime(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})

	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	jwtMgr := security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessSecret)
	authSvc := service.NewAuthService(
		userRepo, sessionRepo, jwtMgr,
		cfg.RefreshTokenPepper,
		cfg.AccessTokenTTL, cfg.RefreshTokenTTL,
	)

	weatherSvc := weather.NewService(
		weather.NewClient(cfg.WeatherBaseURL, cfg.WeatherAPIKey),
		cache.New(redisClient),
		cfg.WeatherTTL,
	)

	mux := router.NewRouter(router.Dependencies{
		AuthHandler:      handler.NewAuthHandler(authSvc, cfg.RefreshTokenTTL, cfg.IsProduction()),
		UserHandler:      handler.NewUserHandler(),
		WeatherHandler:   handler.NewWeatherHandler(weatherSvc),
		JWTManager:       jwtMgr,
		APIRateLimitRPM:  cfg.APIRateLimitRPM,
		AuthRateLimitRPM: cfg.AuthRateLimitRPM,
		ReadyCheck:       readyCheck(db, redisClient),
		EnableOTelHTTP:   cfg.OTELMetricsEnabled,
	})

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &App{
		Config:        cfg,
		Logger:        logger,
		Server:        server,
		Observability: runtime,
		db:            db,
		redis:         redisClient,
	}, nil
}

// Shutdown drains the HTTP server and then closes everything else.
func (a *App) Shutdown(ctx context.Context) error {
	var firstErr error
	if err := a.Server.Shutdown(ctx); err != nil {
		firstErr = fmt.Errorf("shutdown http server: %w", err)
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close redis: %w", err)
		}
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("close database: %w", err)
			}
		}
	}
	if err := a.Observability.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("shutdown observability: %w", err)
	}
	return firstErr
}

func readyCheck(db *gorm.DB, redisClient *redis.Client) func() error {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		return nil
	}
}
