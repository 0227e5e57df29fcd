// Package app assembles the service graph. Construction is explicit and
// fails fast: a missing signing secret or unreachable database stops the
// process before it serves a single request.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/classlane/portal-auth-service/internal/config"
	"github.com/classlane/portal-auth-service/internal/domain"
	"github.com/classlane/portal-auth-service/internal/gc"
	"github.com/classlane/portal-auth-service/internal/http/handler"
	"github.com/classlane/portal-auth-service/internal/http/middleware"
	"github.com/classlane/portal-auth-service/internal/http/router"
	"github.com/classlane/portal-auth-service/internal/observability"
	"github.com/classlane/portal-auth-service/internal/portal"
	"github.com/classlane/portal-auth-service/internal/provider"
	"github.com/classlane/portal-auth-service/internal/repository"
	"github.com/classlane/portal-auth-service/internal/security"
	"github.com/classlane/portal-auth-service/internal/service"
)

type App struct {
	Config *config.Config
	Logger *slog.Logger
	DB     *gorm.DB
	Redis  *redis.Client

	Sessions *service.SessionService
	Tokens   *service.TokenService
	Janitor  *gc.Janitor

	Server        *http.Server
	Observability *observability.Runtime
}

// OpenDatabase connects and migrates the schema.
func OpenDatabase(cfg *config.Config) (*gorm.DB, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("open database: DATABASE_URL is required")
	}
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&domain.User{}, &domain.Session{}, &domain.RefreshToken{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return db, nil
}

// New builds the whole object graph on an already-open database. The
// redis client is optional; without it rate limiting stays in-process.
func New(cfg *config.Config, logger *slog.Logger, db *gorm.DB, redisClient *redis.Client) (*App, error) {
	keys, err := security.DeriveKeys(cfg.SigningSecret)
	if err != nil {
		return nil, fmt.Errorf("derive signing keys: %w", err)
	}
	jwtMgr := security.NewJWTManager(cfg.TokenIssuer, cfg.TokenAudience, keys.AccessSigning, keys.RefreshSigning)

	users := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	tokenRepo := repository.NewRefreshTokenRepository(db)

	google := provider.NewGoogle(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL, cfg.ProviderTimeout)

	tokens := service.NewTokenService(jwtMgr, tokenRepo, users, keys.TokenPepper, cfg.AccessTTL, cfg.RefreshTTL)
	var deadCache service.DeadSessionCache
	if redisClient != nil {
		deadCache = service.NewRedisDeadSessionCache(redisClient, "portal-auth:dead_session")
	}
	sessions := service.NewSessionService(sessionRepo, tokenRepo, service.DefaultCleanupPolicy(), deadCache, cfg.SessionTTL)
	verifier := service.NewVerifier(jwtMgr, users, google, cfg.IsDevelopment(), cfg.ProviderTimeout)
	auth := service.NewAuthService(google, users, tokens, sessions)

	detector := portal.NewDetector(cfg.TeacherPortalHosts, cfg.StudentPortalHosts)
	secureCookies := !cfg.IsDevelopment()
	stack := middleware.NewAuthStack(detector, verifier, tokens, sessions, secureCookies)

	var limiter middleware.Limiter
	if redisClient != nil {
		limiter = middleware.NewRedisLimiter(redisClient, "portal-auth")
	} else {
		limiter = middleware.NewLocalLimiter()
	}
	authLimiter := middleware.NewRateLimiter(limiter, cfg.AuthRateLimitRPM, time.Minute, middleware.FailClosed, "auth")

	h := router.NewRouter(router.Dependencies{
		AuthHandler:     handler.NewAuthHandler(auth, tokens, sessions, secureCookies),
		AuthStack:       stack,
		AuthRateLimiter: authLimiter.Middleware(),
		Readiness: func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Ping()
		},
		EnableOTelHTTP: cfg.OTELTracingEnabled || cfg.OTELMetricsEnabled,
	})

	return &App{
		Config:   cfg,
		Logger:   logger,
		DB:       db,
		Redis:    redisClient,
		Sessions: sessions,
		Tokens:   tokens,
		Janitor:  gc.NewJanitor(sessionRepo, tokenRepo),
		Server: &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Run serves HTTP and runs the garbage collector until ctx is cancelled,
// then drains connections and shuts observability down.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("http server listening", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.Janitor.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http: %w", err)
		}
		if err := a.Observability.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn("observability shutdown", "error", err)
		}
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
