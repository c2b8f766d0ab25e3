package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carterwilliams/bastion/internal/auth"
	"github.com/carterwilliams/bastion/internal/background"
	"github.com/carterwilliams/bastion/internal/cache"
	"github.com/carterwilliams/bastion/internal/config"
	"github.com/carterwilliams/bastion/internal/database"
	"github.com/carterwilliams/bastion/internal/handlers"
	middlewareCustom "github.com/carterwilliams/bastion/internal/middleware"
	"github.com/carterwilliams/bastion/internal/models"
	"github.com/carterwilliams/bastion/internal/repositories"
	"github.com/carterwilliams/bastion/internal/routes"
	"github.com/carterwilliams/bastion/internal/services"
	pkgauth "github.com/carterwilliams/bastion/pkg/auth"
	pkghttp "github.com/carterwilliams/bastion/pkg/http"
	pkglogger "github.com/carterwilliams/bastion/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Run migrations before opening the pool
	if err := database.RunMigrations(&cfg.Database, logger); err != nil {
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	twoFactorRepo := repositories.NewTwoFactorRepository(db)
	auditRepo := repositories.NewAuditLogRepository(db)

	// In-process credential cache for session validity and profiles
	creds := cache.New(cfg.Security.CacheMaxEntries, cfg.Security.SessionCacheTTL, cfg.Security.ProfileCacheTTL)

	// Initialize token manager
	tokenManager := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)

	// Enable composite signing with per-user TokenKey
	tokenManager.SetUserRepo(userRepo)

	// Timing delay for auth security
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Security.TimingDelayBaseMs,
		RandomDelayMs: cfg.Security.TimingDelayRandomMs,
	})

	// TOTP is available only when an encryption key is configured
	var totpManager *auth.TOTPManager
	if cfg.Auth.TOTPEncryptionKey != "" {
		totpManager, err = auth.NewTOTPManager([]byte(cfg.Auth.TOTPEncryptionKey), cfg.Auth.TOTPIssuer)
		if err != nil {
			logger.Error("failed to initialize TOTP manager", slog.Any("error", err))
			os.Exit(1)
		}
	} else {
		logger.Warn("TOTP_ENCRYPTION_KEY not set, authenticator-app two-factor disabled")
	}

	// AWS SES email service
	emailService, err := services.NewAWSSESEmailService(cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
	if err != nil {
		logger.Error("failed to initialize email service", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize security services
	auditService := services.NewAuditService(auditRepo, logger, pkglogger.NewAuditLogger(logger))

	rateLimitService := services.NewRateLimitService(services.RateLimitConfig{
		MaxAttempts: cfg.Security.RateLimitMaxAttempts,
		Window:      cfg.Security.RateLimitWindow,
	}, logger)

	sessionService := services.NewSessionService(sessionRepo, creds, auditService, logger)

	lockoutService := services.NewLockoutService(userRepo, sessionService, emailService, auditService, services.LockoutConfig{
		MaxFailedAttempts: cfg.Security.MaxFailedAttempts,
		LockoutDuration:   cfg.Security.LockoutDuration,
	}, logger)

	twoFactorService := services.NewTwoFactorService(twoFactorRepo, userRepo, totpManager, emailService,
		rateLimitService, creds, auditService, services.TwoFactorConfig{
			ChallengeExpiry: cfg.Security.ChallengeExpiry,
		}, logger)

	userService := services.NewUserService(userRepo, sessionService, creds, auditService, logger)

	authService := services.NewAuthService(userRepo, lockoutService, twoFactorService, sessionService,
		tokenManager, timingDelay, rateLimitService, auditService, services.AuthConfig{
			DeletionGracePeriod: cfg.Security.DeletionGracePeriod,
		}, logger)

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	authHandler := handlers.NewAuthHandler(authService, ipConfig)
	sessionHandler := handlers.NewSessionHandler(sessionService)
	accountHandler := handlers.NewAccountHandler(userService, twoFactorService, auditService)
	adminHandler := handlers.NewAdminHandler(userService, auditService, sessionService)

	// Bootstrap first admin user if configured
	bootstrapCtx, bootstrapCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminUser(bootstrapCtx, userRepo, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	bootstrapCancel()

	// Background cleanup of expired security state
	cleanupManager := background.NewCleanupManager(twoFactorRepo, auditRepo, creds, rateLimitService,
		cfg.Security.ChallengeExpiry, cfg.Security.AuditRetentionDays, logger, cfg.Security.CleanupInterval)

	// Setup CORS middleware
	corsConfig := middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(corsConfig))
	router.Use(middlewareCustom.RequestLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, authHandler, sessionHandler, accountHandler, adminHandler,
		tokenManager, sessionService, userRepo, creds)

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	// Flush pending audit writes before exiting
	if err := auditService.Drain(shutdownCtx); err != nil {
		logger.Error("failed to drain audit writes", slog.Any("error", err))
	}

	logger.Info("server stopped gracefully")
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ensureAdminUser creates the first admin user if ADMIN_EMAIL and ADMIN_PASSWORD are set
func ensureAdminUser(ctx context.Context, userRepo *repositories.UserRepository, logger *slog.Logger) error {
	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminEmail == "" || adminPassword == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}

	_, err := userRepo.GetByEmail(ctx, adminEmail)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	if err := pkgauth.ValidatePassword(adminPassword); err != nil {
		return fmt.Errorf("admin password rejected: %w", err)
	}

	hashedPassword, err := pkgauth.HashPassword(adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	now := time.Now()
	admin := &models.User{
		Email:             adminEmail,
		PasswordHash:      hashedPassword,
		Name:              "Admin",
		Role:              "admin",
		PasswordChangedAt: &now,
	}

	if _, err := userRepo.Create(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created successfully")
	return nil
}
