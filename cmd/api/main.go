package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/kestrelpay/onboard-auth/internal/auth"
	"github.com/kestrelpay/onboard-auth/internal/background"
	"github.com/kestrelpay/onboard-auth/internal/config"
	"github.com/kestrelpay/onboard-auth/internal/database"
	"github.com/kestrelpay/onboard-auth/internal/handlers"
	"github.com/kestrelpay/onboard-auth/internal/middleware"
	"github.com/kestrelpay/onboard-auth/internal/repositories"
	"github.com/kestrelpay/onboard-auth/internal/routes"
	"github.com/kestrelpay/onboard-auth/internal/services"
	pkghttp "github.com/kestrelpay/onboard-auth/pkg/http"
	pkglogger "github.com/kestrelpay/onboard-auth/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Repositories
	identityRepo := repositories.NewIdentityRepository(db)
	totpRepo := repositories.NewTOTPCredentialRepository(db)
	emailOTPRepo := repositories.NewEmailOTPRepository(db)

	// Login-attempt state lives in Postgres by default; with REDIS_ADDR set
	// it moves to Redis so lockouts are shared across instances.
	var attemptStore repositories.LoginAttemptStore = repositories.NewLoginAttemptRepository(db)
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		attemptTTL := cfg.Auth.LockoutDuration * 2
		attemptStore = repositories.NewRedisLoginAttemptStore(redisClient, attemptTTL)
		logger.Info("using Redis login-attempt store", slog.String("addr", cfg.Redis.Addr))
	}

	// Security primitives
	auditLogger := pkglogger.NewAuditLogger(logger)

	totpManager, err := auth.NewTOTPManager(cfg.MFA.TOTPEncryptionKey, cfg.MFA.TOTPIssuer)
	if err != nil {
		logger.Error("failed to initialize TOTP manager", slog.Any("error", err))
		os.Exit(1)
	}

	challengeManager := auth.NewChallengeManager(cfg.Auth.ChallengeSecret, cfg.Auth.ChallengeTTL)

	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:    cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs:  cfg.Auth.TimingDelayRandomMs,
		DelayOnSuccess: cfg.Auth.TimingDelayOnSuccess,
	})

	// Email delivery
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	codeSender, err := services.NewSESCodeSender(ctx, cfg.Email.AWSRegion, cfg.Email.FromAddress)
	cancel()
	if err != nil {
		logger.Error("failed to initialize email sender", slog.Any("error", err))
		os.Exit(1)
	}

	// Services
	lockoutService := services.NewLockoutService(attemptStore, cfg.Auth.LockoutThreshold, cfg.Auth.LockoutDuration)
	totpService := services.NewTOTPService(totpRepo, identityRepo, totpManager, auditLogger, cfg.MFA.BackupCodeCount)
	emailOTPService := services.NewEmailOTPService(emailOTPRepo, identityRepo, codeSender, auditLogger, logger,
		services.EmailOTPConfig{
			Expiry:      cfg.MFA.EmailOTPExpiry,
			MaxAttempts: cfg.MFA.EmailOTPMaxAttempts,
			SendLimit:   cfg.MFA.EmailOTPSendLimit,
			SendWindow:  cfg.MFA.EmailOTPSendWindow,
			SendTimeout: cfg.MFA.SendTimeout,
		})
	loginService := services.NewLoginService(identityRepo, lockoutService, totpService, emailOTPService,
		challengeManager, timingDelay, auditLogger)

	// Handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	authHandler := handlers.NewAuthHandler(loginService, ipConfig, logger)
	mfaHandler := handlers.NewMFAHandler(totpService, emailOTPService, loginService, logger)

	// Cleanup task
	cleanupManager := background.NewCleanupManager(lockoutService, emailOTPService, logger, cfg.Auth.CleanupInterval)

	// CORS
	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowedOrigins = cfg.Server.AllowedOrigins

	// Router
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.SecurityHeaders(middleware.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middleware.CORS(corsConfig))
	router.Use(middleware.SecureLogger(logger))
	router.Use(chimiddleware.Recoverer)
	router.Use(chimiddleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, authHandler, mfaHandler)

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

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

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

	logger.Info("server stopped gracefully")
}
