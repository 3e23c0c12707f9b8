// Copyright 2026 The Signet Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/signet-id/signet/internal/audit"
	"github.com/signet-id/signet/internal/config"
	"github.com/signet-id/signet/internal/identity"
	"github.com/signet-id/signet/internal/observability/logger"
	"github.com/signet-id/signet/internal/observability/metrics"
	"github.com/signet-id/signet/internal/observability/tracing"
	"github.com/signet-id/signet/internal/store/postgres"
	"github.com/signet-id/signet/internal/token"
	transportHTTP "github.com/signet-id/signet/internal/transport/http"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
	slog.Info("starting signet authorization server")

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(cfg); err != nil {
			fmt.Printf("Migration failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	ctx := context.Background()

	// Initialize tracer
	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   1.0,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
	}
	defer tracer.Shutdown(ctx)

	// Initialize meter
	meter, err := metrics.New(ctx, metrics.Config{
		Enabled: cfg.Observability.OTELEnabled,
	}, cfg.Observability.ServiceName)
	if err != nil {
		slog.Error("failed to initialize meter", logger.Error(err))
	}

	var tokenMetrics *metrics.TokenMetrics
	if meter != nil {
		tokenMetrics, err = metrics.NewTokenMetrics(meter)
		if err != nil {
			slog.Error("failed to create token metrics", logger.Error(err))
		}
	}

	// Initialize database
	db, err := postgres.New(ctx, postgres.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		slog.Error("failed to connect to database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to database")

	// Initialize repositories
	keyRepo := postgres.NewKeyRepository(db)
	clientRepo := postgres.NewClientRepository(db)
	userRepo := postgres.NewUserRepository(db)
	refreshRepo := postgres.NewRefreshTokenRepository(db)

	// Initialize helpers
	auditLogger := audit.NewSlogLogger()
	passwordHasher := identity.NewPasswordHasher(
		cfg.Security.Argon2Memory,
		cfg.Security.Argon2Iterations,
		cfg.Security.Argon2Parallelism,
		cfg.Security.Argon2SaltLength,
		cfg.Security.Argon2KeyLength,
	)

	sealer, err := token.NewKeySealer([]byte(cfg.Token.MasterKey))
	if err != nil {
		slog.Error("failed to initialize key sealer", logger.Error(err))
		os.Exit(1)
	}

	// Initialize services
	identityService := identity.NewService(
		userRepo,
		passwordHasher,
		auditLogger,
		cfg.Security.LockoutMaxAttempts,
		cfg.Security.LockoutDuration,
	)

	keyManager := token.NewKeyManager(keyRepo, sealer, auditLogger, token.KeyManagerConfig{
		KeyBits:     cfg.Token.KeyBits,
		GracePeriod: cfg.Token.GracePeriod,
		Bootstrap:   cfg.Token.BootstrapKey,
	})
	if err := keyManager.Load(ctx); err != nil {
		slog.Error("failed to load signing keys", logger.Error(err))
		os.Exit(1)
	}

	issuer := token.NewIssuer(
		keyManager,
		clientRepo,
		identityService,
		refreshRepo,
		auditLogger,
		token.IssuerConfig{
			Issuer:          cfg.Token.Issuer,
			Audience:        cfg.Token.Audience,
			AccessTokenTTL:  cfg.Token.AccessTokenTTL,
			RefreshTokenTTL: cfg.Token.RefreshTokenTTL,
		},
	)

	revocationList := token.NewMemoryRevocationList()
	introspection := token.NewIntrospectionService(keyManager, revocationList, cfg.Token.Issuer)
	jwksPublisher := token.NewJWKSPublisher(keyManager)

	// Rate Limiter
	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	// Initialize HTTP handler
	handler := transportHTTP.NewHandler(
		issuer,
		introspection,
		jwksPublisher,
		keyManager,
		identityService,
		clientRepo,
		auditLogger,
		transportHTTP.HandlerConfig{
			IssuerURL: cfg.Token.Issuer,
			Metrics:   tokenMetrics,
		},
	)

	// Create router
	router := transportHTTP.NewRouter(handler, rateLimiter)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Purge retired keys past their grace period
	go func() {
		ticker := time.NewTicker(cfg.Token.PurgeInterval)
		defer ticker.Stop()
		for range ticker.C {
			if err := keyManager.PurgeExpiredRetired(ctx); err != nil {
				slog.ErrorContext(ctx, "failed to purge retired keys", logger.Error(err))
			}
		}
	}()

	// Evict expired refresh token records
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if err := refreshRepo.DeleteExpired(ctx); err != nil {
				slog.ErrorContext(ctx, "failed to delete expired refresh tokens", logger.Error(err))
			}
		}
	}()

	// Start server
	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"))
		slog.Info(fmt.Sprintf("listening on %s", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", logger.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}

	slog.Info("server stopped")
}

func runMigrate(cfg *config.Config) error {
	ctx := context.Background()
	db, err := postgres.New(ctx, postgres.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Println("Applying initial schema...")
	if err := db.Migrate(ctx, postgres.InitialSchema); err != nil {
		return err
	}
	fmt.Println("Migration successful.")
	return nil
}
