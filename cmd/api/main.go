// Package main is the entry point for the Obrador API server.
//
// Startup order: configuration, logger, database pool, repositories, auth
// services, billing resolution, the authorization gate, external clients
// (Stripe, SQS, CloudWatch), handler registration, and finally the HTTP
// listener with graceful shutdown on SIGINT/SIGTERM.
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

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"obrador/internal/api/handlers"
	"obrador/internal/auth"
	"obrador/internal/billing"
	"obrador/internal/config"
	"obrador/internal/core"
	"obrador/internal/db"
	"obrador/internal/external"
	"obrador/internal/queue"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on
// error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("obrador API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()

	pool, err := newDatabasePool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("creating database pool: %w", err)
	}

	// Repositories share the pool; transactional paths go through the tx
	// manager instead.
	userRepo := db.NewUserRepository(pool)
	sessionRepo := db.NewSessionRepository(pool)
	membershipRepo := db.NewMembershipRepository(pool)
	businessRepo := db.NewBusinessRepository(pool)
	billingRepo := db.NewBillingRepository(pool, logger)
	orderRepo := db.NewOrderRepository(pool)
	customerRepo := db.NewCustomerRepository(pool)
	recipeRepo := db.NewRecipeRepository(pool)
	invitationRepo := db.NewInvitationRepository(pool)
	securityRepo := db.NewSecurityRepository(pool)

	// Auth stack.
	tokenGen := auth.NewCryptoTokenGenerator()
	sessionSvc := auth.NewSessionService(sessionRepo, tokenGen, auth.DefaultSessionConfig(), nil, logger)
	securitySvc := auth.NewSecurityService(securityRepo, auth.DefaultSecurityConfig(), nil, logger)
	authSvc := auth.NewAuthService(auth.AuthServiceConfig{
		UserRepo:       userRepo,
		SessionService: sessionSvc,
		Security:       securitySvc,
		TxManager:      db.NewAuthTxManager(pool),
		Logger:         logger,
	})
	identities := auth.NewIdentityResolver(sessionSvc, userRepo, membershipRepo)
	permissions := auth.NewPermissionChecker(membershipRepo)

	// Plan resolution and the gate.
	catalog := billing.NewStaticCatalog()
	resolver := billing.NewResolver(catalog, nil)
	gate := core.NewGate(identities, permissions, billingRepo, resolver, catalog, logger)

	srv, err := core.NewServer(cfg, gate, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	// AWS clients. The endpoint override points at LocalStack in development
	// and stays empty in production.
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("loading AWS configuration: %w", err)
	}
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	emailTrigger := queue.NewEmailTrigger(sqsClient, cfg.AWS, logger)

	if cfg.Observability.EnableMetrics {
		cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		srv.Metrics = external.NewCloudWatchMetrics(cwClient, cfg.Observability.MetricNamespace, logger)
	}

	// Stripe.
	stripeClient := external.NewStripeClient(
		&http.Client{Timeout: 20 * time.Second},
		businessRepo,
		external.StripeClientConfig{
			SecretKey: cfg.Billing.StripeSecretKey.Unmask(),
			Logger:    logger,
		},
	)

	// Handlers. Cookies are marked Secure everywhere except plain-HTTP local
	// development.
	secureCookies := cfg.Environment != "local"
	authHandler := handlers.NewAuthHandler(authSvc, gate, srv.Validator, secureCookies, logger)
	orderHandler := handlers.NewOrderHandler(orderRepo, gate, srv.Validator, nil, logger)
	customerHandler := handlers.NewCustomerHandler(customerRepo, gate, srv.Validator, nil, logger)
	recipeHandler := handlers.NewRecipeHandler(recipeRepo, gate, srv.Validator, nil, logger)
	teamHandler := handlers.NewTeamHandler(handlers.TeamHandlerConfig{
		Memberships: membershipRepo,
		Invitations: invitationRepo,
		Businesses:  businessRepo,
		Notifier:    emailTrigger,
		Tokens:      tokenGen,
		Gate:        gate,
		Validator:   srv.Validator,
		WebAppURL:   cfg.Server.WebAppURL,
		Logger:      logger,
	})
	billingHandler := handlers.NewBillingHandler(stripeClient, catalog, gate, srv.Validator, cfg.Server.WebAppURL, logger)
	webhookHandler := handlers.NewStripeWebhookHandler(
		&external.StripeVerifier{},
		billingRepo,
		businessRepo,
		cfg.Billing.StripeWebhookSecret.Unmask(),
		logger,
	)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		authHandler.RegisterRoutes,
		orderHandler.RegisterRoutes,
		customerHandler.RegisterRoutes,
		recipeHandler.RegisterRoutes,
		teamHandler.RegisterRoutes,
		billingHandler.RegisterRoutes,
		webhookHandler.RegisterRoutes,
	)

	srv.HealthProbes = append(srv.HealthProbes, &databaseProbe{pool: pool})
	srv.OnShutdown(func() error {
		pool.Close()
		return nil
	})

	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// newDatabasePool builds the pgx pool with the tuning parameters from
// configuration and verifies connectivity before the server starts taking
// traffic.
func newDatabasePool(ctx context.Context, dbCfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dbCfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}

	poolCfg.MaxConns = int32(dbCfg.MaxConns)
	poolCfg.MinConns = int32(dbCfg.MinConns)
	poolCfg.MaxConnLifetime = dbCfg.MaxConnLifetime
	poolCfg.HealthCheckPeriod = dbCfg.HealthCheckPeriod
	poolCfg.ConnConfig.ConnectTimeout = dbCfg.AcquireTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// databaseProbe reports database health for the /health endpoint.
type databaseProbe struct {
	pool *pgxpool.Pool
}

func (p *databaseProbe) Name() string { return "database" }

func (p *databaseProbe) Check(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// runHTTPServer starts the listener and blocks until a shutdown signal or a
// server error, then drains in-flight requests.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a JSON slog.Logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
