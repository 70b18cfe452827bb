package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Davemuriu/tac-shop/internal/cache"
	"github.com/Davemuriu/tac-shop/internal/cart"
	"github.com/Davemuriu/tac-shop/internal/config"
	"github.com/Davemuriu/tac-shop/internal/domain"
	"github.com/Davemuriu/tac-shop/internal/httpapi"
	"github.com/Davemuriu/tac-shop/internal/logging"
	"github.com/Davemuriu/tac-shop/internal/metrics"
	"github.com/Davemuriu/tac-shop/internal/service"
	"github.com/Davemuriu/tac-shop/internal/session"
	"github.com/Davemuriu/tac-shop/internal/store"
	"github.com/Davemuriu/tac-shop/internal/store/memory"
	pgstore "github.com/Davemuriu/tac-shop/internal/store/postgres"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "tac-shop",
		Short:         "Point-of-sale cart and checkout server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (defaults to $CONFIG_FILE)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return serve(cmd.Context(), configPath)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply pending PostgreSQL migrations and exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return migrate(cmd.Context(), configPath)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the build version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	return root
}

func loadConfig(path string) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func migrate(ctx context.Context, path string) error {
	cfg, logger, err := loadConfig(path)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required to run migrations")
	}
	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()

	if err := pg.Migrate(); err != nil {
		return err
	}
	logger.Info("migrations applied")
	return nil
}

func serve(ctx context.Context, path string) error {
	cfg, logger, err := loadConfig(path)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var repo store.Repository
	var users httpapi.UserStore
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(startCtx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback: %w", err)
		}
		if err := pg.Migrate(); err != nil {
			_ = pg.Close()
			return err
		}
		repo, users = pg, pg
		closers = append(closers, pg.Close)
		logger.Info("repository ready", zap.String("backend", "postgres"))
	} else {
		mem := memory.NewSeeded()
		repo, users = mem, mem
		logger.Info("repository ready", zap.String("backend", "memory"))
	}

	sessionStore := cache.SessionStore(cache.NoopSessionStore{})
	if cfg.RedisAddr != "" {
		redisStore := cache.NewRedisSessionStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.SessionTTL())
		if err := redisStore.Ping(startCtx); err != nil {
			logger.Warn("redis unavailable, sessions are process-local", zap.Error(err))
			_ = redisStore.Close()
		} else {
			sessionStore = redisStore
			closers = append(closers, redisStore.Close)
			logger.Info("session store ready", zap.String("backend", "redis"))
		}
	}

	tax, err := cart.NewTaxPolicy(cfg.TaxMode, cfg.TaxRatePercent)
	if err != nil {
		return err
	}

	m := metrics.New()
	sessions := session.NewManager(sessionStore, logger)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), cfg.ManagerPIN, users)
	if err := seedAccounts(startCtx, auth, cfg, logger); err != nil {
		return err
	}

	svc := service.New(repo, sessions, auth, service.Options{
		Tax:     tax,
		Logger:  logger,
		Metrics: m,
	})
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger, m)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Address()), zap.String("version", version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-sigCtx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn("close", zap.Error(err))
		}
	}

	logger.Info("server stopped")
	return nil
}

// seedAccounts creates the configured staff accounts on first start. Accounts
// without a configured password are never created.
func seedAccounts(ctx context.Context, auth *httpapi.AuthManager, cfg config.Config, logger *zap.Logger) error {
	accounts := []struct {
		username string
		password string
		role     string
	}{
		{"admin", cfg.AdminPassword, domain.RoleAdmin},
		{"manager", cfg.ManagerPassword, domain.RoleManager},
		{"cashier", cfg.CashierPassword, domain.RoleCashier},
	}
	for _, acct := range accounts {
		created, err := auth.EnsureUser(ctx, acct.username, acct.password, acct.role)
		if err != nil {
			return fmt.Errorf("seed %s account: %w", acct.username, err)
		}
		if created {
			logger.Info("account created", zap.String("username", acct.username), zap.String("role", acct.role))
		}
	}
	return nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return errors.New("AUTH_SECRET must be set and at least 32 characters")
	}
	if n := len(cfg.ManagerPIN); n < 4 || n > 12 {
		return errors.New("MANAGER_PIN must be 4 to 12 digits")
	}
	for _, r := range cfg.ManagerPIN {
		if r < '0' || r > '9' {
			return errors.New("MANAGER_PIN must contain digits only")
		}
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

var weakPINs = map[string]bool{
	"1234": true, "4321": true, "1212": true, "6969": true, "2580": true,
	"123456": true, "654321": true, "121212": true, "112233": true, "123123": true,
}

// validatePINStrength rejects PINs that repeat one digit, run sequentially in
// either direction, or appear on the common-PIN list.
func validatePINStrength(pin string) error {
	if weakPINs[pin] {
		return errors.New("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return errors.New("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return errors.New("sequential PIN not allowed")
	}
	return nil
}
