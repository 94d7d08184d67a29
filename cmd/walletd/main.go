package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/wallet/internal/httpapi"
	"github.com/MarkoPoloResearchLab/wallet/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/wallet/internal/zaplogger"
	"github.com/MarkoPoloResearchLab/wallet/pkg/wallet"
	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagDatabaseURL   = "database-url"
	flagListenAddr    = "listen-addr"
	flagSigningKey    = "signing-key"
	flagCallerCIDRs   = "allowed-caller-cidrs"
	flagSweepInterval = "hold-sweep-interval"

	configKeyDatabaseURL   = "database_url"
	configKeyListenAddr    = "listen_addr"
	configKeySigningKey    = "service_signing_key"
	configKeyCallerCIDRs   = "allowed_caller_cidrs"
	configKeySweepInterval = "hold_sweep_interval"

	defaultDatabaseURL   = "sqlite:///tmp/wallet.db"
	defaultListenAddr    = ":8080"
	defaultSweepInterval = time.Minute
	sweepBatchSize       = 500
)

type runtimeConfig struct {
	DatabaseURL        string
	ListenAddr         string
	SigningKey         string
	AllowedCallerCIDRs []string
	HoldSweepInterval  time.Duration
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "walletd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "walletd",
		Short:         "Internal currency wallet server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL connection string or sqlite path")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagSigningKey, "", "HS256 key verifying caller service tokens")
	cmd.Flags().String(flagCallerCIDRs, "", "comma-separated CIDR ranges admitted by the caller gate")
	cmd.Flags().Duration(flagSweepInterval, defaultSweepInterval, "interval between expired hold sweeps")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	envBindings := map[string]string{
		configKeyDatabaseURL:   "DATABASE_URL",
		configKeyListenAddr:    "LISTEN_ADDR",
		configKeySigningKey:    "SERVICE_SIGNING_KEY",
		configKeyCallerCIDRs:   "ALLOWED_CALLER_CIDRS",
		configKeySweepInterval: "HOLD_SWEEP_INTERVAL",
	}
	for key, env := range envBindings {
		if err := viper.BindEnv(key, env); err != nil {
			return err
		}
	}

	flagBindings := map[string]string{
		configKeyDatabaseURL:   flagDatabaseURL,
		configKeyListenAddr:    flagListenAddr,
		configKeySigningKey:    flagSigningKey,
		configKeyCallerCIDRs:   flagCallerCIDRs,
		configKeySweepInterval: flagSweepInterval,
	}
	for key, flag := range flagBindings {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	cfg.SigningKey = viper.GetString(configKeySigningKey)
	cfg.AllowedCallerCIDRs = splitCIDRList(viper.GetString(configKeyCallerCIDRs))
	cfg.HoldSweepInterval = viper.GetDuration(configKeySweepInterval)
	if cfg.HoldSweepInterval <= 0 {
		cfg.HoldSweepInterval = defaultSweepInterval
	}
	if cfg.SigningKey == "" {
		return fmt.Errorf("service signing key is required")
	}
	return nil
}

func splitCIDRList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	cidrs := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			cidrs = append(cidrs, trimmed)
		}
	}
	return cidrs
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer cleanup()

	if err := prepareSchema(gormDB, driver); err != nil {
		return err
	}

	store := gormstore.New(gormDB)
	clock := func() int64 { return time.Now().UTC().Unix() }
	walletService, err := wallet.NewService(store, clock,
		wallet.WithOperationLogger(zaplogger.New(logger)),
	)
	if err != nil {
		return fmt.Errorf("wallet service init: %w", err)
	}

	server, err := httpapi.NewServer(walletService, logger, httpapi.Config{
		ListenAddr:         cfg.ListenAddr,
		SigningKey:         cfg.SigningKey,
		AllowedCallerCIDRs: cfg.AllowedCallerCIDRs,
	})
	if err != nil {
		return fmt.Errorf("http server init: %w", err)
	}

	go sweepExpiredHolds(ctx, walletService, logger, cfg.HoldSweepInterval)

	return server.Run(ctx)
}

// sweepExpiredHolds flips overdue active holds so their funds return to
// available even when no capture or release ever arrives.
func sweepExpiredHolds(ctx context.Context, service *wallet.Service, logger *zap.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := service.ExpireDueHolds(ctx, sweepBatchSize)
			if err != nil {
				logger.Warn("hold sweep failed", zap.Error(err))
				continue
			}
			if expired > 0 {
				logger.Info("expired overdue holds", zap.Int64("count", expired))
			}
		}
	}
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), &gorm.Config{})
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "wallet.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := gormstore.AutoMigrate(db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
