package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/settlement/internal/events/kafkaevents"
	"github.com/MarkoPoloResearchLab/settlement/internal/facts"
	"github.com/MarkoPoloResearchLab/settlement/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/settlement/internal/httpapi"
	"github.com/MarkoPoloResearchLab/settlement/internal/lock/redislock"
	"github.com/MarkoPoloResearchLab/settlement/internal/logging"
	"github.com/MarkoPoloResearchLab/settlement/internal/observability"
	"github.com/MarkoPoloResearchLab/settlement/internal/settings"
	"github.com/MarkoPoloResearchLab/settlement/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/settlement/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/settlement/pkg/ledger"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"

	shutdownTimeout = 5 * time.Second
)

func runServer(ctx context.Context, cfg *Config) error {
	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, FilePath: cfg.LogFile})
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()

	if err := prepareSchema(gormDB, driver, cfg.StoreDriver); err != nil {
		return err
	}

	store, closeStore, err := openLedgerStore(ctx, cfg, gormDB)
	if err != nil {
		return err
	}
	defer closeStore()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metricsLogger, err := observability.NewMetricsOperationLogger(registry)
	if err != nil {
		return fmt.Errorf("metrics init: %w", err)
	}

	options := []ledger.ServiceOption{
		ledger.WithOperationLogger(observability.FanOut{observability.NewZapOperationLogger(logger), metricsLogger}),
	}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer func() { _ = client.Close() }()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		locker, err := redislock.New(client, redislock.Config{}, logger)
		if err != nil {
			return fmt.Errorf("redis locker: %w", err)
		}
		options = append(options, ledger.WithAccountLocker(locker))
		logger.Info("distributed account locks enabled", zap.String("redis_addr", cfg.RedisAddr))
	}
	if len(cfg.KafkaBrokers) > 0 {
		writer, err := kafkaevents.NewWriter(kafkaevents.Config{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic}, logger)
		if err != nil {
			return fmt.Errorf("kafka writer: %w", err)
		}
		publisher, err := kafkaevents.NewPublisher(writer, logger)
		if err != nil {
			return fmt.Errorf("kafka publisher: %w", err)
		}
		defer func() { _ = publisher.Close() }()
		options = append(options, ledger.WithEventPublisher(publisher))
		logger.Info("ledger events enabled", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	ledgerService, err := ledger.NewService(store, func() time.Time { return time.Now().UTC() }, options...)
	if err != nil {
		return fmt.Errorf("ledger service init: %w", err)
	}
	settingsStore, err := settings.NewStore(gormDB, func() time.Time { return time.Now().UTC() })
	if err != nil {
		return fmt.Errorf("settings init: %w", err)
	}
	factsProvider, err := facts.NewProvider(gormDB)
	if err != nil {
		return fmt.Errorf("facts init: %w", err)
	}

	authInterceptor, err := grpcserver.AuthUnaryInterceptor(grpcserver.ServiceAuthConfig{
		SigningKey: []byte(cfg.ServiceJWTKey),
		Issuer:     cfg.ServiceJWTIssuer,
	})
	if err != nil {
		return fmt.Errorf("grpc auth: %w", err)
	}
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(authInterceptor))
	grpcserver.RegisterLedgerServiceServer(grpcServer, grpcserver.NewLedgerServer(ledgerService, settingsStore, factsProvider))

	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return fmt.Errorf("session validator: %w", err)
	}
	gin.SetMode(gin.ReleaseMode)
	httpConfig := httpapi.Config{AllowedOrigins: cfg.AllowedOrigins, RequestTimeout: cfg.RequestTimeout}
	handler := httpapi.NewHandler(logger, ledgerService, settingsStore, factsProvider, httpConfig)
	router := httpapi.NewRouter(httpConfig, handler, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), httpapi.SessionAuthenticator(validator)...)
	httpServer := &http.Server{Addr: cfg.HTTPListenAddr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	lis, err := net.Listen("tcp", cfg.GRPCListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("gRPC server starting", zap.String("listen_addr", cfg.GRPCListenAddr))
		if serveErr := grpcServer.Serve(lis); serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc serve: %w", serveErr)
		}
	}()
	go func() {
		logger.Info("HTTP server starting", zap.String("listen_addr", cfg.HTTPListenAddr))
		if serveErr := httpServer.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http serve: %w", serveErr)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case runErr = <-errCh:
		logger.Error("server failed", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn("http shutdown error", zap.Error(shutdownErr))
	}
	grpcServer.GracefulStop()
	return runErr
}

func openLedgerStore(ctx context.Context, cfg *Config, gormDB *gorm.DB) (ledger.Store, func(), error) {
	if cfg.StoreDriver != storeDriverPGX {
		return gormstore.New(gormDB), func() {}, nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("pgx pool: %w", err)
	}
	if err := pgstore.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pgx migrate: %w", err)
	}
	return pgstore.New(pool), pool.Close, nil
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	cfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}
	switch driver {
	case driverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	case driverSQLite:
		db, err = gorm.Open(sqlite.Open(sqlitePath), cfg)
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
	if driver == driverSQLite {
		// sqlite has no row locks; a single connection serializes writers.
		sqlDB.SetMaxOpenConns(1)
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if isPostgresURL(dsn) {
		return driverPostgres, "", nil
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
			path = "settlement.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return driverSQLite, sqlitePath, err
	}
	// Anything else is a plain sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return driverSQLite, sqlitePath, err
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

// prepareSchema creates the tables this service owns. The KYC and order tables are only
// created for local sqlite runs; in production they belong to their services.
func prepareSchema(db *gorm.DB, driver string, storeDriver string) error {
	if err := settings.Migrate(db); err != nil {
		return fmt.Errorf("settings migrate: %w", err)
	}
	if storeDriver == storeDriverGorm {
		if err := gormstore.Migrate(db); err != nil {
			return fmt.Errorf("ledger migrate: %w", err)
		}
	}
	if driver == driverSQLite {
		if err := facts.Migrate(db); err != nil {
			return fmt.Errorf("facts migrate: %w", err)
		}
	}
	return nil
}
