package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagEnvFile           = "env-file"
	flagDatabaseURL       = "database-url"
	flagStoreDriver       = "store-driver"
	flagGRPCListenAddr    = "grpc-listen-addr"
	flagHTTPListenAddr    = "http-listen-addr"
	flagServiceJWTKey     = "service-jwt-key"
	flagServiceJWTIssuer  = "service-jwt-issuer"
	flagSessionSigningKey = "session-signing-key"
	flagSessionIssuer     = "session-issuer"
	flagSessionCookieName = "session-cookie-name"
	flagAllowedOrigins    = "allowed-origins"
	flagRequestTimeout    = "request-timeout"
	flagRedisAddr         = "redis-addr"
	flagRedisPassword     = "redis-password"
	flagKafkaBrokers      = "kafka-brokers"
	flagKafkaTopic        = "kafka-topic"
	flagLogLevel          = "log-level"
	flagLogFile           = "log-file"
	envPrefix             = "SETTLEMENTD"
)

var boundFlags = []string{
	flagDatabaseURL, flagStoreDriver, flagGRPCListenAddr, flagHTTPListenAddr,
	flagServiceJWTKey, flagServiceJWTIssuer, flagSessionSigningKey, flagSessionIssuer,
	flagSessionCookieName, flagAllowedOrigins, flagRequestTimeout, flagRedisAddr,
	flagRedisPassword, flagKafkaBrokers, flagKafkaTopic, flagLogLevel, flagLogFile,
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "settlementd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &Config{}
	cmd := &cobra.Command{
		Use:           "settlementd",
		Short:         "Wallet and postpaid credit settlement ledger",
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

	cmd.Flags().String(flagEnvFile, ".env", "optional dotenv file loaded before reading the environment")
	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or sqlite connection string")
	cmd.Flags().String(flagStoreDriver, storeDriverGorm, "ledger store implementation: gorm or pgx (postgres only)")
	cmd.Flags().String(flagGRPCListenAddr, defaultGRPCListenAddr, "gRPC listen address")
	cmd.Flags().String(flagHTTPListenAddr, defaultHTTPListenAddr, "HTTP listen address")
	cmd.Flags().String(flagServiceJWTKey, "", "HS256 key for service-to-service gRPC tokens (required)")
	cmd.Flags().String(flagServiceJWTIssuer, "", "expected issuer of service tokens (required)")
	cmd.Flags().String(flagSessionSigningKey, "", "TAuth session signing key (required)")
	cmd.Flags().String(flagSessionIssuer, defaultSessionIssuer, "expected session issuer")
	cmd.Flags().String(flagSessionCookieName, defaultSessionCookieName, "session cookie name")
	cmd.Flags().String(flagAllowedOrigins, defaultAllowedOrigin, "comma-separated list of allowed CORS origins")
	cmd.Flags().Duration(flagRequestTimeout, defaultRequestTimeout, "per-request ledger timeout")
	cmd.Flags().String(flagRedisAddr, "", "Redis address for distributed account locks (optional)")
	cmd.Flags().String(flagRedisPassword, "", "Redis password")
	cmd.Flags().String(flagKafkaBrokers, "", "comma-separated Kafka brokers for ledger events (optional)")
	cmd.Flags().String(flagKafkaTopic, defaultKafkaTopic, "Kafka topic for ledger events")
	cmd.Flags().String(flagLogLevel, defaultLogLevel, "log level: debug, info, warn or error")
	cmd.Flags().String(flagLogFile, "", "optional rotated log file path")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *Config) error {
	envFile, err := cmd.Flags().GetString(flagEnvFile)
	if err != nil {
		return err
	}
	if err := loadEnvFile(envFile); err != nil {
		return err
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, flagName := range boundFlags {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	cfg.StoreDriver = strings.TrimSpace(v.GetString(flagStoreDriver))
	cfg.GRPCListenAddr = strings.TrimSpace(v.GetString(flagGRPCListenAddr))
	cfg.HTTPListenAddr = strings.TrimSpace(v.GetString(flagHTTPListenAddr))
	cfg.ServiceJWTKey = v.GetString(flagServiceJWTKey)
	cfg.ServiceJWTIssuer = strings.TrimSpace(v.GetString(flagServiceJWTIssuer))
	cfg.SessionSigningKey = v.GetString(flagSessionSigningKey)
	cfg.SessionIssuer = strings.TrimSpace(v.GetString(flagSessionIssuer))
	cfg.SessionCookieName = strings.TrimSpace(v.GetString(flagSessionCookieName))
	cfg.AllowedOrigins = parseList(v.GetString(flagAllowedOrigins))
	cfg.RequestTimeout = v.GetDuration(flagRequestTimeout)
	cfg.RedisAddr = strings.TrimSpace(v.GetString(flagRedisAddr))
	cfg.RedisPassword = v.GetString(flagRedisPassword)
	cfg.KafkaBrokers = parseList(v.GetString(flagKafkaBrokers))
	cfg.KafkaTopic = strings.TrimSpace(v.GetString(flagKafkaTopic))
	cfg.LogLevel = strings.TrimSpace(v.GetString(flagLogLevel))
	cfg.LogFile = strings.TrimSpace(v.GetString(flagLogFile))

	return cfg.Validate()
}

// loadEnvFile applies a dotenv file without overriding variables already set.
func loadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
