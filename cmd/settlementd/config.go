package main

import (
	"fmt"
	"strings"
	"time"
)

const (
	storeDriverGorm = "gorm"
	storeDriverPGX  = "pgx"

	defaultDatabaseURL       = "sqlite:///tmp/settlement.db"
	defaultGRPCListenAddr    = ":7000"
	defaultHTTPListenAddr    = ":8080"
	defaultAllowedOrigin     = "http://localhost:8000"
	defaultSessionIssuer     = "tauth"
	defaultSessionCookieName = "app_session"
	defaultKafkaTopic        = "settlement.ledger.events"
	defaultLogLevel          = "info"
	defaultRequestTimeout    = 5 * time.Second
)

// Config aggregates runtime settings for settlementd.
type Config struct {
	DatabaseURL       string
	StoreDriver       string
	GRPCListenAddr    string
	HTTPListenAddr    string
	ServiceJWTKey     string
	ServiceJWTIssuer  string
	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string
	AllowedOrigins    []string
	RequestTimeout    time.Duration
	RedisAddr         string
	RedisPassword     string
	KafkaBrokers      []string
	KafkaTopic        string
	LogLevel          string
	LogFile           string
}

// Validate fills defaults and checks the configuration.
func (cfg *Config) Validate() error {
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	cfg.StoreDriver = strings.ToLower(defaultIfEmpty(cfg.StoreDriver, storeDriverGorm))
	cfg.GRPCListenAddr = defaultIfEmpty(cfg.GRPCListenAddr, defaultGRPCListenAddr)
	cfg.HTTPListenAddr = defaultIfEmpty(cfg.HTTPListenAddr, defaultHTTPListenAddr)
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookieName)
	cfg.KafkaTopic = defaultIfEmpty(cfg.KafkaTopic, defaultKafkaTopic)
	cfg.LogLevel = defaultIfEmpty(cfg.LogLevel, defaultLogLevel)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	switch cfg.StoreDriver {
	case storeDriverGorm:
	case storeDriverPGX:
		if !isPostgresURL(cfg.DatabaseURL) {
			return fmt.Errorf("store driver %s requires a postgres database url", storeDriverPGX)
		}
	default:
		return fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
	if len(cfg.ServiceJWTKey) == 0 {
		return fmt.Errorf("service jwt signing key is required")
	}
	if strings.TrimSpace(cfg.ServiceJWTIssuer) == "" {
		return fmt.Errorf("service jwt issuer is required")
	}
	if len(cfg.SessionSigningKey) == 0 {
		return fmt.Errorf("session signing key is required")
	}
	return nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

// parseList splits comma-delimited values into a slice.
func parseList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}

func isPostgresURL(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}
