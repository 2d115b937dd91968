// Package config loads OpsConductor's process configuration from the
// environment (optionally seeded from a .env file) and watches for
// changes that should trigger hot reloads.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config is the process-wide configuration. Every field maps to one of
// the documented environment variables; defaults are applied in Load.
type Config struct {
	LogLevel string

	DataDir string
	// DatabasePath is where the embedded relational store lives. Of the
	// PG_* variables only PG_DATABASE is read: it selects the database
	// file name under DataDir. PG_HOST, PG_PORT, PG_USER and PG_PASSWORD
	// are not read.
	DatabasePath string

	TrapHost              string
	TrapPort              int
	TrapQueueSize         int
	TrapWorkers           int
	TrapCommunities       []string
	TrapValidateCommunity bool

	SchedulerTickInterval time.Duration
	SchedulerMaxWorkers   int
	StaleExecutionTimeout time.Duration

	RuleEvalInterval time.Duration
	AlertDefaultTTL  time.Duration
	ExpirerInterval  time.Duration

	WebhookAddr string
	MetricsAddr string
}

func defaultDataDir() string {
	if dir := os.Getenv("OPSCONDUCTOR_DATA_DIR"); dir != "" {
		return dir
	}
	return "/var/lib/opsconductor"
}

// Load reads .env (if present) and the environment, returning a fully
// defaulted Config.
func Load() (*Config, error) {
	// .env is optional; absence is not an error.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	dataDir := defaultDataDir()
	dbName := envString("PG_DATABASE", "opsconductor")
	if !strings.HasSuffix(dbName, ".db") {
		dbName += ".db"
	}

	cfg := &Config{
		LogLevel:              envString("LOG_LEVEL", "INFO"),
		DataDir:               dataDir,
		DatabasePath:          filepath.Join(dataDir, dbName),
		TrapHost:              envString("SNMP_TRAP_HOST", "0.0.0.0"),
		TrapPort:              envInt("SNMP_TRAP_PORT", 162),
		TrapQueueSize:         envInt("SNMP_TRAP_QUEUE_SIZE", 10000),
		TrapWorkers:           envInt("SNMP_TRAP_WORKERS", 4),
		TrapCommunities:       envList("SNMP_TRAP_COMMUNITIES", []string{"public"}),
		TrapValidateCommunity: envBool("SNMP_TRAP_VALIDATE_COMMUNITY", false),
		SchedulerTickInterval: envDuration("SCHEDULER_TICK_SECONDS", 5*time.Second),
		SchedulerMaxWorkers:   envInt("SCHEDULER_MAX_WORKERS", 4),
		StaleExecutionTimeout: envDuration("SCHEDULER_STALE_TIMEOUT_SECONDS", 30*time.Minute),
		RuleEvalInterval:      envDuration("RULE_EVAL_SECONDS", time.Minute),
		AlertDefaultTTL:       envDuration("ALERT_DEFAULT_TTL_SECONDS", 24*time.Hour),
		ExpirerInterval:       envDuration("ALERT_EXPIRER_SECONDS", time.Minute),
		WebhookAddr:           envString("WEBHOOK_ADDR", "0.0.0.0:8081"),
		MetricsAddr:           envString("METRICS_ADDR", ""),
	}

	if cfg.TrapQueueSize <= 0 {
		return nil, fmt.Errorf("SNMP_TRAP_QUEUE_SIZE must be positive, got %d", cfg.TrapQueueSize)
	}
	if cfg.TrapWorkers <= 0 {
		return nil, fmt.Errorf("SNMP_TRAP_WORKERS must be positive, got %d", cfg.TrapWorkers)
	}
	return cfg, nil
}

// ParseLogLevel maps LOG_LEVEL to a zerolog level, defaulting to info
// on unrecognized values.
func (c *Config) ParseLogLevel() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("var", key).Str("value", v).Msg("Invalid integer in environment, using default")
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(os.Getenv(key))
	if v == "" {
		return def
	}
	return v == "true" || v == "1" || v == "yes"
}

func envList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		log.Warn().Str("var", key).Str("value", v).Msg("Invalid seconds value in environment, using default")
		return def
	}
	return time.Duration(n) * time.Second
}
