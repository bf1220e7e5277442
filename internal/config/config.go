// Package config loads simulator configuration from a .env file, OS
// environment variables, and command-line flags, in that order of
// increasing precedence, matching uhyunpark-hyperlicked's
// params.LoadFromEnv pattern layered onto the teacher's flag/env Config
// struct.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/wallstreetsim/engine/internal/secrets"
)

// Config holds all simulator configuration.
type Config struct {
	// Server
	Port int
	Host string

	// Database
	MongoURI string

	// Secrets (C1/C3)
	JWTSecret string
	APISecret string

	// Simulation clock
	TickIntervalMS      int
	TicksPerTradingDay  int
	Seed                int64
	SnapshotIntervalSec int

	// Margin / bankruptcy
	DefaultMarginRequirement float64

	// Retention & archival
	TickEventRetentionTicks int
	S3Bucket                string
	S3Region                string
	S3Prefix                string
	ArchiveIntervalHours    int

	// Transport
	SendBufferSize int

	// Webhooks
	WebhookTimeoutMS int
}

// Load reads a .env file (if present), then OS env vars, then flags, and
// validates required secrets. Exits the process with status 1 if a
// required secret fails validation, per spec.md §6 exit codes.
func Load() *Config {
	_ = godotenv.Load() // .env is optional; OS env always wins if set

	c := &Config{}

	flag.IntVar(&c.Port, "port", envInt("PORT", 8100), "HTTP/WebSocket listen port")
	flag.StringVar(&c.Host, "host", envStr("HOST", "0.0.0.0"), "Listen host")

	flag.StringVar(&c.MongoURI, "mongo-uri", envStr("MONGO_URI", "mongodb://localhost:27017/wallstreetsim"), "MongoDB connection URI")

	flag.StringVar(&c.JWTSecret, "jwt-secret", envStr("JWT_SECRET", ""), "HMAC secret for session tokens")
	flag.StringVar(&c.APISecret, "api-secret", envStr("API_SECRET", ""), "Secret used to derive webhook signing keys")

	flag.IntVar(&c.TickIntervalMS, "tick-interval-ms", envInt("TICK_INTERVAL_MS", 1000), "Milliseconds per simulation tick")
	flag.IntVar(&c.TicksPerTradingDay, "ticks-per-day", envInt("TICKS_PER_TRADING_DAY", 23400), "Ticks per simulated trading day")
	flag.Int64Var(&c.Seed, "seed", envInt64("SEED", 0), "PRNG seed (0 = random)")
	flag.IntVar(&c.SnapshotIntervalSec, "snapshot-interval-sec", envInt("SNAPSHOT_INTERVAL_SEC", 30), "Seconds between world-state snapshots")

	flag.Float64Var(&c.DefaultMarginRequirement, "default-margin-requirement", envFloat("DEFAULT_MARGIN_REQUIREMENT", 0.5), "Fraction of short notional held as margin")

	flag.IntVar(&c.TickEventRetentionTicks, "tick-event-retention", envInt("TICK_EVENT_RETENTION_TICKS", 10000), "Ticks of TickEventRecord history kept hot before archival")
	flag.StringVar(&c.S3Bucket, "s3-bucket", envStr("S3_BUCKET", ""), "S3 bucket for tick-event archival (empty = local disk only)")
	flag.StringVar(&c.S3Region, "s3-region", envStr("S3_REGION", "us-east-1"), "AWS region for S3")
	flag.StringVar(&c.S3Prefix, "s3-prefix", envStr("S3_PREFIX", "wallstreetsim"), "S3 key prefix for archived tick events")
	flag.IntVar(&c.ArchiveIntervalHours, "archive-interval-hours", envInt("ARCHIVE_INTERVAL_HOURS", 6), "Hours between archive runs")

	flag.IntVar(&c.SendBufferSize, "send-buffer", envInt("SEND_BUFFER", 4096), "Per-client socket send buffer size")
	flag.IntVar(&c.WebhookTimeoutMS, "webhook-timeout-ms", envInt("WEBHOOK_TIMEOUT_MS", 5000), "Outbound webhook request timeout")

	flag.Parse()

	if err := c.validateSecrets(); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	return c
}

func (c *Config) validateSecrets() error {
	if err := secrets.ValidateSecret("JWT_SECRET", c.JWTSecret); err != nil {
		return err
	}
	if err := secrets.ValidateSecret("API_SECRET", c.APISecret); err != nil {
		return err
	}
	return nil
}

// TickInterval returns the tick cadence as a time.Duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMS) * time.Millisecond
}

// SnapshotInterval returns the snapshot cadence as a time.Duration.
func (c *Config) SnapshotInterval() time.Duration {
	return time.Duration(c.SnapshotIntervalSec) * time.Second
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return def
}
