// Package config assembles runtime settings from an optional .env
// file, the process environment, and command-line flags, in that
// order of increasing precedence.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

type Config struct {
	Addr        string
	DatabaseURL string
	SecretKey   string
	BaseURL     string
	DataDir     string
	LogLevel    slog.Level
	Migrate     bool

	MaxUploadBytes   int64
	BcryptCost       int
	SessionLifetime  time.Duration
	RememberLifetime time.Duration
	CookieSecure     bool

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	MailFrom     string
}

// Backend names the store selected by DatabaseURL.
func (c Config) Backend() string {
	if strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://") {
		return "postgres"
	}
	return "sqlite"
}

// SQLitePath resolves the database file for the sqlite backend.
func (c Config) SQLitePath() string {
	if p, ok := strings.CutPrefix(c.DatabaseURL, "sqlite:"); ok && p != "" {
		return p
	}
	return strings.TrimRight(c.DataDir, "/") + "/portal.db"
}

// Load reads configuration. args excludes the program name.
func Load(args []string) (Config, error) {
	_ = godotenv.Load() // .env is optional

	cfg := Config{
		Addr:         getenv("ADDR", ":8080"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		SecretKey:    os.Getenv("SECRET_KEY"),
		BaseURL:      getenv("BASE_URL", "http://localhost:8080"),
		DataDir:      getenv("DATA_DIR", "./data"),
		SMTPHost:     os.Getenv("SMTP_HOST"),
		SMTPUsername: os.Getenv("SMTP_USERNAME"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		MailFrom:     os.Getenv("MAIL_FROM"),
		CookieSecure: os.Getenv("COOKIE_SECURE") == "true",
	}

	var err error
	if cfg.MaxUploadBytes, err = getenvInt64("MAX_UPLOAD_BYTES", 16<<20); err != nil {
		return cfg, err
	}
	var cost int64
	if cost, err = getenvInt64("BCRYPT_COST", 12); err != nil {
		return cfg, err
	}
	cfg.BcryptCost = int(cost)
	var port int64
	if port, err = getenvInt64("SMTP_PORT", 587); err != nil {
		return cfg, err
	}
	cfg.SMTPPort = int(port)
	if cfg.SessionLifetime, err = getenvDuration("SESSION_LIFETIME", 24*time.Hour); err != nil {
		return cfg, err
	}
	if cfg.RememberLifetime, err = getenvDuration("REMEMBER_LIFETIME", 30*24*time.Hour); err != nil {
		return cfg, err
	}
	logLevel := getenv("LOG_LEVEL", "info")

	flags := pflag.NewFlagSet("portal", pflag.ContinueOnError)
	flags.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	flags.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "postgres:// URL or sqlite:<path>")
	flags.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for uploads and the default sqlite file")
	flags.StringVar(&logLevel, "log-level", logLevel, "debug, info, warn or error")
	flags.BoolVar(&cfg.Migrate, "migrate", true, "create tables on startup")
	if err := flags.Parse(args); err != nil {
		return cfg, err
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(logLevel)); err != nil {
		return cfg, fmt.Errorf("config: LOG_LEVEL: %w", err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if len(c.SecretKey) < 16 {
		return fmt.Errorf("config: SECRET_KEY must be set and at least 16 bytes")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("config: BCRYPT_COST %d out of range", c.BcryptCost)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("config: MAX_UPLOAD_BYTES must be positive")
	}
	if c.SMTPHost != "" && c.MailFrom == "" {
		return fmt.Errorf("config: MAIL_FROM is required when SMTP_HOST is set")
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt64(k string, def int64) (int64, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", k, err)
	}
	return n, nil
}

func getenvDuration(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", k, err)
	}
	return d, nil
}
