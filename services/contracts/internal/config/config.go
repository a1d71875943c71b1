// Package config loads service settings from the environment, an optional
// .env file and defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	ServicePort     string
	DatabaseURL     string
	LedgerBackend   string
	LedgerDir       string
	LedgerTimeout   time.Duration
	DIDCacheTTL     time.Duration
	DIDPLCDirectory string
	DIDWebInsecure  bool
	DIDFixtures     string
	TSAURL          string
	TSAPolicyOID    string
	TSAStrict       bool
	AuditJSONLPath  string
	AuditWebhookURL string
	AuditWebhookKey string
	IdempotencyTTL  time.Duration
	LogLevel        string
	LogFormatter    string
}

func defaults(v *viper.Viper) {
	v.SetDefault("service_port", "8080")
	v.SetDefault("database_url", "")
	v.SetDefault("ledger_backend", "memory")
	v.SetDefault("ledger_dir", "")
	v.SetDefault("ledger_timeout", "10s")
	v.SetDefault("did_cache_ttl", "1h")
	v.SetDefault("did_plc_directory", "https://plc.directory")
	v.SetDefault("did_web_insecure", false)
	v.SetDefault("did_fixtures", "")
	v.SetDefault("tsa_url", "")
	v.SetDefault("tsa_policy_oid", "")
	v.SetDefault("tsa_strict", false)
	v.SetDefault("audit_jsonl_path", "")
	v.SetDefault("audit_webhook_url", "")
	v.SetDefault("audit_webhook_secret", "")
	v.SetDefault("idempotency_ttl", "24h")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_formatter", "text")
}

// Load reads envFile when it exists (missing files are ignored) and then
// the environment. Keys map to upper-case variables: ledger_timeout reads
// LEDGER_TIMEOUT.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		_ = godotenv.Load(envFile)
	}
	v := viper.New()
	v.AutomaticEnv()
	defaults(v)
	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	c := Config{
		ServicePort:     v.GetString("service_port"),
		DatabaseURL:     v.GetString("database_url"),
		LedgerBackend:   strings.ToLower(v.GetString("ledger_backend")),
		LedgerDir:       v.GetString("ledger_dir"),
		LedgerTimeout:   v.GetDuration("ledger_timeout"),
		DIDCacheTTL:     v.GetDuration("did_cache_ttl"),
		DIDPLCDirectory: v.GetString("did_plc_directory"),
		DIDWebInsecure:  v.GetBool("did_web_insecure"),
		DIDFixtures:     v.GetString("did_fixtures"),
		TSAURL:          v.GetString("tsa_url"),
		TSAPolicyOID:    v.GetString("tsa_policy_oid"),
		TSAStrict:       v.GetBool("tsa_strict"),
		AuditJSONLPath:  v.GetString("audit_jsonl_path"),
		AuditWebhookURL: v.GetString("audit_webhook_url"),
		AuditWebhookKey: v.GetString("audit_webhook_secret"),
		IdempotencyTTL:  v.GetDuration("idempotency_ttl"),
		LogLevel:        v.GetString("log_level"),
		LogFormatter:    v.GetString("log_formatter"),
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	switch c.LedgerBackend {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: ledger_backend=postgres needs database_url")
		}
	default:
		return fmt.Errorf("config: unknown ledger_backend %q", c.LedgerBackend)
	}
	if c.LedgerTimeout <= 0 {
		return fmt.Errorf("config: ledger_timeout must be positive")
	}
	if c.AuditWebhookURL != "" && c.AuditWebhookKey == "" {
		return fmt.Errorf("config: audit_webhook_url needs audit_webhook_secret")
	}
	if c.TSAStrict && c.TSAURL == "" {
		return fmt.Errorf("config: tsa_strict needs tsa_url")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Logger configures the standard logrus logger and returns an entry for
// the service.
func (c Config) Logger(service string) *logrus.Entry {
	l := logrus.StandardLogger()
	if lvl, err := logrus.ParseLevel(c.LogLevel); err == nil {
		l.SetLevel(lvl)
	}
	if c.LogFormatter == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logrus.NewEntry(l).WithField("service", service)
}
