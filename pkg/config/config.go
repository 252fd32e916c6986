package config

import (
	"log"
	"os"
	"time"

	"safechain/pkg/cache"
	"safechain/pkg/hashstore"
	"safechain/pkg/logger"
	"safechain/pkg/util"
)

// LedgerConfig tunes the gateway's node endpoint and retry discipline.
type LedgerConfig struct {
	BaseURL        string        `env:"LEDGER_BASE_URL"`
	Token          string        `env:"LEDGER_API_TOKEN"`
	AppID          uint64        `env:"LEDGER_APP_ID"`
	MaxAttempts    int           `env:"LEDGER_MAX_ATTEMPTS"`
	BaseDelay      time.Duration `env:"LEDGER_BASE_DELAY"`
	MaxDelay       time.Duration `env:"LEDGER_MAX_DELAY"`
	PollInterval   time.Duration `env:"LEDGER_POLL_INTERVAL"`
	ConfirmTimeout time.Duration `env:"LEDGER_CONFIRM_TIMEOUT"`
}

// Config is the process-wide configuration.
type Config struct {
	Addr     string `env:"ADDR"`
	Mode     string `env:"MODE"`
	DBDriver string `env:"DB_DRIVER"`
	DSN      string `env:"DSN"`

	// MediaBackend selects the content store: "memory" or "minio".
	MediaBackend string `env:"MEDIA_BACKEND"`
	Minio        hashstore.MinioConfig

	Ledger LedgerConfig

	// AlertTimeout is the default wall-clock budget per alert attempt.
	AlertTimeout time.Duration `env:"ALERT_TIMEOUT"`

	// ReconcileSchedule is the cron expression for the reconciliation job.
	ReconcileSchedule string `env:"RECONCILE_SCHEDULE"`

	// SubmitRate throttles submission endpoints per client IP, in
	// ulule/limiter format ("30-M"). TrustedCIDRs bypass the limit.
	SubmitRate   string   `env:"SUBMIT_RATE"`
	TrustedCIDRs []string `env:"TRUSTED_CIDRS"`

	Notify NotifyConfig

	Cache cache.Config
	Log   logger.LogConfig
}

// NotifyConfig carries outbound notification settings.
type NotifyConfig struct {
	SMSSign     string   `env:"NOTIFY_SMS_SIGN"`
	SMSTemplate string   `env:"NOTIFY_SMS_TEMPLATE"`
	Contacts    []string `env:"NOTIFY_CONTACTS"`
}

var GlobalConfig *Config

// Load reads configuration from `.env.<APP_ENV>` and the environment.
func Load() error {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	if err := util.LoadEnv(env); err != nil {
		log.Printf("Failed to load .env file: %v", err)
	}

	GlobalConfig = &Config{
		Addr:         util.GetEnvDefault("ADDR", ":8080"),
		Mode:         util.GetEnvDefault("MODE", "debug"),
		DBDriver:     util.GetEnv("DB_DRIVER"),
		DSN:          util.GetEnv("DSN"),
		MediaBackend: util.GetEnvDefault("MEDIA_BACKEND", "memory"),
		Minio: hashstore.MinioConfig{
			Endpoint:  util.GetEnv("MINIO_ENDPOINT"),
			AccessKey: util.GetEnv("MINIO_ACCESS_KEY"),
			SecretKey: util.GetEnv("MINIO_SECRET_KEY"),
			Bucket:    util.GetEnvDefault("MINIO_BUCKET", "safechain-media"),
			UseSSL:    util.GetBoolEnv("MINIO_USE_SSL"),
		},
		Ledger: LedgerConfig{
			BaseURL:        util.GetEnvDefault("LEDGER_BASE_URL", "https://testnet-api.algonode.cloud"),
			Token:          util.GetEnv("LEDGER_API_TOKEN"),
			AppID:          uint64(util.GetIntEnv("LEDGER_APP_ID")),
			MaxAttempts:    int(util.GetIntEnvDefault("LEDGER_MAX_ATTEMPTS", 5)),
			BaseDelay:      util.GetDurationEnvDefault("LEDGER_BASE_DELAY", "200ms"),
			MaxDelay:       util.GetDurationEnvDefault("LEDGER_MAX_DELAY", "5s"),
			PollInterval:   util.GetDurationEnvDefault("LEDGER_POLL_INTERVAL", "1s"),
			ConfirmTimeout: util.GetDurationEnvDefault("LEDGER_CONFIRM_TIMEOUT", "30s"),
		},
		AlertTimeout:      util.GetDurationEnvDefault("ALERT_TIMEOUT", "45s"),
		ReconcileSchedule: util.GetEnvDefault("RECONCILE_SCHEDULE", "@every 1m"),
		SubmitRate:   util.GetEnvDefault("SUBMIT_RATE", "30-M"),
		TrustedCIDRs: util.GetListEnv("TRUSTED_CIDRS"),
		Notify: NotifyConfig{
			SMSSign:     util.GetEnv("NOTIFY_SMS_SIGN"),
			SMSTemplate: util.GetEnv("NOTIFY_SMS_TEMPLATE"),
			Contacts:    util.GetListEnv("NOTIFY_CONTACTS"),
		},
		Cache: cache.Config{
			Type: util.GetEnvDefault("CACHE_TYPE", "local"),
			Redis: cache.RedisConfig{
				Addr:     util.GetEnvDefault("REDIS_ADDR", "localhost:6379"),
				Password: util.GetEnv("REDIS_PASSWORD"),
				DB:       int(util.GetIntEnv("REDIS_DB")),
				PoolSize: int(util.GetIntEnvDefault("REDIS_POOL_SIZE", 10)),
			},
			Local: cache.LocalConfig{
				DefaultExpiration: util.GetDurationEnvDefault("LOCAL_CACHE_DEFAULT_EXPIRATION", "5m"),
				CleanupInterval:   util.GetDurationEnvDefault("LOCAL_CACHE_CLEANUP_INTERVAL", "10m"),
			},
		},
		Log: logger.LogConfig{
			Level:      util.GetEnvDefault("LOG_LEVEL", "info"),
			Filename:   util.GetEnv("LOG_FILENAME"),
			MaxSize:    int(util.GetIntEnv("LOG_MAX_SIZE")),
			MaxAge:     int(util.GetIntEnv("LOG_MAX_AGE")),
			MaxBackups: int(util.GetIntEnv("LOG_MAX_BACKUPS")),
		},
	}
	return nil
}
