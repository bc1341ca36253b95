package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"

	appenv "github.com/ManuelReschke/marketsub/internal/pkg/env"
)

// Config is the typed runtime configuration, read from the process
// environment after the optional .env file has been merged in.
type Config struct {
	AppEnv  string `env:"APP_ENV" envDefault:"prod"`
	AppHost string `env:"APP_HOST" envDefault:"localhost"`
	AppPort string `env:"APP_PORT" envDefault:"4000"`

	Database DatabaseConfig
	Cache    CacheConfig

	AdminAPIKey         string `env:"ADMIN_API_KEY"`
	JWTSecret           string `env:"JWT_SECRET"`
	OrderWebhookSecret  string `env:"ORDER_WEBHOOK_SECRET"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`

	Jobs JobsConfig
}

type DatabaseConfig struct {
	Driver      string        `env:"DB_DRIVER" envDefault:"postgres"`
	DSN         string        `env:"DB_DSN"`
	Host        string        `env:"DB_HOST" envDefault:"127.0.0.1"`
	Port        string        `env:"DB_PORT"`
	User        string        `env:"DB_USER"`
	Password    string        `env:"DB_PASSWORD"`
	Name        string        `env:"DB_NAME" envDefault:"marketsub"`
	SQLitePath  string        `env:"DB_SQLITE_PATH" envDefault:"marketsub.db"`
	MaxRetries  int           `env:"DB_MAX_RETRIES" envDefault:"5"`
	RetryDelay  time.Duration `env:"DB_RETRY_DELAY" envDefault:"5s"`
	AutoMigrate bool          `env:"DB_AUTO_MIGRATE" envDefault:"true"`
}

type CacheConfig struct {
	Host     string `env:"CACHE_HOST" envDefault:"localhost"`
	Port     string `env:"CACHE_PORT" envDefault:"6379"`
	Password string `env:"CACHE_PASSWORD"`
	DB       int    `env:"CACHE_DB" envDefault:"0"`
}

type JobsConfig struct {
	Workers             int           `env:"JOB_QUEUE_WORKERS" envDefault:"3"`
	OrderEventsAsync    bool          `env:"ORDER_EVENTS_ASYNC" envDefault:"false"`
	CreditJobInterval   time.Duration `env:"CREDIT_JOB_INTERVAL" envDefault:"1h"`
	ExpirySweepInterval time.Duration `env:"EXPIRY_SWEEP_INTERVAL" envDefault:"15m"`
}

// Addr returns the cache address in host:port form.
func (c CacheConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func (c Config) IsDev() bool {
	return c.AppEnv == "dev"
}

var (
	loaded   Config
	loadErr  error
	loadOnce sync.Once
)

// Load parses the environment once and caches the result.
func Load() (Config, error) {
	loadOnce.Do(func() {
		loaded, loadErr = Parse()
	})
	return loaded, loadErr
}

// Parse reads a fresh Config. Values from the .env file are used only where
// the process environment has no value of its own.
func Parse() (Config, error) {
	var cfg Config
	err := env.ParseWithOptions(&cfg, env.Options{
		Environment: mergedEnvironment(),
	})
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func mergedEnvironment() map[string]string {
	merged := env.ToMap(os.Environ())
	for k, v := range appenv.Env {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return merged
}
