package config

import (
	"errors"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	// Store selects the queue store: "sqlite" or "redis".
	Store    string `env:"QUEUE_STORE" envDefault:"sqlite"`
	SQLite   SQLite
	Redis    Redis
	Accounts Accounts
	Queue    Queue
	Worker   Worker
	Remote   Remote
	API      API
}

type SQLite struct {
	Path string `env:"SQLITE_PATH" envDefault:"syncq.db"`
}

type Redis struct {
	Addr            string `env:"Redis_Address" envDefault:"localhost:6379"`
	Password        string `env:"Redis_Password"`
	DB              int    `env:"Redis_DB"`
	KeyPrefix       string `env:"Redis_KeyPrefix" envDefault:"syncq"`
	ConnectAttempts int    `env:"Redis_ConnectAttempts" envDefault:"5"`
}

type Accounts struct {
	Path string `env:"ACCOUNTS_PATH" envDefault:"accounts.yaml"`
}

type Queue struct {
	RetryWindow        time.Duration `env:"QUEUE_RETRY_WINDOW" envDefault:"15m"`
	RetryCheckInterval time.Duration `env:"QUEUE_RETRY_CHECK_INTERVAL" envDefault:"1m"`
	MaxErrorAge        time.Duration `env:"QUEUE_MAX_ERROR_AGE" envDefault:"240h"`
}

type Worker struct {
	Budget          time.Duration `env:"WORKER_BUDGET" envDefault:"5m"`
	Heartbeat       time.Duration `env:"WORKER_HEARTBEAT" envDefault:"10s"`
	MaxTaskDuration time.Duration `env:"WORKER_MAX_TASK_DURATION" envDefault:"10m"`
	SyncInterval    time.Duration `env:"WORKER_SYNC_INTERVAL" envDefault:"15m"`
}

type Remote struct {
	Timeout      time.Duration `env:"REMOTE_TIMEOUT" envDefault:"30s"`
	Attempts     uint          `env:"REMOTE_ATTEMPTS" envDefault:"3"`
	RetryDelay   time.Duration `env:"REMOTE_RETRY_DELAY" envDefault:"1s"`
	PageLimit    int           `env:"REMOTE_PAGE_LIMIT" envDefault:"40"`
	DownloadDir  string        `env:"DOWNLOAD_DIR" envDefault:"downloads"`
	InstancesURL string        `env:"INSTANCES_URL" envDefault:"https://instances.social/api/1.0/instances/list"`
	UserAgent    string        `env:"USER_AGENT" envDefault:"syncq/1.0"`
}

type API struct {
	Port int `env:"API_PORT" envDefault:"8080"`
}

// Parse reads the configuration from the environment only.
func Parse() (*Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load reads .env (when present) into the environment and parses it.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to read .env")
	}
	c, err := Parse()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	return c
}
