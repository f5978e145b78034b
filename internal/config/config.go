package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Redis    Redis
	Store    Store
	Liveness Liveness
	Dispatch Dispatch
}

type Redis struct {
	Addr         string `env:"REDIS_ADDRESS" envDefault:"localhost:6379"`
	Password     string `env:"REDIS_PASSWORD"`
	DB           int    `env:"REDIS_DB"`
	StreamPrefix string `env:"REDIS_STREAM_PREFIX" envDefault:"taskq"`
	TaskGroup    string `env:"REDIS_TASK_GROUP" envDefault:"workers"`
	ResultGroup  string `env:"REDIS_RESULT_GROUP" envDefault:"manager"`
}

type Store struct {
	Path string `env:"STORE_PATH" envDefault:"taskq.db"`
}

type Liveness struct {
	HeartbeatTimeout time.Duration `env:"LIVENESS_HEARTBEAT_TIMEOUT" envDefault:"30s"`
	DeathTimeout     time.Duration `env:"LIVENESS_DEATH_TIMEOUT" envDefault:"90s"`
	SweepInterval    time.Duration `env:"LIVENESS_SWEEP_INTERVAL" envDefault:"15s"`
}

type Dispatch struct {
	Interval        time.Duration `env:"DISPATCH_INTERVAL" envDefault:"1s"`
	BatchSize       int           `env:"DISPATCH_BATCH_SIZE" envDefault:"128"`
	PublishAttempts int           `env:"DISPATCH_PUBLISH_ATTEMPTS" envDefault:"5"`
	BaseBackoff     time.Duration `env:"DISPATCH_BASE_BACKOFF" envDefault:"200ms"`
	MaxBackoff      time.Duration `env:"DISPATCH_MAX_BACKOFF" envDefault:"5s"`
}

func Load() *Config {
	_ = godotenv.Load()

	var c Config
	if err := env.Parse(&c); err != nil {
		log.Fatal(err)
	}

	return &c
}
