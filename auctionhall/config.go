package auctionhall

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"

	"github.com/gildhall/auctionhall/auctionhall/database"
)

// LoadConfig reads the TOML file, then overlays any AH_*/DB_*/REDIS_*
// environment variables so deployments can override single values
// without editing the file.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err = toml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, err
	}
	if err = env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment overrides: %w", err)
	}
	return &cfg, nil
}

type Config struct {
	Log     LogConfig         `toml:"log"`
	Node    NodeConfig        `toml:"node"`
	DB      database.DBConfig `toml:"db"`
	Redis   RedisConfig       `toml:"redis"`
	Auction AuctionConfig     `toml:"auction"`
}

type LogConfig struct {
	Level     slog.Level `toml:"level" env:"AH_LOG_LEVEL"`
	AddSource bool       `toml:"add_source" env:"AH_LOG_ADD_SOURCE"`
}

// NodeConfig identifies this process within the cluster. Exactly one
// node must run with manager = true.
type NodeConfig struct {
	Name    string `toml:"name" env:"AH_NODE_NAME"`
	Manager bool   `toml:"manager" env:"AH_NODE_MANAGER"`
}

type RedisConfig struct {
	Addr     string `toml:"addr" env:"REDIS_ADDR"`
	Password string `toml:"password" env:"REDIS_PASSWORD"`
	DB       int    `toml:"db" env:"REDIS_DB"`
}

// AuctionConfig tunes the periodic work, all values in seconds.
type AuctionConfig struct {
	TickSeconds   int `toml:"tick_seconds" env:"AH_TICK_SECONDS"`
	SweepSeconds  int `toml:"sweep_seconds" env:"AH_SWEEP_SECONDS"`
	RemindSeconds int `toml:"remind_seconds" env:"AH_REMIND_SECONDS"`
}

func (c AuctionConfig) TickInterval() time.Duration {
	return time.Duration(c.TickSeconds) * time.Second
}

func (c AuctionConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepSeconds) * time.Second
}

func (c AuctionConfig) RemindInterval() time.Duration {
	return time.Duration(c.RemindSeconds) * time.Second
}
