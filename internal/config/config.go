package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/npezzotti/go-roomchat/internal/database"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Env holds the settings read from ROOMCHAT_* variables. Command-line flags
// default to these values.
type Env struct {
	Addr            string        `envconfig:"ADDR" default:"localhost:8000"`
	DSN             string        `envconfig:"DSN" default:"host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"`
	SigningKey      string        `envconfig:"SIGNING_KEY"`
	AllowedOrigins  []string      `envconfig:"ALLOWED_ORIGINS"`
	Store           string        `envconfig:"STORE" default:"postgres"`
	RunMigrations   bool          `envconfig:"RUN_MIGRATIONS" default:"true"`
	StoreTimeout    time.Duration `envconfig:"STORE_TIMEOUT" default:"5s"`
	IdleRoomTimeout time.Duration `envconfig:"IDLE_ROOM_TIMEOUT" default:"5m"`
	RoomQueueSize   int           `envconfig:"ROOM_QUEUE_SIZE" default:"256"`
	HistoryLimit    int           `envconfig:"HISTORY_LIMIT" default:"50"`
}

// LoadEnv reads an optional .env file and then the process environment.
func LoadEnv(files ...string) (Env, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Env{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var env Env
	if err := envconfig.Process("ROOMCHAT", &env); err != nil {
		return Env{}, fmt.Errorf("process env: %w", err)
	}
	return env, nil
}

type Config struct {
	DatabaseDSN    string
	ServerAddr     string
	SigningKey     []byte
	AllowedOrigins []string
	Store          string
	RunMigrations  bool

	StoreTimeout    time.Duration
	IdleRoomTimeout time.Duration
	RoomQueueSize   int
	HistoryLimit    int
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		DatabaseDSN:    databaseDSN,
		ServerAddr:     serverAddr,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
		Store:          StorePostgres,
		RunMigrations:  true,
	}, nil
}

// ApplyEnv copies the tunables from env and validates them.
func (c *Config) ApplyEnv(env Env) error {
	if !slices.Contains([]string{StorePostgres, StoreMemory}, env.Store) {
		return fmt.Errorf("unknown store %q", env.Store)
	}
	if env.StoreTimeout <= 0 {
		return fmt.Errorf("store timeout must be positive")
	}
	if env.IdleRoomTimeout <= 0 {
		return fmt.Errorf("idle room timeout must be positive")
	}
	if env.RoomQueueSize <= 0 {
		return fmt.Errorf("room queue size must be positive")
	}
	if env.HistoryLimit <= 0 || env.HistoryLimit > database.MaxHistoryLimit {
		return fmt.Errorf("history limit must be between 1 and %d", database.MaxHistoryLimit)
	}

	c.Store = env.Store
	c.RunMigrations = env.RunMigrations
	c.StoreTimeout = env.StoreTimeout
	c.IdleRoomTimeout = env.IdleRoomTimeout
	c.RoomQueueSize = env.RoomQueueSize
	c.HistoryLimit = env.HistoryLimit
	return nil
}
