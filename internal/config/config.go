package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Config holds everything the agentd process reads from its environment.
type Config struct {
	Port        string
	DatabaseURL string
	RedisAddr   string

	SandboxAPIURL   string
	SandboxAPIToken string
	GeneratorURL    string

	InternalAPIToken string

	MaxTaskDurationMinutes     int
	DefaultTaskDurationMinutes int
	PollInterval               time.Duration
	BranchNameWait             time.Duration
}

// Load reads configuration from a .env file (if present) and the process
// environment. Only the database URL and the sandbox API URL are required.
func Load() (Config, error) {
	// No .env file is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg := Config{
		Port:                       getenv("PORT", "8080"),
		RedisAddr:                  os.Getenv("REDIS_ADDR"),
		SandboxAPIURL:              os.Getenv("SANDBOX_API_URL"),
		SandboxAPIToken:            os.Getenv("SANDBOX_API_TOKEN"),
		GeneratorURL:               os.Getenv("GENERATOR_URL"),
		InternalAPIToken:           os.Getenv("INTERNAL_API_TOKEN"),
		MaxTaskDurationMinutes:     getenvInt("MAX_TASK_DURATION_MINUTES", 60),
		DefaultTaskDurationMinutes: getenvInt("DEFAULT_TASK_DURATION_MINUTES", 30),
		PollInterval:               getenvDuration("CANCEL_POLL_INTERVAL", 500*time.Millisecond),
		BranchNameWait:             getenvDuration("BRANCH_NAME_WAIT", 10*time.Second),
	}

	dbURL, err := DatabaseURL()
	if err != nil {
		return Config{}, err
	}
	cfg.DatabaseURL = dbURL

	if cfg.SandboxAPIURL == "" {
		return Config{}, errors.New("SANDBOX_API_URL is required")
	}
	return cfg, nil
}

// DatabaseURL resolves the postgres connection string: DATABASE_URL when set,
// otherwise assembled from the DB_* parts. Shared by the serve binary, the
// migrate binary and the operator CLI.
func DatabaseURL() (string, error) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v, nil
	}
	user, pass := os.Getenv("DB_USERNAME"), os.Getenv("DB_PASSWORD")
	host, port, name := os.Getenv("DB_HOST"), os.Getenv("DB_PORT"), os.Getenv("DB_NAME")
	if user == "" || pass == "" || host == "" || port == "" || name == "" {
		return "", errors.New("DATABASE_URL or complete DB_* env vars required")
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, pass, host, port, name), nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
