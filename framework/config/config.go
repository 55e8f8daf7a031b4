package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is the central typed configuration struct.
type Config struct {
	App       AppConfig
	Registry  RegistryConfig
	Inspector InspectorConfig
}

type AppConfig struct {
	Name      string
	Env       string // local | production | testing
	Debug     bool
	Verbosity int    // logr V-level enabled on the default logger
	LogFormat string // json | console | std
}

// RegistryConfig sizes the root store. Capacities are indices into the
// store's prime sequence, not slot counts.
type RegistryConfig struct {
	RegistryCapacity int
	ContractCapacity int
}

type InspectorConfig struct {
	Addr    string
	Metrics bool
}

// Load reads .env (if present) and populates a Config from environment variables.
// Call once at bootstrap: cfg := config.Load()
func Load(envFiles ...string) *Config {
	files := envFiles
	if len(files) == 0 {
		files = []string{".env"}
	}
	// Non-fatal: .env may not exist in production
	_ = godotenv.Load(files...)

	return &Config{
		App: AppConfig{
			Name:      env("APP_NAME", "go-registry"),
			Env:       env("APP_ENV", "local"),
			Debug:     envBool("APP_DEBUG", false),
			Verbosity: GetInt("LOG_VERBOSITY", 0),
			LogFormat: env("LOG_FORMAT", "json"),
		},
		Registry: RegistryConfig{
			RegistryCapacity: GetInt("REGISTRY_CAPACITY", 1),
			ContractCapacity: GetInt("CONTRACT_CAPACITY", 0),
		},
		Inspector: InspectorConfig{
			Addr:    env("INSPECTOR_ADDR", ":8089"),
			Metrics: envBool("INSPECTOR_METRICS", true),
		},
	}
}

// Get returns a raw env value, falling back to defaultVal.
func Get(key, defaultVal string) string {
	return env(key, defaultVal)
}

// GetInt returns an int env value.
func GetInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

// GetBool returns a bool env value.
func GetBool(key string, defaultVal bool) bool {
	return envBool(key, defaultVal)
}

// ── helpers ─────────────────────────────────────────────────────────────────

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
