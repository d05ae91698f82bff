// Package config loads process configuration from the environment and an
// optional .env file. Values are read once at startup and are read-only
// afterwards; callers receive a Config value rather than consulting the
// environment directly.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// DefaultDatabaseName is the logical database used when MONGO_DB_NAME is unset.
const DefaultDatabaseName = "MERN_STACK_HOSPITAL_MANAGEMENT_SYSTEM_DEPLOYED"

// Config holds everything the process needs to start.
type Config struct {
	MongoURI       string        `envconfig:"MONGO_URI"`
	MongoDatabase  string        `envconfig:"MONGO_DB_NAME" default:"MERN_STACK_HOSPITAL_MANAGEMENT_SYSTEM_DEPLOYED"`
	ConnectTimeout time.Duration `envconfig:"DB_CONNECT_TIMEOUT" default:"10s"`
	AwaitDatabase  bool          `envconfig:"DB_AWAIT_BEFORE_LISTEN" default:"true"`

	Port string `envconfig:"PORT" default:"4000"`
	Env  string `envconfig:"APP_ENV" default:"development"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT"`

	AllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:5173,http://localhost:5174"`

	UploadDir       string        `envconfig:"UPLOAD_TEMP_DIR" default:"/tmp/"`
	MaxUploadBytes  int64         `envconfig:"MAX_UPLOAD_BYTES" default:"52428800"`
	MaxJSONBytes    int64         `envconfig:"MAX_JSON_BYTES" default:"1048576"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"5s"`

	StorageEndpoint  string `envconfig:"STORAGE_ENDPOINT"`
	StorageBucket    string `envconfig:"STORAGE_BUCKET"`
	StorageAPIKey    string `envconfig:"STORAGE_API_KEY"`
	StorageAPISecret string `envconfig:"STORAGE_API_SECRET"`
	StoragePublicURL string `envconfig:"STORAGE_PUBLIC_URL"`

	notes []string
}

// Load reads envFile (if present) into the process environment and then
// decodes the environment into a Config. Variables already set in the
// environment take precedence over the file. Unusable optional values are
// replaced with defaults; see Warnings.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("process environment: %w", err)
	}
	cfg.normalise()
	return cfg, nil
}

// Addr returns the listen address for the configured port.
func (c Config) Addr() string {
	return ":" + c.Port
}

// StorageConfigured reports whether every object-storage credential is present.
func (c Config) StorageConfigured() bool {
	return c.StorageEndpoint != "" && c.StorageBucket != "" &&
		c.StorageAPIKey != "" && c.StorageAPISecret != ""
}

// Warnings lists the values Load replaced with defaults, followed by
// optional but recommended settings that are missing.
func (c Config) Warnings() []string {
	warnings := append([]string(nil), c.notes...)
	if !c.StorageConfigured() {
		warnings = append(warnings, "STORAGE_* not fully set - attachment uploads disabled")
	}
	if c.Env == "production" && c.LogFormat != "json" {
		warnings = append(warnings, "LOG_FORMAT is not json in production")
	}
	if !c.AwaitDatabase {
		warnings = append(warnings, "DB_AWAIT_BEFORE_LISTEN=false - listener may accept requests before the database is ready")
	}
	return warnings
}
