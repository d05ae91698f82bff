// validation.go - Startup checks. A missing MONGO_URI stops the process;
// any other bad value is replaced with its default and reported as a warning.
package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"hospital-backend/internal/db"
)

// Defaults applied when a loaded value is unusable. They match the struct tags.
const (
	DefaultConnectTimeout  = 10 * time.Second
	DefaultPort            = "4000"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultUploadDir       = "/tmp/"
	DefaultMaxUploadBytes  = 50 << 20
	DefaultMaxJSONBytes    = 1 << 20
	DefaultShutdownTimeout = 5 * time.Second
)

// DefaultAllowedOrigins is the CORS allow-list used when none of the
// configured origins is usable.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:5174"}

// FieldError is a problem with a single variable.
type FieldError struct {
	Field   string
	Message string
	Err     error
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e FieldError) Unwrap() error { return e.Err }

// Validate reports a missing MONGO_URI. The error satisfies
// errors.Is(err, db.ErrMissingURI). The URI format is left to the connector.
func (c Config) Validate() error {
	if strings.TrimSpace(c.MongoURI) == "" {
		return FieldError{Field: "MONGO_URI", Message: db.ErrMissingURI.Error(), Err: db.ErrMissingURI}
	}
	return nil
}

type normaliser struct {
	notes []string
}

func (n *normaliser) note(field, format string, args ...any) {
	n.notes = append(n.notes, FieldError{Field: field, Message: fmt.Sprintf(format, args...)}.Error())
}

func (n *normaliser) port(key, value string) string {
	value = strings.TrimPrefix(strings.TrimSpace(value), ":")
	port, err := strconv.Atoi(value)
	if err != nil || port < 0 || port > 65535 {
		n.note(key, "%q is not a port between 0 and 65535, using %s", value, DefaultPort)
		return DefaultPort
	}
	return value
}

func (n *normaliser) enum(key, value, fallback string, allowed ...string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	for _, opt := range allowed {
		if value == opt {
			return value
		}
	}
	n.note(key, "must be one of: %s (got: %s), using %s", strings.Join(allowed, ", "), value, fallback)
	return fallback
}

func httpURLProblem(value string) string {
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Sprintf("invalid URL format: %v", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "URL must use http or https scheme"
	}
	if parsed.Host == "" {
		return "URL must include a host"
	}
	return ""
}

// normalise replaces unusable optional values with their defaults. Each
// replacement is kept as a note and surfaced through Warnings.
func (c *Config) normalise() {
	n := &normaliser{}

	c.MongoURI = strings.TrimSpace(c.MongoURI)
	if c.MongoURI != "" && !strings.HasPrefix(c.MongoURI, "mongodb://") && !strings.HasPrefix(c.MongoURI, "mongodb+srv://") {
		n.note("MONGO_URI", "does not use the mongodb:// or mongodb+srv:// scheme")
	}
	if strings.TrimSpace(c.MongoDatabase) == "" {
		n.note("MONGO_DB_NAME", "is empty, using %s", DefaultDatabaseName)
		c.MongoDatabase = DefaultDatabaseName
	}
	if c.ConnectTimeout <= 0 {
		n.note("DB_CONNECT_TIMEOUT", "must be a positive duration, using %s", DefaultConnectTimeout)
		c.ConnectTimeout = DefaultConnectTimeout
	}

	c.Port = n.port("PORT", c.Port)
	c.Env = n.enum("APP_ENV", c.Env, DefaultEnv, "development", "staging", "production")
	c.LogLevel = n.enum("LOG_LEVEL", c.LogLevel, DefaultLogLevel, "debug", "info", "warn", "error")

	format := "text"
	if c.Env == "production" {
		format = "json"
	}
	if c.LogFormat == "" {
		c.LogFormat = format
	} else {
		c.LogFormat = n.enum("LOG_FORMAT", c.LogFormat, format, "json", "text")
	}

	origins := make([]string, 0, len(c.AllowedOrigins))
	for _, origin := range c.AllowedOrigins {
		origin = strings.TrimSpace(origin)
		if problem := httpURLProblem(origin); problem != "" {
			n.note("CORS_ALLOWED_ORIGINS", "dropping %q: %s", origin, problem)
			continue
		}
		origins = append(origins, origin)
	}
	if len(origins) == 0 {
		n.note("CORS_ALLOWED_ORIGINS", "no usable origin, using %s", strings.Join(DefaultAllowedOrigins, ","))
		origins = append(origins, DefaultAllowedOrigins...)
	}
	c.AllowedOrigins = origins

	if strings.TrimSpace(c.UploadDir) == "" {
		n.note("UPLOAD_TEMP_DIR", "is empty, using %s", DefaultUploadDir)
		c.UploadDir = DefaultUploadDir
	}
	if c.MaxUploadBytes <= 0 {
		n.note("MAX_UPLOAD_BYTES", "must be a positive integer, using %d", DefaultMaxUploadBytes)
		c.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if c.MaxJSONBytes <= 0 {
		n.note("MAX_JSON_BYTES", "must be a positive integer, using %d", DefaultMaxJSONBytes)
		c.MaxJSONBytes = DefaultMaxJSONBytes
	}
	if c.ShutdownTimeout <= 0 {
		n.note("SHUTDOWN_TIMEOUT", "must be a positive duration, using %s", DefaultShutdownTimeout)
		c.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Endpoint may be host:port or a URL. A bad one disables storage.
	if strings.Contains(c.StorageEndpoint, "://") {
		if problem := httpURLProblem(c.StorageEndpoint); problem != "" {
			n.note("STORAGE_ENDPOINT", "%s, storage disabled", problem)
			c.StorageEndpoint = ""
		}
	}
	if c.StoragePublicURL != "" {
		if problem := httpURLProblem(c.StoragePublicURL); problem != "" {
			n.note("STORAGE_PUBLIC_URL", "%s, using bucket URLs", problem)
			c.StoragePublicURL = ""
		}
	}

	c.notes = n.notes
}
