package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config represents runtime configuration derived from environment variables.
type Config struct {
	Server   ServerConfig
	Logging  LoggingConfig
	Database DatabaseConfig
	Auth     AuthConfig
}

// ServerConfig holds HTTP server runtime parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LoggingConfig represents structured logging configuration.
type LoggingConfig struct {
	Level  slog.Level
	Format string
}

// DatabaseConfig selects and locates the plugin store.
type DatabaseConfig struct {
	// Driver is one of DriverPostgres, DriverSQLite or DriverMemory.
	Driver         string
	URL            string
	SQLitePath     string
	MaxConnections int

	// Cloud SQL unix socket settings, used when URL is empty.
	InstanceConnectionName string
	User                   string
	Password               string
	Name                   string
}

// AuthConfig holds token and admin credential settings.
type AuthConfig struct {
	JWTSecret     string
	AdminPassword string
	TokenDuration time.Duration
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"

	// DefaultJWTSecret is used when AUTH_JWT_SECRET is unset; callers warn about it.
	DefaultJWTSecret = "change-this-secret"
)

// rawEnv holds raw env values; Load validates them and builds Config.
type rawEnv struct {
	Port                   string `env:"PORT"`
	ServerPort             string `env:"SERVER_PORT"                     envDefault:"8080"`
	ReadTimeoutSeconds     int    `env:"SERVER_READ_TIMEOUT_SECONDS"     envDefault:"10"`
	WriteTimeoutSeconds    int    `env:"SERVER_WRITE_TIMEOUT_SECONDS"    envDefault:"10"`
	ShutdownTimeoutSeconds int    `env:"SERVER_SHUTDOWN_TIMEOUT_SECONDS" envDefault:"5"`

	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	StorageDriver          string `env:"STORAGE_DRIVER"     envDefault:"postgres"`
	DatabaseURL            string `env:"DATABASE_URL"`
	SQLitePath             string `env:"SQLITE_PATH"        envDefault:"pluginhub.db"`
	MaxConnections         int    `env:"DB_MAX_CONNECTIONS" envDefault:"25"`
	InstanceConnectionName string `env:"INSTANCE_CONNECTION_NAME"`
	DBUser                 string `env:"DB_USER"`
	DBPassword             string `env:"DB_PASSWORD"`
	DBName                 string `env:"DB_NAME"`

	JWTSecret     string `env:"AUTH_JWT_SECRET"      envDefault:"change-this-secret"`
	AdminPassword string `env:"ADMIN_PASSWORD"       envDefault:"admin"`
	TokenTTLHours int    `env:"AUTH_TOKEN_TTL_HOURS" envDefault:"24"`
}

// Load reads configuration from environment variables, applying defaults when
// values are not provided.
func Load() (Config, error) {
	var raw rawEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	// Cloud Run sets PORT, but allow SERVER_PORT for local dev
	port := raw.Port
	if port == "" {
		port = raw.ServerPort
	}

	for key, seconds := range map[string]int{
		"SERVER_READ_TIMEOUT_SECONDS":     raw.ReadTimeoutSeconds,
		"SERVER_WRITE_TIMEOUT_SECONDS":    raw.WriteTimeoutSeconds,
		"SERVER_SHUTDOWN_TIMEOUT_SECONDS": raw.ShutdownTimeoutSeconds,
	} {
		if seconds < 0 {
			return Config{}, fmt.Errorf("invalid %s: must be a non-negative integer", key)
		}
	}
	if raw.MaxConnections < 1 {
		return Config{}, fmt.Errorf("invalid DB_MAX_CONNECTIONS: must be a positive integer")
	}
	if raw.TokenTTLHours < 1 {
		return Config{}, fmt.Errorf("invalid AUTH_TOKEN_TTL_HOURS: must be a positive integer")
	}

	level, err := parseLogLevel(raw.LogLevel)
	if err != nil {
		return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	switch raw.LogFormat {
	case "json", "text":
	default:
		return Config{}, fmt.Errorf("invalid LOG_FORMAT: must be 'json' or 'text'")
	}

	driver := strings.ToLower(raw.StorageDriver)
	switch driver {
	case DriverPostgres, DriverSQLite, DriverMemory:
	default:
		return Config{}, fmt.Errorf("invalid STORAGE_DRIVER: must be one of postgres, sqlite, memory")
	}

	return Config{
		Server: ServerConfig{
			Port:            port,
			ReadTimeout:     time.Duration(raw.ReadTimeoutSeconds) * time.Second,
			WriteTimeout:    time.Duration(raw.WriteTimeoutSeconds) * time.Second,
			ShutdownTimeout: time.Duration(raw.ShutdownTimeoutSeconds) * time.Second,
		},
		Logging: LoggingConfig{
			Level:  level,
			Format: raw.LogFormat,
		},
		Database: DatabaseConfig{
			Driver:                 driver,
			URL:                    raw.DatabaseURL,
			SQLitePath:             raw.SQLitePath,
			MaxConnections:         raw.MaxConnections,
			InstanceConnectionName: raw.InstanceConnectionName,
			User:                   raw.DBUser,
			Password:               raw.DBPassword,
			Name:                   raw.DBName,
		},
		Auth: AuthConfig{
			JWTSecret:     raw.JWTSecret,
			AdminPassword: raw.AdminPassword,
			TokenDuration: time.Duration(raw.TokenTTLHours) * time.Hour,
		},
	}, nil
}

// DSN returns the connection string for the configured SQL driver. For postgres
// it prefers DATABASE_URL and falls back to a Cloud SQL unix socket.
func (c DatabaseConfig) DSN() (string, error) {
	switch c.Driver {
	case DriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return "", fmt.Errorf("SQLITE_PATH is required for the sqlite driver")
		}
		return c.SQLitePath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", nil
	case DriverPostgres:
		if c.URL != "" {
			return c.URL, nil
		}
		if c.InstanceConnectionName == "" {
			return "", fmt.Errorf("neither DATABASE_URL nor INSTANCE_CONNECTION_NAME is set")
		}
		if c.User == "" || c.Name == "" {
			return "", fmt.Errorf("DB_USER and DB_NAME must be set when using INSTANCE_CONNECTION_NAME")
		}
		// Cloud Run mounts Cloud SQL instances at /cloudsql/[INSTANCE_CONNECTION_NAME]
		socketPath := fmt.Sprintf("/cloudsql/%s", c.InstanceConnectionName)
		if c.Password != "" {
			return fmt.Sprintf("host=%s user=%s password=%s dbname=%s sslmode=disable",
				socketPath, c.User, c.Password, c.Name), nil
		}
		// IAM authentication
		return fmt.Sprintf("host=%s user=%s dbname=%s sslmode=disable", socketPath, c.User, c.Name), nil
	default:
		return "", fmt.Errorf("driver %q has no DSN", c.Driver)
	}
}

// Describe returns connection details that are safe to log.
func (c DatabaseConfig) Describe() map[string]string {
	out := map[string]string{"driver": c.Driver}
	switch {
	case c.Driver == DriverSQLite:
		out["path"] = c.SQLitePath
	case c.Driver == DriverPostgres && c.URL != "":
		out["connection_type"] = "direct"
		out["database_url"] = redactPassword(c.URL)
	case c.Driver == DriverPostgres && c.InstanceConnectionName != "":
		out["connection_type"] = "cloud_sql"
		out["instance"] = c.InstanceConnectionName
		out["user"] = c.User
		out["database"] = c.Name
	}
	return out
}

// redactPassword masks the password of a postgres:// URL.
func redactPassword(connStr string) string {
	if strings.HasPrefix(connStr, "postgresql://") || strings.HasPrefix(connStr, "postgres://") {
		parts := strings.SplitN(connStr, "@", 2)
		if len(parts) == 2 {
			userParts := strings.Split(parts[0], ":")
			if len(userParts) >= 3 {
				return userParts[0] + ":" + userParts[1] + ":***@" + parts[1]
			}
		}
	}
	return connStr
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch raw {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("must be one of debug, info, warn, error")
	}
}
