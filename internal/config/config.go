// Package config loads the service configuration from CHAT_* environment
// variables and command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

// Avatar storage backends.
const (
	AvatarBackendLocal = "local"
	AvatarBackendS3    = "s3"
)

// Config holds every setting of the chat service.
type Config struct {
	HTTPAddr string `env:"CHAT_HTTP_ADDR" envDefault:":8080"`

	DBDriver string `env:"CHAT_DB_DRIVER" envDefault:"sqlite"`
	DBDSN    string `env:"CHAT_DB_DSN"    envDefault:"file:chat.db"`

	RedisURL     string        `env:"CHAT_REDIS_URL"`
	UserCacheTTL time.Duration `env:"CHAT_USER_CACHE_TTL" envDefault:"1h"`

	JWTSecret    string        `env:"CHAT_JWT_SECRET"`
	JWTIssuer    string        `env:"CHAT_JWT_ISSUER"     envDefault:"dmchat"`
	SessionTTL   time.Duration `env:"CHAT_SESSION_TTL"    envDefault:"168h"`
	CookieSecure bool          `env:"CHAT_COOKIE_SECURE"  envDefault:"false"`

	AvatarBackend   string `env:"CHAT_AVATAR_BACKEND"    envDefault:"local"`
	UploadDir       string `env:"CHAT_UPLOAD_DIR"        envDefault:"static/uploads"`
	UploadURLPrefix string `env:"CHAT_UPLOAD_URL_PREFIX" envDefault:"/static/uploads"`
	S3Bucket        string `env:"CHAT_S3_BUCKET"`
	S3Region        string `env:"CHAT_S3_REGION"          envDefault:"us-east-1"`
	S3Endpoint      string `env:"CHAT_S3_ENDPOINT"`
	S3AccessKey     string `env:"CHAT_S3_ACCESS_KEY"`
	S3SecretKey     string `env:"CHAT_S3_SECRET_KEY"`
	S3PublicBaseURL string `env:"CHAT_S3_PUBLIC_BASE_URL"`
	S3KeyPrefix     string `env:"CHAT_S3_KEY_PREFIX"      envDefault:"avatars"`

	StaticDir  string `env:"CHAT_STATIC_DIR"  envDefault:"static"`
	CORSOrigin string `env:"CHAT_CORS_ORIGIN"`

	LogLevel  string `env:"CHAT_LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"CHAT_LOG_FORMAT" envDefault:"json"`

	BcryptCost int `env:"CHAT_BCRYPT_COST" envDefault:"10"`

	// Inbound realtime frames per second and burst, per connection.
	WSRate  float64 `env:"CHAT_WS_RATE"  envDefault:"20"`
	WSBurst int     `env:"CHAT_WS_BURST" envDefault:"40"`
	// Login and registration attempts per second and burst, per client IP.
	AuthRate  float64 `env:"CHAT_AUTH_RATE"  envDefault:"0.5"`
	AuthBurst int     `env:"CHAT_AUTH_BURST" envDefault:"10"`
}

// Parse loads the environment, applies flag overrides from args and validates
// the result.
func Parse(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	fs.StringVar(&cfg.DBDriver, "db-driver", cfg.DBDriver, "database driver: sqlite or postgres")
	fs.StringVar(&cfg.DBDSN, "db-dsn", cfg.DBDSN, "database connection string")
	fs.StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "Redis URL for the user cache (empty disables it)")
	fs.StringVar(&cfg.StaticDir, "static-dir", cfg.StaticDir, "directory served under /static/")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: json or text")
	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("parse flags: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http address is required"))
	}
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unsupported db driver %q", c.DBDriver))
	}
	if c.DBDSN == "" {
		errs = append(errs, errors.New("db dsn is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("CHAT_JWT_SECRET is required"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("session ttl must be positive"))
	}
	switch c.AvatarBackend {
	case AvatarBackendLocal:
		if c.UploadDir == "" {
			errs = append(errs, errors.New("upload dir is required for local avatars"))
		}
	case AvatarBackendS3:
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("CHAT_S3_BUCKET is required for s3 avatars"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported avatar backend %q", c.AvatarBackend))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("unsupported log format %q", c.LogFormat))
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("bcrypt cost %d out of range", c.BcryptCost))
	}
	if c.WSRate < 0 || c.AuthRate < 0 {
		errs = append(errs, errors.New("rates must not be negative"))
	}
	return errors.Join(errs...)
}

// SlogLevel parses LogLevel.
func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	return level, nil
}
