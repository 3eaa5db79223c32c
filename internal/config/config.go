package config

import (
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
	StorageMemory   = "memory"

	LockNone  = "none"
	LockLocal = "local"
	LockRedis = "redis"
)

type AuthConfiguration struct {
	JWTSecret string `env:"AUTH_JWT_SECRET"`
	JWTIssuer string `env:"AUTH_JWT_ISSUER"`

	// SchedulerToken guards maintenance routes. Empty disables them.
	SchedulerToken string `env:"AUTH_SCHEDULER_TOKEN"`
}

type RedisConfiguration struct {
	Addr     string        `env:"REDIS_ADDR"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB" envDefault:"0"`
	LockTTL  time.Duration `env:"REDIS_LOCK_TTL" envDefault:"5s"`
}

type MembershipConfiguration struct {
	Lock           string        `env:"MEMBERSHIP_LOCK" envDefault:"local"`
	MaxAttempts    int           `env:"MEMBERSHIP_MAX_ATTEMPTS" envDefault:"5"`
	InitialBackoff time.Duration `env:"MEMBERSHIP_INITIAL_BACKOFF" envDefault:"10ms"`
	MaxBackoff     time.Duration `env:"MEMBERSHIP_MAX_BACKOFF" envDefault:"250ms"`
	JoinTimeout    time.Duration `env:"MEMBERSHIP_JOIN_TIMEOUT" envDefault:"3s"`
}

type SessionConfiguration struct {
	DefaultMaxParticipants int           `env:"SESSION_DEFAULT_MAX_PARTICIPANTS" envDefault:"5"`
	MaxParticipantsLimit   int           `env:"SESSION_MAX_PARTICIPANTS_LIMIT" envDefault:"50"`
	TTL                    time.Duration `env:"SESSION_TTL" envDefault:"24h"`
}

type Config struct {
	Logger *zap.Logger

	Port     int    `env:"PORT" envDefault:"8080"`
	RootPath string `env:"ROOT_PATH" envDefault:"."`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	StorageDriver  string `env:"STORAGE_DRIVER" envDefault:"postgres"`
	DatabaseURL    string `env:"DATABASE_URL"`
	SQLitePath     string `env:"SQLITE_PATH"`
	MigrationsPath string

	Auth       AuthConfiguration
	Redis      RedisConfiguration
	Membership MembershipConfiguration
	Session    SessionConfiguration
}

// Load reads the process environment. The returned Config owns a logger the
// caller should Sync before exiting.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	cfg.MigrationsPath = path.Join(cfg.RootPath, "db", "migrations")

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return Config{}, err
	}
	cfg.Logger = logger

	return cfg, nil
}

func (c Config) validate() error {
	var errs []error

	switch c.StorageDriver {
	case StoragePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres storage driver"))
		}
	case StorageSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite storage driver"))
		}
	case StorageMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver))
	}

	switch c.Membership.Lock {
	case LockNone, LockLocal:
	case LockRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis membership lock"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown MEMBERSHIP_LOCK %q", c.Membership.Lock))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("AUTH_JWT_SECRET is required"))
	}

	if c.Membership.MaxAttempts < 1 {
		errs = append(errs, errors.New("MEMBERSHIP_MAX_ATTEMPTS must be at least 1"))
	}

	if c.Session.DefaultMaxParticipants < 1 || c.Session.DefaultMaxParticipants > c.Session.MaxParticipantsLimit {
		errs = append(errs, fmt.Errorf(
			"SESSION_DEFAULT_MAX_PARTICIPANTS must be between 1 and %d",
			c.Session.MaxParticipantsLimit,
		))
	}

	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}

	return errors.Join(errs...)
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	return cfg.Build()
}
