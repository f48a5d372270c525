// Package config loads service settings from defaults, an optional YAML file
// and RESERVATIONS_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/example/room-reservations/internal/scheduler"
)

const (
	// FileEnv names the variable holding the optional YAML file path.
	FileEnv = "RESERVATIONS_CONFIG"
	// DotEnvEnv overrides the .env file location.
	DotEnvEnv = "RESERVATIONS_ENV_FILE"
)

// Config captures configuration values for the reservation service.
type Config struct {
	Environment string          `koanf:"environment"`
	HTTP        HTTPConfig      `koanf:"http"`
	SQLite      SQLiteConfig    `koanf:"sqlite"`
	Auth        AuthConfig      `koanf:"auth"`
	Booking     BookingConfig   `koanf:"booking"`
	Lock        LockConfig      `koanf:"lock"`
	AMQP        AMQPConfig      `koanf:"amqp"`
	SMTP        SMTPConfig      `koanf:"smtp"`
	RateLimit   RateLimitConfig `koanf:"rate_limit"`
	Tracing     TracingConfig   `koanf:"tracing"`
	Log         LogConfig       `koanf:"log"`
	// Rooms are upserted into the catalog at startup.
	Rooms []RoomConfig `koanf:"rooms"`

	// Policy is derived from Booking during Load.
	Policy scheduler.Policy `koanf:"-"`
}

type HTTPConfig struct {
	Port           int           `koanf:"port"`
	ReadTimeout    time.Duration `koanf:"read_timeout"`
	WriteTimeout   time.Duration `koanf:"write_timeout"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

type SQLiteConfig struct {
	Path        string        `koanf:"path"`
	BusyTimeout time.Duration `koanf:"busy_timeout"`
}

type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret"`
}

type BookingConfig struct {
	MinDuration time.Duration `koanf:"min_duration"`
	MaxDuration time.Duration `koanf:"max_duration"`
	MaxPageSize int           `koanf:"max_page_size"`
	Timezone    string        `koanf:"timezone"`
	// OpeningHours is "HH:MM-HH:MM" in Timezone. Empty disables the check.
	OpeningHours string        `koanf:"opening_hours"`
	RoomCacheTTL time.Duration `koanf:"room_cache_ttl"`
}

type LockConfig struct {
	Backend   string        `koanf:"backend"`
	RedisAddr string        `koanf:"redis_addr"`
	TTL       time.Duration `koanf:"ttl"`
}

type AMQPConfig struct {
	URL      string `koanf:"url"`
	Exchange string `koanf:"exchange"`
}

type SMTPConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `koanf:"rps"`
	Burst             int     `koanf:"burst"`
}

type TracingConfig struct {
	OTLPEndpoint string  `koanf:"otlp_endpoint"`
	SampleRatio  float64 `koanf:"sample_ratio"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	File   string `koanf:"file"`
}

type RoomConfig struct {
	ID     string `koanf:"id"`
	Name   string `koanf:"name"`
	Cover  string `koanf:"cover"`
	Status string `koanf:"status"`
}

type valueKind int

const (
	kindString valueKind = iota
	kindInt
	kindDuration
	kindFloat
)

type envBinding struct {
	name string
	key  string
	kind valueKind
}

var envBindings = []envBinding{
	{"RESERVATIONS_ENVIRONMENT", "environment", kindString},
	{"RESERVATIONS_HTTP_PORT", "http.port", kindInt},
	{"RESERVATIONS_HTTP_READ_TIMEOUT", "http.read_timeout", kindDuration},
	{"RESERVATIONS_HTTP_WRITE_TIMEOUT", "http.write_timeout", kindDuration},
	{"RESERVATIONS_HTTP_REQUEST_TIMEOUT", "http.request_timeout", kindDuration},
	{"RESERVATIONS_SQLITE_PATH", "sqlite.path", kindString},
	{"RESERVATIONS_SQLITE_BUSY_TIMEOUT", "sqlite.busy_timeout", kindDuration},
	{"RESERVATIONS_JWT_SECRET", "auth.jwt_secret", kindString},
	{"RESERVATIONS_BOOKING_MIN_DURATION", "booking.min_duration", kindDuration},
	{"RESERVATIONS_BOOKING_MAX_DURATION", "booking.max_duration", kindDuration},
	{"RESERVATIONS_MAX_PAGE_SIZE", "booking.max_page_size", kindInt},
	{"RESERVATIONS_TIMEZONE", "booking.timezone", kindString},
	{"RESERVATIONS_OPENING_HOURS", "booking.opening_hours", kindString},
	{"RESERVATIONS_ROOM_CACHE_TTL", "booking.room_cache_ttl", kindDuration},
	{"RESERVATIONS_LOCK_BACKEND", "lock.backend", kindString},
	{"RESERVATIONS_REDIS_ADDR", "lock.redis_addr", kindString},
	{"RESERVATIONS_LOCK_TTL", "lock.ttl", kindDuration},
	{"RESERVATIONS_AMQP_URL", "amqp.url", kindString},
	{"RESERVATIONS_AMQP_EXCHANGE", "amqp.exchange", kindString},
	{"RESERVATIONS_SMTP_HOST", "smtp.host", kindString},
	{"RESERVATIONS_SMTP_PORT", "smtp.port", kindInt},
	{"RESERVATIONS_SMTP_USERNAME", "smtp.username", kindString},
	{"RESERVATIONS_SMTP_PASSWORD", "smtp.password", kindString},
	{"RESERVATIONS_SMTP_FROM", "smtp.from", kindString},
	{"RESERVATIONS_RATE_LIMIT_RPS", "rate_limit.rps", kindFloat},
	{"RESERVATIONS_RATE_LIMIT_BURST", "rate_limit.burst", kindInt},
	{"RESERVATIONS_OTLP_ENDPOINT", "tracing.otlp_endpoint", kindString},
	{"RESERVATIONS_TRACE_SAMPLE_RATIO", "tracing.sample_ratio", kindFloat},
	{"RESERVATIONS_LOG_LEVEL", "log.level", kindString},
	{"RESERVATIONS_LOG_FORMAT", "log.format", kindString},
	{"RESERVATIONS_LOG_FILE", "log.file", kindString},
}

// Load reads .env, the optional YAML file named by RESERVATIONS_CONFIG and
// the environment, then validates the result.
//
// Missing and invalid entries are collected and reported together.
func Load() (Config, error) {
	envFile := strings.TrimSpace(os.Getenv(DotEnvEnv))
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	k := koanf.New(".")
	if path := strings.TrimSpace(os.Getenv(FileEnv)); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("failed to load config file: %w", err)
		}
	}
	applyDefaults(k)

	invalid := applyEnvOverrides(k)

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	missing := make([]string, 0, 2)
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		missing = append(missing, "RESERVATIONS_JWT_SECRET")
	}
	if cfg.Lock.Backend == "redis" && strings.TrimSpace(cfg.Lock.RedisAddr) == "" {
		missing = append(missing, "RESERVATIONS_REDIS_ADDR")
	}
	invalid = append(invalid, cfg.validate()...)

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("必須の設定値がありません: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("設定値が不正です: %s", strings.Join(invalid, ", "))
	}
	return cfg, nil
}

func applyDefaults(k *koanf.Koanf) {
	setDefault(k, "environment", "development")

	setDefault(k, "http.port", 8080)
	setDefault(k, "http.read_timeout", 10*time.Second)
	setDefault(k, "http.write_timeout", 30*time.Second)
	setDefault(k, "http.request_timeout", 15*time.Second)

	setDefault(k, "sqlite.path", "reservations.db")
	setDefault(k, "sqlite.busy_timeout", 5*time.Second)

	setDefault(k, "booking.min_duration", time.Hour)
	setDefault(k, "booking.max_duration", 2*time.Hour)
	setDefault(k, "booking.max_page_size", 100)
	setDefault(k, "booking.timezone", "UTC")
	setDefault(k, "booking.room_cache_ttl", 30*time.Second)

	setDefault(k, "lock.backend", "memory")
	setDefault(k, "lock.ttl", 10*time.Second)

	setDefault(k, "amqp.exchange", "reservations")

	setDefault(k, "smtp.port", 587)

	setDefault(k, "rate_limit.rps", 10.0)
	setDefault(k, "rate_limit.burst", 20)

	setDefault(k, "tracing.sample_ratio", 1.0)

	setDefault(k, "log.level", "info")
	setDefault(k, "log.format", "json")
}

func applyEnvOverrides(k *koanf.Koanf) []string {
	invalid := make([]string, 0, 2)
	for _, b := range envBindings {
		raw := strings.TrimSpace(os.Getenv(b.name))
		if raw == "" {
			continue
		}
		value, ok := parseValue(b.kind, raw)
		if !ok {
			invalid = append(invalid, b.name)
			continue
		}
		_ = k.Set(b.key, value)
	}
	return invalid
}

func parseValue(kind valueKind, raw string) (any, bool) {
	switch kind {
	case kindInt:
		v, err := strconv.Atoi(raw)
		return v, err == nil && v >= 0
	case kindDuration:
		v, err := time.ParseDuration(raw)
		return v, err == nil && v > 0
	case kindFloat:
		v, err := strconv.ParseFloat(raw, 64)
		return v, err == nil && v >= 0
	default:
		return raw, true
	}
}

func setDefault(k *koanf.Koanf, key string, value any) {
	if !k.Exists(key) {
		_ = k.Set(key, value)
	}
}

// validate checks cross-field rules and derives Policy.
func (c *Config) validate() []string {
	invalid := make([]string, 0, 2)

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		invalid = append(invalid, "http.port")
	}
	if c.Booking.MinDuration <= 0 || c.Booking.MaxDuration < c.Booking.MinDuration {
		invalid = append(invalid, "booking.max_duration")
	}
	if c.Booking.MaxPageSize <= 0 {
		invalid = append(invalid, "booking.max_page_size")
	}
	switch c.Lock.Backend {
	case "memory", "redis":
	default:
		invalid = append(invalid, "lock.backend")
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0 {
		invalid = append(invalid, "rate_limit")
	}

	for i, room := range c.Rooms {
		switch {
		case strings.TrimSpace(room.ID) == "", strings.TrimSpace(room.Name) == "":
			invalid = append(invalid, fmt.Sprintf("rooms[%d]", i))
		case room.Status != "" && room.Status != "available" && room.Status != "maintenance" && room.Status != "closed":
			invalid = append(invalid, fmt.Sprintf("rooms[%d].status", i))
		}
	}

	loc, err := time.LoadLocation(c.Booking.Timezone)
	if err != nil {
		invalid = append(invalid, "booking.timezone")
		loc = time.UTC
	}
	hours, err := ParseOpeningHours(c.Booking.OpeningHours, loc)
	if err != nil {
		invalid = append(invalid, "booking.opening_hours")
	}
	c.Policy = scheduler.Policy{
		MinDuration:  c.Booking.MinDuration,
		MaxDuration:  c.Booking.MaxDuration,
		Location:     loc,
		OpeningHours: hours,
	}
	return invalid
}

// ParseOpeningHours reads "HH:MM-HH:MM". An empty value disables the limit.
func ParseOpeningHours(value string, loc *time.Location) (scheduler.OpeningHours, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return scheduler.OpeningHours{}, nil
	}
	openRaw, closeRaw, ok := strings.Cut(value, "-")
	if !ok {
		return scheduler.OpeningHours{}, fmt.Errorf("opening hours %q: expected HH:MM-HH:MM", value)
	}
	open, err := clockOffset(openRaw)
	if err != nil {
		return scheduler.OpeningHours{}, err
	}
	closing, err := clockOffset(closeRaw)
	if err != nil {
		return scheduler.OpeningHours{}, err
	}
	if closing <= open {
		return scheduler.OpeningHours{}, fmt.Errorf("opening hours %q: close must follow open", value)
	}
	return scheduler.OpeningHours{Open: open, Close: closing, Location: loc}, nil
}

func clockOffset(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "24:00" {
		return 24 * time.Hour, nil
	}
	t, err := time.Parse("15:04", raw)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q", raw)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
