package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const devJWTSecret = "dev-only-secret-change-me"

type Config struct {
	Env   string `env:"APP_ENV" envDefault:"dev"`
	Port  int    `env:"PORT" envDefault:"4000"`
	DBURL string `env:"DATABASE_URL"`
	DB    DB     `envPrefix:"DB_"`

	// UserStore selects postgres or memory; SessionStore selects redis or memory.
	UserStore    string `env:"STORE" envDefault:"postgres"`
	SessionStore string `env:"SESSION_STORE" envDefault:"redis"`
	AutoMigrate  bool   `env:"AUTO_MIGRATE" envDefault:"false"`

	JWT                  JWT           `envPrefix:"JWT_"`
	VerificationTokenTTL time.Duration `env:"VERIFICATION_TOKEN_TTL" envDefault:"10h"`
	ResetTokenTTL        time.Duration `env:"RESET_TOKEN_TTL" envDefault:"10h"`

	Mail          Mail   `envPrefix:"MAILTRAP_"`
	MailTransport string `env:"MAIL_TRANSPORT" envDefault:"log"`
	SenderEmail   string `env:"SENDER_EMAIL" envDefault:"no-reply@localhost"`
	SenderName    string `env:"SENDER_NAME" envDefault:"Authentication App"`

	BaseURL    string `env:"BASE_URL" envDefault:"http://localhost:4000"`
	CORSOrigin string `env:"CORS_ORIGIN"`

	Redis Redis `envPrefix:"REDIS_"`

	// RateLimit is requests per client IP per RateLimitWindow on each
	// unauthenticated route. It is off (0) unless configured.
	RateLimit       int           `env:"RATE_LIMIT" envDefault:"0"`
	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`

	OTLPEndpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelSampleRatio float64 `env:"OTEL_SAMPLE_RATIO" envDefault:"1"`
	ServiceName     string  `env:"SERVICE_NAME" envDefault:"userauth"`

	AdminEmail    string `env:"ADMIN_EMAIL"`
	AdminPassword string `env:"ADMIN_PASSWORD"`
	AdminName     string `env:"ADMIN_NAME" envDefault:"Admin"`
}

type DB struct {
	Host     string `env:"HOST" envDefault:"127.0.0.1"`
	Port     string `env:"PORT" envDefault:"5432"`
	User     string `env:"USER" envDefault:"userauth"`
	Password string `env:"PASSWORD" envDefault:"userauth"`
	Name     string `env:"NAME" envDefault:"userauth"`
	SSLMode  string `env:"SSLMODE" envDefault:"disable"`
}

type JWT struct {
	Secret string        `env:"SECRET"`
	Expiry time.Duration `env:"EXPIRY" envDefault:"24h"`
}

type Mail struct {
	Host string `env:"HOST" envDefault:"sandbox.smtp.mailtrap.io"`
	Port int    `env:"PORT" envDefault:"2525"`
	User string `env:"USER"`
	Pass string `env:"PASS"`
}

type Redis struct {
	Addr     string `env:"ADDR" envDefault:"127.0.0.1:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	// a missing .env is normal outside local dev
	_ = godotenv.Load()

	return Parse()
}

// Parse builds the config from the process environment only.
func Parse() (Config, error) {
	var cfg Config

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if cfg.DBURL == "" {
		cfg.DBURL = buildDBURL(cfg.DB)
	}

	if cfg.CORSOrigin == "" {
		cfg.CORSOrigin = cfg.BaseURL
	}

	if cfg.JWT.Secret == "" {
		if cfg.Env != "dev" && cfg.Env != "test" {
			return Config{}, errors.New("JWT_SECRET is required outside dev")
		}
		cfg.JWT.Secret = devJWTSecret
	}

	if cfg.JWT.Expiry <= 0 || cfg.VerificationTokenTTL <= 0 || cfg.ResetTokenTTL <= 0 {
		return Config{}, errors.New("token lifetimes must be positive")
	}

	if cfg.OTelSampleRatio < 0 || cfg.OTelSampleRatio > 1 {
		return Config{}, errors.New("OTEL_SAMPLE_RATIO must be within [0, 1]")
	}

	if cfg.RateLimit < 0 || (cfg.RateLimit > 0 && cfg.RateLimitWindow <= 0) {
		return Config{}, errors.New("rate limit and its window must be positive")
	}

	return cfg, nil
}

func buildDBURL(db DB) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(db.User, db.Password),
		Host:     db.Host + ":" + db.Port,
		Path:     "/" + db.Name,
		RawQuery: "sslmode=" + db.SSLMode,
	}

	return u.String()
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}
