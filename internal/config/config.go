package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"checkin/internal/apperr"
)

// App holds the runtime configuration loaded from environment variables.
type App struct {
	Env             string
	HTTPPort        string
	RedisAddr       string
	QueueBackend    string
	JWTIssuer       string
	JWTSigningKey   string
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	RateLimitPerMin int
	RequestTimeout  time.Duration
	StatsInterval   time.Duration
	RecentPageSize  int
	InputMode       string
	APISecret       string
	APIBaseURL      string
	EnrollKey       string
}

// Credential is the shared secret and backend location. It is read-only once built.
type Credential struct {
	Secret  []byte
	BaseURL string
}

// Load returns application config populated from environment variables with sensible defaults.
func Load(log zerolog.Logger) App {
	return App{
		Env:             getEnv("APP_ENV", "dev"),
		HTTPPort:        getEnv("HTTP_PORT", "8081"),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		QueueBackend:    getEnv("QUEUE_BACKEND", "memory"),
		JWTIssuer:       getEnv("JWT_ISSUER", "checkin-station"),
		JWTSigningKey:   getEnv("JWT_SIGNING_KEY", "dev-signing-secret-change"),
		AccessTTL:       durationEnv(log, "ACCESS_TTL", 12*time.Hour),
		RefreshTTL:      durationEnv(log, "REFRESH_TTL", 7*24*time.Hour),
		RateLimitPerMin: intEnv(log, "RATE_LIMIT_PER_MIN", 120),
		RequestTimeout:  durationEnv(log, "CHECKIN_REQUEST_TIMEOUT", 15*time.Second),
		StatsInterval:   durationEnv(log, "CHECKIN_STATS_INTERVAL", 30*time.Second),
		RecentPageSize:  intEnv(log, "CHECKIN_RECENT_PAGE_SIZE", 20),
		InputMode:       getEnv("CHECKIN_INPUT", "manual"),
		APISecret:       os.Getenv("APP_SECRET"),
		APIBaseURL:      os.Getenv("API_BASE_URL"),
		EnrollKey:       os.Getenv("STATION_ENROLL_KEY"),
	}
}

type credentialInput struct {
	Secret  string `validate:"required"`
	BaseURL string `validate:"required,url"`
}

var validate = validator.New()

// Credential validates the backend settings and returns them as an immutable value.
// The base URL is always rewritten to https.
func (a App) Credential() (Credential, error) {
	in := credentialInput{
		Secret:  strings.TrimSpace(a.APISecret),
		BaseURL: NormalizeBaseURL(a.APIBaseURL),
	}
	if err := validate.Struct(in); err != nil {
		var missing []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				missing = append(missing, envName(fe.Field()))
			}
		}
		return Credential{}, apperr.Wrap(err, apperr.KindConfiguration,
			fmt.Sprintf("%s (check %s)", apperr.MsgConfiguration, strings.Join(missing, ", ")))
	}
	return Credential{Secret: []byte(in.Secret), BaseURL: in.BaseURL}, nil
}

// NormalizeBaseURL forces the https scheme whatever scheme was configured and
// drops trailing slashes. Unparseable values normalize to "".
func NormalizeBaseURL(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" {
		return ""
	}
	if !strings.Contains(u, "://") {
		u = "https://" + u
	}
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return ""
	}
	parsed.Scheme = "https"
	parsed.Path = strings.TrimRight(parsed.Path, "/")
	parsed.RawPath = ""
	return parsed.String()
}

// OpenEnrollment reports whether stations may register without an enrollment key.
// Only a dev environment with no key configured allows it.
func (a App) OpenEnrollment() bool {
	return a.EnrollKey == "" && a.Env == "dev"
}

func envName(field string) string {
	switch field {
	case "Secret":
		return "APP_SECRET"
	case "BaseURL":
		return "API_BASE_URL"
	default:
		return field
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func durationEnv(log zerolog.Logger, key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil || d <= 0 {
			log.Warn().Str("key", key).Str("value", val).Dur("fallback", fallback).Msg("invalid duration, using fallback")
			return fallback
		}
		return d
	}
	return fallback
}

func intEnv(log zerolog.Logger, key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil && parsed > 0 {
			return parsed
		}
		log.Warn().Str("key", key).Str("value", val).Int("fallback", fallback).Msg("invalid int, using fallback")
	}
	return fallback
}
