package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port        string
	DatabaseURL string
	AppEnv      string
	LogLevel    string
	BaseURL     string

	URLPrefix     string
	CodeLength    int
	CodeMaxLength int

	JWTSecret          string
	TokenTTL           time.Duration
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	FrontendURL        string
	AllowedEmails      []string

	RedisURL string
	CacheTTL time.Duration
	NATSURL  string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func Load() *Config {
	_ = godotenv.Load() // Ignore error if .env not found (e.g. prod)

	file := map[string]string{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		file = readFile(path)
	}
	get := func(key, fallback string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		if v, ok := file[key]; ok {
			return v
		}
		return fallback
	}

	codeLength := parseInt(get("CODE_LENGTH", ""), 5)
	if codeLength <= 0 {
		codeLength = 5
	}
	codeMax := parseInt(get("CODE_MAX_LENGTH", ""), 12)
	if codeMax < codeLength {
		codeMax = codeLength
	}

	return &Config{
		Port:               get("PORT", "8080"),
		DatabaseURL:        get("DATABASE_URL", "file:fusly.db"),
		AppEnv:             get("APP_ENV", "local"),
		LogLevel:           get("LOG_LEVEL", "info"),
		BaseURL:            strings.TrimRight(get("BASE_URL", "http://localhost:8080"), "/"),
		URLPrefix:          get("URL_PREFIX", ""),
		CodeLength:         codeLength,
		CodeMaxLength:      codeMax,
		JWTSecret:          get("JWT_SECRET", "secret"),
		TokenTTL:           parseDuration(get("TOKEN_TTL", ""), time.Hour),
		GoogleClientID:     get("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: get("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  get("GOOGLE_REDIRECT_URL", "http://localhost:8080/auth/google/callback"),
		FrontendURL:        get("FRONTEND_URL", "http://localhost:8080/"),
		AllowedEmails:      splitList(get("ALLOWED_EMAILS", "")),
		RedisURL:           get("REDIS_URL", ""),
		CacheTTL:           parseDuration(get("CACHE_TTL", ""), time.Minute),
		NATSURL:            get("NATS_URL", ""),
		ReadTimeout:        parseDuration(get("READ_TIMEOUT", ""), 5*time.Second),
		WriteTimeout:       parseDuration(get("WRITE_TIMEOUT", ""), 10*time.Second),
		ShutdownTimeout:    parseDuration(get("SHUTDOWN_TIMEOUT", ""), 15*time.Second),
	}
}

// readFile flattens a YAML document of scalar keys into env-style values.
// An unreadable file is treated as empty.
func readFile(path string) map[string]string {
	out := map[string]string{}
	data, err := os.ReadFile(path)
	if err != nil {
		return out
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return out
	}
	for k, v := range raw {
		key := strings.ToUpper(k)
		switch val := v.(type) {
		case []any:
			parts := make([]string, 0, len(val))
			for _, p := range val {
				parts = append(parts, toString(p))
			}
			out[key] = strings.Join(parts, ",")
		default:
			out[key] = toString(val)
		}
	}
	return out
}

func toString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return ""
	}
}

func parseInt(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
