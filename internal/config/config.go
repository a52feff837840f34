package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type Config struct {
	Mode     Mode
	HTTPAddr string

	DBDriver string // sqlite|postgres|mongo
	DBDSN    string
	MongoURI string
	MongoDB  string

	BlobBasePath string

	AIServiceURL   string
	AITokenURL     string // optional: client-credentials in front of the AI service
	AIClientID     string
	AIClientSecret string

	AuthSecret string
	ShareTTL   time.Duration
	SiteID     string // event log origin

	CORSOriginsOnline  []string
	CORSOriginsOffline []string

	RedisAddr     string
	RedisPassword string

	EvalTimeout   time.Duration
	SubmitRetries int
	SubmitBackoff time.Duration

	WSReconnectDelay time.Duration
}

// FromEnv loads an optional .env.<mode> (or .env) file and then reads the
// process environment. Variables already set in the environment win.
func FromEnv() Config {
	loadDotEnv()

	mode := Mode(os.Getenv("MODE"))
	if mode == "" {
		mode = ModeOffline
	}
	return Config{
		Mode:     mode,
		HTTPAddr: envOr("HTTP_ADDR", ":8080"),

		DBDriver: envOr("DB_DRIVER", "sqlite"),
		DBDSN:    envOr("DB_DSN", ""),
		MongoURI: envOr("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:  envOr("MONGO_DB", "classroom"),

		BlobBasePath: envOr("BLOB_BASE_PATH", "./data"),

		AIServiceURL:   strings.TrimSuffix(envOr("AI_SERVICE_URL", "http://localhost:5000"), "/"),
		AITokenURL:     os.Getenv("AI_TOKEN_URL"),
		AIClientID:     os.Getenv("AI_CLIENT_ID"),
		AIClientSecret: os.Getenv("AI_CLIENT_SECRET"),

		AuthSecret: envOr("AUTH_HMAC_SECRET", "supersecret-dev-key"),
		ShareTTL:   envDuration("SHARE_TTL", 7*24*time.Hour),
		SiteID:     envOr("SITE_ID", "local"),

		CORSOriginsOnline:  csvOr("CORS_ORIGINS_ONLINE", "https://classroom.mindengage.ai"),
		CORSOriginsOffline: csvOr("CORS_ORIGINS_OFFLINE", "http://localhost:3000,http://localhost:5173"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		EvalTimeout:   envDuration("EVAL_TIMEOUT", 90*time.Second),
		SubmitRetries: envInt("SUBMIT_RETRIES", 2),
		SubmitBackoff: envDuration("SUBMIT_BACKOFF", time.Second),

		WSReconnectDelay: envDuration("WS_RECONNECT_DELAY", time.Second),
	}
}

// CORSOrigins returns the allow-list for the active mode.
func (c Config) CORSOrigins() []string {
	if c.Mode == ModeOnline {
		return c.CORSOriginsOnline
	}
	return c.CORSOriginsOffline
}

func loadDotEnv() {
	candidates := []string{".env"}
	if m := os.Getenv("MODE"); m != "" {
		candidates = append([]string{".env." + strings.ToLower(m)}, candidates...)
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			log.Printf("config: load %s: %v", p, err)
		}
		return
	}
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	if v := os.Getenv(k + "_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return def
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
