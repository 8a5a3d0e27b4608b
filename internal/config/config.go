package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr          string
	DatabaseURL   string
	MigrationsDir string
	CORSOrigin    string
	// Redis Configuration
	RedisURL string
	// Anonymous identity credentials
	CredentialSecret string
	CredentialTTL    time.Duration
	// Presence timing
	HeartbeatInterval time.Duration
	OnlineWindow      time.Duration
	ActivityLimit     int
	// Kafka activity events, disabled when no brokers are configured
	KafkaBrokers  []string
	ActivityTopic string
	// Device-local state for the terminal client
	CacheDir string
	// Offline asset cache
	AssetsDir  string
	AssetCache string
}

// Load reads the environment, after applying an optional .env file from the
// working directory.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Addr:              getenv("API_ADDR", ":8787"),
		DatabaseURL:       getenv("DATABASE_URL", ""),
		MigrationsDir:     getenv("FROOM_MIGRATIONS_DIR", "./db/migrations"),
		CORSOrigin:        getenv("FROOM_CORS_ORIGIN", "*"),
		RedisURL:          getenv("REDIS_URL", ""),
		CredentialSecret:  getenv("FROOM_CREDENTIAL_SECRET", "froom-dev-secret"),
		CredentialTTL:     time.Duration(getenvInt("FROOM_CREDENTIAL_TTL_SECONDS", 2592000)) * time.Second,
		HeartbeatInterval: getenvDuration("FROOM_HEARTBEAT_INTERVAL", 25*time.Second),
		OnlineWindow:      getenvDuration("FROOM_ONLINE_WINDOW", 60*time.Second),
		ActivityLimit:     getenvInt("FROOM_ACTIVITY_LIMIT", 50),
		KafkaBrokers:      splitAndTrim(getenv("KAFKA_BROKERS", "")),
		ActivityTopic:     getenv("FROOM_ACTIVITY_TOPIC", "froom.activity"),
		CacheDir:          getenv("FROOM_CACHE_DIR", defaultCacheDir()),
		AssetsDir:         getenv("FROOM_ASSETS_DIR", "./web"),
		AssetCache:        getenv("FROOM_ASSET_CACHE", "froom-cache-v1"),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ".froom"
	}
	return dir + string(os.PathSeparator) + "froom"
}
