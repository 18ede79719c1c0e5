package main

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/unwatchhq/unwatch/internal/changefeed"
	"github.com/unwatchhq/unwatch/internal/storage"
)

// Config is the server configuration, read from the environment.
type Config struct {
	Port             int
	DatabaseURL      string
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	AllowedOrigins   []string
	TrustedIPHeaders []string

	ChangeFeed  string
	RedisURL    string
	PresetsFile string

	S3Config        storage.S3Config
	ExportURLExpiry time.Duration

	AuthRateLimitRPS   float64
	AuthRateLimitBurst int
	APIRateLimitRPS    float64
	APIRateLimitBurst  int
}

// getenvFunc matches os.Getenv.
type getenvFunc func(string) string

// loadConfig reads the server configuration. DATABASE_URL is the only
// required variable; everything else has a development default.
func loadConfig(getenv getenvFunc) (Config, error) {
	cfg := Config{
		Port:               8080,
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       30 * time.Second,
		ChangeFeed:         changefeed.KindLocal,
		ExportURLExpiry:    15 * time.Minute,
		AuthRateLimitRPS:   0.2,
		AuthRateLimitBurst: 10,
		APIRateLimitRPS:    20,
		APIRateLimitBurst:  60,
	}

	cfg.DatabaseURL = getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("missing required env var DATABASE_URL")
	}

	var err error
	if cfg.Port, err = intEnv(getenv, "PORT", cfg.Port); err != nil {
		return Config{}, err
	}
	if cfg.ReadTimeout, err = durationEnv(getenv, "HTTP_READ_TIMEOUT", cfg.ReadTimeout); err != nil {
		return Config{}, err
	}
	if cfg.WriteTimeout, err = durationEnv(getenv, "HTTP_WRITE_TIMEOUT", cfg.WriteTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ExportURLExpiry, err = durationEnv(getenv, "EXPORT_URL_EXPIRY", cfg.ExportURLExpiry); err != nil {
		return Config{}, err
	}
	if cfg.AuthRateLimitRPS, err = floatEnv(getenv, "AUTH_RATE_LIMIT_RPS", cfg.AuthRateLimitRPS); err != nil {
		return Config{}, err
	}
	if cfg.AuthRateLimitBurst, err = intEnv(getenv, "AUTH_RATE_LIMIT_BURST", cfg.AuthRateLimitBurst); err != nil {
		return Config{}, err
	}
	if cfg.APIRateLimitRPS, err = floatEnv(getenv, "API_RATE_LIMIT_RPS", cfg.APIRateLimitRPS); err != nil {
		return Config{}, err
	}
	if cfg.APIRateLimitBurst, err = intEnv(getenv, "API_RATE_LIMIT_BURST", cfg.APIRateLimitBurst); err != nil {
		return Config{}, err
	}

	cfg.AllowedOrigins = listEnv(getenv, "ALLOWED_ORIGINS")
	cfg.TrustedIPHeaders = listEnv(getenv, "TRUSTED_IP_HEADERS")

	if kind := getenv("CHANGE_FEED"); kind != "" {
		cfg.ChangeFeed = kind
	}
	switch cfg.ChangeFeed {
	case changefeed.KindLocal, changefeed.KindRedis, changefeed.KindPostgres:
	default:
		return Config{}, fmt.Errorf("invalid CHANGE_FEED %q: want local, redis or postgres", cfg.ChangeFeed)
	}
	cfg.RedisURL = getenv("REDIS_URL")
	if cfg.ChangeFeed == changefeed.KindRedis && cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("missing required env var REDIS_URL (CHANGE_FEED=redis)")
	}
	cfg.PresetsFile = getenv("PRESETS_FILE")

	cfg.S3Config = loadS3Config(getenv)
	return cfg, nil
}

// loadS3Config reads the optional export storage settings. Storage is
// used only when S3Config.Enabled reports true.
func loadS3Config(getenv getenvFunc) storage.S3Config {
	return storage.S3Config{
		Endpoint:        getenv("S3_ENDPOINT"),
		AccessKeyID:     getenv("S3_ACCESS_KEY_ID"),
		SecretAccessKey: getenv("S3_SECRET_ACCESS_KEY"),
		BucketName:      getenv("S3_BUCKET"),
		UseSSL:          getenv("S3_USE_SSL") != "false", // Default true
	}
}

// redisLimitPerMinute converts a token rate into the fixed window the
// Redis limiter counts in.
func redisLimitPerMinute(rps float64, burst int) int {
	return max(int(math.Ceil(rps*60)), burst, 1)
}

func intEnv(getenv getenvFunc, key string, def int) (int, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: want a positive integer", key, v)
	}
	return n, nil
}

func floatEnv(getenv getenvFunc, key string, def float64) (float64, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid %s %q: want a positive number", key, v)
	}
	return f, nil
}

func durationEnv(getenv getenvFunc, key string, def time.Duration) (time.Duration, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: want a positive duration such as 30s", key, v)
	}
	return d, nil
}

// listEnv splits a comma-separated variable, dropping blanks.
func listEnv(getenv getenvFunc, key string) []string {
	var out []string
	for _, part := range strings.Split(getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
