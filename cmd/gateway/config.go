package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"ai-gateway/inference"
	"ai-gateway/middleware/ratelimit/domain"
)

type config struct {
	listenAddr  string
	metricsAddr string
	chatPath    string
	statsPath   string
	logLevel    slog.Level

	tiers           []domain.Tier
	sweepEvery      int
	cleanupEvery    time.Duration
	rateKeyHeader   string
	trustXFF        bool
	useRemoteAddr   bool
	unknownIdentity string
	addHeaders      bool

	hfToken   string
	hfURL     string
	hfModel   string
	upTimeout time.Duration
	upRPS     float64
	upBurst   int
	upMax     int
	upAcquire time.Duration

	rateStatsEnabled       bool
	rateStatsRedisAddr     string
	rateStatsRedisPassword string
	rateStatsRedisDB       int
	rateStatsPrefix        string
	rateStatsTTL           time.Duration
	rateStatsBucket        string
	rateStatsTrackKeys     bool
}

// readConfig lê o ambiente. Valor inválido derruba o start com erro
// descritivo; todos os erros encontrados vão juntos.
func readConfig() (config, error) {
	var (
		cfg  config
		errs []error
	)
	keep := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	var err error

	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.metricsAddr = os.Getenv("METRICS_ADDR")
	cfg.chatPath = getenvDefault("CHAT_PATH", "/api/chat")
	cfg.statsPath = getenvDefault("STATS_PATH", "/api/stats")
	cfg.logLevel, err = getenvLevel("LOG_LEVEL", slog.LevelInfo)
	keep(err)

	cfg.tiers, err = domain.ParseTiers(os.Getenv("RATE_TIERS"))
	if err != nil {
		keep(fmt.Errorf("RATE_TIERS: %w", err))
	}
	cfg.sweepEvery, err = getenvIntDefault("RATE_SWEEP_EVERY", 100)
	keep(err)
	cfg.cleanupEvery, err = getenvDurationDefault("RATE_CLEANUP_EVERY", 5*time.Minute)
	keep(err)
	cfg.rateKeyHeader = os.Getenv("RATE_KEY_HEADER")
	cfg.trustXFF, err = getenvBoolDefault("TRUST_XFF", true)
	keep(err)
	cfg.useRemoteAddr, err = getenvBoolDefault("IDENTITY_USE_REMOTE_ADDR", false)
	keep(err)
	cfg.unknownIdentity = getenvDefault("UNKNOWN_IDENTITY", string(domain.UnknownIdentity))
	cfg.addHeaders, err = getenvBoolDefault("ADD_RATELIMIT_HEADERS", false)
	keep(err)

	cfg.hfToken = os.Getenv("HF_API_TOKEN")
	cfg.hfURL = getenvDefault("HF_API_URL", inference.DefaultBaseURL)
	cfg.hfModel = getenvDefault("HF_MODEL", inference.DefaultModel)
	cfg.upTimeout, err = getenvDurationDefault("UPSTREAM_TIMEOUT", 30*time.Second)
	keep(err)
	cfg.upRPS, err = getenvFloatDefault("UPSTREAM_RPS", 0)
	keep(err)
	cfg.upBurst, err = getenvIntDefault("UPSTREAM_BURST", 1)
	keep(err)
	cfg.upMax, err = getenvIntDefault("UPSTREAM_CONCURRENCY", 16)
	keep(err)
	cfg.upAcquire, err = getenvDurationDefault("UPSTREAM_ACQUIRE_TIMEOUT", 5*time.Second)
	keep(err)

	cfg.rateStatsEnabled, err = getenvBoolDefault("RATE_STATS_ENABLED", false)
	keep(err)
	cfg.rateStatsRedisAddr = os.Getenv("RATE_STATS_REDIS_ADDR")
	cfg.rateStatsRedisPassword = os.Getenv("RATE_STATS_REDIS_PASSWORD")
	cfg.rateStatsRedisDB, err = getenvIntDefault("RATE_STATS_REDIS_DB", 0)
	keep(err)
	cfg.rateStatsPrefix = getenvDefault("RATE_STATS_PREFIX", "aigateway:stats")
	cfg.rateStatsTTL, err = getenvDurationDefault("RATE_STATS_TTL", 24*time.Hour)
	keep(err)
	cfg.rateStatsBucket = getenvDefault("RATE_STATS_BUCKET", "minute")
	cfg.rateStatsTrackKeys, err = getenvBoolDefault("RATE_STATS_TRACK_KEYS", false)
	keep(err)

	if cfg.rateStatsEnabled && strings.TrimSpace(cfg.rateStatsRedisAddr) == "" {
		keep(errors.New("RATE_STATS_REDIS_ADDR is required when RATE_STATS_ENABLED=true"))
	}
	if !strings.HasPrefix(cfg.chatPath, "/") || !strings.HasPrefix(cfg.statsPath, "/") {
		keep(errors.New("CHAT_PATH and STATS_PATH must start with /"))
	}
	if cfg.chatPath == cfg.statsPath {
		keep(errors.New("CHAT_PATH and STATS_PATH must differ"))
	}
	if cfg.sweepEvery <= 0 {
		keep(errors.New("RATE_SWEEP_EVERY must be > 0"))
	}
	if cfg.upRPS < 0 {
		keep(errors.New("UPSTREAM_RPS must be >= 0"))
	}
	if cfg.upBurst <= 0 {
		keep(errors.New("UPSTREAM_BURST must be > 0"))
	}
	if cfg.upMax < 0 {
		keep(errors.New("UPSTREAM_CONCURRENCY must be >= 0"))
	}
	if strings.TrimSpace(cfg.unknownIdentity) == "" {
		keep(errors.New("UNKNOWN_IDENTITY must not be blank"))
	}

	if len(errs) > 0 {
		return config{}, errors.Join(errs...)
	}
	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s: invalid integer %q", k, v)
	}
	return i, nil
}

func getenvFloatDefault(k string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("%s: invalid number %q", k, v)
	}
	return f, nil
}

func getenvBoolDefault(k string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%s: invalid boolean %q", k, v)
	}
	return b, nil
}

func getenvDurationDefault(k string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def, fmt.Errorf("%s: invalid duration %q", k, v)
	}
	return d, nil
}

func getenvLevel(k string, def slog.Level) (slog.Level, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		return def, fmt.Errorf("%s: invalid level %q", k, v)
	}
	return l, nil
}
