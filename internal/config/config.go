package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// LLM providers understood by the recommendation stage.
const (
	ProviderAIMLAPI   = "aimlapi"
	ProviderAnthropic = "anthropic"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	DataDir         string
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	CORSOrigins     []string

	// Google Elevation API.
	ElevationAPIKey    string
	ElevationURL       string
	ElevationSamples   int
	ElevationTimeout   time.Duration
	ElevationRateLimit float64
	ElevationWorkers   int
	ElevationCacheSize int

	PopulationRaster string

	// Recommendation model.
	LLMProvider  string
	LLMURL       string
	LLMAPIKey    string
	LLMModel     string
	LLMMaxTokens int
	LLMTimeout   time.Duration

	RecommendationRowLimit int
	RecommendationTopN     int

	RetryMaxAttempts int
	RunStorePath     string

	// Optional stage event publishing; empty brokers disables it.
	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	elevationTimeout, err := parseDuration("ELEVATION_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	llmTimeout, err := parseDuration("LLM_TIMEOUT", "120s")
	if err != nil {
		return nil, err
	}

	samples, err := parsePositiveInt("ELEVATION_SAMPLES", 3)
	if err != nil {
		return nil, err
	}
	if samples < 2 {
		return nil, errors.New("invalid ELEVATION_SAMPLES: need at least 2 sample points")
	}
	workers, err := parsePositiveInt("ELEVATION_WORKERS", 1)
	if err != nil {
		return nil, err
	}
	cacheSize, err := parsePositiveInt("ELEVATION_CACHE_SIZE", 1000)
	if err != nil {
		return nil, err
	}
	maxTokens, err := parsePositiveInt("LLM_MAX_TOKENS", 8192)
	if err != nil {
		return nil, err
	}
	rowLimit, err := parsePositiveInt("RECOMMENDATION_ROW_LIMIT", 1000)
	if err != nil {
		return nil, err
	}
	topN, err := parsePositiveInt("RECOMMENDATION_TOP_N", 5)
	if err != nil {
		return nil, err
	}
	attempts, err := parsePositiveInt("RETRY_MAX_ATTEMPTS", 3)
	if err != nil {
		return nil, err
	}

	rateLimit, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("ELEVATION_RATE_LIMIT", "10"), 64)
	if err != nil || rateLimit <= 0 {
		return nil, errors.New("invalid ELEVATION_RATE_LIMIT")
	}

	provider := strings.ToLower(sharedcfg.EnvOrDefault("LLM_PROVIDER", ProviderAIMLAPI))
	var llmKey, defaultModel, defaultURL string
	switch provider {
	case ProviderAIMLAPI:
		llmKey = os.Getenv("AIMLAPI_KEY")
		defaultModel = "gpt-4o"
		defaultURL = "https://api.aimlapi.com/chat/completions"
	case ProviderAnthropic:
		// Empty URL keeps the SDK's default endpoint.
		llmKey = os.Getenv("ANTHROPIC_API_KEY")
		defaultModel = "claude-sonnet-4-5"
	default:
		return nil, fmt.Errorf("invalid LLM_PROVIDER %q: want %s or %s", provider, ProviderAIMLAPI, ProviderAnthropic)
	}

	dataDir := sharedcfg.EnvOrDefault("DATA_DIR", "public")

	var brokers []string
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		brokers = sharedcfg.ParseBrokers(v)
	}

	cfg := &Config{
		DataDir:         dataDir,
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
		CORSOrigins:     splitList(sharedcfg.EnvOrDefault("CORS_ALLOWED_ORIGINS", "*")),

		ElevationAPIKey:    os.Getenv("GOOGLE_ELEVATION_API_KEY"),
		ElevationURL:       sharedcfg.EnvOrDefault("ELEVATION_URL", "https://maps.googleapis.com/maps/api/elevation/json"),
		ElevationSamples:   samples,
		ElevationTimeout:   elevationTimeout,
		ElevationRateLimit: rateLimit,
		ElevationWorkers:   workers,
		ElevationCacheSize: cacheSize,

		PopulationRaster: inDataDir(dataDir, sharedcfg.EnvOrDefault("POPULATION_RASTER", "pop_density.tif")),

		LLMProvider:  provider,
		LLMURL:       sharedcfg.EnvOrDefault("LLM_URL", defaultURL),
		LLMAPIKey:    llmKey,
		LLMModel:     sharedcfg.EnvOrDefault("LLM_MODEL", defaultModel),
		LLMMaxTokens: maxTokens,
		LLMTimeout:   llmTimeout,

		RecommendationRowLimit: rowLimit,
		RecommendationTopN:     topN,

		RetryMaxAttempts: attempts,
		RunStorePath:     inDataDir(dataDir, sharedcfg.EnvOrDefault("RUN_STORE_PATH", "connectivity.db")),

		KafkaBrokers: brokers,
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "school-connectivity-events"),
	}

	if cfg.DataDir == "" {
		return nil, errors.New("DATA_DIR is required")
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}

	return cfg, nil
}

// KafkaEnabled reports whether stage events should be published.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
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

// inDataDir places relative paths under the data directory; absolute paths
// are kept as given.
func inDataDir(dataDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dataDir, p)
}
