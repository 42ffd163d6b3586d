package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Database  DatabaseConfig
	Redis     RedisConfig
	Typesense TypesenseConfig
	OTEL      OTELConfig
	Log       LogConfig
	Cache     CacheConfig
	Trending  TrendingConfig
	Search    SearchConfig
	Blend     BlendConfig
	Score     ScoreConfig
	Worker    WorkerConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// circuit breaker around candidate queries
	BreakerTimeout time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// TypesenseConfig holds Typesense configuration
type TypesenseConfig struct {
	URL        string
	APIKey     string
	Collection string
}

// OTELConfig holds OpenTelemetry configuration
type OTELConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Enabled        bool
}

// LogConfig holds logger configuration
type LogConfig struct {
	Env   string
	Level string
}

// CacheConfig holds recommendation cache configuration
type CacheConfig struct {
	Backend           string // redis or memory
	DefaultTTLSeconds int
	AuthTimeWindowMs  int64
	AnonTimeWindowMs  int64
	MaxKeyLen         int
	MemorySize        int
	ScanBatch         int64
	ScanBudget        int
	StrategyTTL       map[string]time.Duration
}

// TrendingConfig holds trending strategy configuration
type TrendingConfig struct {
	DefaultWindowDays int
}

// SearchThresholds are the minimum semantic similarities per field type
type SearchThresholds struct {
	Name        float64 `yaml:"name"`
	Tag         float64 `yaml:"tag"`
	Description float64 `yaml:"description"`
}

// SearchConfig holds search relevance configuration
type SearchConfig struct {
	MinScore       float64
	FieldWeights   map[string]float64
	Thresholds     SearchThresholds
	MaxExpansions  int
	CandidateLimit int
	Synonyms       map[string][]string
}

// LaneWeights maps a blend lane (trending, new, personalized, collaborative, similar) to its weight
type LaneWeights map[string]float64

// BlendConfig holds hybrid blend profiles
type BlendConfig struct {
	Profiles map[string]LaneWeights
}

// ScoreConfig holds ranking tie-break configuration
type ScoreConfig struct {
	TieBreaks []string
}

// WorkerConfig holds background worker configuration
type WorkerConfig struct {
	Lanes         int
	EventStream   string
	ConsumerGroup string
	ConsumerName  string
	DedupSize     int
	WarmInterval  time.Duration
	EventTimeout  time.Duration
}

// Load loads configuration from environment variables.
// A .env file in the working directory is read first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "ranker"
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "discovery"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			BreakerTimeout:  getEnvAsDuration("DB_BREAKER_TIMEOUT", 30*time.Second),
		},
		Redis: RedisConfig{
			Host:         getEnv("REDIS_HOST", "localhost"),
			Port:         getEnvAsInt("REDIS_PORT", 6379),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvAsInt("REDIS_DB", 0),
			PoolSize:     getEnvAsInt("REDIS_POOL_SIZE", 50),
			DialTimeout:  getEnvAsDuration("REDIS_DIAL_TIMEOUT", 2*time.Second),
			ReadTimeout:  getEnvAsDuration("REDIS_READ_TIMEOUT", 500*time.Millisecond),
			WriteTimeout: getEnvAsDuration("REDIS_WRITE_TIMEOUT", 500*time.Millisecond),
		},
		Typesense: TypesenseConfig{
			URL:        getEnv("TYPESENSE_URL", "http://localhost:8108"),
			APIKey:     getEnv("TYPESENSE_API_KEY", "xyz"),
			Collection: getEnv("TYPESENSE_COLLECTION", "products"),
		},
		OTEL: OTELConfig{
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "discovery-ranker"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
			Endpoint:       getEnv("OTEL_ENDPOINT", ""),
			Enabled:        getEnvAsBool("OTEL_ENABLED", false),
		},
		Log: LogConfig{
			Env:   getEnv("APP_ENV", "development"),
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Cache: CacheConfig{
			Backend:           getEnv("CACHE_BACKEND", "redis"),
			DefaultTTLSeconds: getEnvAsInt("CACHE_DEFAULT_TTL_SECONDS", 3600),
			AuthTimeWindowMs:  int64(getEnvAsInt("CACHE_AUTH_TIME_WINDOW_MS", 180000)),
			AnonTimeWindowMs:  int64(getEnvAsInt("CACHE_ANON_TIME_WINDOW_MS", 900000)),
			MaxKeyLen:         getEnvAsInt("CACHE_MAX_KEY_LEN", 250),
			MemorySize:        getEnvAsInt("CACHE_MEMORY_SIZE", 10000),
			ScanBatch:         int64(getEnvAsInt("CACHE_SCAN_BATCH", 500)),
			ScanBudget:        getEnvAsInt("CACHE_SCAN_BUDGET", 20000),
			StrategyTTL:       DefaultStrategyTTL(),
		},
		Trending: TrendingConfig{
			DefaultWindowDays: getEnvAsInt("TRENDING_DEFAULT_WINDOW_DAYS", 7),
		},
		Search: SearchConfig{
			MinScore:       getEnvAsFloat("SEARCH_MIN_SCORE", 0.1),
			FieldWeights:   DefaultFieldWeights(),
			Thresholds:     SearchThresholds{Name: 0.7, Tag: 0.6, Description: 0.8},
			MaxExpansions:  getEnvAsInt("SEARCH_MAX_EXPANSIONS", 24),
			CandidateLimit: getEnvAsInt("SEARCH_CANDIDATE_LIMIT", 200),
			Synonyms:       DefaultSynonyms(),
		},
		Blend: BlendConfig{
			Profiles: DefaultBlendProfiles(),
		},
		Score: ScoreConfig{
			TieBreaks: []string{"upvotes", "createdAt", "id"},
		},
		Worker: WorkerConfig{
			Lanes:         getEnvAsInt("WORKER_LANES", 8),
			EventStream:   getEnv("EVENT_STREAM", "rec:events"),
			ConsumerGroup: getEnv("EVENT_CONSUMER_GROUP", "invalidator"),
			ConsumerName:  getEnv("EVENT_CONSUMER_NAME", hostname),
			DedupSize:     getEnvAsInt("EVENT_DEDUP_SIZE", 10000),
			WarmInterval:  getEnvAsDuration("CACHE_WARM_INTERVAL", 5*time.Minute),
			EventTimeout:  getEnvAsDuration("EVENT_TIMEOUT", 5*time.Second),
		},
	}

	if path := getEnv("SCORING_PROFILE_PATH", ""); path != "" {
		if err := LoadScoringProfile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultStrategyTTL returns the per-strategy cache lifetimes
func DefaultStrategyTTL() map[string]time.Duration {
	return map[string]time.Duration{
		"trending":     time.Hour,
		"hybrid":       30 * time.Minute,
		"similar":      time.Hour,
		"personalized": 15 * time.Minute,
		"new":          30 * time.Minute,
	}
}

// DefaultFieldWeights returns the search field weights
func DefaultFieldWeights() map[string]float64 {
	return map[string]float64{
		"name":         10,
		"tagline":      6,
		"tags":         8,
		"categoryName": 5,
		"description":  3,
	}
}

// DefaultBlendProfiles returns the built-in hybrid blend profiles
func DefaultBlendProfiles() map[string]LaneWeights {
	return map[string]LaneWeights{
		"standard":  {"trending": 0.30, "new": 0.15, "personalized": 0.30, "collaborative": 0.15, "similar": 0.10},
		"discovery": {"trending": 0.15, "new": 0.25, "personalized": 0.15, "collaborative": 0.10, "similar": 0.35},
		"trending":  {"trending": 0.60, "new": 0.20, "personalized": 0.10, "collaborative": 0.05, "similar": 0.05},
	}
}

// DefaultSynonyms returns the domain synonym table used for query expansion
func DefaultSynonyms() map[string][]string {
	return map[string][]string{
		"js":           {"javascript"},
		"javascrpt":    {"javascript"},
		"javascript":   {"js", "node"},
		"ts":           {"typescript"},
		"golang":       {"go"},
		"ai":           {"artificial intelligence", "machine learning", "llm"},
		"ml":           {"machine learning"},
		"llm":          {"ai", "gpt"},
		"gpt":          {"llm", "chatbot"},
		"saas":         {"software", "subscription"},
		"ui":           {"design", "interface"},
		"ux":           {"design", "user experience"},
		"app":          {"application", "mobile"},
		"dev":          {"developer", "development"},
		"devtools":     {"developer tools"},
		"crypto":       {"blockchain", "web3"},
		"no-code":      {"nocode", "low-code"},
		"productivity": {"tasks", "workflow"},
		"analytics":    {"metrics", "dashboard"},
	}
}

// Validate checks the configuration for values the core cannot operate with
func (c *Config) Validate() error {
	if c.Cache.MaxKeyLen < 32 || c.Cache.MaxKeyLen > 250 {
		return fmt.Errorf("cache.maxKeyLen must be within [32, 250], got %d", c.Cache.MaxKeyLen)
	}
	if c.Cache.AuthTimeWindowMs <= 0 || c.Cache.AnonTimeWindowMs <= 0 {
		return fmt.Errorf("cache time windows must be positive")
	}
	if c.Cache.DefaultTTLSeconds <= 0 {
		return fmt.Errorf("cache.defaultTTLSeconds must be positive")
	}
	if c.Trending.DefaultWindowDays <= 0 {
		return fmt.Errorf("trending.defaultWindowDays must be positive")
	}
	if c.Search.MinScore < 0 {
		return fmt.Errorf("search.minScore must be non-negative")
	}
	for name, weights := range c.Blend.Profiles {
		total := 0.0
		for lane, w := range weights {
			if w < 0 {
				return fmt.Errorf("blend profile %s: lane %s has negative weight", name, lane)
			}
			total += w
		}
		if total <= 0 {
			return fmt.Errorf("blend profile %s: weights sum to zero", name)
		}
	}
	for _, tb := range c.Score.TieBreaks {
		switch tb {
		case "upvotes", "createdAt", "id":
		default:
			return fmt.Errorf("unknown tie-break %q", tb)
		}
	}
	if c.Worker.Lanes <= 0 {
		c.Worker.Lanes = 1
	}
	return nil
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
