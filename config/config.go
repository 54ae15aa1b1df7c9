package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/phuslu/log"
)

// Config holds application configuration
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Log         LogConfig         `toml:"log"`
	Database    DatabaseConfig    `toml:"database"`
	Redis       RedisConfig       `toml:"redis"`
	Auth        AuthConfig        `toml:"auth"`
	LLM         LLMConfig         `toml:"llm"`
	Embedding   EmbeddingConfig   `toml:"embedding"`
	Sentiment   SentimentConfig   `toml:"sentiment"`
	VectorStore VectorStoreConfig `toml:"vector_store"`
	Market      MarketConfig      `toml:"market"`
	Ingest      IngestConfig      `toml:"ingest"`
}

// ServerConfig holds HTTP API settings
type ServerConfig struct {
	Port           int      `toml:"port"`
	RateLimitRPS   float64  `toml:"rate_limit_rps"`
	RateLimitBurst int      `toml:"rate_limit_burst"`
	AllowedOrigins []string `toml:"allowed_origins"`
	MaxUploadBytes int64    `toml:"max_upload_bytes"`
}

// LogConfig controls the process logger
type LogConfig struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Enabled  bool   `toml:"enabled"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Name     string `toml:"name"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host         string        `toml:"host"`
	Port         string        `toml:"port"`
	Password     string        `toml:"password"`
	RecommendTTL time.Duration `toml:"recommend_ttl"`
}

// AuthConfig holds session token settings
type AuthConfig struct {
	JWTSecret   string        `toml:"jwt_secret"`
	TokenExpiry time.Duration `toml:"token_expiry"`
}

// LLMConfig holds recommendation generator configuration
type LLMConfig struct {
	Enabled  bool          `toml:"enabled"`
	Provider string        `toml:"provider"` // openai, gemini, claude
	Endpoint string        `toml:"endpoint"`
	APIKey   string        `toml:"api_key"`
	Model    string        `toml:"model"`
	Timeout  time.Duration `toml:"timeout"`
}

// EmbeddingConfig holds embedding provider configuration
type EmbeddingConfig struct {
	APIKey    string `toml:"api_key"`
	Model     string `toml:"model"`
	Dimension int    `toml:"dimension"`
}

// SentimentConfig holds sentiment scorer and aggregation settings
type SentimentConfig struct {
	Endpoint string        `toml:"endpoint"`
	APIKey   string        `toml:"api_key"`
	Timeout  time.Duration `toml:"timeout"`
	TopK     int           `toml:"top_k"`
	Workers  int           `toml:"workers"`
}

// VectorStoreConfig holds ANN index settings
type VectorStoreConfig struct {
	Path           string        `toml:"path"`
	Dimension      int           `toml:"dimension"`
	M              int           `toml:"m"`
	EfConstruction int           `toml:"ef_construction"`
	EfSearch       int           `toml:"ef_search"`
	SnapshotEvery  time.Duration `toml:"snapshot_every"`
}

// MarketConfig holds market data provider settings
type MarketConfig struct {
	Endpoint     string        `toml:"endpoint"`
	APIKey       string        `toml:"api_key"`
	Exchange     string        `toml:"exchange"`
	RateLimit    int           `toml:"rate_limit"`
	HistoryDays  int           `toml:"history_days"`
	CacheTTL     time.Duration `toml:"cache_ttl"`
	Workers      int           `toml:"workers"`
	FetchTimeout time.Duration `toml:"fetch_timeout"`
}

// IngestConfig holds news ingestion settings
type IngestConfig struct {
	ArchivePath string   `toml:"archive_path"`
	NewsPerTick int      `toml:"news_per_ticker"`
	Workers     int      `toml:"workers"`
	Schedule    string   `toml:"schedule"` // cron expression, empty disables
	Tickers     []string `toml:"tickers"`
}

// LoadFromEnv loads configuration from an optional TOML file and environment variables.
// Environment variables take precedence over the file.
func LoadFromEnv() *Config {
	// Load .env file if exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using environment variables")
	}

	cfg := Defaults()
	if path := os.Getenv("TRADE_INSIGHT_CONFIG"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Ignoring config file")
		}
	}
	cfg.applyEnv()
	return cfg
}

// Defaults returns the built-in configuration
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8000,
			RateLimitRPS:   10,
			RateLimitBurst: 30,
			AllowedOrigins: []string{"http://localhost:3000"},
			MaxUploadBytes: 10 << 20,
		},
		Log: LogConfig{Level: "info"},
		Database: DatabaseConfig{
			Enabled:  true,
			Host:     "localhost",
			Port:     5432,
			Name:     "tradeadvisor",
			User:     "user",
			Password: "password",
		},
		Redis: RedisConfig{
			Host:         "localhost",
			Port:         "6379",
			RecommendTTL: 30 * time.Minute,
		},
		Auth: AuthConfig{TokenExpiry: 24 * time.Hour},
		LLM: LLMConfig{
			Enabled:  true,
			Provider: "openai",
			Endpoint: "http://localhost:11434/v1",
			Model:    "llama3.2",
			Timeout:  120 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Model:     "gemini-embedding-001",
			Dimension: 384,
		},
		Sentiment: SentimentConfig{
			Endpoint: "http://localhost:8501/score",
			Timeout:  20 * time.Second,
			TopK:     3,
			Workers:  5,
		},
		VectorStore: VectorStoreConfig{
			Path:           "data/faiss_index",
			Dimension:      384,
			M:              32,
			EfConstruction: 40,
			EfSearch:       16,
			SnapshotEvery:  10 * time.Minute,
		},
		Market: MarketConfig{
			Endpoint:     "https://eodhd.com/api",
			Exchange:     "US",
			RateLimit:    10,
			HistoryDays:  180,
			CacheTTL:     15 * time.Minute,
			Workers:      5,
			FetchTimeout: 30 * time.Second,
		},
		Ingest: IngestConfig{
			ArchivePath: "data/news_articles",
			NewsPerTick: 5,
			Workers:     5,
		},
	}
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("decode config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnvInt("PORT", c.Server.Port)
	c.Server.RateLimitRPS = getEnvFloat("RATE_LIMIT_RPS", c.Server.RateLimitRPS)
	c.Server.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", c.Server.RateLimitBurst)
	c.Server.AllowedOrigins = getEnvList("ALLOWED_ORIGINS", c.Server.AllowedOrigins)

	c.Log.Level = getEnvOrDefault("LOG_LEVEL", c.Log.Level)
	c.Log.JSON = getEnvBool("LOG_JSON", c.Log.JSON)

	// Database configuration
	c.Database.Enabled = getEnvBool("DB_ENABLED", c.Database.Enabled)
	c.Database.Host = getEnvOrDefault("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvInt("DB_PORT", c.Database.Port)
	c.Database.Name = getEnvOrDefault("DB_NAME", c.Database.Name)
	c.Database.User = getEnvOrDefault("DB_USER", c.Database.User)
	c.Database.Password = getEnvOrDefault("DB_PASSWORD", c.Database.Password)

	// Redis configuration
	c.Redis.Host = getEnvOrDefault("REDIS_HOST", c.Redis.Host)
	c.Redis.Port = getEnvOrDefault("REDIS_PORT", c.Redis.Port)
	c.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.RecommendTTL = getEnvDuration("REDIS_RECOMMEND_TTL", c.Redis.RecommendTTL)

	c.Auth.JWTSecret = getEnvOrDefault("SECRET_KEY", c.Auth.JWTSecret)
	c.Auth.TokenExpiry = getEnvDuration("TOKEN_EXPIRY", c.Auth.TokenExpiry)

	// LLM configuration
	c.LLM.Enabled = getEnvBool("LLM_ENABLED", c.LLM.Enabled)
	c.LLM.Provider = getEnvOrDefault("LLM_PROVIDER", c.LLM.Provider)
	c.LLM.Endpoint = getEnvOrDefault("LLM_ENDPOINT", c.LLM.Endpoint)
	c.LLM.APIKey = getEnvOrDefault("LLM_API_KEY", c.LLM.APIKey)
	c.LLM.Model = getEnvOrDefault("LLM_MODEL", c.LLM.Model)
	c.LLM.Timeout = getEnvDuration("LLM_TIMEOUT", c.LLM.Timeout)

	c.Embedding.APIKey = getEnvOrDefault("EMBEDDING_API_KEY", c.Embedding.APIKey)
	c.Embedding.Model = getEnvOrDefault("EMBEDDING_MODEL", c.Embedding.Model)
	c.Embedding.Dimension = getEnvInt("EMBEDDING_DIM", c.Embedding.Dimension)

	c.Sentiment.Endpoint = getEnvOrDefault("SENTIMENT_ENDPOINT", c.Sentiment.Endpoint)
	c.Sentiment.APIKey = getEnvOrDefault("SENTIMENT_API_KEY", c.Sentiment.APIKey)
	c.Sentiment.Timeout = getEnvDuration("SENTIMENT_TIMEOUT", c.Sentiment.Timeout)
	c.Sentiment.TopK = getEnvInt("SENTIMENT_TOP_K", c.Sentiment.TopK)
	c.Sentiment.Workers = getEnvInt("SENTIMENT_WORKERS", c.Sentiment.Workers)

	c.VectorStore.Path = getEnvOrDefault("VECTOR_INDEX_PATH", c.VectorStore.Path)
	c.VectorStore.Dimension = getEnvInt("EMBEDDING_DIM", c.VectorStore.Dimension)
	c.VectorStore.M = getEnvInt("VECTOR_HNSW_M", c.VectorStore.M)
	c.VectorStore.EfConstruction = getEnvInt("VECTOR_HNSW_EF_CONSTRUCTION", c.VectorStore.EfConstruction)
	c.VectorStore.EfSearch = getEnvInt("VECTOR_HNSW_EF_SEARCH", c.VectorStore.EfSearch)
	c.VectorStore.SnapshotEvery = getEnvDuration("VECTOR_SNAPSHOT_EVERY", c.VectorStore.SnapshotEvery)

	c.Market.Endpoint = getEnvOrDefault("MARKET_ENDPOINT", c.Market.Endpoint)
	c.Market.APIKey = getEnvOrDefault("EODHD_API_KEY", c.Market.APIKey)
	c.Market.Exchange = getEnvOrDefault("MARKET_EXCHANGE", c.Market.Exchange)
	c.Market.RateLimit = getEnvInt("MARKET_RATE_LIMIT", c.Market.RateLimit)
	c.Market.HistoryDays = getEnvInt("MARKET_HISTORY_DAYS", c.Market.HistoryDays)
	c.Market.CacheTTL = getEnvDuration("MARKET_CACHE_TTL", c.Market.CacheTTL)
	c.Market.Workers = getEnvInt("MARKET_WORKERS", c.Market.Workers)
	c.Market.FetchTimeout = getEnvDuration("MARKET_FETCH_TIMEOUT", c.Market.FetchTimeout)

	c.Ingest.ArchivePath = getEnvOrDefault("NEWS_ARCHIVE_PATH", c.Ingest.ArchivePath)
	c.Ingest.NewsPerTick = getEnvInt("NEWS_PER_TICKER", c.Ingest.NewsPerTick)
	c.Ingest.Workers = getEnvInt("INGEST_WORKERS", c.Ingest.Workers)
	c.Ingest.Schedule = getEnvOrDefault("INGEST_SCHEDULE", c.Ingest.Schedule)
	c.Ingest.Tickers = getEnvList("INGEST_TICKERS", c.Ingest.Tickers)
}

// Validate checks cross-field invariants. requireAuth is set when the HTTP API will be served.
func (c *Config) Validate(requireAuth bool) error {
	switch c.VectorStore.Dimension {
	case 384, 768:
	default:
		return fmt.Errorf("vector store dimension must be 384 or 768, got %d", c.VectorStore.Dimension)
	}
	if c.Embedding.Dimension != c.VectorStore.Dimension {
		return fmt.Errorf("embedding dimension (%d) must match vector store dimension (%d)", c.Embedding.Dimension, c.VectorStore.Dimension)
	}
	if c.Sentiment.TopK < 1 {
		return fmt.Errorf("sentiment top_k must be at least 1, got %d", c.Sentiment.TopK)
	}
	if c.Sentiment.Workers < 1 || c.Market.Workers < 1 || c.Ingest.Workers < 1 {
		return fmt.Errorf("worker counts must be at least 1")
	}
	if requireAuth && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("SECRET_KEY must be at least 32 bytes long")
	}
	return nil
}

// getEnvInt gets environment variable as int or returns default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var intValue int
	if _, err := fmt.Sscanf(value, "%d", &intValue); err != nil {
		return defaultValue
	}
	return intValue
}

// getEnvFloat gets environment variable as float64 or returns default value
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var floatValue float64
	if _, err := fmt.Sscanf(value, "%f", &floatValue); err != nil {
		return defaultValue
	}
	return floatValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

// getEnvList splits a comma separated variable, dropping empty items
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvOrDefault gets environment variable or returns default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
