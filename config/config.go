package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Server      ServerConfig      `json:"server"`
	Database    DatabaseConfig    `json:"database"`
	ObjectStore ObjectStoreConfig `json:"object_store"`
	Redis       RedisConfig       `json:"redis"`
	Embedding   EmbeddingConfig   `json:"embedding"`
	LLM         LLMConfig         `json:"llm"`
	Auth        AuthConfig        `json:"auth"`
	Search      SearchConfig      `json:"search"`
	Ingest      IngestConfig      `json:"ingest"`
	Logging     LoggingConfig     `json:"logging"`
}

type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"read_timeout"`
	WriteTimeout int    `json:"write_timeout"`
	IdleTimeout  int    `json:"idle_timeout"`
}

type DatabaseConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Password     string `json:"password"`
	Name         string `json:"name"`
	SSLMode      string `json:"ssl_mode"`
	MaxOpenConns int    `json:"max_open_conns"`
	MaxIdleConns int    `json:"max_idle_conns"`
	MaxLifetime  int    `json:"max_lifetime"`
}

// ObjectStoreConfig holds configuration for the S3-compatible artifact store
type ObjectStoreConfig struct {
	Endpoint  string `json:"endpoint"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	UseSSL    bool   `json:"use_ssl"`
	Region    string `json:"region"`
}

// RedisConfig holds configuration for query response caching
type RedisConfig struct {
	Host             string `json:"host"`
	Port             int    `json:"port"`
	Password         string `json:"password"`
	DB               int    `json:"db"`
	QueryCacheTTL    int    `json:"query_cache_ttl"` // seconds
	EnableQueryCache bool   `json:"enable_query_cache"`
}

// EmbeddingConfig holds configuration for the dense embedding provider
type EmbeddingConfig struct {
	BaseURL     string `json:"base_url"`
	APIKey      string `json:"api_key"`
	Model       string `json:"model"`
	Dimension   int    `json:"dimension"`
	Concurrency int    `json:"concurrency"`
	Timeout     int    `json:"timeout"`
}

// LLMConfig holds configuration for summary/keyword extraction and reranking
type LLMConfig struct {
	BaseURL     string `json:"base_url"`
	APIKey      string `json:"api_key"`
	Model       string `json:"model"`
	RerankModel string `json:"rerank_model"`
	Timeout     int    `json:"timeout"`
}

type AuthConfig struct {
	JWTSecret       string   `json:"jwt_secret"`
	JWTExpiration   int      `json:"jwt_expiration"`
	AllowedOrigins  []string `json:"allowed_origins"`
	AllowedUsers    []string `json:"allowed_users"`
	TrustedServices []string `json:"trusted_services"`
}

// SearchConfig holds retrieval defaults and limits
type SearchConfig struct {
	DefaultTopK      int `json:"default_top_k"`
	MaxTopK          int `json:"max_top_k"`
	MinCandidatePool int `json:"min_candidate_pool"`
}

// IngestConfig holds chunking and enrichment parameters
type IngestConfig struct {
	ChunkSize    int  `json:"chunk_size"`
	ChunkOverlap int  `json:"chunk_overlap"`
	EnableLLM    bool `json:"enable_llm"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

func LoadConfig() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 30),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 120),
			IdleTimeout:  getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "raguser"),
			Password:     getEnv("DB_PASSWORD", ""),
			Name:         getEnv("DB_NAME", "raglab"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			MaxLifetime:  getEnvAsInt("DB_MAX_LIFETIME", 300),
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:  getEnv("OBJECT_STORE_ENDPOINT", "localhost:9000"),
			AccessKey: getEnv("OBJECT_STORE_ACCESS_KEY", ""),
			SecretKey: getEnv("OBJECT_STORE_SECRET_KEY", ""),
			Bucket:    getEnv("OBJECT_STORE_BUCKET", "rag-documents"),
			UseSSL:    getEnvAsBool("OBJECT_STORE_USE_SSL", false),
			Region:    getEnv("OBJECT_STORE_REGION", "us-east-1"),
		},
		Redis: RedisConfig{
			Host:             getEnv("REDIS_HOST", "localhost"),
			Port:             getEnvAsInt("REDIS_PORT", 6379),
			Password:         getEnv("REDIS_PASSWORD", ""),
			DB:               getEnvAsInt("REDIS_DB", 0),
			QueryCacheTTL:    getEnvAsInt("REDIS_QUERY_CACHE_TTL", 300),
			EnableQueryCache: getEnvAsBool("REDIS_ENABLE_QUERY_CACHE", true),
		},
		Embedding: EmbeddingConfig{
			BaseURL:     getEnv("EMBEDDING_BASE_URL", ""),
			APIKey:      getEnv("EMBEDDING_API_KEY", ""),
			Model:       getEnv("EMBEDDING_MODEL", "text-embedding-004"),
			Dimension:   getEnvAsInt("EMBEDDING_DIMENSION", 768),
			Concurrency: getEnvAsInt("EMBEDDING_CONCURRENCY", 10),
			Timeout:     getEnvAsInt("EMBEDDING_TIMEOUT", 60),
		},
		LLM: LLMConfig{
			BaseURL:     getEnv("LLM_BASE_URL", ""),
			APIKey:      getEnv("LLM_API_KEY", ""),
			Model:       getEnv("LLM_MODEL", "gemini-2.0-flash"),
			RerankModel: getEnv("LLM_RERANK_MODEL", "gemini-2.0-flash"),
			Timeout:     getEnvAsInt("LLM_TIMEOUT", 60),
		},
		Auth: AuthConfig{
			JWTSecret:       getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
			JWTExpiration:   getEnvAsInt("JWT_EXPIRATION", 3600),
			AllowedOrigins:  getEnvAsSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			AllowedUsers:    getEnvAsSlice("ALLOWED_USERS", nil),
			TrustedServices: getEnvAsSlice("TRUSTED_SERVICES", nil),
		},
		Search: SearchConfig{
			DefaultTopK:      getEnvAsInt("SEARCH_DEFAULT_TOP_K", 10),
			MaxTopK:          getEnvAsInt("SEARCH_MAX_TOP_K", 100),
			MinCandidatePool: getEnvAsInt("SEARCH_MIN_CANDIDATE_POOL", 100),
		},
		Ingest: IngestConfig{
			ChunkSize:    getEnvAsInt("INGEST_CHUNK_SIZE", 2000),
			ChunkOverlap: getEnvAsInt("INGEST_CHUNK_OVERLAP", 200),
			EnableLLM:    getEnvAsBool("INGEST_ENABLE_LLM", true),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", "stdout"),
		},
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func validateConfig(config *Config) error {
	if config.Database.Password == "" {
		return fmt.Errorf("database password is required (DB_PASSWORD)")
	}

	if config.ObjectStore.AccessKey == "" || config.ObjectStore.SecretKey == "" {
		return fmt.Errorf("object store credentials are required (OBJECT_STORE_ACCESS_KEY, OBJECT_STORE_SECRET_KEY)")
	}

	if config.Embedding.APIKey == "" {
		return fmt.Errorf("embedding API key is required (EMBEDDING_API_KEY)")
	}

	if config.Auth.JWTSecret == "your-secret-key-change-in-production" {
		return fmt.Errorf("JWT secret must be changed from default value (JWT_SECRET)")
	}

	if config.Embedding.Dimension != 768 {
		return fmt.Errorf("embedding dimension must be 768, got %d (EMBEDDING_DIMENSION)", config.Embedding.Dimension)
	}

	if config.Search.DefaultTopK <= 0 || config.Search.MaxTopK < config.Search.DefaultTopK {
		return fmt.Errorf("invalid search limits (SEARCH_DEFAULT_TOP_K, SEARCH_MAX_TOP_K)")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
