package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the service. Every field can be
// set from a YAML file (with ${VAR} expansion) or directly from the
// environment; FromEnv builds the same tree without a file.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Mongo     MongoConfig     `yaml:"mongo"`
	Cache     CacheConfig     `yaml:"cache"`
	LLM       LLMConfig       `yaml:"llm"`
	WebSearch WebSearchConfig `yaml:"web_search"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StorageConfig struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	// Static credentials override the default AWS credential chain,
	// mainly for S3-compatible endpoints in development.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type EmbeddingConfig struct {
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	Host      string `yaml:"host"`
	Dimension int    `yaml:"dimension"`
	BatchSize int    `yaml:"batch_size"`
	Timeout   int    `yaml:"timeout"`
}

type MongoConfig struct {
	URI                     string `yaml:"uri"`
	Database                string `yaml:"database"`
	ChunksCollection        string `yaml:"chunks_collection"`
	ConversationsCollection string `yaml:"conversations_collection"`
	VectorIndexName         string `yaml:"vector_index_name"`
	NumCandidates           int    `yaml:"num_candidates"`
}

type CacheConfig struct {
	URL  string `yaml:"url"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	DB   int    `yaml:"db"`
	// TTLHours bounds how long cached conversation state survives
	// without a write.
	TTLHours int `yaml:"ttl_hours"`
}

type LLMConfig struct {
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Host        string  `yaml:"host"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	Timeout     int     `yaml:"timeout"`
}

type WebSearchConfig struct {
	APIKey     string `yaml:"api_key"`
	Host       string `yaml:"host"`
	MaxResults int    `yaml:"max_results"`
}

func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "compact"
	}
	if c.Storage.Region == "" {
		c.Storage.Region = "us-east-1"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "voyage-3.5-lite"
	}
	if c.Embedding.Host == "" {
		c.Embedding.Host = "https://api.voyageai.com/v1"
	}
	if c.Embedding.Dimension == 0 {
		c.Embedding.Dimension = 512
	}
	if c.Embedding.BatchSize == 0 {
		c.Embedding.BatchSize = 1000
	}
	if c.Embedding.Timeout == 0 {
		c.Embedding.Timeout = 60
	}
	if c.Mongo.ChunksCollection == "" {
		c.Mongo.ChunksCollection = "chunks"
	}
	if c.Mongo.ConversationsCollection == "" {
		c.Mongo.ConversationsCollection = "conversations"
	}
	if c.Mongo.VectorIndexName == "" {
		c.Mongo.VectorIndexName = "vector_index"
	}
	if c.Mongo.NumCandidates == 0 {
		c.Mongo.NumCandidates = 10000
	}
	if c.Cache.Host == "" {
		c.Cache.Host = "localhost"
	}
	if c.Cache.Port == 0 {
		c.Cache.Port = 6379
	}
	if c.Cache.TTLHours == 0 {
		c.Cache.TTLHours = 24
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.LLM.Host == "" {
		c.LLM.Host = "https://api.openai.com/v1"
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 2000
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.3
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 120
	}
	if c.WebSearch.Host == "" {
		c.WebSearch.Host = "https://api.tavily.com"
	}
	if c.WebSearch.MaxResults == 0 {
		c.WebSearch.MaxResults = 5
	}
}

func (c *Config) Validate() error {
	var missing []string

	if c.Storage.Bucket == "" {
		missing = append(missing, "storage.bucket (S3_BUCKET_NAME)")
	}
	if c.Embedding.APIKey == "" {
		missing = append(missing, "embedding.api_key (VOYAGE_API_KEY)")
	}
	if c.Mongo.URI == "" {
		missing = append(missing, "mongo.uri (MONGO_URI)")
	}
	if c.Mongo.Database == "" {
		missing = append(missing, "mongo.database (MONGO_DB_NAME)")
	}
	if c.LLM.APIKey == "" {
		missing = append(missing, "llm.api_key (OPENAI_API_KEY)")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %v", missing)
	}

	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if c.Mongo.NumCandidates <= 0 {
		return fmt.Errorf("mongo.num_candidates must be positive, got %d", c.Mongo.NumCandidates)
	}

	return nil
}

// FromEnv builds a Config entirely from environment variables.
func FromEnv() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host: envOr("SERVER_HOST", ""),
			Port: envIntOr("SERVER_PORT", 0),
		},
		Log: LogConfig{
			Level:  envOr("LOG_LEVEL", ""),
			Format: envOr("LOG_FORMAT", ""),
		},
		Storage: StorageConfig{
			Bucket:          os.Getenv("S3_BUCKET_NAME"),
			Region:          envOr("AWS_REGION", ""),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		},
		Embedding: EmbeddingConfig{
			APIKey:    envOr("VOYAGE_API_KEY", os.Getenv("EMBEDDING_API_KEY")),
			Model:     os.Getenv("EMBEDDING_MODEL"),
			Dimension: envIntOr("EMBEDDING_DIM", 0),
			BatchSize: envIntOr("EMBEDDING_BATCH_SIZE", 0),
		},
		Mongo: MongoConfig{
			URI:                     os.Getenv("MONGO_URI"),
			Database:                os.Getenv("MONGO_DB_NAME"),
			ChunksCollection:        os.Getenv("MONGO_CHUNKS_COLLECTION"),
			ConversationsCollection: os.Getenv("MONGO_CONVERSATIONS_COLLECTION"),
			VectorIndexName:         os.Getenv("VECTOR_INDEX_NAME"),
			NumCandidates:           envIntOr("NUM_CANDIDATES", 0),
		},
		Cache: CacheConfig{
			URL:  os.Getenv("REDIS_URL"),
			Host: os.Getenv("REDIS_HOST"),
			Port: envIntOr("REDIS_PORT", 0),
			DB:   envIntOr("REDIS_DB", 0),
		},
		LLM: LLMConfig{
			APIKey: os.Getenv("OPENAI_API_KEY"),
			Model:  os.Getenv("OPENAI_MODEL"),
			Host:   os.Getenv("OPENAI_BASE_URL"),
		},
		WebSearch: WebSearchConfig{
			APIKey: os.Getenv("TAVILY_API_KEY"),
		},
	}

	return cfg
}

// Load reads configuration from an optional YAML file, expands ${VAR}
// references against the environment, and falls back to plain
// environment variables when no file is given. The returned config has
// defaults applied and has passed validation.
func Load(path string) (*Config, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, err
	}

	var cfg *Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		var raw map[string]interface{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}

		expanded := ExpandEnvVarsInData(raw)
		normalized, err := yaml.Marshal(expanded)
		if err != nil {
			return nil, fmt.Errorf("failed to normalize config: %w", err)
		}

		cfg = &Config{}
		if err := yaml.Unmarshal(normalized, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	} else {
		cfg = FromEnv()
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
