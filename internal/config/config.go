package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every setting of the service. Values resolve in order:
// defaults, the YAML file named by CARTOGRAPHER_CONFIG, then environment.
type Config struct {
	Port        int    `yaml:"port"`
	DatabaseURL string `yaml:"database_url"`
	NatsURL     string `yaml:"nats_url"`
	NatsToken   string `yaml:"nats_token"`
	LogLevel    string `yaml:"log_level"`
	APIToken    string `yaml:"api_token"`

	LLMProvider     string `yaml:"llm_provider"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	Model           string `yaml:"model"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	AnthropicModel  string `yaml:"anthropic_model"`

	EmbeddingModel      string `yaml:"embedding_model"`
	EmbeddingBatchSize  int    `yaml:"embedding_batch_size"`
	EmbeddingCacheSize  int    `yaml:"embedding_cache_size"`
	MaxParallelRequests int    `yaml:"max_parallel_requests"`
	MaxContextChars     int    `yaml:"max_context_chars"`

	ClusterSeed       int64   `yaml:"cluster_seed"`
	MaxClusters       int     `yaml:"max_clusters"`
	CentroidDocs      int     `yaml:"centroid_docs"`
	MaxTagsPerCluster int     `yaml:"max_tags_per_cluster"`
	UMAPNeighbors     int     `yaml:"umap_neighbors"`
	UMAPMinDist       float64 `yaml:"umap_min_dist"`

	SlackBotToken string `yaml:"slack_bot_token"`
	SlackChannel  string `yaml:"slack_channel"`

	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
}

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

func Default() Config {
	return Config{
		Port:                8760,
		LogLevel:            "info",
		LLMProvider:         ProviderOpenAI,
		Model:               "gpt-4o-mini",
		AnthropicModel:      "claude-sonnet-4-20250514",
		EmbeddingModel:      "text-embedding-3-small",
		EmbeddingBatchSize:  256,
		EmbeddingCacheSize:  10000,
		MaxParallelRequests: 32,
		MaxContextChars:     4000,
		ClusterSeed:         42,
		MaxClusters:         24,
		CentroidDocs:        8,
		MaxTagsPerCluster:   15,
		UMAPNeighbors:       15,
		UMAPMinDist:         0.1,
		MaxUploadBytes:      256 << 20,
	}
}

// Load reads an optional .env file, the optional YAML overlay and the
// environment. A missing .env is not an error.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path := os.Getenv("CARTOGRAPHER_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	return Config{
		Port:        envInt("CARTOGRAPHER_PORT", cfg.Port),
		DatabaseURL: envStr("DATABASE_URL", cfg.DatabaseURL),
		NatsURL:     envStr("NATS_URL", cfg.NatsURL),
		NatsToken:   envStr("NATS_TOKEN", cfg.NatsToken),
		LogLevel:    envStr("LOG_LEVEL", cfg.LogLevel),
		APIToken:    envStr("CARTOGRAPHER_API_TOKEN", cfg.APIToken),

		LLMProvider:     envStr("LLM_PROVIDER", cfg.LLMProvider),
		OpenAIAPIKey:    envStr("OPENAI_API_KEY", cfg.OpenAIAPIKey),
		OpenAIBaseURL:   envStr("OPENAI_BASE_URL", cfg.OpenAIBaseURL),
		Model:           envStr("CARTOGRAPHER_MODEL", cfg.Model),
		AnthropicAPIKey: envStr("ANTHROPIC_API_KEY", cfg.AnthropicAPIKey),
		AnthropicModel:  envStr("ANTHROPIC_MODEL", cfg.AnthropicModel),

		EmbeddingModel:      envStr("EMBEDDING_MODEL", cfg.EmbeddingModel),
		EmbeddingBatchSize:  envInt("EMBEDDING_BATCH_SIZE", cfg.EmbeddingBatchSize),
		EmbeddingCacheSize:  envInt("EMBEDDING_CACHE_SIZE", cfg.EmbeddingCacheSize),
		MaxParallelRequests: envInt("MAX_PARALLEL_REQUESTS", cfg.MaxParallelRequests),
		MaxContextChars:     envInt("MAX_CONTEXT_CHARS", cfg.MaxContextChars),

		ClusterSeed:       envInt64("CLUSTER_SEED", cfg.ClusterSeed),
		MaxClusters:       envInt("MAX_CLUSTERS", cfg.MaxClusters),
		CentroidDocs:      envInt("CENTROID_DOCS", cfg.CentroidDocs),
		MaxTagsPerCluster: envInt("MAX_TAGS_PER_CLUSTER", cfg.MaxTagsPerCluster),
		UMAPNeighbors:     envInt("UMAP_NEIGHBORS", cfg.UMAPNeighbors),
		UMAPMinDist:       envFloat("UMAP_MIN_DIST", cfg.UMAPMinDist),

		SlackBotToken: envStr("SLACK_BOT_TOKEN", cfg.SlackBotToken),
		SlackChannel:  envStr("SLACK_CHANNEL", cfg.SlackChannel),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", cfg.MaxUploadBytes),
	}, nil
}

// Validate reports every missing or out-of-range setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	// Embeddings always go through the OpenAI API.
	if c.OpenAIAPIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}
	switch c.LLMProvider {
	case ProviderOpenAI:
	case ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			errs = append(errs, errors.New("ANTHROPIC_API_KEY is required when LLM_PROVIDER=anthropic"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider))
	}
	for name, v := range map[string]int{
		"EMBEDDING_BATCH_SIZE":  c.EmbeddingBatchSize,
		"MAX_PARALLEL_REQUESTS": c.MaxParallelRequests,
		"MAX_CONTEXT_CHARS":     c.MaxContextChars,
		"MAX_CLUSTERS":          c.MaxClusters,
		"CENTROID_DOCS":         c.CentroidDocs,
		"MAX_TAGS_PER_CLUSTER":  c.MaxTagsPerCluster,
		"UMAP_NEIGHBORS":        c.UMAPNeighbors,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes))
	}
	return errors.Join(errs...)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
