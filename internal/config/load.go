package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. QUESTGEN_SERVER_PORT.
const EnvPrefix = "QUESTGEN"

// ErrInvalidConfig is returned when the loaded configuration fails validation.
var ErrInvalidConfig = errors.New("validation failed")

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys without defaults are invisible to Unmarshal unless bound.
	for _, key := range []string{
		"database.url",
		"llm.gemini_api_key",
		"redis.addr",
		"redis.password",
		"index.qdrant_host",
		"index.qdrant_api_key",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and the cross-field backend requirements.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.UsesRedis() && c.Redis.Addr == "" {
		return fmt.Errorf("%w: redis.addr is required when a redis backend is selected", ErrInvalidConfig)
	}
	if c.Index.Backend == "qdrant" && c.Index.QdrantHost == "" {
		return fmt.Errorf("%w: index.qdrant_host is required for the qdrant backend", ErrInvalidConfig)
	}
	if c.Chunker.OverlapTokens >= c.Chunker.TargetTokens {
		return fmt.Errorf("%w: chunker.overlap_tokens must be below chunker.target_tokens", ErrInvalidConfig)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "20s")
	v.SetDefault("server.rate_limit_rps", 20.0)
	v.SetDefault("server.rate_limit_burst", 40)

	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("redis.db", 0)

	v.SetDefault("llm.generation_model", "gemini-2.0-flash")
	v.SetDefault("llm.checker_model", "gemini-2.0-flash-lite")
	v.SetDefault("llm.embedding_model", "text-embedding-004")
	v.SetDefault("llm.embedding_dimensions", 768)
	v.SetDefault("llm.temperature", 0.4)
	v.SetDefault("llm.requests_per_second", 5.0)
	v.SetDefault("llm.burst", 10)
	v.SetDefault("llm.max_retries", 4)
	v.SetDefault("llm.base_delay", "1s")
	v.SetDefault("llm.max_delay", "30s")

	v.SetDefault("queue.backend", "postgres")
	v.SetDefault("queue.visibility_timeout", "15m")
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.retry_base_delay", "5s")
	v.SetDefault("queue.retry_max_delay", "5m")

	v.SetDefault("worker.concurrency", 8)
	v.SetDefault("worker.poll_interval", "1s")
	v.SetDefault("worker.reconcile_interval", "1m")
	v.SetDefault("worker.task_timeout", "180s")
	v.SetDefault("worker.max_task_attempts", 2)
	v.SetDefault("worker.min_success_ratio", 0.5)

	v.SetDefault("orchestrator.batch_size_true_false", 15)
	v.SetDefault("orchestrator.batch_size_mcq", 10)
	v.SetDefault("orchestrator.batch_size_short_answer", 8)
	v.SetDefault("orchestrator.batch_size_essay", 5)

	v.SetDefault("chunker.target_tokens", 900)
	v.SetDefault("chunker.overlap_tokens", 100)
	v.SetDefault("chunker.force_split_factor", 1.5)

	v.SetDefault("index.backend", "memory")
	v.SetDefault("index.cache", "memory")
	v.SetDefault("index.similarity_floor", 0.7)
	v.SetDefault("index.top_k", 5)
	v.SetDefault("index.concurrency", 4)
	v.SetDefault("index.qdrant_port", 6334)
	v.SetDefault("index.qdrant_use_tls", false)
	v.SetDefault("index.qdrant_collection", "questgen_chunks")

	v.SetDefault("validation.threshold", 70)
	v.SetDefault("validation.max_stem_length", 500)

	v.SetDefault("dedup.lexical_threshold", 0.85)
	v.SetDefault("dedup.semantic_threshold", 0.92)
	v.SetDefault("dedup.cross_type", false)

	v.SetDefault("progress.fanout", "memory")
	v.SetDefault("progress.heartbeat_interval", "15s")
	v.SetDefault("progress.subscriber_buffer", 64)
}
