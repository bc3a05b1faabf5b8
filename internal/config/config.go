package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server       ServerConfig       `mapstructure:"server" validate:"required"`
	Database     DatabaseConfig     `mapstructure:"database" validate:"required"`
	Redis        RedisConfig        `mapstructure:"redis"`
	LLM          LLMConfig          `mapstructure:"llm" validate:"required"`
	Queue        QueueConfig        `mapstructure:"queue" validate:"required"`
	Worker       WorkerConfig       `mapstructure:"worker" validate:"required"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" validate:"required"`
	Chunker      ChunkerConfig      `mapstructure:"chunker" validate:"required"`
	Index        IndexConfig        `mapstructure:"index" validate:"required"`
	Validation   ValidationConfig   `mapstructure:"validation" validate:"required"`
	Dedup        DedupConfig        `mapstructure:"dedup" validate:"required"`
	Progress     ProgressConfig     `mapstructure:"progress" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	LogFormat       string        `mapstructure:"log_format" validate:"required,oneof=json text"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	// RateLimitRPS is the per client IP request rate; zero disables limiting.
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps" validate:"gte=0"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst" validate:"gte=0"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url" validate:"required,url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gt=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
}

// RedisConfig is only required when a redis backend is selected.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

// LLMConfig contains all LLM integration related settings.
type LLMConfig struct {
	GeminiAPIKey        string        `mapstructure:"gemini_api_key" validate:"required"`
	GenerationModel     string        `mapstructure:"generation_model" validate:"required"`
	CheckerModel        string        `mapstructure:"checker_model" validate:"required"`
	EmbeddingModel      string        `mapstructure:"embedding_model" validate:"required"`
	EmbeddingDimensions int           `mapstructure:"embedding_dimensions" validate:"gt=0"`
	Temperature         float32       `mapstructure:"temperature" validate:"gte=0,lte=2"`
	RequestsPerSecond   float64       `mapstructure:"requests_per_second" validate:"gt=0"`
	Burst               int           `mapstructure:"burst" validate:"gt=0"`
	MaxRetries          int           `mapstructure:"max_retries" validate:"gte=0,le=10"`
	BaseDelay           time.Duration `mapstructure:"base_delay" validate:"gt=0"`
	MaxDelay            time.Duration `mapstructure:"max_delay" validate:"gtfield=BaseDelay"`
}

// QueueConfig selects the job queue backend and its retry policy.
type QueueConfig struct {
	Backend           string        `mapstructure:"backend" validate:"required,oneof=postgres redis memory"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout" validate:"gt=0"`
	MaxRetries        int           `mapstructure:"max_retries" validate:"gte=0"`
	RetryBaseDelay    time.Duration `mapstructure:"retry_base_delay" validate:"gt=0"`
	RetryMaxDelay     time.Duration `mapstructure:"retry_max_delay" validate:"gtefield=RetryBaseDelay"`
}

// WorkerConfig tunes the worker pool.
type WorkerConfig struct {
	Concurrency       int           `mapstructure:"concurrency" validate:"gt=0"`
	PollInterval      time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval" validate:"gt=0"`
	TaskTimeout       time.Duration `mapstructure:"task_timeout" validate:"gt=0"`
	MaxTaskAttempts   int           `mapstructure:"max_task_attempts" validate:"gt=0"`
	MinSuccessRatio   float64       `mapstructure:"min_success_ratio" validate:"gte=0,lte=1"`
}

// OrchestratorConfig holds the batch size per question type.
type OrchestratorConfig struct {
	BatchSizeTrueFalse   int `mapstructure:"batch_size_true_false" validate:"gt=0"`
	BatchSizeMCQ         int `mapstructure:"batch_size_mcq" validate:"gt=0"`
	BatchSizeShortAnswer int `mapstructure:"batch_size_short_answer" validate:"gt=0"`
	BatchSizeEssay       int `mapstructure:"batch_size_essay" validate:"gt=0"`
}

// ChunkerConfig sizes chunks in whitespace-delimited tokens.
type ChunkerConfig struct {
	TargetTokens     int     `mapstructure:"target_tokens" validate:"gt=0"`
	OverlapTokens    int     `mapstructure:"overlap_tokens" validate:"gte=0"`
	ForceSplitFactor float64 `mapstructure:"force_split_factor" validate:"gte=1"`
}

// IndexConfig selects the vector store and embedding cache.
type IndexConfig struct {
	Backend          string  `mapstructure:"backend" validate:"required,oneof=memory qdrant"`
	Cache            string  `mapstructure:"cache" validate:"required,oneof=memory redis"`
	SimilarityFloor  float64 `mapstructure:"similarity_floor" validate:"gte=0,lte=1"`
	TopK             int     `mapstructure:"top_k" validate:"gt=0"`
	Concurrency      int     `mapstructure:"concurrency" validate:"gt=0"`
	QdrantHost       string  `mapstructure:"qdrant_host"`
	QdrantPort       int     `mapstructure:"qdrant_port" validate:"gt=0,lt=65536"`
	QdrantAPIKey     string  `mapstructure:"qdrant_api_key"`
	QdrantUseTLS     bool    `mapstructure:"qdrant_use_tls"`
	QdrantCollection string  `mapstructure:"qdrant_collection" validate:"required"`
}

// ValidationConfig configures the question quality gate.
type ValidationConfig struct {
	Threshold     int `mapstructure:"threshold" validate:"gte=0,lte=100"`
	MaxStemLength int `mapstructure:"max_stem_length" validate:"gt=0"`
}

// DedupConfig configures near-duplicate detection.
type DedupConfig struct {
	LexicalThreshold  float64 `mapstructure:"lexical_threshold" validate:"gt=0,lte=1"`
	SemanticThreshold float64 `mapstructure:"semantic_threshold" validate:"gt=0,lte=1"`
	CrossType         bool    `mapstructure:"cross_type"`
}

// ProgressConfig configures event fan-out and subscriber behaviour.
type ProgressConfig struct {
	Fanout            string        `mapstructure:"fanout" validate:"required,oneof=memory redis"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" validate:"gt=0"`
	SubscriberBuffer  int           `mapstructure:"subscriber_buffer" validate:"gt=0"`
}

// UsesRedis reports whether any component is configured with a redis backend.
func (c *Config) UsesRedis() bool {
	return c.Queue.Backend == "redis" || c.Index.Cache == "redis" || c.Progress.Fanout == "redis"
}
