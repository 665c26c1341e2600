package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	SQLite     SQLiteConfig
	Redis      RedisConfig
	Milvus     MilvusConfig
	Storage    StorageConfig
	LLM        LLMConfig
	Breaker    BreakerConfig
	Dispatch   DispatchConfig
	Retrieval  RetrievalConfig
	Alerts     AlertsConfig
	Evaluation EvaluationConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type MilvusConfig struct {
	Endpoint       string
	APIKey         string
	CollectionName string
	VectorDim      int
}

type StorageConfig struct {
	Root string
}

type LLMConfig struct {
	Provider             string
	Model                string
	PromptVersion        string
	APIKey               string
	Temperature          float32
	MaxTokens            int
	TimeoutSec           int
	EmbeddingModel       string
	EmbeddingDim         int
	TokenBudgetLibrarian int
	TokenBudgetWriter    int
	TokenBudgetVerifier  int
}

type BreakerConfig struct {
	Enabled          bool
	FailureThreshold int
	WindowSeconds    int
	CooldownSeconds  int
}

type DispatchConfig struct {
	Enabled     bool
	QueueKey    string
	Concurrency int
}

type RetrievalConfig struct {
	Backend string
	Limit   int
}

type AlertsConfig struct {
	SentenceSupportRateMin   float64
	ParagraphVerifiedRateMin float64
	JobFailureRateMax        float64
}

type EvaluationConfig struct {
	MinSupportRate      float64
	MaxFalseSupportRate float64
	DatasetPath         string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/opus-blocks")

	viper.SetEnvPrefix("OPUS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 26214400)

	viper.SetDefault("sqlite.path", "./data/opusblocks.db")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionName", "fact_embeddings")
	viper.SetDefault("milvus.vectorDim", 1536)

	viper.SetDefault("storage.root", "./data/uploads")

	viper.SetDefault("llm.provider", "stub")
	viper.SetDefault("llm.model", "gpt-4")
	viper.SetDefault("llm.promptVersion", "v1")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.maxTokens", 2048)
	viper.SetDefault("llm.timeoutSec", 60)
	viper.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	viper.SetDefault("llm.embeddingDim", 1536)
	viper.SetDefault("llm.tokenBudgetLibrarian", 24000)
	viper.SetDefault("llm.tokenBudgetWriter", 8000)
	viper.SetDefault("llm.tokenBudgetVerifier", 8000)

	viper.SetDefault("breaker.enabled", true)
	viper.SetDefault("breaker.failureThreshold", 5)
	viper.SetDefault("breaker.windowSeconds", 60)
	viper.SetDefault("breaker.cooldownSeconds", 120)

	viper.SetDefault("dispatch.enabled", true)
	viper.SetDefault("dispatch.queueKey", "pipeline:tasks")
	viper.SetDefault("dispatch.concurrency", 4)

	viper.SetDefault("retrieval.backend", "local")
	viper.SetDefault("retrieval.limit", 5)

	viper.SetDefault("alerts.sentenceSupportRateMin", 0.7)
	viper.SetDefault("alerts.paragraphVerifiedRateMin", 0.5)
	viper.SetDefault("alerts.jobFailureRateMax", 0.2)

	viper.SetDefault("evaluation.minSupportRate", 0.85)
	viper.SetDefault("evaluation.maxFalseSupportRate", 0.05)
	viper.SetDefault("evaluation.datasetPath", "./datasets/golden/golden-dataset-v0.json")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
