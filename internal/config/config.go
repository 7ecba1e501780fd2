// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Log           LogConfig           `mapstructure:"log"`
	Metadata      MetadataConfig      `mapstructure:"metadata"`
	VectorIndex   VectorIndexConfig   `mapstructure:"vector_index"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Job           JobConfig           `mapstructure:"job"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Pipeline      PipelineConfig      `mapstructure:"pipeline"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port    string `mapstructure:"port"`
	Mode    string `mapstructure:"mode"`
	Token   string `mapstructure:"token"` // /api 路由使用的静态 Bearer token
	Version string `mapstructure:"version"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
	Mongo MongoConfig `mapstructure:"mongo"`
	Bolt  BoltConfig  `mapstructure:"bolt"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MongoConfig 存储 MongoDB 的配置。
type MongoConfig struct {
	DSN        string `mapstructure:"dsn"`
	DBName     string `mapstructure:"db_name"`
	Collection string `mapstructure:"collection"`
}

// BoltConfig 存储本地 bbolt 文件的配置。
type BoltConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// MetadataConfig 选择元数据存储的实现：mysql、mongo 或 bolt。
type MetadataConfig struct {
	Driver string `mapstructure:"driver"`
}

// VectorIndexConfig 选择向量索引的实现：elasticsearch 或 memory。
type VectorIndexConfig struct {
	Driver string `mapstructure:"driver"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// JobConfig 控制异步入库任务的重试策略。
type JobConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffMax  time.Duration `mapstructure:"backoff_max"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string        `mapstructure:"server_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
	Dims      int    `mapstructure:"dims"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Model      string        `mapstructure:"model"`
	Dimensions int           `mapstructure:"dimensions"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Timeout    time.Duration       `mapstructure:"timeout"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
	Prompt     LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置系统提示与上下文包裹格式（可选）。
type LLMPromptConfig struct {
	Rules        string `mapstructure:"rules"`
	RefStart     string `mapstructure:"ref_start"`
	RefEnd       string `mapstructure:"ref_end"`
	NoResultText string `mapstructure:"no_result_text"`
}

// PipelineConfig 存储切块、去重、检索相关的参数。
type PipelineConfig struct {
	ChunkSize         int           `mapstructure:"chunk_size"`
	ChunkOverlap      int           `mapstructure:"chunk_overlap"`
	TokenizerModel    string        `mapstructure:"tokenizer_model"`
	DedupThreshold    float64       `mapstructure:"dedup_threshold"`
	DedupScope        string        `mapstructure:"dedup_scope"` // namespace | global
	IndexTimeout      time.Duration `mapstructure:"index_timeout"`
	SearchTopK        int           `mapstructure:"search_top_k"`
	AskingTopK        int           `mapstructure:"asking_top_k"`
	AuthorDeleteBatch int           `mapstructure:"author_delete_batch"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.version", "0.0.1")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("metadata.driver", "mysql")
	v.SetDefault("vector_index.driver", "elasticsearch")
	v.SetDefault("database.mongo.db_name", "learn")
	v.SetDefault("database.mongo.collection", "vectors")
	v.SetDefault("database.bolt.path", "data/metadata.db")
	v.SetDefault("kafka.topic", "vector-upsert")
	v.SetDefault("kafka.group_id", "learn-go-consumer")
	v.SetDefault("job.max_attempts", 5)
	v.SetDefault("job.backoff_base", 3*time.Second)
	v.SetDefault("job.backoff_max", 2*time.Minute)
	v.SetDefault("tika.timeout", 60*time.Second)
	v.SetDefault("elasticsearch.index_name", "knowledge")
	v.SetDefault("elasticsearch.dims", 1536)
	v.SetDefault("embedding.model", "text-embedding-ada-002")
	v.SetDefault("embedding.timeout", 30*time.Second)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("pipeline.chunk_size", 100)
	v.SetDefault("pipeline.chunk_overlap", 20)
	v.SetDefault("pipeline.tokenizer_model", "text-embedding-ada-002")
	v.SetDefault("pipeline.dedup_threshold", 0.99)
	v.SetDefault("pipeline.dedup_scope", "namespace")
	v.SetDefault("pipeline.index_timeout", 10*time.Second)
	v.SetDefault("pipeline.search_top_k", 3)
	v.SetDefault("pipeline.asking_top_k", 2)
	v.SetDefault("pipeline.author_delete_batch", 250)
}

// Load 读取指定路径的 YAML 文件并返回解析后的配置，环境变量 LEARN_<SECTION>_<KEY> 可覆盖文件中的值。
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("learn")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return &c, nil
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	c, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = *c
}
