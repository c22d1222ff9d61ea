// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	JWT          JWTConfig          `mapstructure:"jwt"`
	Log          LogConfig          `mapstructure:"log"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	MinIO        MinIOConfig        `mapstructure:"minio"`
	LLM          LLMConfig          `mapstructure:"llm"`
	Snapshot     SnapshotConfig     `mapstructure:"snapshot"`
	Router       RouterConfig       `mapstructure:"router"`
	Conversation ConversationConfig `mapstructure:"conversation"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	Target TargetDBConfig `mapstructure:"target"`
	Redis  RedisConfig    `mapstructure:"redis"`
}

// TargetDBConfig 描述被提问的业务数据库。
// Driver 取值 mysql 或 postgres。
type TargetDBConfig struct {
	Driver       string        `mapstructure:"driver"`
	DSN          string        `mapstructure:"dsn"`
	Schema       string        `mapstructure:"schema"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。Brokers 为空时快照只能同步构建。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
	Prefix          string `mapstructure:"prefix"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey   string           `mapstructure:"api_key"`
	BaseURL  string           `mapstructure:"base_url"`
	Model    string           `mapstructure:"model"`
	Timeout  time.Duration    `mapstructure:"timeout"`
	Describe GenerationConfig `mapstructure:"describe"`
	Classify GenerationConfig `mapstructure:"classify"`
	Answer   GenerationConfig `mapstructure:"answer"`
	Prompt   LLMPromptConfig  `mapstructure:"prompt"`
}

// GenerationConfig 是单类调用的生成参数。
type GenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置系统提示模板。Instructions 中的 {{dbSchema}} 会被替换为 schema 上下文。
type LLMPromptConfig struct {
	Instructions string `mapstructure:"instructions"`
	NoSchemaText string `mapstructure:"no_schema_text"`
}

// SnapshotConfig 配置快照构建与产物存储。
// Backend 取值 minio 或 local。
type SnapshotConfig struct {
	Backend        string `mapstructure:"backend"`
	LocalDir       string `mapstructure:"local_dir"`
	SampleRows     int    `mapstructure:"sample_rows"`
	DescribeTables bool   `mapstructure:"describe_tables"`
	BuildOnStartup bool   `mapstructure:"build_on_startup"`
}

// RouterConfig 配置表路由的话题缓存。
type RouterConfig struct {
	CacheBackend string        `mapstructure:"cache_backend"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
}

// ConversationConfig 配置对话历史存储。
// Backend 取值 memory 或 redis；TTL 为 0 表示不过期。
type ConversationConfig struct {
	Backend       string        `mapstructure:"backend"`
	HistoryWindow int           `mapstructure:"history_window"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// DefaultInstructions 是未配置提示模板时使用的系统提示。
const DefaultInstructions = `You are a helpful data analyst. Answer questions about the user's relational database.
Use only the schema and sample data below. When a question needs a query, show the SQL you would run and explain the result shape.
Sample values have been anonymized; never present them as real data.

{{dbSchema}}`

func setDefaults(v *viper.Viper) {
	// 空默认值让 viper 认识这些键，AutomaticEnv 才能在 Unmarshal 时覆盖它们。
	for _, key := range []string{"llm.api_key", "llm.model", "database.target.dsn", "jwt.secret", "database.redis.addr", "database.redis.password", "kafka.brokers", "minio.endpoint", "minio.access_key_id", "minio.secret_access_key"} {
		v.SetDefault(key, "")
	}
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.target.driver", "mysql")
	v.SetDefault("database.target.schema", "public")
	v.SetDefault("database.target.query_timeout", 15*time.Second)
	v.SetDefault("jwt.access_token_expire_hours", 24)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("kafka.topic", "dbchat-snapshot-tasks")
	v.SetDefault("kafka.group_id", "db-chat-go-snapshot")
	v.SetDefault("minio.bucket_name", "dbchat-artifacts")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.describe.temperature", 0.2)
	v.SetDefault("llm.describe.max_tokens", 120)
	v.SetDefault("llm.classify.temperature", 0.0)
	v.SetDefault("llm.classify.max_tokens", 100)
	v.SetDefault("llm.answer.temperature", 0.3)
	v.SetDefault("llm.answer.max_tokens", 1024)
	v.SetDefault("llm.prompt.instructions", DefaultInstructions)
	v.SetDefault("llm.prompt.no_schema_text", "No database schema snapshot is available yet.")
	v.SetDefault("snapshot.backend", "local")
	v.SetDefault("snapshot.local_dir", "./data/snapshot")
	v.SetDefault("snapshot.sample_rows", 10)
	v.SetDefault("snapshot.describe_tables", true)
	v.SetDefault("snapshot.build_on_startup", false)
	v.SetDefault("router.cache_backend", "memory")
	v.SetDefault("router.cache_ttl", 24*time.Hour)
	v.SetDefault("conversation.backend", "memory")
	v.SetDefault("conversation.history_window", 10)
	v.SetDefault("conversation.ttl", 7*24*time.Hour)
}

// Load 从指定路径读取 YAML 配置，叠加 DBCHAT_ 前缀的环境变量并校验。
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("DBCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate 检查启动所必需的配置项。
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		errs = append(errs, errors.New("llm.api_key is required"))
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}
	switch c.Database.Target.Driver {
	case "mysql", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.target.driver must be mysql or postgres, got %q", c.Database.Target.Driver))
	}
	if strings.TrimSpace(c.Database.Target.DSN) == "" {
		errs = append(errs, errors.New("database.target.dsn is required"))
	}
	switch c.Snapshot.Backend {
	case "local":
		if strings.TrimSpace(c.Snapshot.LocalDir) == "" {
			errs = append(errs, errors.New("snapshot.local_dir is required for the local backend"))
		}
	case "minio":
		if strings.TrimSpace(c.MinIO.Endpoint) == "" {
			errs = append(errs, errors.New("minio.endpoint is required for the minio backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("snapshot.backend must be local or minio, got %q", c.Snapshot.Backend))
	}
	for key, backend := range map[string]string{"conversation.backend": c.Conversation.Backend, "router.cache_backend": c.Router.CacheBackend} {
		if backend != "memory" && backend != "redis" {
			errs = append(errs, fmt.Errorf("%s must be memory or redis, got %q", key, backend))
		}
	}
	if c.Conversation.HistoryWindow <= 0 {
		errs = append(errs, errors.New("conversation.history_window must be positive"))
	}
	if strings.TrimSpace(c.JWT.Secret) == "" {
		errs = append(errs, errors.New("jwt.secret is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// UsesRedis 报告是否有任何组件需要 Redis。
func (c Config) UsesRedis() bool {
	return c.Conversation.Backend == "redis" || c.Router.CacheBackend == "redis"
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}
