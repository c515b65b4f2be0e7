// Package config 负责加载和管理应用程序的配置
// 使用 viper 库支持 YAML 配置文件和环境变量覆盖
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"chatmate-server/internal/model"
)

// Config 是应用程序的根配置结构
// 包含所有子配置模块
type Config struct {
	Server  ServerConfig      `mapstructure:"server"`  // 服务器配置
	Storage StorageConfig     `mapstructure:"storage"` // 存储后端配置
	MySQL   MySQLConfig       `mapstructure:"mysql"`   // MySQL 配置
	Redis   RedisConfig       `mapstructure:"redis"`   // Redis 配置
	JWT     JWTConfig         `mapstructure:"jwt"`     // JWT 配置
	Log     LogConfig         `mapstructure:"log"`     // 日志配置
	OpenAI  OpenAIConfig      `mapstructure:"openai"`  // 补全 / 语音合成服务配置
	Chat    ChatConfig        `mapstructure:"chat"`    // 聊天行为配置
	Models  []model.ModelInfo `mapstructure:"models"`  // 可选模型目录，为空时使用内置目录
}

// ServerConfig 服务器相关配置
type ServerConfig struct {
	Port int      `mapstructure:"port"` // 监听端口，默认 8080
	Mode string   `mapstructure:"mode"` // 运行模式: debug / release
	CORS []string `mapstructure:"cors"` // CORS 允许的域名
}

// StorageConfig 存储后端配置
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // mysql: MySQL + Redis; memory: 进程内存（开发 / 测试）
}

// MySQLConfig MySQL 数据库连接配置
type MySQLConfig struct {
	Host         string `mapstructure:"host"`           // 数据库主机地址
	Port         int    `mapstructure:"port"`           // 数据库端口
	Username     string `mapstructure:"username"`       // 数据库用户名
	Password     string `mapstructure:"password"`       // 数据库密码
	Database     string `mapstructure:"database"`       // 数据库名称
	Charset      string `mapstructure:"charset"`        // 字符集
	MaxIdleConns int    `mapstructure:"max_idle_conns"` // 最大空闲连接数
	MaxOpenConns int    `mapstructure:"max_open_conns"` // 最大打开连接数
	MaxLifetime  int    `mapstructure:"max_lifetime"`   // 连接最大生命周期（秒）
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Host     string `mapstructure:"host"`      // Redis 主机地址
	Port     int    `mapstructure:"port"`      // Redis 端口
	Username string `mapstructure:"username"`  // Redis 用户名
	Password string `mapstructure:"password"`  // Redis 密码
	DB       int    `mapstructure:"db"`        // 数据库索引 (0-15)
	PoolSize int    `mapstructure:"pool_size"` // 连接池大小
}

// JWTConfig JWT 认证配置
type JWTConfig struct {
	Secret        string        `mapstructure:"secret"`         // JWT 签名密钥，至少32字符
	AccessExpire  time.Duration `mapstructure:"access_expire"`  // Access Token 过期时间
	RefreshExpire time.Duration `mapstructure:"refresh_expire"` // Refresh Token 过期时间
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`  // 日志级别: debug/info/warn/error
	Format string `mapstructure:"format"` // 日志格式: json/text
}

// OpenAIConfig 补全与语音合成接口配置
type OpenAIConfig struct {
	APIKey      string        `mapstructure:"api_key"`     // API Key
	BaseURL     string        `mapstructure:"base_url"`    // 自定义接口地址，为空时使用官方地址
	Timeout     time.Duration `mapstructure:"timeout"`     // 单次请求超时
	MaxTokens   int           `mapstructure:"max_tokens"`  // 单次回复最大 token 数
	Temperature float32       `mapstructure:"temperature"` // 采样温度
	TTSModel    string        `mapstructure:"tts_model"`   // 语音合成模型
	TTSVoice    string        `mapstructure:"tts_voice"`   // 语音合成音色
	AudioDir    string        `mapstructure:"audio_dir"`   // 合成音频的本地缓存目录
}

// ChatConfig 聊天行为配置
type ChatConfig struct {
	WelcomeText    string `mapstructure:"welcome_text"`     // 空会话时展示的欢迎语（不落库）
	MaxInputLength int    `mapstructure:"max_input_length"` // 单条输入的最大字符数
	VoiceHistory   int    `mapstructure:"voice_history"`    // 语音对话携带的上下文轮数
}

// Load 从指定路径加载配置文件
// 支持环境变量覆盖配置项，启动目录下的 .env 会先被加载到环境变量
// 参数:
//   - configPath: 配置文件目录路径 (如 "./configs")
//
// 返回:
//   - *Config: 配置对象
//   - error: 如果加载失败则返回错误
func Load(configPath string) (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	// 创建新的 viper 实例
	v := viper.New()

	// 设置配置文件
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	// 启用环境变量
	v.AutomaticEnv()
	// 将环境变量中的 _ 映射到配置的 .
	// 例如: MYSQL_HOST -> mysql.host
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 绑定环境变量
	bindEnvVariables(v)

	// 设置默认值（当配置文件中未指定时使用）
	setDefaults(v)

	// 读取配置文件（如果不存在则使用默认值和环境变量）
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	// 将配置解析到结构体
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Catalog 返回生效的模型目录
// 配置中没有 models 时使用内置目录
func (c *Config) Catalog() model.ModelCatalog {
	if len(c.Models) == 0 {
		return model.DefaultCatalog()
	}
	return model.NewModelCatalog(c.Models)
}

// bindEnvVariables 绑定环境变量到配置项
func bindEnvVariables(v *viper.Viper) {
	// 服务器配置
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("server.mode", "SERVER_MODE")

	// 存储配置
	v.BindEnv("storage.driver", "STORAGE_DRIVER")

	// MySQL 配置
	v.BindEnv("mysql.host", "MYSQL_HOST")
	v.BindEnv("mysql.port", "MYSQL_PORT")
	v.BindEnv("mysql.username", "MYSQL_USERNAME")
	v.BindEnv("mysql.password", "MYSQL_PASSWORD")
	v.BindEnv("mysql.database", "MYSQL_DATABASE")

	// Redis 配置
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.username", "REDIS_USERNAME")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// JWT 配置
	v.BindEnv("jwt.secret", "JWT_SECRET")

	// OpenAI 配置
	v.BindEnv("openai.api_key", "OPENAI_API_KEY")
	v.BindEnv("openai.base_url", "OPENAI_BASE_URL")
}

// setDefaults 设置配置项的默认值
// 当配置文件中没有指定某个值时，将使用这里设置的默认值
func setDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors", []string{"http://localhost:3000", "http://localhost:8081"})

	v.SetDefault("storage.driver", "mysql")

	// MySQL 默认配置
	v.SetDefault("mysql.host", "localhost")
	v.SetDefault("mysql.port", 3306)
	v.SetDefault("mysql.charset", "utf8mb4")
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("mysql.max_open_conns", 100)
	v.SetDefault("mysql.max_lifetime", 3600)

	// Redis 默认配置
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 100)

	// JWT 默认配置
	v.SetDefault("jwt.access_expire", "24h")
	v.SetDefault("jwt.refresh_expire", "168h")

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// OpenAI 默认配置
	v.SetDefault("openai.timeout", "60s")
	v.SetDefault("openai.max_tokens", 1000)
	v.SetDefault("openai.temperature", 0.7)
	v.SetDefault("openai.tts_model", "tts-1")
	v.SetDefault("openai.tts_voice", "nova")
	v.SetDefault("openai.audio_dir", "./data/audio")

	// 聊天默认配置
	v.SetDefault("chat.welcome_text", "你好，我是 ChatGPT AI 助手，有什麼可以幫助你的嗎？")
	v.SetDefault("chat.max_input_length", 1000)
	v.SetDefault("chat.voice_history", 5)
}
