package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	OSS      OSSConfig      `mapstructure:"oss"`
	OAuth    OAuthConfig    `mapstructure:"oauth"`
	CORS     CORSConfig     `mapstructure:"cors"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Export   ExportConfig   `mapstructure:"export"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	BucketName      string `mapstructure:"bucket_name"`
	CDNDomain       string `mapstructure:"cdn_domain"`
}

type OAuthConfig struct {
	Github GithubOAuthConfig `mapstructure:"github"`
}

type GithubOAuthConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURI  string `mapstructure:"redirect_uri"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// LLMConfig 大模型调用配置，primary 为主通道，fallback 为兜底通道
type LLMConfig struct {
	Primary        ProviderConfig `mapstructure:"primary"`
	Fallback       ProviderConfig `mapstructure:"fallback"`
	TimeoutSeconds int            `mapstructure:"timeout_seconds"`
}

type ProviderConfig struct {
	Name    string `mapstructure:"name"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

// AnalysisConfig 分析任务编排参数
type AnalysisConfig struct {
	Workers            int     `mapstructure:"workers"`
	MaxRetries         int     `mapstructure:"max_retries"`
	RetryBackoffSecs   float64 `mapstructure:"retry_backoff_secs"`
	BatchSize          int     `mapstructure:"batch_size"`
	FlushIntervalMs    int     `mapstructure:"flush_interval_ms"`
	ProgressIntervalMs int     `mapstructure:"progress_interval_ms"`
	PollIntervalMs     int     `mapstructure:"poll_interval_ms"`
}

type ExportConfig struct {
	Dir         string `mapstructure:"dir"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

func Load(configPath string) (*Config, error) {
	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")

	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// 环境变量覆盖
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Analysis.ApplyDefaults()
	if cfg.LLM.TimeoutSeconds <= 0 {
		cfg.LLM.TimeoutSeconds = 60
	}

	return &cfg, nil
}

// ApplyDefaults 填充未配置的编排参数
func (c *AnalysisConfig) ApplyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 6
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoffSecs <= 0 {
		c.RetryBackoffSecs = 2
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.FlushIntervalMs <= 0 {
		c.FlushIntervalMs = 500
	}
	if c.ProgressIntervalMs <= 0 {
		c.ProgressIntervalMs = 1000
	}
	if c.PollIntervalMs <= 0 {
		c.PollIntervalMs = 1000
	}
}

// FlushInterval 批量落库间隔
func (c *AnalysisConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMs) * time.Millisecond
}

// ProgressInterval 进度刷新间隔
func (c *AnalysisConfig) ProgressInterval() time.Duration {
	return time.Duration(c.ProgressIntervalMs) * time.Millisecond
}

// PollInterval 主循环拉取间隔
func (c *AnalysisConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// RetryBackoff 重试间隔
func (c *AnalysisConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffSecs * float64(time.Second))
}
