// Package config 提供配置加载和管理功能
package config

import (
	"time"
)

// Config 应用配置根结构
type Config struct {
	App           AppConfig           `yaml:"app" mapstructure:"app"`
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Upstream      UpstreamConfig      `yaml:"upstream" mapstructure:"upstream"`
	Intercept     InterceptConfig     `yaml:"intercept" mapstructure:"intercept"`
	Rerank        RerankConfig        `yaml:"rerank" mapstructure:"rerank"`
	Cache         CacheConfig         `yaml:"cache" mapstructure:"cache"`
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
	Security      SecurityConfig      `yaml:"security" mapstructure:"security"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	Name    string `yaml:"name" mapstructure:"name"`
	Version string `yaml:"version" mapstructure:"version"`
	Env     string `yaml:"env" mapstructure:"env"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTP HTTPServerConfig `yaml:"http" mapstructure:"http"`
}

// HTTPServerConfig HTTP 服务器配置
type HTTPServerConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
}

// UpstreamConfig 上游搜索服务配置
type UpstreamConfig struct {
	// BaseURL 被代理的搜索服务地址，例如 https://search.example.com
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	// Timeout 单次上游调用超时
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
	// MaxIdleConnsPerHost 连接池大小
	MaxIdleConnsPerHost int `yaml:"max_idle_conns_per_host" mapstructure:"max_idle_conns_per_host"`
}

// InterceptConfig 拦截与缓存时序配置
type InterceptConfig struct {
	// Endpoint 被监控接口的 URL 子串
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`

	HighlightWindow     int           `yaml:"highlight_window" mapstructure:"highlight_window"`
	MaxHighlights       int           `yaml:"max_highlights" mapstructure:"max_highlights"`
	CacheTTL            time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	CallbackReplayDelay time.Duration `yaml:"callback_replay_delay" mapstructure:"callback_replay_delay"`
	PromiseReplayJitter time.Duration `yaml:"promise_replay_jitter" mapstructure:"promise_replay_jitter"`

	// CoalesceInflight 合并同 key 并发请求（默认关闭）
	CoalesceInflight bool `yaml:"coalesce_inflight" mapstructure:"coalesce_inflight"`
}

// RerankConfig 模糊重排配置
type RerankConfig struct {
	Threshold float64      `yaml:"threshold" mapstructure:"threshold"`
	Weights   WeightConfig `yaml:"weights" mapstructure:"weights"`
}

// WeightConfig 字段权重
type WeightConfig struct {
	Content     float64 `yaml:"content" mapstructure:"content"`
	Title       float64 `yaml:"title" mapstructure:"title"`
	Breadcrumbs float64 `yaml:"breadcrumbs" mapstructure:"breadcrumbs"`
}

// CacheConfig 缓存配置
type CacheConfig struct {
	// Backend memory 或 redis
	Backend    string      `yaml:"backend" mapstructure:"backend"`
	MaxEntries int         `yaml:"max_entries" mapstructure:"max_entries"`
	KeyPrefix  string      `yaml:"key_prefix" mapstructure:"key_prefix"`
	Redis      RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	Password     string        `yaml:"password" mapstructure:"password"`
	DB           int           `yaml:"db" mapstructure:"db"`
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// ObservabilityConfig 可观测性配置
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// TracingConfig 追踪配置
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled" mapstructure:"enabled"`
	Endpoint   string  `yaml:"endpoint" mapstructure:"endpoint"`
	SampleRate float64 `yaml:"sample_rate" mapstructure:"sample_rate"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors" mapstructure:"cors"`
}

// RateLimitConfig 限流配置（仅在 redis 后端可用时生效）
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerSecond int  `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" mapstructure:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" mapstructure:"allowed_headers"`
}

// UsesRedis 是否启用 redis 缓存后端
func (c *Config) UsesRedis() bool {
	return c != nil && c.Cache.Backend == "redis"
}
