package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 统计服务配置
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Collector CollectorConfig `yaml:"collector"`
	Relay     RelayConfig     `yaml:"relay"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// WebSocketConfig WebSocket配置
type WebSocketConfig struct {
	Path            string        `yaml:"path"`
	ReadBufferSize  int           `yaml:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size"`
	MaxMessageSize  int64         `yaml:"max_message_size"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	PongTimeout     time.Duration `yaml:"pong_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	BufferSize      int           `yaml:"buffer_size"`
}

// CollectorConfig 采集器配置
type CollectorConfig struct {
	StacksDir      string        `yaml:"stacks_dir"`       // 堆栈目录，每个堆栈一个子目录
	Command        string        `yaml:"command"`          // 生产者命令
	Args           []string      `yaml:"args"`             // 生产者参数
	SweepInterval  time.Duration `yaml:"sweep_interval"`   // 断线订阅者清理间隔
	IdleInterval   time.Duration `yaml:"idle_interval"`    // 无订阅者检查间隔
	MaxBufferBytes int           `yaml:"max_buffer_bytes"` // 重组缓冲区上限
	StopTimeout    time.Duration `yaml:"stop_timeout"`     // SIGTERM后强制结束前的等待时间
}

// RelayConfig 转发配置
type RelayConfig struct {
	Stacks   []string      `yaml:"stacks"`   // 常驻转发的堆栈
	Interval time.Duration `yaml:"interval"` // 重新获取采集器的间隔
	Kafka    KafkaConfig   `yaml:"kafka"`
	Redis    RedisConfig   `yaml:"redis"`
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	MaxRetry     int           `yaml:"max_retry"`
	QueueSize    int           `yaml:"queue_size"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	ChannelPrefix string `yaml:"channel_prefix"`
	MaxRetry      int    `yaml:"max_retry"`
	QueueSize     int    `yaml:"queue_size"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// Default 返回填充了默认值的配置
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

// LoadConfig 加载配置文件
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port 超出范围: %d", c.Server.Port))
	}
	if c.Collector.StacksDir == "" {
		errs = append(errs, errors.New("collector.stacks_dir 不能为空"))
	}
	if c.Collector.Command == "" {
		errs = append(errs, errors.New("collector.command 不能为空"))
	}
	if c.Collector.SweepInterval <= 0 {
		errs = append(errs, errors.New("collector.sweep_interval 必须为正数"))
	}
	if c.Collector.IdleInterval <= 0 {
		errs = append(errs, errors.New("collector.idle_interval 必须为正数"))
	}
	if c.Relay.Kafka.Enabled && len(c.Relay.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("relay.kafka.brokers 不能为空"))
	}
	return errors.Join(errs...)
}

// setDefaults 设置默认值
func setDefaults(config *Config) {
	// 服务器默认值
	if config.Server.Port == 0 {
		config.Server.Port = 5001
	}
	if config.Server.ReadTimeout == 0 {
		config.Server.ReadTimeout = 10 * time.Second
	}
	if config.Server.WriteTimeout == 0 {
		config.Server.WriteTimeout = 10 * time.Second
	}
	if config.Server.IdleTimeout == 0 {
		config.Server.IdleTimeout = 60 * time.Second
	}

	// WebSocket默认值
	if config.WebSocket.Path == "" {
		config.WebSocket.Path = "/ws"
	}
	if config.WebSocket.ReadBufferSize == 0 {
		config.WebSocket.ReadBufferSize = 1024
	}
	if config.WebSocket.WriteBufferSize == 0 {
		config.WebSocket.WriteBufferSize = 1024
	}
	if config.WebSocket.MaxMessageSize == 0 {
		config.WebSocket.MaxMessageSize = 64 * 1024 // 64KB
	}
	if config.WebSocket.PingInterval == 0 {
		config.WebSocket.PingInterval = 30 * time.Second
	}
	if config.WebSocket.PongTimeout == 0 {
		config.WebSocket.PongTimeout = 60 * time.Second
	}
	if config.WebSocket.WriteTimeout == 0 {
		config.WebSocket.WriteTimeout = 10 * time.Second
	}
	if config.WebSocket.BufferSize == 0 {
		config.WebSocket.BufferSize = 64
	}

	// 采集器默认值
	if config.Collector.StacksDir == "" {
		config.Collector.StacksDir = "/opt/stacks"
	}
	if config.Collector.Command == "" {
		config.Collector.Command = "docker"
	}
	if len(config.Collector.Args) == 0 {
		config.Collector.Args = []string{"compose", "stats", "--no-trunc", "--format", "json"}
	}
	if config.Collector.SweepInterval == 0 {
		config.Collector.SweepInterval = 60 * time.Second
	}
	if config.Collector.IdleInterval == 0 {
		config.Collector.IdleInterval = 60 * time.Second
	}
	if config.Collector.MaxBufferBytes == 0 {
		config.Collector.MaxBufferBytes = 1 << 20 // 1MB
	}
	if config.Collector.StopTimeout == 0 {
		config.Collector.StopTimeout = 10 * time.Second
	}

	// 转发默认值
	if config.Relay.Interval == 0 {
		config.Relay.Interval = 30 * time.Second
	}
	if config.Relay.Kafka.Topic == "" {
		config.Relay.Kafka.Topic = "stack-stats"
	}
	if config.Relay.Kafka.BatchSize == 0 {
		config.Relay.Kafka.BatchSize = 100
	}
	if config.Relay.Kafka.BatchTimeout == 0 {
		config.Relay.Kafka.BatchTimeout = time.Second
	}
	if config.Relay.Kafka.MaxRetry == 0 {
		config.Relay.Kafka.MaxRetry = 3
	}
	if config.Relay.Kafka.QueueSize == 0 {
		config.Relay.Kafka.QueueSize = 256
	}
	if config.Relay.Redis.Addr == "" {
		config.Relay.Redis.Addr = "localhost:6379"
	}
	if config.Relay.Redis.ChannelPrefix == "" {
		config.Relay.Redis.ChannelPrefix = "stackmon:stats:"
	}
	if config.Relay.Redis.MaxRetry == 0 {
		config.Relay.Redis.MaxRetry = 3
	}
	if config.Relay.Redis.QueueSize == 0 {
		config.Relay.Redis.QueueSize = 256
	}

	// 日志默认值
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "console"
	}
	if config.Log.Output == "" {
		config.Log.Output = "stdout"
	}
	if config.Log.MaxSize == 0 {
		config.Log.MaxSize = 100
	}
}
