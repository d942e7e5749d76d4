package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 全局配置
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Gesture GestureConfig `yaml:"gesture"`
	Paging  PagingConfig  `yaml:"paging"`
	Feed    FeedConfig    `yaml:"feed"`
	Gateway GatewayConfig `yaml:"gateway"`
	Logging LoggingConfig `yaml:"logging"`
	Paths   PathsConfig   `yaml:"paths"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// AllowedOrigins 允许跨域与 websocket 升级的来源
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// StorageConfig 照片集合的落盘位置
type StorageConfig struct {
	// Backend: memory | file | sqlite
	Backend string `yaml:"backend"`
	// Path 对 file 是目录，对 sqlite 是数据库文件
	Path string `yaml:"path"`
	// Key 集合所在的 key，留空使用 spotted_app_photos
	Key string `yaml:"key"`
}

type GestureConfig struct {
	TapWindow         time.Duration `yaml:"tap_window"`
	DistanceRatio     float64       `yaml:"distance_ratio"`
	VelocityThreshold float64       `yaml:"velocity_threshold"`
	VelocityWindow    time.Duration `yaml:"velocity_window"`
}

type PagingConfig struct {
	RubberBandRatio float64       `yaml:"rubber_band_ratio"`
	CommitDuration  time.Duration `yaml:"commit_duration"`
	SettleTau       time.Duration `yaml:"settle_tau"`
}

type FeedConfig struct {
	LikeBurst       time.Duration `yaml:"like_burst"`
	DefaultViewport float64       `yaml:"default_viewport"`
}

type GatewayConfig struct {
	FrameInterval time.Duration `yaml:"frame_interval"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	PingInterval  time.Duration `yaml:"ping_interval"`
	// ViewerTTL 创建后一直未连接的查看实例保留多久
	ViewerTTL time.Duration `yaml:"viewer_ttl"`
}

type LoggingConfig struct {
	// PrefixFlags 为 true 时日志带微秒时间戳
	PrefixFlags bool `yaml:"prefix_flags"`
	// Output 为空写 stderr，否则追加到该文件
	Output string `yaml:"output"`
}

type PathsConfig struct {
	// Seed 首次启动时导入的照片集合（JSON），可选
	Seed string `yaml:"seed"`
}

// Load 从文件加载配置
func Load(path string) (*Config, error) {
	fmt.Printf("📋 Loading config from: %s\n", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	fmt.Printf("\n📊 Configuration Summary:\n")
	fmt.Printf("   Server: %s\n", cfg.Server.Addr)
	fmt.Printf("   Storage: %s %s\n", cfg.Storage.Backend, cfg.Storage.Path)
	fmt.Printf("   Tap window: %v  Advance ratio: %.2f  Velocity: %.0f px/s\n",
		cfg.Gesture.TapWindow, cfg.Gesture.DistanceRatio, cfg.Gesture.VelocityThreshold)
	if cfg.Paths.Seed != "" {
		fmt.Printf("   Seed: %s\n", cfg.Paths.Seed)
	}
	fmt.Printf("\n")

	return cfg, nil
}

// Parse 解析 YAML、应用环境变量覆盖与默认值并校验。
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// Default 返回未读取任何文件时的配置
func Default() *Config {
	var cfg Config
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyEnv() {
	if addr := os.Getenv("SPOTTED_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if backend := os.Getenv("SPOTTED_STORAGE_BACKEND"); backend != "" {
		c.Storage.Backend = backend
	}
	if path := os.Getenv("SPOTTED_STORAGE_PATH"); path != "" {
		c.Storage.Path = path
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"http://localhost:5173", "http://127.0.0.1:5173"}
	}

	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}

	if c.Gesture.TapWindow == 0 {
		c.Gesture.TapWindow = 300 * time.Millisecond
	}
	if c.Gesture.DistanceRatio == 0 {
		c.Gesture.DistanceRatio = 0.2
	}
	if c.Gesture.VelocityThreshold == 0 {
		c.Gesture.VelocityThreshold = 500
	}
	if c.Gesture.VelocityWindow == 0 {
		c.Gesture.VelocityWindow = 100 * time.Millisecond
	}

	if c.Paging.RubberBandRatio == 0 {
		c.Paging.RubberBandRatio = 0.15
	}
	if c.Paging.CommitDuration == 0 {
		c.Paging.CommitDuration = 250 * time.Millisecond
	}
	if c.Paging.SettleTau == 0 {
		c.Paging.SettleTau = 60 * time.Millisecond
	}

	if c.Feed.LikeBurst == 0 {
		c.Feed.LikeBurst = 900 * time.Millisecond
	}
	if c.Feed.DefaultViewport == 0 {
		c.Feed.DefaultViewport = 800
	}

	if c.Gateway.FrameInterval == 0 {
		c.Gateway.FrameInterval = 16 * time.Millisecond
	}
	if c.Gateway.WriteTimeout == 0 {
		c.Gateway.WriteTimeout = 5 * time.Second
	}
	if c.Gateway.PingInterval == 0 {
		c.Gateway.PingInterval = 30 * time.Second
	}
	if c.Gateway.ViewerTTL == 0 {
		c.Gateway.ViewerTTL = 10 * time.Minute
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory":
	case "file", "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path is required for %s backend (set SPOTTED_STORAGE_PATH or storage.path)", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("unknown storage backend %q (want memory, file or sqlite)", c.Storage.Backend)
	}
	if c.Gesture.DistanceRatio <= 0 || c.Gesture.DistanceRatio >= 1 {
		return fmt.Errorf("gesture.distance_ratio must be in (0, 1), got %v", c.Gesture.DistanceRatio)
	}
	if c.Gesture.VelocityThreshold < 0 {
		return fmt.Errorf("gesture.velocity_threshold must not be negative")
	}
	if c.Gesture.TapWindow < 0 || c.Feed.LikeBurst < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if c.Paging.RubberBandRatio < 0 || c.Paging.RubberBandRatio > 1 {
		return fmt.Errorf("paging.rubber_band_ratio must be in [0, 1], got %v", c.Paging.RubberBandRatio)
	}
	if c.Feed.DefaultViewport < 0 {
		return fmt.Errorf("feed.default_viewport must be positive")
	}
	return nil
}
