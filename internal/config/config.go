package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"tabguard/pkg/model"
)

// EnvPrefix 环境变量前缀，如 TABGUARD_LOG_LEVEL
const EnvPrefix = "TABGUARD"

// Config 配置文件结构体
type Config struct {
	Version string        `yaml:"version" mapstructure:"version"`
	Sqlite  SqliteConfig  `yaml:"sqlite" mapstructure:"sqlite"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	Host    HostConfig    `yaml:"host" mapstructure:"host"`
	Tab     TabConfig     `yaml:"tab" mapstructure:"tab"`
	Pool    PoolConfig    `yaml:"pool" mapstructure:"pool"`
	CDP     CDPConfig     `yaml:"cdp" mapstructure:"cdp"`
	Proxy   ProxyConfig   `yaml:"proxy" mapstructure:"proxy"`
	Filters model.RuleSet `yaml:"filters" mapstructure:"filters"`
}

type SqliteConfig struct {
	Dsn    string `yaml:"dsn" mapstructure:"dsn"`
	Prefix string `yaml:"prefix" mapstructure:"prefix"`
}

type LogConfig struct {
	Level      string   `yaml:"level" mapstructure:"level"`
	Writer     []string `yaml:"writer" mapstructure:"writer"`
	File       string   `yaml:"file" mapstructure:"file"`
	MaxSizeMB  int      `yaml:"maxSizeMB" mapstructure:"maxSizeMB"`
	MaxBackups int      `yaml:"maxBackups" mapstructure:"maxBackups"`
	MaxAgeDays int      `yaml:"maxAgeDays" mapstructure:"maxAgeDays"`
	Compress   bool     `yaml:"compress" mapstructure:"compress"`
}

// HostConfig 宿主能力
type HostConfig struct {
	MajorVersion  int  `yaml:"majorVersion" mapstructure:"majorVersion"`
	PluginEnabled bool `yaml:"pluginEnabled" mapstructure:"pluginEnabled"`
	DebugBlock    bool `yaml:"debugBlock" mapstructure:"debugBlock"`
}

type TabConfig struct {
	DrainInterval time.Duration `yaml:"drainInterval" mapstructure:"drainInterval"`
	// ActivatedOnStart 为空时按宿主版本决定（低于 10 时启动即激活）
	ActivatedOnStart *bool `yaml:"activatedOnStart" mapstructure:"activatedOnStart"`
}

// PoolConfig 请求处理和隐藏规则加载使用各自的任务池
type PoolConfig struct {
	Size       int `yaml:"size" mapstructure:"size"`
	LoaderSize int `yaml:"loaderSize" mapstructure:"loaderSize"`
}

type CDPConfig struct {
	DevToolsURL      string `yaml:"devToolsURL" mapstructure:"devToolsURL"`
	ProcessTimeoutMS int    `yaml:"processTimeoutMS" mapstructure:"processTimeoutMS"`
}

type ProxyConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Version: "1.0.0",
		Sqlite: SqliteConfig{
			Dsn:    "db.sqlite3",
			Prefix: "tabguard_",
		},
		Log: LogConfig{
			Level:      "debug",
			Writer:     []string{"console", "file"},
			File:       "logs/tabguard.log",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Host: HostConfig{
			MajorVersion:  11,
			PluginEnabled: true,
			DebugBlock:    true,
		},
		Tab: TabConfig{
			DrainInterval: 50 * time.Millisecond,
		},
		Pool: PoolConfig{Size: 4, LoaderSize: 2},
		CDP: CDPConfig{
			DevToolsURL:      "http://127.0.0.1:9222",
			ProcessTimeoutMS: 3000,
		},
		Proxy: ProxyConfig{Addr: "127.0.0.1:8118"},
	}
}

// Load 读取配置文件并叠加环境变量，path 为空时只使用默认值和环境变量
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, NewConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	cfg := NewConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Pool.Size <= 0 {
		return fmt.Errorf("pool.size must be positive, got %d", c.Pool.Size)
	}
	if c.Pool.LoaderSize <= 0 {
		return fmt.Errorf("pool.loaderSize must be positive, got %d", c.Pool.LoaderSize)
	}
	if c.Tab.DrainInterval <= 0 {
		return fmt.Errorf("tab.drainInterval must be positive, got %s", c.Tab.DrainInterval)
	}
	for i, r := range c.Filters.Rules {
		switch r.Mode {
		case "", "glob", "prefix", "exact", "regex":
		default:
			return fmt.Errorf("filters.rules[%d]: unknown mode %q", i, r.Mode)
		}
		if r.Pattern == "" {
			return fmt.Errorf("filters.rules[%d]: empty pattern", i)
		}
	}
	return nil
}

// TabActivatedOnStart 标签页创建时是否立即激活
func (c *Config) TabActivatedOnStart() bool {
	if c.Tab.ActivatedOnStart != nil {
		return *c.Tab.ActivatedOnStart
	}
	return c.Host.MajorVersion < 10
}

// setDefaults 标量项注册为默认值，使 AutomaticEnv 能覆盖它们
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("version", d.Version)
	v.SetDefault("sqlite.dsn", d.Sqlite.Dsn)
	v.SetDefault("sqlite.prefix", d.Sqlite.Prefix)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.writer", d.Log.Writer)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.maxSizeMB", d.Log.MaxSizeMB)
	v.SetDefault("log.maxBackups", d.Log.MaxBackups)
	v.SetDefault("log.maxAgeDays", d.Log.MaxAgeDays)
	v.SetDefault("log.compress", d.Log.Compress)
	v.SetDefault("host.majorVersion", d.Host.MajorVersion)
	v.SetDefault("host.pluginEnabled", d.Host.PluginEnabled)
	v.SetDefault("host.debugBlock", d.Host.DebugBlock)
	v.SetDefault("tab.drainInterval", d.Tab.DrainInterval)
	v.SetDefault("pool.size", d.Pool.Size)
	v.SetDefault("pool.loaderSize", d.Pool.LoaderSize)
	v.SetDefault("cdp.devToolsURL", d.CDP.DevToolsURL)
	v.SetDefault("cdp.processTimeoutMS", d.CDP.ProcessTimeoutMS)
	v.SetDefault("proxy.addr", d.Proxy.Addr)
}
