package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"pageemu/pkg/domain"

	"gopkg.in/yaml.v3"
)

// Config 配置文件结构体
type Config struct {
	Version   string    `yaml:"version"`
	Sqlite    Sqlite    `yaml:"sqlite"`
	Log       Log       `yaml:"log"`
	Scheduler Scheduler `yaml:"scheduler"`
	Browser   Browser   `yaml:"browser"`
	Site      Site      `yaml:"site"`
	HTTP      HTTP      `yaml:"http"`
	Workers   Workers   `yaml:"workers"`
}

// Sqlite 数据库配置
type Sqlite struct {
	Db     string `yaml:"db"`
	Path   string `yaml:"path"` // 完整路径，非空时覆盖 Db
	Prefix string `yaml:"prefix"`
}

// Log 日志配置
type Log struct {
	Level  string   `yaml:"level"`
	Writer []string `yaml:"writer"`
	File   string   `yaml:"file"` // 为空时使用平台默认目录
}

// Scheduler 会话调度配置
type Scheduler struct {
	MaxSessions     int           `yaml:"maxSessions"`     // 同时存活的模拟会话上限
	IdleTimeout     time.Duration `yaml:"idleTimeout"`     // 会话空闲多久后回收
	CallbackTimeout time.Duration `yaml:"callbackTimeout"` // 单次导航+回调的最长执行时间
	TeardownTimeout time.Duration `yaml:"teardownTimeout"` // 回收时写回 Cookie 与关闭页面的最长时间
}

// Browser 浏览器配置
type Browser struct {
	DevToolsURL string   `yaml:"devToolsURL"` // 为空时自动启动本地 Chrome
	ExecPath    string   `yaml:"execPath"`
	Headless    bool     `yaml:"headless"`
	Args        []string `yaml:"args"`
}

// Site 模拟站点配置
type Site struct {
	Origin         string            `yaml:"origin"`
	MeasurementID  string            `yaml:"measurementId"`
	ScriptURL      string            `yaml:"scriptURL"`
	EventTimeoutMS int               `yaml:"eventTimeoutMs"` // gtag event_timeout
	Titles         map[string]string `yaml:"titles"`         // 视图 -> 页面标题
}

// HTTP 接口配置
type HTTP struct {
	Listen string `yaml:"listen"`
}

// Workers 事件投递工作池配置
type Workers struct {
	Size  int `yaml:"size"`
	Queue int `yaml:"queue"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Version: "1.0.0",
		Sqlite: Sqlite{
			Db:     "data.db",
			Prefix: "pageemu_",
		},
		Log: Log{
			Level:  "info",
			Writer: []string{"console"},
		},
		Scheduler: Scheduler{
			MaxSessions:     10,
			IdleTimeout:     10 * time.Second,
			CallbackTimeout: 30 * time.Second,
			TeardownTimeout: 5 * time.Second,
		},
		Browser: Browser{
			Headless: true,
		},
		Site: Site{
			Origin:         "https://bot.analytics",
			ScriptURL:      "https://www.googletagmanager.com/gtag/js",
			EventTimeoutMS: 2000,
			Titles: map[string]string{
				"/":        "Home",
				"/default": "Home",
			},
		},
		HTTP: HTTP{
			Listen: "127.0.0.1:8087",
		},
		Workers: Workers{
			Size:  32,
			Queue: 1024,
		},
	}
}

// Load 读取 YAML 配置文件并覆盖默认值，path 为空时仅返回默认配置
func Load(path string) (*Config, error) {
	cfg := NewConfig()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate 校验配置合法性
func (c *Config) Validate() error {
	var errs []error
	if c.Scheduler.MaxSessions <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.maxSessions must be positive, got %d", c.Scheduler.MaxSessions))
	}
	if c.Scheduler.IdleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.idleTimeout must be positive, got %s", c.Scheduler.IdleTimeout))
	}
	if c.Scheduler.CallbackTimeout < 0 {
		errs = append(errs, fmt.Errorf("scheduler.callbackTimeout must not be negative"))
	}
	if c.Site.Origin == "" {
		errs = append(errs, errors.New("site.origin is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
