package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ConfEnv 未指定配置文件时从该环境变量读取配置文件路径
const ConfEnv = "BMXDAP_CONF"

// Config 调试适配器的配置
type Config struct {
	// BmkPath bmk可执行文件，launch参数中没有指定bmk时使用
	BmkPath  string `yaml:"bmkPath" toml:"bmkPath"`
	LogPath  string `yaml:"logPath" toml:"logPath"`
	LogLevel string `yaml:"logLevel" toml:"logLevel"`
	Port     string `yaml:"port" toml:"port"`

	Debugger DebuggerConfig `yaml:"debugger" toml:"debugger"`
	Build    BuildConfig    `yaml:"build" toml:"build"`
}

// DebuggerConfig 调试器相关配置
type DebuggerConfig struct {
	// OptionTimeout 等待调试器响应的超时时间，例如 "10s"
	OptionTimeout string `yaml:"optionTimeout" toml:"optionTimeout"`
	// KillSignal 程序没有停在调试器提示符时，终止程序使用的信号
	KillSignal string `yaml:"killSignal" toml:"killSignal"`
	// ShowEmptyScopes 是否展示没有变量的作用域
	ShowEmptyScopes bool `yaml:"showEmptyScopes" toml:"showEmptyScopes"`
	// UsePty 程序标准输出是否使用伪终端，使用伪终端时程序输出不会被缓冲
	UsePty    bool `yaml:"usePty" toml:"usePty"`
	StripAnsi bool `yaml:"stripAnsi" toml:"stripAnsi"`

	OptionTimeoutDuration time.Duration  `yaml:"-" toml:"-"`
	Signal                syscall.Signal `yaml:"-" toml:"-"`
}

// BuildConfig 构建相关配置
type BuildConfig struct {
	Timeout  string `yaml:"timeout" toml:"timeout"`
	Quick    bool   `yaml:"quick" toml:"quick"`
	Threaded bool   `yaml:"threaded" toml:"threaded"`

	TimeoutDuration time.Duration `yaml:"-" toml:"-"`
}

var signals = map[string]syscall.Signal{
	"SIGKILL": syscall.SIGKILL,
	"SIGINT":  syscall.SIGINT,
	"SIGTERM": syscall.SIGTERM,
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		BmkPath:  "bmk",
		LogPath:  "/var/bmxdebugger.log",
		LogLevel: "info",
		Port:     "8889",
		Debugger: DebuggerConfig{
			OptionTimeout:         "10s",
			KillSignal:            "SIGKILL",
			ShowEmptyScopes:       true,
			OptionTimeoutDuration: 10 * time.Second,
			Signal:                syscall.SIGKILL,
		},
		Build: BuildConfig{
			Timeout:         "5m",
			TimeoutDuration: 5 * time.Minute,
		},
	}
}

// Load 加载配置文件
// path为空时读取BMXDAP_CONF，文件不存在时使用默认配置。
// .toml 文件使用toml解析，其他文件按照yaml解析
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = os.Getenv(ConfEnv)
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logrus.Infof("[Config] %s not found, use default config", path)
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config file '%s': %w", path, err)
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("decode config file '%s': %w", path, err)
	}
	if err = cfg.resolve(); err != nil {
		return nil, fmt.Errorf("invalid config file '%s': %w", path, err)
	}
	return cfg, nil
}

// resolve 解析派生字段
func (c *Config) resolve() error {
	var err error
	if c.Debugger.OptionTimeoutDuration, err = parseDuration(c.Debugger.OptionTimeout, 10*time.Second); err != nil {
		return fmt.Errorf("debugger.optionTimeout: %w", err)
	}
	if c.Build.TimeoutDuration, err = parseDuration(c.Build.Timeout, 5*time.Minute); err != nil {
		return fmt.Errorf("build.timeout: %w", err)
	}
	if c.Debugger.Signal, err = ParseSignal(c.Debugger.KillSignal); err != nil {
		return fmt.Errorf("debugger.killSignal: %w", err)
	}
	return nil
}

func parseDuration(value string, defaultValue time.Duration) (time.Duration, error) {
	if value == "" {
		return defaultValue, nil
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if duration <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %s", value)
	}
	return duration, nil
}

// ParseSignal 解析信号名称，为空时使用SIGKILL
func ParseSignal(name string) (syscall.Signal, error) {
	if name == "" {
		return syscall.SIGKILL, nil
	}
	name = strings.ToUpper(strings.TrimSpace(name))
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	signal, ok := signals[name]
	if !ok {
		return 0, fmt.Errorf("unsupported signal %s", name)
	}
	return signal, nil
}
