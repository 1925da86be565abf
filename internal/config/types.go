package config

import (
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "24h"、"30s" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return &time.ParseError{Layout: "duration", Value: raw}
}

// DurationValue 返回底层 time.Duration，便于业务代码直接使用。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// Config 是 TOML 配置文件映射的整体结构，描述守护进程与缓存行为。
type Config struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	CachePath       string   `mapstructure:"CachePath"`
	LegacyCachePath string   `mapstructure:"LegacyCachePath"`
	RecheckAge      Duration `mapstructure:"RecheckAge"`
	ExpirationAge   Duration `mapstructure:"ExpirationAge"`
	SweepInterval   Duration `mapstructure:"SweepInterval"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	MaxImageBytes   int64    `mapstructure:"MaxImageBytes"`
	AllowedHosts    []string `mapstructure:"AllowedHosts"`
}
