package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
CachePath = "./cache-test"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if cfg.ListenPort != 5100 {
		t.Fatalf("默认端口应为 5100，得到 %d", cfg.ListenPort)
	}
	if cfg.RecheckAge.DurationValue() != 24*time.Hour {
		t.Fatalf("默认 RecheckAge 应为 24h，得到 %v", cfg.RecheckAge.DurationValue())
	}
	if cfg.ExpirationAge.DurationValue() != 720*time.Hour {
		t.Fatalf("默认 ExpirationAge 应为 720h，得到 %v", cfg.ExpirationAge.DurationValue())
	}
	if !filepath.IsAbs(cfg.CachePath) {
		t.Fatalf("CachePath 应被转换为绝对路径: %s", cfg.CachePath)
	}
}

func TestLoadAcceptsDurationForms(t *testing.T) {
	path := writeConfig(t, `
CachePath = "./cache-test"
RecheckAge = "12h"
ExpirationAge = 2592000
UpstreamTimeout = "45s"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if cfg.RecheckAge.DurationValue() != 12*time.Hour {
		t.Fatalf("RecheckAge 解析错误: %v", cfg.RecheckAge.DurationValue())
	}
	if cfg.ExpirationAge.DurationValue() != 30*24*time.Hour {
		t.Fatalf("整数秒应按秒解析: %v", cfg.ExpirationAge.DurationValue())
	}
	if cfg.UpstreamTimeout.DurationValue() != 45*time.Second {
		t.Fatalf("UpstreamTimeout 解析错误: %v", cfg.UpstreamTimeout.DurationValue())
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name    string
		content string
		field   string
	}{
		{
			name:    "非法端口",
			content: "CachePath = \"./c\"\nListenPort = 70000\n",
			field:   "ListenPort",
		},
		{
			name:    "过期阈值不大于复核阈值",
			content: "CachePath = \"./c\"\nRecheckAge = \"24h\"\nExpirationAge = \"12h\"\n",
			field:   "ExpirationAge",
		},
		{
			name:    "非法载荷上限",
			content: "CachePath = \"./c\"\nMaxImageBytes = -1\n",
			field:   "MaxImageBytes",
		},
		{
			name:    "空白白名单项",
			content: "CachePath = \"./c\"\nAllowedHosts = [\" \"]\n",
			field:   "AllowedHosts",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.content)
			_, err := Load(path)
			if err == nil {
				t.Fatalf("预期校验失败")
			}
			var fieldErr FieldError
			if !errors.As(err, &fieldErr) {
				t.Fatalf("预期 FieldError，得到 %T: %v", err, err)
			}
			if fieldErr.Field != tc.field {
				t.Fatalf("错误字段应为 %s，得到 %s", tc.field, fieldErr.Field)
			}
		})
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("缺失配置文件应报错")
	}
}

func TestValidateSweepInterval(t *testing.T) {
	cfg := &Config{
		ListenPort:      5100,
		CachePath:       "./c",
		RecheckAge:      Duration(24 * time.Hour),
		ExpirationAge:   Duration(720 * time.Hour),
		SweepInterval:   Duration(0),
		UpstreamTimeout: Duration(30 * time.Second),
		MaxImageBytes:   1024,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("SweepInterval 为 0 应合法（关闭后台清扫）: %v", err)
	}
	cfg.SweepInterval = Duration(-time.Second)
	if err := cfg.Validate(); err == nil {
		t.Fatalf("负的 SweepInterval 应被拒绝")
	}
}
