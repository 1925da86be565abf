package config

import (
	"errors"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return newFieldError("ListenPort", "必须在 1-65535")
	}
	if strings.TrimSpace(c.CachePath) == "" {
		return newFieldError("CachePath", "不能为空")
	}
	if c.RecheckAge.DurationValue() <= 0 {
		return newFieldError("RecheckAge", "必须大于 0")
	}
	if c.ExpirationAge.DurationValue() <= c.RecheckAge.DurationValue() {
		return newFieldError("ExpirationAge", "必须大于 RecheckAge")
	}
	if c.SweepInterval.DurationValue() < 0 {
		return newFieldError("SweepInterval", "不能为负数（0 表示关闭后台清扫）")
	}
	if c.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("UpstreamTimeout", "必须大于 0")
	}
	if c.MaxImageBytes <= 0 {
		return newFieldError("MaxImageBytes", "必须大于 0")
	}
	for _, host := range c.AllowedHosts {
		if strings.TrimSpace(host) == "" {
			return newFieldError("AllowedHosts", "不允许空白主机名")
		}
	}

	return nil
}
