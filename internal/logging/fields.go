package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供 url/key/命中状态字段，供图片请求日志复用。
func RequestFields(url, key string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"url":       url,
		"key":       key,
		"cache_hit": cacheHit,
	}
}
