// Package cachedir provisions the writable directory backing the disk tier
// and performs a one-time, best-effort migration of entries left behind at a
// legacy location. Migration failures are logged and never fatal: the worst
// outcome is a cold cache.
package cachedir

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Provision 解析并创建缓存目录；legacyPath 非空且存在时，把旧位置的条目
// 迁移到新目录（同名文件已存在则跳过）。返回绝对路径。
func Provision(path, legacyPath string, logger *logrus.Logger) (string, error) {
	if path == "" {
		return "", errors.New("cache path required")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve cache path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("create cache path: %w", err)
	}

	if legacyPath != "" {
		migrateLegacy(abs, legacyPath, logger)
	}
	return abs, nil
}

// migrateLegacy 逐文件 rename 到新目录，失败仅记录；迁空后顺手删除旧目录。
func migrateLegacy(dir, legacyPath string, logger *logrus.Logger) {
	legacyAbs, err := filepath.Abs(legacyPath)
	if err != nil || legacyAbs == dir {
		return
	}

	entries, err := os.ReadDir(legacyAbs)
	if err != nil {
		// 旧目录不存在是常态，不值得告警。
		if !errors.Is(err, os.ErrNotExist) && logger != nil {
			logger.WithError(err).WithFields(logrus.Fields{
				"action": "cache_migrate",
				"legacy": legacyAbs,
			}).Warn("legacy directory unreadable")
		}
		return
	}

	migrated := 0
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		target := filepath.Join(dir, entry.Name())
		if _, err := os.Stat(target); err == nil {
			continue // 新目录已有同名条目，以新内容为准
		}
		if err := os.Rename(filepath.Join(legacyAbs, entry.Name()), target); err != nil {
			if logger != nil {
				logger.WithError(err).WithFields(logrus.Fields{
					"action": "cache_migrate",
					"entry":  entry.Name(),
				}).Warn("entry migration failed, skipping")
			}
			continue
		}
		migrated++
	}

	// 清理空的旧目录；失败无所谓。
	_ = os.Remove(legacyAbs)

	if migrated > 0 && logger != nil {
		logger.WithFields(logrus.Fields{
			"action":   "cache_migrate",
			"migrated": migrated,
			"legacy":   legacyAbs,
		}).Info("legacy entries migrated")
	}
}
