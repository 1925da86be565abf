package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound 表示磁盘缓存不存在该键对应的条目。
var ErrNotFound = errors.New("cache entry not found")

// ErrExpired 表示条目仍在磁盘上，但远端权威已确认其内容失效。
// 读取路径将其视为 miss；文件本身保留，等待过期清扫统一删除。
var ErrExpired = errors.New("cache entry expired")

// Validator 查询远端权威，返回指定来源标识的内容失效时刻。
// 仅做元数据探测，绝不传输完整载荷；传输失败原样向上传播，
// 调用方须将条目视为"未确认"并回退到完整重新下载。
type Validator interface {
	ValidUntil(ctx context.Context, identifier string) (time.Time, error)
}

// ValidatorFunc 将函数适配为 Validator，便于测试注入。
type ValidatorFunc func(ctx context.Context, identifier string) (time.Time, error)

// ValidUntil 使 ValidatorFunc 满足 Validator。
func (f ValidatorFunc) ValidUntil(ctx context.Context, identifier string) (time.Time, error) {
	return f(ctx, identifier)
}

// DiskStats 汇总磁盘缓存的条目数量与占用字节，供诊断接口输出。
type DiskStats struct {
	Entries int   `json:"entries"`
	Bytes   int64 `json:"bytes"`
}
