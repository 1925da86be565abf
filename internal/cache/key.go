package cache

import (
	"crypto/md5"
	"encoding/hex"
)

// DeriveKey 将任意来源标识（通常是图片 URL）映射为 32 位十六进制缓存键，
// 同时作为磁盘文件名与内存条目键使用。确定性、纯函数、无 I/O；
// 碰撞概率视为可忽略，不做防御。
func DeriveKey(identifier string) string {
	sum := md5.Sum([]byte(identifier))
	return hex.EncodeToString(sum[:])
}
