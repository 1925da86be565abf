package cache

import (
	"sync"
	"weak"

	"github.com/webimage/webimage/internal/imaging"
)

// NewMemoryTier 构建空的内存缓存。
func NewMemoryTier() *MemoryTier {
	return &MemoryTier{
		entries: make(map[string]weak.Pointer[imaging.Image]),
	}
}

// MemoryTier 按缓存键弱持有解码后的图像：条目本身永远不是图像存活的
// 理由，存活完全由外部持有者（例如正在展示它的调用方）决定。所有操作
// 共享同一把锁，使"读到已回收的弱引用"与"顺手删除该条目"处于同一
// 临界区，避免与并发写入竞争。
type MemoryTier struct {
	mu      sync.Mutex
	entries map[string]weak.Pointer[imaging.Image]
}

// Get 返回键对应的图像。若弱引用目标已被回收，顺带删除该条目
// （self-healing），使映射反映真实的缓存状态。
func (m *MemoryTier) Get(key string) (*imaging.Image, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ref, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	img := ref.Value()
	if img == nil {
		delete(m.entries, key)
		return nil, false
	}
	return img, true
}

// Put 以弱引用形式记录图像，覆盖同键旧条目。
func (m *MemoryTier) Put(key string, img *imaging.Image) {
	if img == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = weak.Make(img)
}

// Clear 清空全部条目，供内存压力通知或显式重置调用。仅影响内存层，
// 不触碰磁盘缓存。
func (m *MemoryTier) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.entries)
}

// Len 返回当前映射中的条目数（含可能已被回收但尚未自愈的弱引用）。
func (m *MemoryTier) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
