package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultRecheckAge 是条目无需远端确认即可直接复用的最大年龄。
const DefaultRecheckAge = 24 * time.Hour

// DefaultExpirationAge 是过期清扫无条件删除条目的年龄阈值。
const DefaultExpirationAge = 30 * 24 * time.Hour

const tempFilePattern = ".webimage-*"

// NewDiskTier 以 dir 为根目录构建磁盘缓存，整个进程复用一份实例。
// recheckAge 不为正时回退到 DefaultRecheckAge。
func NewDiskTier(dir string, recheckAge time.Duration, logger *logrus.Logger) (*DiskTier, error) {
	if dir == "" {
		return nil, errors.New("cache directory required")
	}
	if logger == nil {
		return nil, errors.New("logger required")
	}
	if recheckAge <= 0 {
		recheckAge = DefaultRecheckAge
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve cache directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	return &DiskTier{
		dir:        abs,
		recheckAge: recheckAge,
		logger:     logger,
		now:        time.Now,
		locks:      make(map[string]*entryLock),
	}, nil
}

// DiskTier 将编码载荷持久化为 <dir>/<key> 文件，文件 ModTime 即条目的
// 全部新鲜度状态。同键写入通过 entryLock 串行化；不同键互不阻塞。
type DiskTier struct {
	dir        string
	recheckAge time.Duration
	logger     *logrus.Logger
	now        func() time.Time

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// Exists 仅检查条目文件是否存在，不隐含任何新鲜度判断。
func (d *DiskTier) Exists(key string) bool {
	path, err := d.entryPath(key)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Get 读取条目并执行年龄分支：
//
//   - 年龄 ≤ recheckAge：直接返回存储字节。
//   - 年龄 > recheckAge：委托 validator 确认；远端失效时刻在未来则返回
//     字节并用 Chtimes 把 ModTime 刷新为当前时刻（刷新失败仅记录，下次
//     访问多付一次确认往返，不影响正确性）；已失效则返回 ErrExpired，
//     文件保留；确认失败原样传播，调用方回退到完整重新下载。
//
// 条目不存在返回 ErrNotFound。
func (d *DiskTier) Get(ctx context.Context, key, identifier string, validator Validator) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	path, err := d.entryPath(key)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat cache entry: %w", err)
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	now := d.now()
	if age := now.Sub(info.ModTime()); age > d.recheckAge {
		if validator == nil {
			return nil, ErrExpired
		}
		validUntil, err := validator.ValidUntil(ctx, identifier)
		if err != nil {
			return nil, fmt.Errorf("revalidate cache entry: %w", err)
		}
		if !validUntil.After(now) {
			return nil, ErrExpired
		}
		// 远端确认内容仍然有效，仅刷新时间戳，不重写正文。
		if err := os.Chtimes(path, now, now); err != nil {
			d.logger.WithError(err).WithFields(logrus.Fields{
				"action": "cache_renew",
				"key":    key,
			}).Debug("timestamp renewal failed")
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cache entry: %w", err)
	}
	return data, nil
}

// Put 将载荷写入条目文件。写入流程为临时文件 → Sync → Rename，保证
// 失败时已有条目原样保留；成功返回写入字节数。
func (d *DiskTier) Put(ctx context.Context, key string, body io.Reader) (int64, error) {
	path, err := d.entryPath(key)
	if err != nil {
		return 0, err
	}

	unlock := d.lockEntry(key)
	defer unlock()

	tempFile, err := os.CreateTemp(d.dir, tempFilePattern)
	if err != nil {
		return 0, fmt.Errorf("create temp entry: %w", err)
	}
	tempName := tempFile.Name()

	written, err := copyWithContext(ctx, tempFile, body)
	if err == nil {
		err = tempFile.Sync()
	}
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return 0, fmt.Errorf("write cache entry: %w", err)
	}

	if err := os.Rename(tempName, path); err != nil {
		os.Remove(tempName)
		return 0, fmt.Errorf("publish cache entry: %w", err)
	}
	return written, nil
}

// Remove 删除条目文件，不存在时视为成功。
func (d *DiskTier) Remove(key string) error {
	path, err := d.entryPath(key)
	if err != nil {
		return err
	}

	unlock := d.lockEntry(key)
	defer unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Sweep 遍历全部条目，删除年龄超过 maxAge 的文件并返回删除数量。
// 单个文件的删除失败只记录并跳过，清扫继续执行。
func (d *DiskTier) Sweep(maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = DefaultExpirationAge
	}

	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return 0, fmt.Errorf("list cache directory: %w", err)
	}

	now := d.now()
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			d.logger.WithError(err).WithFields(logrus.Fields{
				"action": "cache_sweep",
				"entry":  entry.Name(),
			}).Warn("stat failed, skipping")
			continue
		}
		if now.Sub(info.ModTime()) <= maxAge {
			continue
		}
		if err := os.Remove(filepath.Join(d.dir, entry.Name())); err != nil {
			d.logger.WithError(err).WithFields(logrus.Fields{
				"action": "cache_sweep",
				"entry":  entry.Name(),
			}).Warn("delete failed, skipping")
			continue
		}
		removed++
	}
	return removed, nil
}

// Stats 统计当前条目数量与占用字节，供诊断接口使用。
func (d *DiskTier) Stats() DiskStats {
	stats := DiskStats{}
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return stats
	}
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		stats.Entries++
		stats.Bytes += info.Size()
	}
	return stats
}

func (d *DiskTier) lockEntry(key string) func() {
	d.mu.Lock()
	lock := d.locks[key]
	if lock == nil {
		lock = &entryLock{}
		d.locks[key] = lock
	}
	lock.refs++
	d.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		d.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(d.locks, key)
		}
		d.mu.Unlock()
	}
}

// entryPath 将缓存键映射为条目文件路径，拒绝可能逃逸缓存目录的键。
func (d *DiskTier) entryPath(key string) (string, error) {
	if key == "" {
		return "", errors.New("cache key required")
	}
	if strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") {
		return "", fmt.Errorf("invalid cache key: %s", key)
	}
	return filepath.Join(d.dir, key), nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
