package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/webimage/webimage/internal/cache"
	"github.com/webimage/webimage/internal/imaging"
)

// Downloader 是加载链路消费的外部抓取器：FetchAndStore 负责完整下载并
// 落盘（成功后同键的磁盘读取必然命中），ValidUntil 仅做元数据探测。
// 任何实现同时满足 cache.Validator。
type Downloader interface {
	FetchAndStore(ctx context.Context, key, identifier string) error
	ValidUntil(ctx context.Context, identifier string) (time.Time, error)
}

// Request 描述一次图片加载：来源 URL、解码选项，以及成功后是否晋升到
// 内存层。每次调用临时构造，不持久化。
type Request struct {
	URL           string
	Options       imaging.Options
	CacheInMemory bool
}

// Stats 汇总两级缓存的当前状态，供诊断接口输出。
type Stats struct {
	MemoryEntries int             `json:"memory_entries"`
	Disk          cache.DiskStats `json:"disk"`
}

// NewService 组装两级缓存、下载器与解码器。decoder 为 nil 时使用标准库实现。
func NewService(memory *cache.MemoryTier, disk *cache.DiskTier, dl Downloader, decoder imaging.Decoder, logger *logrus.Logger) (*Service, error) {
	if memory == nil || disk == nil {
		return nil, errors.New("both cache tiers are required")
	}
	if dl == nil {
		return nil, errors.New("downloader is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if decoder == nil {
		decoder = imaging.StdDecoder{}
	}
	return &Service{
		memory:     memory,
		disk:       disk,
		downloader: dl,
		decoder:    decoder,
		logger:     logger,
	}, nil
}

// Service 实现加载链路：内存 → 磁盘（含新鲜度确认）→ 完整下载 → 磁盘
// 重读 → 可选内存晋升。同键的并发下载经 singleflight 合并为一次抓取。
type Service struct {
	memory     *cache.MemoryTier
	disk       *cache.DiskTier
	downloader Downloader
	decoder    imaging.Decoder
	logger     *logrus.Logger
	group      singleflight.Group
}

// Load 执行完整加载链路并返回解码后的图像。查找阶段的解码/读取失败
// 记录日志后按 miss 继续；重新下载之后的失败则原样上报，调用方始终能
// 区分"成功"与"不可用"。
func (s *Service) Load(ctx context.Context, req Request) (*imaging.Image, error) {
	key := cache.DeriveKey(req.URL)

	// 即使调用方不要求内存缓存，也先查内存：查找开销极低。
	if img, ok := s.memory.Get(key); ok {
		return img, nil
	}

	if payload, ok := s.lookupDisk(ctx, key, req.URL); ok {
		img, err := s.decoder.Decode(payload, req.Options)
		if err == nil {
			s.promote(key, req, img)
			return img, nil
		}
		// 有缓存但不可读，与"无缓存"区分开便于诊断；随后按 miss 重新抓取。
		s.logger.WithError(err).WithFields(logrus.Fields{
			"action": "cache_decode",
			"url":    req.URL,
			"key":    key,
		}).Warn("cached payload undecodable")
	}

	if err := s.download(ctx, key, req.URL); err != nil {
		return nil, err
	}

	payload, err := s.disk.Get(ctx, key, req.URL, s.downloader)
	if err != nil {
		return nil, fmt.Errorf("read freshly stored entry %s: %w", req.URL, err)
	}
	img, err := s.decoder.Decode(payload, req.Options)
	if err != nil {
		return nil, fmt.Errorf("decode freshly stored entry %s: %w", req.URL, err)
	}
	s.promote(key, req, img)
	return img, nil
}

// LoadEncoded 返回编码载荷本身，供 HTTP 层直接回写响应体。遵循同一条
// 查找链，但跳过内存层（内存层只存解码结果）。第二个返回值标记是否命中
// 磁盘缓存。
func (s *Service) LoadEncoded(ctx context.Context, url string) ([]byte, bool, error) {
	key := cache.DeriveKey(url)

	if payload, ok := s.lookupDisk(ctx, key, url); ok {
		return payload, true, nil
	}

	if err := s.download(ctx, key, url); err != nil {
		return nil, false, err
	}

	payload, err := s.disk.Get(ctx, key, url, s.downloader)
	if err != nil {
		return nil, false, fmt.Errorf("read freshly stored entry %s: %w", url, err)
	}
	return payload, false, nil
}

// IsCached 报告该 URL 是否已有磁盘条目，不隐含新鲜度判断。
func (s *Service) IsCached(url string) bool {
	return s.disk.Exists(cache.DeriveKey(url))
}

// ClearMemoryCache 清空内存层全部条目，供内存压力信号或显式重置调用。
func (s *Service) ClearMemoryCache() {
	s.memory.Clear()
	s.logger.WithField("action", "memory_clear").Info("memory cache emptied")
}

// SweepExpired 触发一次磁盘过期清扫，maxAge 不为正时使用默认过期年龄。
func (s *Service) SweepExpired(maxAge time.Duration) (int, error) {
	removed, err := s.disk.Sweep(maxAge)
	fields := logrus.Fields{
		"action":  "cache_sweep",
		"removed": removed,
	}
	if err != nil {
		s.logger.WithError(err).WithFields(fields).Warn("sweep failed")
		return removed, err
	}
	s.logger.WithFields(fields).Info("sweep finished")
	return removed, nil
}

// SaveToDiskCache 将编码载荷直接写入磁盘条目，覆盖旧内容。
func (s *Service) SaveToDiskCache(ctx context.Context, key string, payload []byte) error {
	_, err := s.disk.Put(ctx, key, bytes.NewReader(payload))
	return err
}

// Stats 汇报两级缓存的当前状态。
func (s *Service) Stats() Stats {
	return Stats{
		MemoryEntries: s.memory.Len(),
		Disk:          s.disk.Stats(),
	}
}

// lookupDisk 查询磁盘层并把查找阶段的失败折叠成 miss。ErrNotFound 与
// ErrExpired 静默跳过；读取/确认失败记录日志后同样按 miss 处理，交由
// 完整下载兜底。
func (s *Service) lookupDisk(ctx context.Context, key, url string) ([]byte, bool) {
	payload, err := s.disk.Get(ctx, key, url, s.downloader)
	switch {
	case err == nil:
		return payload, true
	case errors.Is(err, cache.ErrNotFound), errors.Is(err, cache.ErrExpired):
		return nil, false
	default:
		s.logger.WithError(err).WithFields(logrus.Fields{
			"action": "cache_get",
			"url":    url,
			"key":    key,
		}).Warn("disk lookup failed, falling back to fetch")
		return nil, false
	}
}

// download 合并同键并发抓取：同一键的多个等待方共享一次 FetchAndStore。
func (s *Service) download(ctx context.Context, key, url string) error {
	_, err, _ := s.group.Do(key, func() (interface{}, error) {
		return nil, s.downloader.FetchAndStore(ctx, key, url)
	})
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	return nil
}

// promote 按请求意愿把解码结果放入内存层。仅晋升完整解码：ConfigOnly
// 的结果缺少像素，放进去会污染后续完整加载。
func (s *Service) promote(key string, req Request, img *imaging.Image) {
	if !req.CacheInMemory || req.Options.ConfigOnly {
		return
	}
	s.memory.Put(key, img)
}
