// Package downloader implements the HTTP collaborator consumed by the image
// loader: a full-payload fetch that persists straight into the disk tier, and
// a metadata-only freshness probe that never transfers the body. Both share
// one tuned transport so connection reuse and timeouts stay consistent.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/webimage/webimage/internal/cache"
)

// ErrHostNotAllowed 表示目标主机不在配置的抓取白名单内。
var ErrHostNotAllowed = errors.New("host not allowed")

// ErrPayloadTooLarge 表示远端载荷超出 MaxBytes 限制。
var ErrPayloadTooLarge = errors.New("payload exceeds size limit")

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// Options 控制下载器的超时、载荷上限与可选主机白名单。
type Options struct {
	Timeout      time.Duration
	MaxBytes     int64
	AllowedHosts []string
}

// New 构建 HTTP 下载器，写入路径固定指向注入的磁盘缓存。
func New(disk *cache.DiskTier, logger *logrus.Logger, opts Options) *HTTP {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var allowed map[string]struct{}
	if len(opts.AllowedHosts) > 0 {
		allowed = make(map[string]struct{}, len(opts.AllowedHosts))
		for _, host := range opts.AllowedHosts {
			host = strings.ToLower(strings.TrimSpace(host))
			if host != "" {
				allowed[host] = struct{}{}
			}
		}
	}

	return &HTTP{
		client: &http.Client{
			Timeout:   timeout,
			Transport: defaultTransport.Clone(),
		},
		disk:     disk,
		logger:   logger,
		maxBytes: opts.MaxBytes,
		allowed:  allowed,
	}
}

// HTTP 通过共享 http.Client 抓取远端图片并落盘，同时实现新鲜度探测。
type HTTP struct {
	client   *http.Client
	disk     *cache.DiskTier
	logger   *logrus.Logger
	maxBytes int64
	allowed  map[string]struct{}
}

// FetchAndStore 抓取完整载荷并通过磁盘缓存的原子写入落盘。
// 成功返回后，针对同一键的 DiskTier.Get 必然命中。
func (d *HTTP) FetchAndStore(ctx context.Context, key, rawURL string) error {
	target, err := d.checkURL(rawURL)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return fmt.Errorf("build fetch request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("fetch %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	body := resp.Body
	if d.maxBytes > 0 {
		if resp.ContentLength > d.maxBytes {
			return fmt.Errorf("fetch %s: %w (%d bytes)", rawURL, ErrPayloadTooLarge, resp.ContentLength)
		}
		body = http.MaxBytesReader(nil, resp.Body, d.maxBytes)
	}

	written, err := d.disk.Put(ctx, key, body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("fetch %s: %w", rawURL, ErrPayloadTooLarge)
		}
		return fmt.Errorf("store %s: %w", rawURL, err)
	}

	d.logger.WithFields(logrus.Fields{
		"action": "image_fetch",
		"url":    rawURL,
		"key":    key,
		"bytes":  written,
	}).Debug("payload stored")
	return nil
}

// ValidUntil 发起元数据探测（HEAD），返回远端声称的内容失效时刻。
// 依次采用 Expires 头、Cache-Control max-age + Date；两者都缺失时返回
// 零值时刻，调用方会将其视为已失效。传输失败与非 2xx 状态码原样报错。
func (d *HTTP) ValidUntil(ctx context.Context, rawURL string) (time.Time, error) {
	target, err := d.checkURL(rawURL)
	if err != nil {
		return time.Time{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target.String(), nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("build probe request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return time.Time{}, fmt.Errorf("probe %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return time.Time{}, fmt.Errorf("probe %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	if expires := resp.Header.Get("Expires"); expires != "" {
		if instant, err := http.ParseTime(expires); err == nil {
			return instant, nil
		}
	}

	if maxAge, ok := parseMaxAge(resp.Header.Get("Cache-Control")); ok {
		base := time.Now()
		if date := resp.Header.Get("Date"); date != "" {
			if parsed, err := http.ParseTime(date); err == nil {
				base = parsed
			}
		}
		return base.Add(maxAge), nil
	}

	return time.Time{}, nil
}

// checkURL 校验 scheme 与白名单；白名单为空时放行所有主机。
func (d *HTTP) checkURL(rawURL string) (*url.URL, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", target.Scheme)
	}
	if target.Host == "" {
		return nil, fmt.Errorf("url missing host: %s", rawURL)
	}
	if d.allowed != nil {
		if _, ok := d.allowed[strings.ToLower(target.Hostname())]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrHostNotAllowed, target.Hostname())
		}
	}
	return target, nil
}

func parseMaxAge(cacheControl string) (time.Duration, bool) {
	for _, directive := range strings.Split(cacheControl, ",") {
		directive = strings.TrimSpace(directive)
		value, ok := strings.CutPrefix(directive, "max-age=")
		if !ok {
			continue
		}
		seconds, err := strconv.ParseInt(value, 10, 64)
		if err != nil || seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	return 0, false
}
