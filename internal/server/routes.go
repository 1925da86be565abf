package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/webimage/webimage/internal/cache"
	"github.com/webimage/webimage/internal/imaging"
	"github.com/webimage/webimage/internal/logging"
)

// registerImageRoutes 注册 /image 读取路由：经两级缓存把远端图片载荷
// 回写给调用方，命中状态通过 X-Webimage-Cache 头暴露。
func registerImageRoutes(app *fiber.App, opts AppOptions) {
	handler := func(c fiber.Ctx) error {
		url := strings.TrimSpace(c.Query("url"))
		if url == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "url_required"})
		}

		ctx := c.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		started := time.Now()
		payload, hit, err := opts.Service.LoadEncoded(ctx, url)
		key := cache.DeriveKey(url)
		fields := logging.RequestFields(url, key, hit)
		fields["request_id"] = RequestID(c)
		fields["elapsed_ms"] = time.Since(started).Milliseconds()

		if err != nil {
			opts.Logger.WithError(err).WithFields(fields).Warn("image fetch failed")
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "fetch_failed"})
		}
		opts.Logger.WithFields(fields).Info("image served")

		if contentType := imaging.SniffContentType(payload); contentType != "" {
			c.Set("Content-Type", contentType)
		}
		c.Set("X-Webimage-Cache", cacheHitHeader(hit))
		c.Response().Header.SetContentLength(len(payload))
		c.Status(fiber.StatusOK)

		if c.Method() == http.MethodHead {
			return nil
		}
		return c.Send(payload)
	}

	app.Get("/image", handler)
	app.Head("/image", handler)
}

// registerOpsRoutes 注册 /-/ 前缀下的诊断与运维接口。
func registerOpsRoutes(app *fiber.App, opts AppOptions) {
	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/-/stats", func(c fiber.Ctx) error {
		return c.JSON(opts.Service.Stats())
	})

	app.Get("/-/cached", func(c fiber.Ctx) error {
		url := strings.TrimSpace(c.Query("url"))
		if url == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "url_required"})
		}
		return c.JSON(fiber.Map{
			"url":    url,
			"cached": opts.Service.IsCached(url),
		})
	})

	app.Post("/-/sweep", func(c fiber.Ctx) error {
		maxAge := opts.ExpirationAge
		if raw := strings.TrimSpace(c.Query("max_age")); raw != "" {
			parsed, err := time.ParseDuration(raw)
			if err != nil || parsed <= 0 {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_max_age"})
			}
			maxAge = parsed
		}

		removed, err := opts.Service.SweepExpired(maxAge)
		if err != nil {
			opts.Logger.WithError(err).WithFields(logrus.Fields{
				"action":     "cache_sweep",
				"request_id": RequestID(c),
			}).Warn("sweep failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "sweep_failed"})
		}
		return c.JSON(fiber.Map{"removed": removed})
	})

	app.Post("/-/memory/clear", func(c fiber.Ctx) error {
		opts.Service.ClearMemoryCache()
		return c.JSON(fiber.Map{"status": "cleared"})
	})
}

func cacheHitHeader(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}
