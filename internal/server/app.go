package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/webimage/webimage/internal/loader"
)

// ImageService describes the loader surface the HTTP layer depends on. It
// allows injecting fake services during tests.
type ImageService interface {
	LoadEncoded(ctx context.Context, url string) ([]byte, bool, error)
	IsCached(url string) bool
	ClearMemoryCache()
	SweepExpired(maxAge time.Duration) (int, error)
	Stats() loader.Stats
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger        *logrus.Logger
	Service       ImageService
	ListenPort    int
	ExpirationAge time.Duration
}

const contextKeyRequestID = "_webimage_request_id"

// NewApp builds the Fiber application with request-ID middleware, the image
// route and the /-/ diagnostics routes.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Service == nil {
		return nil, errors.New("image service is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	registerImageRoutes(app, opts)
	registerOpsRoutes(app, opts)

	return app, nil
}

// requestIDMiddleware 为每个请求生成 UUID 并写入响应头，便于日志串联。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID 读取中间件写入的请求 ID，缺失时返回空串。
func RequestID(c fiber.Ctx) string {
	if id, ok := c.Locals(contextKeyRequestID).(string); ok {
		return id
	}
	return ""
}
