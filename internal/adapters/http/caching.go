package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// CachingMiddleware sets Cache-Control on GET responses that did not set one.
// Point data only changes on ingest, so list endpoints cache for minutes.
func CachingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		if c.Method() != fiber.MethodGet {
			return err
		}
		if c.Response().StatusCode() >= 400 {
			c.Set("Cache-Control", "no-store")
			return err
		}
		if existing := c.GetRespHeader("Cache-Control"); existing != "" {
			return err
		}

		if ttl := cacheControlFor(c.Path()); ttl != "" {
			c.Set("Cache-Control", ttl)
		}
		return err
	}
}

func cacheControlFor(path string) string {
	switch {
	case path == "/v1/health" || path == "/v1/ready":
		return "no-cache"
	case path == "/metrics" || path == "/ws":
		return "no-store"
	case path == "/v1/categories":
		return "public, max-age=3600"
	case strings.HasPrefix(path, "/v1/pois/"):
		return "public, max-age=600"
	case strings.HasPrefix(path, "/v1/"):
		return "public, max-age=120"
	}
	return ""
}
