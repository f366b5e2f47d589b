package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/gofiber/websocket/v2"

	"github.com/bikebuddy/server/internal/pkg/metrics"
)

const requestTimeout = 15 * time.Second

// SetupRoutes registers all REST, GraphQL, and WebSocket routes.
func SetupRoutes(app *fiber.App, deps *Dependencies) {
	// Prometheus metrics
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	// Response compression (gzip)
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	app.Use(requestid.New())
	app.Use(RequestIDLogMiddleware())
	app.Use(AccessLogMiddleware())

	// Rate limiting: 120 requests per minute per IP
	app.Use(limiter.New(limiter.Config{
		Max:        120,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		Next: func(c *fiber.Ctx) bool {
			// Long-lived session sockets and probes are not metered.
			return c.Path() == "/ws" || c.Path() == "/v1/health" || c.Path() == "/v1/ready"
		},
		LimitReached: func(c *fiber.Ctx) error {
			return newError(c, fiber.StatusTooManyRequests, "rate_limited", "too many requests, please try again later")
		},
	}))

	// Security headers + API version
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("X-API-Version", "1.0.0")
		return c.Next()
	})

	app.Use(ETagMiddleware())
	app.Use(CachingMiddleware())

	// Health & readiness (no timeout, fast internal checks)
	app.Get("/v1/health", HealthHandler(deps))
	app.Get("/v1/ready", ReadyHandler(deps))

	v1 := app.Group("/v1")
	v1.Get("/pois", timeout.NewWithContext(ListPOIsHandler(deps), requestTimeout))
	v1.Get("/pois/diff", timeout.NewWithContext(RegionDiffHandler(deps), requestTimeout))
	v1.Get("/pois/nearby", timeout.NewWithContext(NearbyPOIsHandler(deps), requestTimeout))
	v1.Get("/pois/geojson", timeout.NewWithContext(GeoJSONHandler(deps), requestTimeout))
	v1.Get("/pois/:id", timeout.NewWithContext(GetPOIHandler(deps), requestTimeout))
	v1.Get("/categories", timeout.NewWithContext(CategoriesHandler(deps), requestTimeout))
	v1.Post("/routes/adjacent", timeout.NewWithContext(AdjacentRouteHandler(deps), requestTimeout))

	app.Post("/graphql", timeout.NewWithContext(GraphQLHandler(deps), requestTimeout))

	// API documentation (Swagger UI)
	SetupDocs(app)

	// WebSocket sessions
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(WebSocketHandler(deps)))
}
