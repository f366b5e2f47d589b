package http

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"
)

type (
	requestIDCtxKey struct{}
	loggerCtxKey    struct{}
)

// RequestIDLogMiddleware moves the request ID assigned by the requestid
// middleware into the request's user context, together with a logger that
// tags every line with it. Handlers, services and repositories then reach
// both through RequestIDFromCtx and LoggerFromCtx.
func RequestIDLogMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		rid, _ := c.Locals("requestid").(string)
		if rid == "" {
			return c.Next()
		}
		c.SetUserContext(WithRequestID(c.UserContext(), rid))
		return c.Next()
	}
}

// WithRequestID returns ctx carrying rid and a logger bound to it.
func WithRequestID(ctx context.Context, rid string) context.Context {
	ctx = context.WithValue(ctx, requestIDCtxKey{}, rid)
	return context.WithValue(ctx, loggerCtxKey{}, slog.Default().With("request_id", rid))
}

// RequestIDFromCtx returns the request ID stored by RequestIDLogMiddleware,
// or "" outside a request.
func RequestIDFromCtx(ctx context.Context) string {
	rid, _ := ctx.Value(requestIDCtxKey{}).(string)
	return rid
}

// LoggerFromCtx extracts the per-request slog.Logger from a context.
// Falls back to the default logger if none is set.
func LoggerFromCtx(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
