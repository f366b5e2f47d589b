package http

import "github.com/gofiber/fiber/v2"

// APIError is a structured error response.
type APIError struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`    // Error code: bad_request, not_found, internal_error, etc.
	Message   string `json:"message"` // Human-readable message
	RequestID string `json:"request_id,omitempty"`
}

// newError builds a JSON error response carrying the request ID, so a client
// report can be matched to the server log line for the same request.
func newError(c *fiber.Ctx, status int, code string, message string) error {
	reqID := RequestIDFromCtx(c.UserContext())
	if reqID == "" {
		// Rejected before RequestIDLogMiddleware ran.
		reqID, _ = c.Locals("requestid").(string)
	}
	return c.Status(status).JSON(APIError{
		Status:    status,
		Code:      code,
		Message:   message,
		RequestID: reqID,
	})
}

// errBadRequest returns a 400 error.
func errBadRequest(c *fiber.Ctx, msg string) error {
	return newError(c, 400, "bad_request", msg)
}

// errNotFound returns a 404 error.
func errNotFound(c *fiber.Ctx, msg string) error {
	return newError(c, 404, "not_found", msg)
}

// errUnprocessable returns a 422 error.
func errUnprocessable(c *fiber.Ctx, msg string) error {
	return newError(c, 422, "unprocessable_entity", msg)
}

// errInternal returns a 500 error. The cause is logged, not sent.
func errInternal(c *fiber.Ctx, err error) error {
	LoggerFromCtx(c.UserContext()).Error("request failed", "path", c.Path(), "error", err)
	return newError(c, 500, "internal_error", "internal server error")
}
