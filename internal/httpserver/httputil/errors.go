package httputil

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// WriteError standardizes JSON error responses across the API and portal
// surfaces.
func WriteError(c *fiber.Ctx, status int, msg string) error {
	if msg == "" {
		msg = http.StatusText(status)
		if msg == "" {
			msg = "unknown error"
		}
	}
	return c.Status(status).JSON(fiber.Map{
		"error": msg,
	})
}

// WriteRateLimited emits the 429 body. The X-RateLimit-* and Retry-After
// headers are set by the admission middleware before this is called.
func WriteRateLimited(c *fiber.Ctx, retryAfter int) error {
	return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
		"error":      "Too many requests, please try again later.",
		"retryAfter": retryAfter,
	})
}
