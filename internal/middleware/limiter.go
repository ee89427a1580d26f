package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/emandor/sketchguess/internal/config"
)

// RateLimiter caps requests per client IP on the API routes and websocket
// upgrades.
func RateLimiter(cfg *config.Config) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        cfg.RateLimitMax,
		Expiration: cfg.RateLimitWindow,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"details": "Too many requests from this IP, please try again later",
			})
		},
		Next: func(c *fiber.Ctx) bool {
			// health checks and metrics scraping are not limited
			p := c.Path()
			return !strings.HasPrefix(p, "/api/") && p != "/ws"
		},
	})
}
