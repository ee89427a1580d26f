package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/emandor/sketchguess/internal/telemetry"
)

const ReqIDKey = "reqID"

// RequestID reuses an inbound X-Request-ID or mints one, and carries it in
// the user context so provider logs can be correlated with the request.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		rid := c.Get(fiber.HeaderXRequestID)
		if rid == "" || len(rid) > 64 {
			rid = uuid.New().String()
		}
		c.Set(fiber.HeaderXRequestID, rid)
		c.Locals(ReqIDKey, rid)
		c.SetUserContext(telemetry.WithRequestID(c.UserContext(), rid))
		return c.Next()
	}
}
