package middleware

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// WSUpgrade lets only websocket upgrade requests through to the live guess
// endpoint; plain HTTP gets a 426 in the usual error shape.
func WSUpgrade() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{
				"error":   "upgrade_required",
				"details": "This endpoint only accepts websocket connections",
			})
		}
		return c.Next()
	}
}
