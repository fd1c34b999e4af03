package middleware

import (
	"crypto/subtle"

	"github.com/ads-marketplace/deal-engine/internal/http/dto"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const HeaderInternalToken = "X-Internal-Token"

// InternalTokenMiddleware guards service-to-service routes with a shared token. An empty token
// disables the check.
func InternalTokenMiddleware(token string, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token == "" {
			return c.Next()
		}

		got := c.Get(HeaderInternalToken)
		if got == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "missing internal token"})
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			log.Debug("internal token mismatch", zap.String("path", c.Path()), zap.String("ip", c.IP()))
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "invalid internal token"})
		}

		return c.Next()
	}
}
