package auth

import (
	"github.com/gofiber/fiber/v2"

	apperrors "github.com/spec-kit/support-desk/pkg/util/errorutil"
)

// RequireStaff ensures the actor's session carries the staff capability.
func RequireStaff() fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := ActorFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if !actor.IsStaff {
			return apperrors.NewForbidden("staff capability required")
		}
		return c.Next()
	}
}
