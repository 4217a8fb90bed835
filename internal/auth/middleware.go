package auth

import (
	"github.com/gofiber/fiber/v2"

	apperrors "github.com/spec-kit/matchbot/pkg/util/errorutil"
)

// AdminKeyHeader carries the operator key.
const AdminKeyHeader = "X-Admin-Key"

// AdminMiddleware guards operator endpoints with a bcrypt-hashed shared key.
type AdminMiddleware struct {
	keyHash string
}

// NewAdminMiddleware constructs middleware. An empty hash disables the admin API.
func NewAdminMiddleware(keyHash string) *AdminMiddleware {
	return &AdminMiddleware{keyHash: keyHash}
}

// Handle enforces the admin key.
func (m *AdminMiddleware) Handle(c *fiber.Ctx) error {
	if m.keyHash == "" {
		return apperrors.NewServiceUnavailable("admin api disabled", nil)
	}
	key := c.Get(AdminKeyHeader)
	if key == "" {
		return apperrors.NewUnauthorized("missing admin key")
	}
	if err := CompareKey(m.keyHash, key); err != nil {
		return apperrors.NewForbidden("invalid admin key")
	}
	return c.Next()
}
