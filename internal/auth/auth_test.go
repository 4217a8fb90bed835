package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/spec-kit/matchbot/pkg/util/errorutil"
)

func TestTokenManager_RoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", time.Hour)
	token, exp, err := tm.GenerateToken("MB-1234ABCD", "USD")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Error("expected future expiry")
	}
	claims, err := tm.ParseToken(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Reference() != "MB-1234ABCD" || claims.Currency != "USD" {
		t.Errorf("unexpected claims %+v", claims)
	}
}

func TestTokenManager_Rejects(t *testing.T) {
	tm := NewTokenManager("secret", time.Hour)
	token, _, _ := tm.GenerateToken("MB-1", "USD")

	other := NewTokenManager("other", time.Hour)
	if _, err := other.ParseToken(token); err == nil {
		t.Error("expected signature failure with a different secret")
	}

	tm.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := tm.ParseToken(token); err == nil {
		t.Error("expected expired token to be rejected")
	}

	if _, _, err := tm.GenerateToken(" ", "USD"); err == nil {
		t.Error("expected empty reference to be rejected")
	}
}

func newAdminApp(hash string) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var derr *apperrors.DomainError
			if errors.As(err, &derr) {
				return c.SendStatus(derr.HTTPStatus)
			}
			return c.SendStatus(fiber.StatusInternalServerError)
		},
	})
	app.Get("/admin", NewAdminMiddleware(hash).Handle, func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	return app
}

func TestAdminMiddleware(t *testing.T) {
	hash, err := HashKey("let-me-in", bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name string
		hash string
		key  string
		want int
	}{
		{"disabled", "", "let-me-in", http.StatusServiceUnavailable},
		{"missing", hash, "", http.StatusUnauthorized},
		{"wrong", hash, "nope", http.StatusForbidden},
		{"ok", hash, "let-me-in", http.StatusNoContent},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if c.key != "" {
				req.Header.Set(AdminKeyHeader, c.key)
			}
			resp, err := newAdminApp(c.hash).Test(req)
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != c.want {
				t.Errorf("expected %d, got %d", c.want, resp.StatusCode)
			}
		})
	}
}
