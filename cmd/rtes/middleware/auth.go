package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// UserIDKey is the context key for storing the authenticated user id
	UserIDKey ContextKey = "user_id"
)

// ExtractUser decodes an optional Authorization bearer JWT with the shared
// secret and stores its subject in the request context. Requests without
// the header pass through anonymously; handlers then take the grant-based
// fallback path. A present-but-invalid token is rejected with 401.
func ExtractUser(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if header == "" {
				return next(c)
			}

			raw := strings.TrimPrefix(header, "Bearer ")
			if raw == header {
				return c.JSON(http.StatusUnauthorized, map[string]any{
					"error": "authorization header must use the Bearer scheme",
				})
			}

			token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				return c.JSON(http.StatusUnauthorized, map[string]any{
					"error": "invalid token",
				})
			}

			sub, err := token.Claims.GetSubject()
			if err != nil || sub == "" {
				return c.JSON(http.StatusUnauthorized, map[string]any{
					"error": "token missing subject",
				})
			}

			c.Set(string(UserIDKey), sub)
			return next(c)
		}
	}
}

// GetUserID retrieves the authenticated user id from the request context.
// Returns empty string for anonymous requests.
func GetUserID(c echo.Context) string {
	userID := c.Get(string(UserIDKey))
	if userID == nil {
		return ""
	}
	return userID.(string)
}
