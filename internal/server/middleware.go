package server

import (
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// anonymousSubject identifies unauthenticated callers for usage accounting.
const anonymousSubject = "anonymous"

// withAuth validates a JWT from the Authorization header or auth cookie and
// stores the subject on the context. When allowAnonymous is set, requests
// without a token pass through under the shared anonymous subject.
func withAuth(next echo.HandlerFunc, secret []byte, allowAnonymous bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		tok := extractToken(c)
		if tok == "" {
			if allowAnonymous {
				c.Set("subject", anonymousSubject)
				return next(c)
			}
			return echo.NewHTTPError(http.StatusUnauthorized, "missing token")
		}
		parsed, err := jwt.Parse(tok, func(t *jwt.Token) (interface{}, error) { return secret, nil })
		if err != nil || !parsed.Valid {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
		if claims, ok := parsed.Claims.(jwt.MapClaims); ok {
			if sub, ok := claims["sub"].(string); ok && sub != "" {
				c.Set("subject", sub)
				return next(c)
			}
		}
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
}

func extractToken(c echo.Context) string {
	if h := c.Request().Header.Get("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
		return h[7:]
	}
	if ck, err := c.Cookie("auth"); err == nil {
		return ck.Value
	}
	return ""
}

// subject returns the accounting subject set by withAuth, defaulting to
// anonymous for unauthenticated routes.
func subject(c echo.Context) string {
	if s, ok := c.Get("subject").(string); ok && s != "" {
		return s
	}
	return anonymousSubject
}
