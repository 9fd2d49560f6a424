package auth

import (
	"net/http"
	"slices"
	"time"

	"ecodeli-delivery/internal/models"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
)

const (
	tokenKey    = "user"
	userIDKey   = "userID"
	userRoleKey = "userRole"
)

// JWT verifies the bearer token and stores the parsed *jwt.Token in the context.
func JWT(secret string) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		SigningKey:    []byte(secret),
		SigningMethod: echojwt.AlgorithmHS256,
		ContextKey:    tokenKey,
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return new(models.Claims)
		},
	})
}

// Identify copies subject and role from the verified token into the context.
// It must run after JWT.
func Identify(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, ok := c.Get(tokenKey).(*jwt.Token)
		if !ok {
			return c.JSON(http.StatusUnauthorized, models.ErrorResponse{Message: "missing token"})
		}
		claims, ok := token.Claims.(*models.Claims)
		if !ok || claims.Subject == "" {
			return c.JSON(http.StatusUnauthorized, models.ErrorResponse{Message: "invalid token claims"})
		}
		c.Set(userIDKey, claims.Subject)
		c.Set(userRoleKey, claims.Role)
		return next(c)
	}
}

// IdentityFrom returns the authenticated caller set by Identify.
func IdentityFrom(c echo.Context) (models.Identity, bool) {
	userID, _ := c.Get(userIDKey).(string)
	role, _ := c.Get(userRoleKey).(string)
	if userID == "" {
		return models.Identity{}, false
	}
	return models.Identity{UserID: userID, Role: role}, true
}

// WithIdentity sets the caller directly; used by tests and internal callers.
func WithIdentity(c echo.Context, id models.Identity) {
	c.Set(userIDKey, id.UserID)
	c.Set(userRoleKey, id.Role)
}

// RequireRole rejects callers whose role is not listed.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := IdentityFrom(c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, models.ErrorResponse{Message: "authentication required"})
			}
			if !slices.Contains(roles, id.Role) {
				return c.JSON(http.StatusForbidden, models.ErrorResponse{Message: "Access denied"})
			}
			return next(c)
		}
	}
}

// IssueToken signs an HS256 token for userID with the given role.
func IssueToken(secret, userID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := models.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
