package middleware

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ManuelReschke/marketsub/internal/pkg/usercontext"
)

var (
	errMissingToken = errors.New("missing bearer token")
	errNoUserClaim  = errors.New("token carries no user_id")
)

// JWTAuth authenticates marketplace users by an HS256 bearer token whose
// user_id claim names the user. The token is issued by the identity service
// sharing the secret.
func JWTAuth(secret string) fiber.Handler {
	key := []byte(secret)
	return func(c *fiber.Ctx) error {
		if len(key) == 0 {
			log.Error("[Auth] JWT_SECRET is not configured, rejecting user request")
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error":   "auth_unavailable",
				"message": "authentication is not configured",
			})
		}

		token := extractBearerToken(c)
		uc, err := ParseUserToken(token, key)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": err.Error(),
			})
		}
		usercontext.Set(c, uc)
		return c.Next()
	}
}

// ParseUserToken validates token and builds the caller's context.
func ParseUserToken(token string, key []byte) (usercontext.UserContext, error) {
	if token == "" {
		return usercontext.UserContext{}, errMissingToken
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		return usercontext.UserContext{}, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return usercontext.UserContext{}, errors.New("invalid token")
	}

	userID, err := uintClaim(claims["user_id"])
	if err != nil {
		return usercontext.UserContext{}, err
	}
	email, _ := claims["email"].(string)
	return usercontext.UserContext{
		UserID:     userID,
		Email:      email,
		IsLoggedIn: true,
	}, nil
}

func uintClaim(v interface{}) (uint, error) {
	// MapClaims decodes JSON numbers as float64.
	f, ok := v.(float64)
	if !ok || f <= 0 || f > math.MaxUint32 || f != math.Trunc(f) {
		return 0, errNoUserClaim
	}
	return uint(f), nil
}

func extractBearerToken(c *fiber.Ctx) string {
	auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
