package v1

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const (
	userIDContextKey = "user_id"

	// AccessTokenDuration is the lifetime of issued access tokens.
	AccessTokenDuration = 7 * 24 * time.Hour

	tokenIssuer = "recall"
)

// GenerateAccessToken signs a JWT for the given user.
func GenerateAccessToken(userID int32, secret string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   strconv.FormatInt(int64(userID), 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(AccessTokenDuration)),
	})
	return token.SignedString([]byte(secret))
}

// JWTMiddleware authenticates requests with a bearer token and stores the
// user ID in the echo context.
func JWTMiddleware(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || tokenString == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing access token")
			}

			claims := &jwt.RegisteredClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid access token")
			}

			userID, err := strconv.ParseInt(claims.Subject, 10, 32)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid access token subject")
			}

			c.Set(userIDContextKey, int32(userID))
			return next(c)
		}
	}
}

func currentUserID(c echo.Context) int32 {
	if id, ok := c.Get(userIDContextKey).(int32); ok {
		return id
	}
	return 0
}
