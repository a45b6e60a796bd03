package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
)

const (
	UserContextKey    = "userID"
	SessionContextKey = "sessionID"

	UserIDHeader    = "X-User-ID"
	SessionIDHeader = "X-Session-ID"

	maxSessionIDLen = 128
)

// AuthMiddleware requires an operator identity. A bearer token is verified
// against jwtSecret when one is configured; otherwise the identity set by
// the upstream gateway in X-User-ID is used.
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	secret := []byte(strings.TrimSpace(jwtSecret))

	return func(c *gin.Context) {
		if tokenStr, ok := bearerToken(c); ok && len(secret) > 0 {
			userID, err := operatorFromToken(tokenStr, secret)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
				return
			}
			c.Set(UserContextKey, userID)
			c.Next()
			return
		}

		userID := c.GetHeader(UserIDHeader)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Set(UserContextKey, userID)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	h := c.GetHeader("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	return tok, tok != ""
}

// operatorFromToken validates an HMAC-signed token and returns its subject.
func operatorFromToken(tokenStr string, secret []byte) (string, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || token == nil || !token.Valid {
		return "", fmt.Errorf("invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid token claims")
	}
	for _, key := range []string{"user_id", "sub"} {
		if id, ok := claims[key].(string); ok && id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("token has no subject")
}

func GetUserID(c *gin.Context) (string, error) {
	if val, ok := c.Get(UserContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id, nil
		}
	}
	return "", errors.New("user ID not found in context")
}

// SessionMiddleware requires a cashier session id. Each session owns one cart.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := strings.TrimSpace(c.GetHeader(SessionIDHeader))
		if sessionID == "" || len(sessionID) > maxSessionIDLen {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "X-Session-ID header is required"})
			return
		}
		c.Set(SessionContextKey, sessionID)
		c.Next()
	}
}

// GetSessionID returns the session set by SessionMiddleware, falling back to
// the raw header on routes where a session is optional.
func GetSessionID(c *gin.Context) string {
	if val, ok := c.Get(SessionContextKey); ok {
		if id, ok := val.(string); ok {
			return id
		}
	}
	sessionID := strings.TrimSpace(c.GetHeader(SessionIDHeader))
	if len(sessionID) > maxSessionIDLen {
		return ""
	}
	return sessionID
}
