package httpkit

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"estate_crm_backend/platform/config"
	"estate_crm_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// ContextUserIDKey is the gin context key for the authenticated user ID.
	ContextUserIDKey = "userID"
	// ContextRolesKey is the gin context key for the user's roles.
	ContextRolesKey = "roles"

	// RoleAdmin may reassign leads, resolve unreachable leads and trigger sweeps.
	RoleAdmin = "admin"

	tokenTypeAccess = "access"
	bearerPrefix    = "Bearer "
)

var (
	errMissingToken = errors.New("missing token")
	errInvalidToken = errors.New("invalid token")
)

// accessClaims is the payload of tokens issued by the identity provider.
type accessClaims struct {
	Type  string   `json:"type"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// AuthRequired accepts HMAC-signed access tokens from the Authorization
// header and stores the caller's id and roles on the context.
func AuthRequired(cfg config.JWTConfig) gin.HandlerFunc {
	secret := []byte(cfg.GetJWTAccessSecret())
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))

	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortUnauthorized(c, errMissingToken)
			return
		}

		userID, roles, err := verifyAccessToken(parser, secret, raw)
		if err != nil {
			abortUnauthorized(c, errInvalidToken)
			return
		}

		c.Set(ContextUserIDKey, userID)
		c.Set(ContextRolesKey, roles)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), logger.UserIDKey, userID.String()))
		c.Next()
	}
}

// RequireRole rejects callers that do not hold role.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := GetIdentity(c)
		if !ok || !slices.Contains(id.Roles, role) {
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{Error: "forbidden", Code: "forbidden"})
			return
		}
		c.Next()
	}
}

func verifyAccessToken(parser *jwt.Parser, secret []byte, raw string) (uuid.UUID, []string, error) {
	claims := &accessClaims{}
	token, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil || !token.Valid {
		return uuid.Nil, nil, errInvalidToken
	}
	if claims.Type != tokenTypeAccess {
		return uuid.Nil, nil, errInvalidToken
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, nil, errInvalidToken
	}

	roles := claims.Roles
	if roles == nil {
		roles = []string{}
	}
	return userID, roles, nil
}

func bearerToken(header string) (string, bool) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", false
	}
	raw := strings.TrimSpace(header[len(bearerPrefix):])
	return raw, raw != ""
}

func abortUnauthorized(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: err.Error(), Code: "unauthorized"})
}
