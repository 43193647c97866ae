package httpkit

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Identity is the authenticated caller as set by AuthRequired.
type Identity struct {
	UserID uuid.UUID
	Roles  []string
}

// HasRole reports whether the caller holds role.
func (i Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}

// IsAdmin reports whether the caller may use the admin routes.
func (i Identity) IsAdmin() bool {
	return i.HasRole(RoleAdmin)
}

// Actor returns the caller's id for audit columns.
func (i Identity) Actor() *uuid.UUID {
	id := i.UserID
	return &id
}

// GetIdentity extracts the Identity from a Gin context.
func GetIdentity(c *gin.Context) (Identity, bool) {
	userID, ok := c.Get(ContextUserIDKey)
	if !ok {
		return Identity{}, false
	}
	uid, ok := userID.(uuid.UUID)
	if !ok {
		return Identity{}, false
	}

	var roles []string
	if raw, ok := c.Get(ContextRolesKey); ok {
		roles, _ = raw.([]string)
	}
	return Identity{UserID: uid, Roles: roles}, true
}

// MustGetIdentity aborts with 401 when the request carries no identity.
func MustGetIdentity(c *gin.Context) (Identity, bool) {
	id, ok := GetIdentity(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}
	return id, ok
}
