package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// RoleAdmin on a token makes the caller an administrator regardless of
// the configured administrator list.
const RoleAdmin = "admin"

// Identity answers who may act on an owner's records. Administrators are
// configured by owner id; a token carrying RoleAdmin also counts.
type Identity struct {
	admins map[string]bool
}

// NewIdentity builds an Identity from administrator owner ids. Blank
// entries are ignored.
func NewIdentity(adminIDs []string) *Identity {
	admins := make(map[string]bool, len(adminIDs))
	for _, id := range adminIDs {
		if id = strings.TrimSpace(id); id != "" {
			admins[id] = true
		}
	}
	return &Identity{admins: admins}
}

// IsAdministrator reports whether ownerID is a configured administrator.
func (i *Identity) IsAdministrator(ownerID string) bool {
	return ownerID != "" && i.admins[ownerID]
}

// Admin reports whether the caller in ctx is an administrator.
func (i *Identity) Admin(ctx context.Context) bool {
	return i.IsAdministrator(OwnerIDFromContext(ctx)) || HasRole(ctx, RoleAdmin)
}

// Allows reports whether the caller may act on ownerID's records.
func (i *Identity) Allows(ctx context.Context, ownerID string) bool {
	caller := OwnerIDFromContext(ctx)
	return (caller != "" && caller == ownerID) || i.Admin(ctx)
}

// RequireAdmin rejects callers that are not administrators.
func (i *Identity) RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !i.Admin(c.Request().Context()) {
				return echo.NewHTTPError(http.StatusForbidden, "administrator required")
			}
			return next(c)
		}
	}
}
