package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

type contextKey string

const (
	OwnerIDKey contextKey = "owner_id"
	RolesKey   contextKey = "roles"
)

// HeaderOwnerID selects the owner for unauthenticated requests in
// development.
const HeaderOwnerID = "X-Owner-ID"

// DevOwnerID is the owner assumed in development when no header is sent.
const DevOwnerID = "dev-user"

// Claims carries the token subject, which is the owner id, and roles.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey is used for development/testing only
	SigningKey []byte
	// Skipper bypasses authentication, e.g. for health checks.
	Skipper echomw.Skipper
}

func (cfg JWTConfig) keyFunc() jwt.Keyfunc {
	if len(cfg.SigningKey) > 0 {
		return func(*jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }
	}
	jwksURL := cfg.JWKSURL
	if jwksURL == "" && cfg.Issuer != "" {
		if provider, err := NewOIDCProvider(cfg.Issuer); err == nil {
			jwksURL = provider.JWKSURI
		}
	}
	return jwksKeyFunc(jwksURL)
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	keyFunc := cfg.keyFunc()
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256", "HS256"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, keyFunc, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if claims.Subject == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "token has no subject")
			}

			ctx := WithOwner(c.Request().Context(), claims.Subject, claims.Roles...)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// DevAuthMiddleware lets unauthenticated requests through as the owner named
// by the X-Owner-ID header, or DevOwnerID. Requests that do carry a token
// are validated with cfg.
func DevAuthMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	jwtMW := JWTMiddleware(cfg)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		withToken := jwtMW(next)
		return func(c echo.Context) error {
			if c.Request().Header.Get("Authorization") != "" {
				return withToken(c)
			}
			owner := strings.TrimSpace(c.Request().Header.Get(HeaderOwnerID))
			if owner == "" {
				owner = DevOwnerID
			}
			c.SetRequest(c.Request().WithContext(WithOwner(c.Request().Context(), owner)))
			return next(c)
		}
	}
}

// WithOwner returns ctx carrying the caller's owner id and roles.
func WithOwner(ctx context.Context, ownerID string, roles ...string) context.Context {
	ctx = context.WithValue(ctx, OwnerIDKey, ownerID)
	return context.WithValue(ctx, RolesKey, roles)
}

func OwnerIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(OwnerIDKey).(string)
	return uid
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(RolesKey).([]string)
	return roles
}

// HasRole reports whether the caller carries role.
func HasRole(ctx context.Context, role string) bool {
	for _, r := range RolesFromContext(ctx) {
		if r == role {
			return true
		}
	}
	return false
}
