package main

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/sleeprisk/screening/internal/config"
	"github.com/sleeprisk/screening/internal/domain/attachment"
	"github.com/sleeprisk/screening/internal/domain/prediction"
	"github.com/sleeprisk/screening/internal/platform/auth"
	"github.com/sleeprisk/screening/internal/platform/db"
	"github.com/sleeprisk/screening/internal/platform/docstore"
	"github.com/sleeprisk/screening/internal/platform/middleware"
)

// newServer wires the middleware chain, identity and both domain services
// onto an echo instance.
func newServer(cfg *config.Config, store docstore.Client, pinger db.Pinger, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(middleware.DefaultBodyLimit, cfg.MaxUploadBytes))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", auth.HeaderOwnerID},
	}))

	// Auth middleware
	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: []byte(cfg.AuthSigningKey),
		Skipper:    auth.AuthSkipper,
	}
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	identity := auth.NewIdentity(cfg.AdminUIDs)
	apiV1 := e.Group("/api/v1")
	admin := apiV1.Group("/admin", identity.RequireAdmin())

	attachments := attachment.NewService(store, cfg.Limits(), logger)
	attachment.NewHandler(attachments).RegisterRoutes(apiV1, admin)

	predictions := prediction.NewService(store, identity, cfg.DocByteCeiling, logger)
	prediction.NewHandler(predictions).RegisterRoutes(apiV1, admin)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pinger))

	return e
}
