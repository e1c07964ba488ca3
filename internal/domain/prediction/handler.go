package prediction

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/sleeprisk/screening/internal/platform/auth"
	"github.com/sleeprisk/screening/pkg/apperrors"
	"github.com/sleeprisk/screening/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the caller's own prediction endpoints on api and
// the cross-owner ones on admin, which must already require an
// administrator.
func (h *Handler) RegisterRoutes(api *echo.Group, admin *echo.Group) {
	api.POST("/predictions", h.Create)
	api.GET("/predictions", h.List)
	api.GET("/predictions/:id", h.Get)
	api.PUT("/predictions/:id", h.Upsert)
	api.PATCH("/predictions/:id", h.Update)
	api.DELETE("/predictions/:id", h.Delete)

	admin.GET("/predictions", h.ListAll)
	admin.GET("/predictions/by-owner", h.ListByOwners)
	admin.GET("/patients/:ownerId/predictions", h.List)
	admin.GET("/patients/:ownerId/predictions/:id", h.Get)
	admin.PATCH("/patients/:ownerId/predictions/:id", h.Update)
	admin.DELETE("/patients/:ownerId/predictions/:id", h.Delete)
}

func ownerID(c echo.Context) string {
	if id := c.Param("ownerId"); id != "" {
		return id
	}
	return auth.OwnerIDFromContext(c.Request().Context())
}

func httpError(err error) *echo.HTTPError {
	return echo.NewHTTPError(apperrors.HTTPStatus(err), err.Error())
}

// bindPayload decodes the body only. Bind would also copy path parameters
// into the map.
func bindPayload(c echo.Context) (map[string]any, error) {
	var payload map[string]any
	if err := new(echo.DefaultBinder).BindBody(c, &payload); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if payload == nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "payload must be a JSON object")
	}
	return payload, nil
}

type writeResponse struct {
	ID string `json:"id"`
	// Reassigned is set when the requested id was taken and the record was
	// written under ID instead.
	Reassigned bool `json:"reassigned,omitempty"`
}

func (h *Handler) Create(c echo.Context) error {
	payload, err := bindPayload(c)
	if err != nil {
		return err
	}
	id, err := h.svc.Create(c.Request().Context(), ownerID(c), payload)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, writeResponse{ID: id})
}

func (h *Handler) Upsert(c echo.Context) error {
	payload, err := bindPayload(c)
	if err != nil {
		return err
	}
	candidate := c.Param("id")
	id, err := h.svc.Upsert(c.Request().Context(), ownerID(c), candidate, payload)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, writeResponse{ID: id, Reassigned: id != candidate})
}

func (h *Handler) Get(c echo.Context) error {
	rec, err := h.svc.Get(c.Request().Context(), ownerID(c), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Update(c echo.Context) error {
	partial, err := bindPayload(c)
	if err != nil {
		return err
	}
	owner, id := ownerID(c), c.Param("id")
	if err := h.svc.Update(c.Request().Context(), owner, id, partial); err != nil {
		return httpError(err)
	}
	rec, err := h.svc.Get(c.Request().Context(), owner, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Delete(c echo.Context) error {
	if err := h.svc.Delete(c.Request().Context(), ownerID(c), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, err := h.svc.ListForOwner(c.Request().Context(), ownerID(c), pg.Limit)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, len(items), pg.Limit))
}

func (h *Handler) ListAll(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, err := h.svc.ListAll(c.Request().Context(), pg.Limit)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, len(items), pg.Limit))
}

// ListByOwners takes a comma-separated owners query parameter.
func (h *Handler) ListByOwners(c echo.Context) error {
	var owners []string
	for _, o := range strings.Split(c.QueryParam("owners"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			owners = append(owners, o)
		}
	}
	if len(owners) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "owners is required")
	}
	pg := pagination.FromContext(c)
	byOwner, err := h.svc.ListForOwners(c.Request().Context(), owners, pg.Limit)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, byOwner)
}
