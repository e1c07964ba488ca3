package attachment

import (
	"mime"
	"net/http"

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

// RegisterRoutes mounts the caller's own attachment endpoints on api and the
// cross-owner ones on admin, which must already require an administrator.
func (h *Handler) RegisterRoutes(api *echo.Group, admin *echo.Group) {
	api.POST("/attachments", h.Upload)
	api.GET("/attachments", h.List)
	api.GET("/attachments/:id", h.Download)
	api.GET("/attachments/:id/status", h.Status)

	admin.GET("/attachments/incomplete", h.ListIncomplete)
	admin.GET("/patients/:ownerId/attachments", h.List)
	admin.GET("/patients/:ownerId/attachments/:id", h.Download)
	admin.GET("/patients/:ownerId/attachments/:id/status", h.Status)
}

// ownerID is the :ownerId path parameter on admin routes and the caller
// everywhere else.
func ownerID(c echo.Context) string {
	if id := c.Param("ownerId"); id != "" {
		return id
	}
	return auth.OwnerIDFromContext(c.Request().Context())
}

func httpError(err error) *echo.HTTPError {
	return echo.NewHTTPError(apperrors.HTTPStatus(err), err.Error())
}

func (h *Handler) Upload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "file could not be read")
	}
	defer f.Close()

	rec, err := h.svc.Upload(c.Request().Context(), f, c.FormValue("name"), fh.Header.Get(echo.HeaderContentType), ownerID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, err := h.svc.ListForOwner(c.Request().Context(), ownerID(c), pg.Limit)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, len(items), pg.Limit))
}

func (h *Handler) Download(c echo.Context) error {
	blob, err := h.svc.Fetch(c.Request().Context(), ownerID(c), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		mime.FormatMediaType("inline", map[string]string{"filename": blob.Name}))
	return c.Blob(http.StatusOK, blob.MimeType, blob.Data)
}

func (h *Handler) Status(c echo.Context) error {
	id := c.Param("id")
	st, err := h.svc.Status(c.Request().Context(), ownerID(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"id": id, "status": string(st)})
}

func (h *Handler) ListIncomplete(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, err := h.svc.FindIncomplete(c.Request().Context(), pg.Limit)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, len(items), pg.Limit))
}
