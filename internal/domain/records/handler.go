package records

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler is the facility-facing surface for the document store. Clinical
// producers push finalized documents here; transfers later read them back by
// care context reference.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/records", h.Store)
	api.GET("/records/:reference", h.Get)
}

type storeBody struct {
	Reference string          `json:"reference"`
	HIType    string          `json:"hi_type"`
	Content   json.RawMessage `json:"content"`
}

func (h *Handler) Store(c echo.Context) error {
	var body storeBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d, err := h.svc.Store(c.Request().Context(), body.Reference, body.HIType, body.Content)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) Get(c echo.Context) error {
	d, err := h.svc.Get(c.Request().Context(), c.Param("reference"))
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "no document for reference")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, d)
}
