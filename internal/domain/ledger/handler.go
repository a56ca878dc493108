package ledger

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hdx/bridge/pkg/pagination"
)

// Handler exposes the ledger read-only. Rows are written by the exchange
// flows themselves, never through HTTP.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/ledger", h.List)
	api.GET("/ledger/:reference", h.ListByReference)
}

func (h *Handler) List(c echo.Context) error {
	page := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), page.Limit, page.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, page.Limit, page.Offset))
}

// ListByReference returns the rows for one network request or transaction
// id, in write order.
func (h *Handler) ListByReference(c echo.Context) error {
	items, err := h.svc.ListByReference(c.Request().Context(), c.Param("reference"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"data": items})
}
