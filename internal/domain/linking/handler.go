package linking

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/link/care-contexts", h.LinkCareContexts)
}

// LinkCareContexts accepts a batch of clinical references to push against
// the patient's exchange address. The push happens immediately when a link
// token is cached, otherwise once the token callback arrives.
func (h *Handler) LinkCareContexts(c echo.Context) error {
	var batch LinkBatch
	if err := c.Bind(&batch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	err := h.svc.LinkCareContexts(c.Request().Context(), batch)
	if errors.Is(err, ErrNotEnrolled) {
		return echo.NewHTTPError(http.StatusNotFound, "patient is not enrolled")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}
