package facility

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/facilities", h.Register)
	api.GET("/facilities", h.List)
	api.GET("/facilities/:hfId", h.Get)
}

type registerBody struct {
	FacilityID uuid.UUID `json:"facility_id"`
	HFID       string    `json:"hf_id"`
	Name       string    `json:"name"`
	Registered bool      `json:"registered"`
}

func (h *Handler) Register(c echo.Context) error {
	var body registerBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	f := &HealthFacility{
		FacilityID: body.FacilityID,
		HFID:       body.HFID,
		Name:       body.Name,
		Registered: body.Registered,
	}
	if err := h.svc.Register(c.Request().Context(), f); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, f)
}

func (h *Handler) Get(c echo.Context) error {
	f, err := h.svc.GetByHFID(c.Request().Context(), c.Param("hfId"))
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "facility not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) List(c echo.Context) error {
	items, err := h.svc.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}
