package identity

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hdx/bridge/internal/platform/gateway"
)

type authenticator interface {
	IdentityAuthentication(ctx context.Context, p gateway.IdentityAuthenticationParams) (map[string]any, error)
}

type Handler struct {
	svc *Service
	gw  authenticator
}

func NewHandler(svc *Service, gw authenticator) *Handler {
	return &Handler{svc: svc, gw: gw}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients/:address", h.GetProfile)
	api.POST("/patients/verify", h.Verify)
}

// GetProfile returns the exchange identity enrolled under an address,
// together with the linked local subject when one exists.
func (h *Handler) GetProfile(c echo.Context) error {
	ident, err := h.svc.GetByAddress(c.Request().Context(), c.Param("address"))
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "patient is not enrolled")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := map[string]any{"identity": ident}
	if ident.SubjectID != nil {
		if subj, err := h.svc.GetSubject(c.Request().Context(), *ident.SubjectID); err == nil {
			out["subject"] = subj
		}
	}
	return c.JSON(http.StatusOK, out)
}

type verifyBody struct {
	RequesterID string `json:"requester_id"`
	Number      string `json:"number"`
	Address     string `json:"address"`
	Name        string `json:"name"`
	Gender      string `json:"gender"`
	YearOfBirth int    `json:"year_of_birth"`
}

// Verify runs a demographic identity check against the exchange registry.
// The gateway answers this one synchronously, so the registry's verdict is
// passed straight through.
func (h *Handler) Verify(c echo.Context) error {
	var body verifyBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if body.Address == "" && body.Number == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "address or number is required")
	}
	result, err := h.gw.IdentityAuthentication(c.Request().Context(), gateway.IdentityAuthenticationParams{
		RequesterID: body.RequesterID,
		Number:      body.Number,
		Address:     body.Address,
		Name:        body.Name,
		Gender:      body.Gender,
		YearOfBirth: body.YearOfBirth,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}
