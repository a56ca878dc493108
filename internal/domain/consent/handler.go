package consent

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hdx/bridge/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/consents", h.CreateConsent)
	api.GET("/consents", h.ListConsents)
	api.GET("/consents/:requestId", h.GetConsent)
	api.POST("/consents/:requestId/status", h.ConsentStatus)
	api.POST("/consents/artefacts/:artefactId/fetch", h.FetchArtefact)
}

type createConsentBody struct {
	FacilityID     uuid.UUID `json:"facility_id"`
	PatientAddress string    `json:"patient_address"`
	PurposeCode    string    `json:"purpose_code"`
	Requester      struct {
		Name     string `json:"name"`
		Username string `json:"username"`
	} `json:"requester"`
	HITypes          []string  `json:"hi_types"`
	AccessMode       string    `json:"access_mode"`
	DateFrom         time.Time `json:"date_from"`
	DateTo           time.Time `json:"date_to"`
	DataEraseAt      time.Time `json:"data_erase_at"`
	FrequencyUnit    string    `json:"frequency_unit"`
	FrequencyValue   int       `json:"frequency_value"`
	FrequencyRepeats int       `json:"frequency_repeats"`
}

func (h *Handler) CreateConsent(c echo.Context) error {
	var body createConsentBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req, err := h.svc.Init(c.Request().Context(), CreateParams{
		FacilityID:        body.FacilityID,
		PatientAddress:    body.PatientAddress,
		PurposeCode:       body.PurposeCode,
		RequesterName:     body.Requester.Name,
		RequesterUsername: body.Requester.Username,
		HITypes:           body.HITypes,
		AccessMode:        body.AccessMode,
		DateFrom:          body.DateFrom,
		DateTo:            body.DateTo,
		DataEraseAt:       body.DataEraseAt,
		FrequencyUnit:     body.FrequencyUnit,
		FrequencyValue:    body.FrequencyValue,
		FrequencyRepeats:  body.FrequencyRepeats,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, req)
}

func (h *Handler) ListConsents(c echo.Context) error {
	page := pagination.FromContext(c)
	items, total, err := h.svc.ListRequests(c.Request().Context(), RequestFilter{
		PatientAddress: c.QueryParam("patient"),
		Status:         Status(c.QueryParam("status")),
		Limit:          page.Limit,
		Offset:         page.Offset,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, page.Limit, page.Offset))
}

func (h *Handler) GetConsent(c echo.Context) error {
	req, artefacts, err := h.svc.GetRequest(c.Request().Context(), c.Param("requestId"))
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "consent request not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"request":   req,
		"artefacts": artefacts,
	})
}

func (h *Handler) ConsentStatus(c echo.Context) error {
	err := h.svc.RequestStatus(c.Request().Context(), c.Param("requestId"))
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "consent request not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "requested"})
}

type fetchArtefactBody struct {
	FacilityID uuid.UUID `json:"facility_id"`
}

func (h *Handler) FetchArtefact(c echo.Context) error {
	var body fetchArtefactBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Fetch(c.Request().Context(), c.Param("artefactId"), body.FacilityID); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "requested"})
}
