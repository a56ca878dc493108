package dataflow

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hdx/bridge/internal/domain/consent"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the facility-facing operations on api and the
// counterpart-facing data push on push. The push endpoint is addressed by
// the dataPushUrl this bridge hands out; counterparts call it directly,
// without a gateway-issued token.
func (h *Handler) RegisterRoutes(api, push *echo.Group) {
	api.POST("/health-information/request", h.RequestHealthInformation)
	api.GET("/health-information/:reference", h.DeliverPayload)
	push.POST("/hiu/health-information/transfer", h.ReceiveTransfer)
}

type requestBody struct {
	ArtefactID string    `json:"artefact_id"`
	FacilityID uuid.UUID `json:"facility_id"`
}

func (h *Handler) RequestHealthInformation(c echo.Context) error {
	var body requestBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	requestID, err := h.svc.RequestHealthInformation(c.Request().Context(), body.ArtefactID, body.FacilityID)
	if errors.Is(err, consent.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "consent artefact not found")
	}
	if errors.Is(err, ErrNotGranted) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"request_id": requestID})
}

type transferWire struct {
	TransactionID string `json:"transactionId"`
	Entries       []struct {
		Content              string `json:"content"`
		CareContextReference string `json:"careContextReference"`
	} `json:"entries"`
	KeyMaterial struct {
		CryptoAlg   string `json:"cryptoAlg"`
		Curve       string `json:"curve"`
		DHPublicKey struct {
			KeyValue string `json:"keyValue"`
		} `json:"dhPublicKey"`
		Nonce string `json:"nonce"`
	} `json:"keyMaterial"`
}

func (h *Handler) ReceiveTransfer(c echo.Context) error {
	var wire transferWire
	if err := c.Bind(&wire); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	payload := TransferPayload{TransactionID: wire.TransactionID}
	for _, e := range wire.Entries {
		payload.Entries = append(payload.Entries, TransferEntryIn{
			Content:              e.Content,
			CareContextReference: e.CareContextReference,
		})
	}
	payload.KeyMaterial.PublicKey = wire.KeyMaterial.DHPublicKey.KeyValue
	payload.KeyMaterial.Nonce = wire.KeyMaterial.Nonce

	err := h.svc.ReceiveTransfer(c.Request().Context(), c.QueryParam("requestId"), payload)
	if errors.Is(err, consent.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "no request matches this push")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *Handler) DeliverPayload(c echo.Context) error {
	items, err := h.svc.DeliverLocalPayload(c.Request().Context(), c.Param("reference"), nil)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "no health information for reference")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}
