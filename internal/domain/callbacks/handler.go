package callbacks

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hdx/bridge/internal/domain/consent"
	"github.com/hdx/bridge/internal/domain/dataflow"
	"github.com/hdx/bridge/internal/domain/identity"
	"github.com/hdx/bridge/internal/domain/ledger"
	"github.com/hdx/bridge/internal/domain/linking"
	"github.com/hdx/bridge/internal/platform/cache"
	"github.com/hdx/bridge/internal/platform/gateway"
)

const shareTokenTTLSeconds = 600

type linkingService interface {
	HandleTokenCallback(ctx context.Context, cb linking.TokenCallback) error
	Discover(ctx context.Context, req linking.DiscoverRequest) error
	HandleInit(ctx context.Context, req linking.InitRequest) error
	HandleConfirm(ctx context.Context, req linking.ConfirmRequest) error
}

type consentService interface {
	HandleHipNotify(ctx context.Context, n consent.HipNotification) error
	HandleHiuNotify(ctx context.Context, n consent.HiuNotification) error
}

type dataflowService interface {
	HandleRequest(ctx context.Context, req dataflow.HIRequest) error
}

type identityService interface {
	CreateFromShare(ctx context.Context, p identity.ShareProfile) (*identity.ExchangeIdentity, bool, error)
}

type facilityService interface {
	IsKnown(ctx context.Context, hfID string) (bool, error)
}

type shareGateway interface {
	PatientShareOnShare(ctx context.Context, p gateway.PatientShareOnShareParams) error
}

type ledgerWriter interface {
	Record(ctx context.Context, t ledger.TransactionType, referenceID string, metadata any, actor *uuid.UUID) error
}

type Handler struct {
	linking    linkingService
	consents   consentService
	dataflow   dataflowService
	identities identityService
	facilities facilityService
	gw         shareGateway
	ledger     ledgerWriter
	store      cache.Store
	domain     string
	logger     zerolog.Logger
}

// NewHandler wires the callback surface. domain is the consent manager's
// address suffix, used to complete share profiles that arrive without one.
func NewHandler(linkingSvc linkingService, consents consentService, dataflowSvc dataflowService,
	identities identityService, facilities facilityService, gw shareGateway,
	lw ledgerWriter, store cache.Store, domain string, logger zerolog.Logger) *Handler {
	return &Handler{
		linking:    linkingSvc,
		consents:   consents,
		dataflow:   dataflowSvc,
		identities: identities,
		facilities: facilities,
		gw:         gw,
		ledger:     lw,
		store:      store,
		domain:     domain,
		logger:     logger.With().Str("component", "callbacks").Logger(),
	}
}

// RegisterRoutes mounts the gateway-facing callback surface. The group is
// expected to carry the JWKS bearer middleware.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/hip/token/on-generate-token", h.OnGenerateToken)
	g.POST("/link/on_carecontext", h.OnCareContext)
	g.POST("/hip/patient/care-context/discover", h.Discover)
	g.POST("/hip/link/care-context/init", h.LinkInit)
	g.POST("/hip/link/care-context/confirm", h.LinkConfirm)
	g.POST("/consent/request/hip/notify", h.ConsentHipNotify)
	g.POST("/consent/hiu/notify", h.ConsentHiuNotify)
	g.POST("/health-information/hip/request", h.HealthInformationRequest)
	g.POST("/patient-share", h.PatientShare)
}

func (h *Handler) reject(c echo.Context, route string) error {
	h.logger.Warn().Str("route", route).Msg("callback failed shape validation")
	return echo.NewHTTPError(http.StatusBadRequest, "malformed callback payload")
}

func ack(c echo.Context) error {
	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *Handler) OnGenerateToken(c echo.Context) error {
	var req tokenCallbackRequest
	if err := c.Bind(&req); err != nil || !req.valid() {
		return h.reject(c, "on-generate-token")
	}
	err := h.linking.HandleTokenCallback(c.Request().Context(), linking.TokenCallback{
		ReplyRequestID: req.Response.RequestID,
		AbhaAddress:    req.AbhaAddress,
		LinkToken:      req.LinkToken,
	})
	if errors.Is(err, linking.ErrCorrelationExpired) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown request id")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return ack(c)
}

// OnCareContext is the gateway's acknowledgement of a link push; nothing to
// do beyond accepting it.
func (h *Handler) OnCareContext(c echo.Context) error {
	return ack(c)
}

func (h *Handler) Discover(c echo.Context) error {
	var req discoverRequest
	if err := c.Bind(&req); err != nil || !req.valid() {
		return h.reject(c, "discover")
	}
	q := identity.DiscoveryQuery{
		Address:     req.Patient.ID,
		Name:        req.Patient.Name,
		Gender:      req.Patient.Gender,
		YearOfBirth: req.Patient.YearOfBirth,
	}
	for _, id := range req.Patient.VerifiedIdentifiers {
		if id.Type == identity.IdentifierABHANumber {
			q.Number = id.Value
		}
	}
	for _, id := range req.Patient.UnverifiedIdentifiers {
		if id.Type == identity.IdentifierMobile {
			q.Phone = id.Value
		}
	}
	err := h.linking.Discover(c.Request().Context(), linking.DiscoverRequest{
		TransactionID:  req.TransactionID,
		ReplyRequestID: c.Request().Header.Get("REQUEST-ID"),
		Query:          q,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return ack(c)
}

func (h *Handler) LinkInit(c echo.Context) error {
	var req linkInitRequest
	if err := c.Bind(&req); err != nil || !req.valid() {
		return h.reject(c, "link-init")
	}
	var refs []string
	for _, p := range req.Patient {
		for _, cc := range p.CareContexts {
			refs = append(refs, cc.ReferenceNumber)
		}
	}
	err := h.linking.HandleInit(c.Request().Context(), linking.InitRequest{
		TransactionID:    req.TransactionID,
		ReplyRequestID:   c.Request().Header.Get("REQUEST-ID"),
		AbhaAddress:      req.AbhaAddress,
		SubjectReference: req.Patient[0].ReferenceNumber,
		References:       refs,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return ack(c)
}

func (h *Handler) LinkConfirm(c echo.Context) error {
	var req linkConfirmRequest
	if err := c.Bind(&req); err != nil || !req.valid() {
		return h.reject(c, "link-confirm")
	}
	err := h.linking.HandleConfirm(c.Request().Context(), linking.ConfirmRequest{
		ReplyRequestID: c.Request().Header.Get("REQUEST-ID"),
		LinkRefNumber:  req.Confirmation.LinkRefNumber,
		Token:          req.Confirmation.Token,
	})
	if errors.Is(err, linking.ErrCorrelationExpired) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown or expired link reference")
	}
	if errors.Is(err, linking.ErrInvalidOTP) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid verification code")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return ack(c)
}

func (h *Handler) ConsentHipNotify(c echo.Context) error {
	var req hipNotifyRequest
	if err := c.Bind(&req); err != nil || !req.valid() {
		return h.reject(c, "consent-hip-notify")
	}
	n := consent.HipNotification{
		ReplyRequestID: c.Request().Header.Get("REQUEST-ID"),
		ConsentID:      req.Notification.ConsentID,
		Status:         consent.Status(req.Notification.Status),
	}
	if req.Notification.Signature != "" {
		sig := req.Notification.Signature
		n.Signature = &sig
	}
	if d := req.Notification.ConsentDetail; d != nil {
		detail := &consent.NotificationDetail{
			PatientAddress:   d.Patient.ID,
			HITypes:          d.HITypes,
			AccessMode:       d.Permission.AccessMode,
			DateFrom:         parseTime(d.Permission.DateRange.From),
			DateTo:           parseTime(d.Permission.DateRange.To),
			DataEraseAt:      parseTime(d.Permission.DataEraseAt),
			FrequencyUnit:    d.Permission.Frequency.Unit,
			FrequencyValue:   d.Permission.Frequency.Value,
			FrequencyRepeats: d.Permission.Frequency.Repeats,
			HIPID:            d.HIP.ID,
			CMID:             d.ConsentManager.ID,
			PurposeCode:      d.Purpose.Code,
		}
		for _, cc := range d.CareContexts {
			detail.CareContexts = append(detail.CareContexts, consent.CareContextRef{
				PatientReference:     cc.PatientReference,
				CareContextReference: cc.CareContextReference,
			})
		}
		n.Detail = detail
	}
	err := h.consents.HandleHipNotify(c.Request().Context(), n)
	if errors.Is(err, consent.ErrPatientUnknown) || errors.Is(err, consent.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "patient or artefact not known")
	}
	if errors.Is(err, consent.ErrGrantExceedsRequest) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return ack(c)
}

func (h *Handler) ConsentHiuNotify(c echo.Context) error {
	var req hiuNotifyRequest
	if err := c.Bind(&req); err != nil || !req.valid() {
		return h.reject(c, "consent-hiu-notify")
	}
	n := consent.HiuNotification{
		ReplyRequestID:   c.Request().Header.Get("REQUEST-ID"),
		ConsentRequestID: req.Notification.ConsentRequestID,
		Status:           consent.Status(req.Notification.Status),
	}
	for _, a := range req.Notification.ConsentArtefacts {
		n.ArtefactIDs = append(n.ArtefactIDs, a.ID)
	}
	err := h.consents.HandleHiuNotify(c.Request().Context(), n)
	if errors.Is(err, consent.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "consent request not known")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return ack(c)
}

func (h *Handler) HealthInformationRequest(c echo.Context) error {
	var req hiRequestCallback
	if err := c.Bind(&req); err != nil || !req.valid() {
		return h.reject(c, "health-information-request")
	}
	err := h.dataflow.HandleRequest(c.Request().Context(), dataflow.HIRequest{
		TransactionID:  req.TransactionID,
		ReplyRequestID: c.Request().Header.Get("REQUEST-ID"),
		ConsentID:      req.HIRequest.Consent.ID,
		DateFrom:       parseTime(req.HIRequest.DateRange.From),
		DateTo:         parseTime(req.HIRequest.DateRange.To),
		DataPushURL:    req.HIRequest.DataPushURL,
		KeyMaterial: gateway.KeyMaterial{
			CryptoAlg: req.HIRequest.KeyMaterial.CryptoAlg,
			Curve:     req.HIRequest.KeyMaterial.Curve,
			PublicKey: req.HIRequest.KeyMaterial.DHPublicKey.KeyValue,
			Nonce:     req.HIRequest.KeyMaterial.Nonce,
		},
	})
	if errors.Is(err, consent.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "consent artefact not known")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return ack(c)
}

func (h *Handler) PatientShare(c echo.Context) error {
	var req patientShareRequest
	if err := c.Bind(&req); err != nil || !req.valid() {
		return h.reject(c, "patient-share")
	}
	ctx := c.Request().Context()
	replyID := c.Request().Header.Get("REQUEST-ID")
	address := req.Profile.Patient.AbhaAddress
	if h.domain != "" && !strings.Contains(address, "@") {
		address += "@" + h.domain
	}

	known, err := h.facilities.IsKnown(ctx, req.MetaData.HipID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !known {
		h.shareReply(ctx, replyID, address, req.MetaData.Context, "FAILED", "")
		return echo.NewHTTPError(http.StatusNotFound, "unknown facility")
	}

	// Claim the single token slot for this address atomically; two shares
	// racing for the same address must not both enroll.
	shareKey := cache.PrefixPatientShare + address
	if !h.store.SetNX(shareKey, "", shareTokenTTLSeconds*time.Second) {
		h.shareReply(ctx, replyID, address, req.MetaData.Context, "FAILED", "")
		return echo.NewHTTPError(http.StatusTooManyRequests, "share token already active")
	}

	p := req.Profile.Patient
	profile := identity.ShareProfile{
		Number:      p.AbhaNumber,
		Address:     address,
		Name:        p.Name,
		Gender:      p.Gender,
		Mobile:      p.PhoneNumber,
		AddressLine: p.Address.Line,
		District:    p.Address.District,
		State:       p.Address.State,
		Pincode:     p.Address.Pincode,
	}
	if p.YearOfBirth > 0 {
		year := p.YearOfBirth
		profile.YearOfBirth = &year
	}
	ident, existing, err := h.identities.CreateFromShare(ctx, profile)
	if err != nil {
		h.store.Delete(shareKey)
		h.shareReply(ctx, replyID, address, req.MetaData.Context, "FAILED", "")
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	// The reservation above is already counted.
	token := strconv.Itoa(len(h.store.Keys(cache.PrefixPatientShare)))
	h.store.Set(shareKey, token, shareTokenTTLSeconds*time.Second)

	if err := h.ledger.Record(ctx, ledger.TypeShareTokenIssue, replyID, ledger.ShareTokenIssueMetadata{
		IdentityID:        ident.ID.String(),
		IsExistingSubject: existing,
		Token:             token,
	}, nil); err != nil {
		h.store.Delete(shareKey)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.shareReply(ctx, replyID, address, req.MetaData.Context, "SUCCESS", token)
	return ack(c)
}

func (h *Handler) shareReply(ctx context.Context, replyID, address, shareContext, status, token string) {
	err := h.gw.PatientShareOnShare(ctx, gateway.PatientShareOnShareParams{
		ReplyRequestID: replyID,
		Status:         status,
		Address:        address,
		Context:        shareContext,
		TokenNumber:    token,
		ExpirySeconds:  shareTokenTTLSeconds,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("address", address).Msg("patient-share reply failed")
	}
}
