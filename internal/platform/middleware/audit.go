package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// AuditEntry represents one access-log entry produced by the middleware.
// It captures what was accessed, when, from where, and the action type.
type AuditEntry struct {
	Resource       string
	PatientAddress string
	Action         string // read, create, update, delete
	IPAddress      string
	UserAgent      string
	Path           string
	Method         string
	Timestamp      time.Time
	RequestID      string
	StatusCode     int
}

// AuditRecorder is the interface the audit middleware uses to persist
// entries, decoupling it from any concrete sink so tests can provide a mock.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit returns Echo middleware that logs every access to the facility API
// and the callback surface. Health information moves through both, so each
// request leaves a structured trail: resource, action, patient address when
// one is named, caller IP, and response status.
//
// If no AuditRecorder is provided, entries go to the structured log only.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path

			if !isAuditablePath(path) {
				return next(c)
			}

			// Execute the handler first so we capture the response status
			err := next(c)

			entry := AuditEntry{
				Timestamp:      time.Now().UTC(),
				Path:           path,
				Method:         req.Method,
				IPAddress:      c.RealIP(),
				UserAgent:      req.UserAgent(),
				StatusCode:     c.Response().Status,
				Action:         httpMethodToAction(req.Method),
				Resource:       extractResource(path),
				PatientAddress: c.QueryParam("patient"),
			}
			if rid, ok := c.Get("request_id").(string); ok {
				entry.RequestID = rid
			}

			if len(recorders) > 0 && recorders[0] != nil {
				if recErr := recorders[0].RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "access_audit").
				Str("request_id", entry.RequestID).
				Str("resource", entry.Resource).
				Str("patient", entry.PatientAddress).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("health_data_access")

			return err
		}
	}
}

// isAuditablePath returns true for the facility API and the gateway callback
// surface.
func isAuditablePath(path string) bool {
	return strings.HasPrefix(path, "/api/v1/") || strings.HasPrefix(path, "/api/v3/")
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead:
		return "read"
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// extractResource parses the first path segment after the API prefix:
// /api/v1/consents/abc -> consents.
func extractResource(path string) string {
	var rest string
	switch {
	case strings.HasPrefix(path, "/api/v1/"):
		rest = strings.TrimPrefix(path, "/api/v1/")
	case strings.HasPrefix(path, "/api/v3/"):
		rest = strings.TrimPrefix(path, "/api/v3/")
	}
	if segments := strings.Split(rest, "/"); len(segments) > 0 && segments[0] != "" {
		return segments[0]
	}
	return "unknown"
}
