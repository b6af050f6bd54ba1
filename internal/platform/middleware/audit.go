package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/rxledger/internal/platform/auth"
)

// AuditEntry records who touched which ledger resource.
type AuditEntry struct {
	UserID     string
	UserRoles  []string
	Resource   string
	ResourceID string
	PatientID  string
	Action     string // read, create, update, delete
	IPAddress  string
	Path       string
	Method     string
	Timestamp  time.Time
	RequestID  string
	StatusCode int
}

// AuditRecorder persists audit entries somewhere other than the log.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every /api/v1/ request after the handler ran. Prescriptions and
// invoices carry patient data, so each access is logged whether it succeeded
// or not.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			if !strings.HasPrefix(path, apiPrefix) {
				return next(c)
			}

			err := next(c)

			resource, resourceID := splitResource(path)
			entry := AuditEntry{
				UserID:     auth.UserIDFromContext(req.Context()),
				UserRoles:  auth.RolesFromContext(req.Context()),
				Resource:   resource,
				ResourceID: resourceID,
				PatientID:  extractPatientID(c, resource, resourceID),
				Action:     httpMethodToAction(req.Method),
				IPAddress:  c.RealIP(),
				Path:       path,
				Method:     req.Method,
				Timestamp:  time.Now().UTC(),
				RequestID:  requestID(c),
				StatusCode: c.Response().Status,
			}
			if he, ok := err.(*echo.HTTPError); ok {
				entry.StatusCode = he.Code
			}

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("resource", entry.Resource).
				Str("resource_id", entry.ResourceID).
				Str("patient_id", entry.PatientID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("ledger_access")

			return err
		}
	}
}

const apiPrefix = "/api/v1/"

func httpMethodToAction(method string) string {
	switch method {
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

// splitResource turns /api/v1/prescriptions/<id>/status into
// ("prescriptions", "<id>").
func splitResource(path string) (string, string) {
	segments := strings.Split(strings.TrimPrefix(path, apiPrefix), "/")
	resource := "unknown"
	if segments[0] != "" {
		resource = segments[0]
	}
	if len(segments) > 1 {
		if _, err := uuid.Parse(segments[1]); err == nil {
			return resource, segments[1]
		}
	}
	return resource, ""
}

func extractPatientID(c echo.Context, resource, resourceID string) string {
	if resource == "patients" && resourceID != "" {
		return resourceID
	}
	if p := c.QueryParam("patient_id"); p != "" {
		if _, err := uuid.Parse(p); err == nil {
			return p
		}
	}
	return ""
}
