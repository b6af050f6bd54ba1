package prescription

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/rxledger/internal/platform/apperr"
	"github.com/ehr/rxledger/internal/platform/auth"
	"github.com/ehr/rxledger/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RolePharmacist, auth.RoleBilling))
	read.GET("/prescriptions", h.ListPrescriptions)
	read.GET("/prescriptions/:id", h.GetPrescription)
	read.GET("/prescriptions/:id/integrity", h.VerifyIntegrity)

	doctor := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctor.POST("/prescriptions", h.CreatePrescription)
	doctor.DELETE("/prescriptions/:id", h.DeletePrescription)

	pharmacy := api.Group("", auth.RequireRole(auth.RolePharmacist))
	pharmacy.PUT("/prescriptions/:id/status", h.UpdateStatus)
}

func httpError(err error) error {
	return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
}

func (h *Handler) CreatePrescription(c echo.Context) error {
	var cmd CreateCommand
	if err := c.Bind(&cmd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	// Doctors prescribe as themselves; admins may name the doctor.
	if callerID, err := uuid.Parse(auth.UserIDFromContext(ctx)); err == nil {
		if cmd.DoctorID == uuid.Nil || !auth.HasRole(auth.RolesFromContext(ctx), auth.RoleAdmin) {
			cmd.DoctorID = callerID
		}
	}
	if cmd.DoctorName == "" {
		cmd.DoctorName = auth.UserNameFromContext(ctx)
	}
	p, err := h.svc.Create(ctx, cmd)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPrescription(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPrescriptions(c echo.Context) error {
	pg := pagination.FromContext(c)
	var f Filter
	for _, q := range []struct {
		name string
		dst  **uuid.UUID
	}{{"patient_id", &f.PatientID}, {"doctor_id", &f.DoctorID}} {
		if v := c.QueryParam(q.name); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid "+q.name)
			}
			*q.dst = &id
		}
	}
	if v := c.QueryParam("status"); v != "" {
		st, err := ParseStatus(v)
		if err != nil {
			return httpError(err)
		}
		f.Status = &st
	}
	if v := c.QueryParam("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid active")
		}
		f.Active = &active
	}

	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var cmd UpdateStatusCommand
	if err := c.Bind(&cmd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	cmd.PrescriptionID = id
	cmd.PharmacistID = auth.UserIDFromContext(ctx)
	cmd.PharmacistName = auth.UserNameFromContext(ctx)

	p, err := h.svc.UpdateStatus(ctx, cmd)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePrescription(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	doctorID, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return echo.NewHTTPError(http.StatusForbidden, "caller is not a known doctor")
	}
	if err := h.svc.Delete(ctx, id, doctorID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) VerifyIntegrity(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	report, err := h.svc.VerifyIntegrity(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"valid":  report.Valid(),
		"report": report,
	})
}
