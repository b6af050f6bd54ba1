package billing

import (
	"net/http"

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
	g := api.Group("", auth.RequireRole(auth.RoleBilling))
	g.POST("/prescriptions/:id/invoice", h.GenerateInvoice)
	g.GET("/prescriptions/:id/invoice", h.GetLatestInvoice)
	g.GET("/patients/:id/invoices", h.ListPatientInvoices)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) GenerateInvoice(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	inv, err := h.svc.Generate(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, inv)
}

func (h *Handler) GetLatestInvoice(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	inv, err := h.svc.GetLatestForPrescription(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) ListPatientInvoices(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
