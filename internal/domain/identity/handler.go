package identity

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
	read := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleDoctor, auth.RolePharmacist, auth.RoleBilling))
	read.GET("/patients", h.list(KindPatient))
	read.GET("/patients/:id", h.get(KindPatient))
	read.GET("/doctors", h.list(KindDoctor))
	read.GET("/doctors/:id", h.get(KindDoctor))

	write := api.Group("", auth.RequireRole(auth.RoleAdmin))
	write.POST("/patients", h.create(KindPatient))
	write.POST("/doctors", h.create(KindDoctor))
}

func (h *Handler) create(kind Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		var p Person
		if err := c.Bind(&p); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if err := h.svc.Register(c.Request().Context(), kind, &p); err != nil {
			return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
		}
		return c.JSON(http.StatusCreated, p)
	}
}

func (h *Handler) get(kind Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
		}
		p, err := h.svc.Get(c.Request().Context(), kind, id)
		if err != nil {
			return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
		}
		return c.JSON(http.StatusOK, p)
	}
}

func (h *Handler) list(kind Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		pg := pagination.FromContext(c)
		items, total, err := h.svc.List(c.Request().Context(), kind, pg.Limit, pg.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
	}
}
