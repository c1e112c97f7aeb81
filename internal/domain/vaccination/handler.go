package vaccination

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/muslih-a/appklinik/internal/platform/apperr"
	"github.com/muslih-a/appklinik/internal/platform/auth"
	"github.com/muslih-a/appklinik/internal/platform/validate"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/vaccinations/me", h.Upcoming, auth.RequireRole(auth.RolePatient))

	doctor := api.Group("/vaccinations", auth.RequireRole(auth.RoleDoctor))
	doctor.POST("", h.Schedule)
	doctor.PATCH("/:id/status", h.SetStatus)
}

func (h *Handler) Schedule(c echo.Context) error {
	var req CreateRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.ToHTTP(err)
	}
	ctx := c.Request().Context()
	v, err := h.svc.Schedule(ctx, auth.ActorFromContext(ctx), req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) Upcoming(c echo.Context) error {
	ctx := c.Request().Context()
	items, err := h.svc.Upcoming(ctx, auth.ActorFromContext(ctx))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if items == nil {
		items = []*Vaccination{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) SetStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.ToHTTP(apperr.Validation("invalid id"))
	}
	var req StatusRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.ToHTTP(err)
	}
	ctx := c.Request().Context()
	v, err := h.svc.SetStatus(ctx, auth.ActorFromContext(ctx), id, req.Status)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, v)
}
