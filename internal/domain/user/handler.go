package user

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
	api.GET("/users/me", h.Me)
	api.PUT("/users/me/push-token", h.RegisterPushToken)
	api.GET("/clinics/:id/doctors", h.ListDoctors)

	admin := api.Group("/users", auth.RequireRole(auth.RoleAdmin))
	admin.POST("", h.Create)
	admin.GET("/:id", h.Get)
}

func (h *Handler) Create(c echo.Context) error {
	var req CreateRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.ToHTTP(err)
	}
	u, err := h.svc.Create(c.Request().Context(), req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, u)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.ToHTTP(apperr.Validation("invalid id"))
	}
	u, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) Me(c echo.Context) error {
	ctx := c.Request().Context()
	u, err := h.svc.Me(ctx, auth.ActorFromContext(ctx))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) RegisterPushToken(c echo.Context) error {
	var req PushTokenRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.ToHTTP(err)
	}
	ctx := c.Request().Context()
	if err := h.svc.RegisterPushToken(ctx, auth.ActorFromContext(ctx), req); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListDoctors(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.ToHTTP(apperr.Validation("invalid clinic id"))
	}
	doctors, err := h.svc.Doctors(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if doctors == nil {
		doctors = []*User{}
	}
	return c.JSON(http.StatusOK, doctors)
}
