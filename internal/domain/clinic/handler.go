package clinic

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/muslih-a/appklinik/internal/platform/apperr"
	"github.com/muslih-a/appklinik/internal/platform/auth"
	"github.com/muslih-a/appklinik/internal/platform/validate"
	"github.com/muslih-a/appklinik/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/clinics", h.List)
	api.GET("/clinics/:id", h.Get)

	admin := api.Group("/clinics", auth.RequireRole(auth.RoleAdmin))
	admin.POST("", h.Create)
	admin.PUT("/:id/doctor", h.AssignDoctor)

	staff := api.Group("/clinics/me", auth.RequireRole(auth.RoleDoctor, auth.RoleAdminKlinik))
	staff.GET("", h.Mine)
	staff.PATCH("", h.UpdateMine)
	staff.POST("/registration/close", h.CloseRegistration)
	staff.POST("/registration/open", h.OpenRegistration)
	staff.POST("/registration/schedule", h.ScheduleClose)

	api.POST("/clinics/me/display-key", h.RotateDisplayKey, auth.RequireRole(auth.RoleAdminKlinik))
}

func (h *Handler) Create(c echo.Context) error {
	var req CreateRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.ToHTTP(err)
	}
	cl, err := h.svc.Create(c.Request().Context(), req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, cl)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.ToHTTP(apperr.Validation("invalid id"))
	}
	cl, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) Mine(c echo.Context) error {
	ctx := c.Request().Context()
	cl, err := h.svc.Mine(ctx, auth.ActorFromContext(ctx))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) UpdateMine(c echo.Context) error {
	var req UpdateRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.ToHTTP(err)
	}
	ctx := c.Request().Context()
	cl, err := h.svc.UpdateMine(ctx, auth.ActorFromContext(ctx), req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) CloseRegistration(c echo.Context) error {
	ctx := c.Request().Context()
	cl, err := h.svc.CloseRegistration(ctx, auth.ActorFromContext(ctx))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) OpenRegistration(c echo.Context) error {
	ctx := c.Request().Context()
	cl, err := h.svc.OpenRegistration(ctx, auth.ActorFromContext(ctx))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) ScheduleClose(c echo.Context) error {
	var req ScheduleCloseRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.ToHTTP(err)
	}
	ctx := c.Request().Context()
	cl, err := h.svc.ScheduleClose(ctx, auth.ActorFromContext(ctx), req.CloseTime)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) AssignDoctor(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.ToHTTP(apperr.Validation("invalid id"))
	}
	var req AssignDoctorRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.ToHTTP(err)
	}
	cl, err := h.svc.AssignDoctor(c.Request().Context(), id, uuid.MustParse(req.DoctorID))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) RotateDisplayKey(c echo.Context) error {
	ctx := c.Request().Context()
	cl, err := h.svc.RotateDisplayKey(ctx, auth.ActorFromContext(ctx))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, cl)
}
