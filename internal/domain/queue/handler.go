package queue

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/muslih-a/appklinik/internal/platform/apperr"
	"github.com/muslih-a/appklinik/internal/platform/auth"
	"github.com/muslih-a/appklinik/internal/platform/clock"
	"github.com/muslih-a/appklinik/internal/platform/validate"
	"github.com/muslih-a/appklinik/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the authenticated appointment and queue routes.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	patient := auth.RequireRole(auth.RolePatient)
	staff := auth.RequireRole(auth.RoleDoctor, auth.RoleAdminKlinik)

	api.POST("/appointments", h.Book, patient)
	api.GET("/appointments/me/today", h.MyToday, patient)
	api.GET("/appointments/me", h.MyHistory, patient)
	api.PATCH("/appointments/:id/status", h.Transition)
	api.POST("/appointments/:id/cancel", h.Cancel, patient)
	api.PATCH("/appointments/:id/emr", h.RecordEMR, staff)

	api.GET("/queue", h.Projection)
	api.GET("/doctors/schedule", h.Schedule, staff)
	api.GET("/doctors/history", h.History, staff)
}

// RegisterPublicRoutes mounts the unauthenticated display board.
func (h *Handler) RegisterPublicRoutes(public *echo.Group) {
	public.GET("/display/:displayKey", h.Display)
}

func (h *Handler) Book(c echo.Context) error {
	var req BookRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.ToHTTP(err)
	}
	ctx := c.Request().Context()
	a, err := h.svc.Book(ctx, auth.ActorFromContext(ctx), req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) Transition(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.ToHTTP(apperr.Validation("invalid id"))
	}
	var req StatusRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.ToHTTP(err)
	}
	ctx := c.Request().Context()
	a, err := h.svc.Transition(ctx, auth.ActorFromContext(ctx), id, req.Status)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.ToHTTP(apperr.Validation("invalid id"))
	}
	ctx := c.Request().Context()
	a, err := h.svc.Cancel(ctx, auth.ActorFromContext(ctx), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) RecordEMR(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.ToHTTP(apperr.Validation("invalid id"))
	}
	var req EMRRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.ToHTTP(err)
	}
	ctx := c.Request().Context()
	a, err := h.svc.RecordEMR(ctx, auth.ActorFromContext(ctx), id, req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Projection(c echo.Context) error {
	ctx := c.Request().Context()
	p, err := h.svc.ProjectionFor(ctx, auth.ActorFromContext(ctx), c.QueryParam("clinicId"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) MyToday(c echo.Context) error {
	ctx := c.Request().Context()
	v, err := h.svc.MyToday(ctx, auth.ActorFromContext(ctx))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if v == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) MyHistory(c echo.Context) error {
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()
	items, total, err := h.svc.MyHistory(ctx, auth.ActorFromContext(ctx), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) Schedule(c echo.Context) error {
	from, err := h.parseDate(c.QueryParam("startDate"), false)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	to, err := h.parseDate(c.QueryParam("endDate"), true)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if from == nil || to == nil {
		return apperr.ToHTTP(apperr.Validation("startDate and endDate are required"))
	}
	ctx := c.Request().Context()
	entries, err := h.svc.DoctorSchedule(ctx, auth.ActorFromContext(ctx), c.QueryParam("doctorId"), *from, *to)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, entries)
}

func (h *Handler) History(c echo.Context) error {
	f := HistoryFilter{Status: Status(c.QueryParam("status"))}
	var err error
	if f.From, err = h.parseDate(c.QueryParam("startDate"), false); err != nil {
		return apperr.ToHTTP(err)
	}
	if f.To, err = h.parseDate(c.QueryParam("endDate"), true); err != nil {
		return apperr.ToHTTP(err)
	}
	ctx := c.Request().Context()
	res, err := h.svc.DoctorHistory(ctx, auth.ActorFromContext(ctx), c.QueryParam("doctorId"), f)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Display(c echo.Context) error {
	d, err := h.svc.Display(c.Request().Context(), c.Param("displayKey"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

// parseDate accepts RFC 3339 timestamps or bare YYYY-MM-DD dates in the
// clinic time zone. A bare end date covers the whole day.
func (h *Handler) parseDate(s string, endOfDay bool) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	d, err := time.ParseInLocation("2006-01-02", s, h.svc.loc)
	if err != nil {
		return nil, apperr.Validation("invalid date %q", s)
	}
	t := clock.DayStart(clock.Day(d, h.svc.loc), h.svc.loc)
	if endOfDay {
		t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return &t, nil
}
