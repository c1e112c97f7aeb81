package vaccination

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muslih-a/appklinik/internal/platform/apperr"
	"github.com/muslih-a/appklinik/internal/platform/auth"
	"github.com/muslih-a/appklinik/internal/platform/clock"
	"github.com/muslih-a/appklinik/internal/platform/validate"
)

type memRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Vaccination
}

func newMemRepo() *memRepo { return &memRepo{items: make(map[uuid.UUID]*Vaccination)} }

func (m *memRepo) Create(_ context.Context, v *Vaccination) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v.ID = uuid.New()
	cp := *v
	m.items[v.ID] = &cp
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Vaccination, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFound("vaccination %s not found", id)
	}
	cp := *v
	return &cp, nil
}

func (m *memRepo) SetStatus(_ context.Context, id uuid.UUID, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[id]
	if !ok || v.Status != from {
		return apperr.Conflict(apperr.CodeInvalidTransition, "vaccination is no longer %s", from)
	}
	v.Status = to
	return nil
}

func (m *memRepo) filter(keep func(*Vaccination) bool) []*Vaccination {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Vaccination
	for _, v := range m.items {
		if keep(v) {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out
}

func (m *memRepo) ListUpcomingForPatient(_ context.Context, patientID uuid.UUID, from time.Time) ([]*Vaccination, error) {
	return m.filter(func(v *Vaccination) bool {
		return v.PatientID == patientID && v.Status == StatusScheduled && !v.ScheduledAt.Before(from)
	}), nil
}

func (m *memRepo) ListForDoctor(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Vaccination, error) {
	return m.filter(func(v *Vaccination) bool {
		return v.DoctorID == doctorID && v.Status == StatusScheduled && !v.ScheduledAt.Before(from) && !v.ScheduledAt.After(to)
	}), nil
}

func (m *memRepo) ListScheduledOn(_ context.Context, day time.Time) ([]*Vaccination, error) {
	return m.filter(func(v *Vaccination) bool { return v.ServiceDay.Equal(day) && v.Status == StatusScheduled }), nil
}

type fixture struct {
	svc    *Service
	repo   *memRepo
	doctor auth.Actor
	now    time.Time
	loc    *time.Location
}

func newFixture(t *testing.T) *fixture {
	loc, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, loc)
	repo := newMemRepo()
	return &fixture{
		svc:    NewService(repo, &clock.Fixed{T: now}, loc, zerolog.Nop()),
		repo:   repo,
		doctor: auth.Actor{UserID: uuid.NewString(), Role: auth.RoleDoctor, ClinicID: uuid.NewString()},
		now:    now,
		loc:    loc,
	}
}

func TestService_Schedule(t *testing.T) {
	f := newFixture(t)
	patient := uuid.New()
	// 06:30 on the 5th in Jakarta is still the 4th in UTC.
	at := time.Date(2026, 5, 5, 6, 30, 0, 0, f.loc)

	v, err := f.svc.Schedule(context.Background(), f.doctor, CreateRequest{
		PatientID: patient.String(), VaccineName: "Hepatitis B", ScheduledDate: at,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusScheduled, v.Status)
	assert.Equal(t, f.doctor.UserID, v.DoctorID.String())
	assert.Equal(t, f.doctor.ClinicID, v.ClinicID.String())
	assert.Equal(t, time.Date(2026, 5, 5, 0, 0, 0, 0, time.UTC), v.ServiceDay)
}

func TestService_ScheduleRules(t *testing.T) {
	f := newFixture(t)
	req := CreateRequest{PatientID: uuid.NewString(), VaccineName: "BCG", ScheduledDate: f.now.Add(time.Hour)}

	_, err := f.svc.Schedule(context.Background(), auth.Actor{UserID: uuid.NewString(), Role: auth.RoleAdminKlinik, ClinicID: uuid.NewString()}, req)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, err = f.svc.Schedule(context.Background(), auth.Actor{UserID: uuid.NewString(), Role: auth.RoleDoctor}, req)
	assert.True(t, apperr.Is(err, apperr.KindForbidden), "doctor without clinic")

	past := req
	past.ScheduledDate = f.now.Add(-time.Hour)
	_, err = f.svc.Schedule(context.Background(), f.doctor, past)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestService_UpcomingAndStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	patient := uuid.New()

	later, err := f.svc.Schedule(ctx, f.doctor, CreateRequest{PatientID: patient.String(), VaccineName: "Polio", ScheduledDate: f.now.Add(48 * time.Hour)})
	require.NoError(t, err)
	sooner, err := f.svc.Schedule(ctx, f.doctor, CreateRequest{PatientID: patient.String(), VaccineName: "Campak", ScheduledDate: f.now.Add(2 * time.Hour)})
	require.NoError(t, err)

	items, err := f.svc.Upcoming(ctx, auth.Actor{UserID: patient.String(), Role: auth.RolePatient})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, sooner.ID, items[0].ID)

	_, err = f.svc.SetStatus(ctx, auth.Actor{UserID: uuid.NewString(), Role: auth.RoleDoctor}, later.ID, StatusCompleted)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	done, err := f.svc.SetStatus(ctx, f.doctor, later.ID, StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)

	_, err = f.svc.SetStatus(ctx, f.doctor, later.ID, StatusCancelled)
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	items, _ = f.svc.Upcoming(ctx, auth.Actor{UserID: patient.String(), Role: auth.RolePatient})
	assert.Len(t, items, 1)
}

func TestService_ScheduledOn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tomorrow := time.Date(2026, 5, 5, 10, 0, 0, 0, f.loc)
	_, err := f.svc.Schedule(ctx, f.doctor, CreateRequest{PatientID: uuid.NewString(), VaccineName: "DPT", ScheduledDate: tomorrow})
	require.NoError(t, err)

	items, err := f.svc.ScheduledOn(ctx, clock.Day(tomorrow, f.loc))
	require.NoError(t, err)
	assert.Len(t, items, 1)

	items, _ = f.svc.ScheduledOn(ctx, clock.Day(f.now, f.loc))
	assert.Empty(t, items)
}

func TestHandler_Schedule(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)
	e := echo.New()
	e.Validator = validate.New()

	body := `{"patientId":"` + uuid.NewString() + `","vaccineName":"BCG","scheduledDate":"2026-05-06T09:00:00+07:00"}`
	req := httptest.NewRequest(http.MethodPost, "/vaccinations", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(auth.WithActor(req.Context(), f.doctor))
	rec := httptest.NewRecorder()

	require.NoError(t, h.Schedule(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"vaccineName":"BCG"`)
}

func TestHandler_ScheduleMissingFields(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)
	e := echo.New()
	e.Validator = validate.New()

	req := httptest.NewRequest(http.MethodPost, "/vaccinations", strings.NewReader(`{"vaccineName":"BCG"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	err := h.Schedule(e.NewContext(req, httptest.NewRecorder()))
	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusBadRequest, he.Code)
}
