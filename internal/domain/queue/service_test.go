package queue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muslih-a/appklinik/internal/domain/clinic"
	"github.com/muslih-a/appklinik/internal/domain/user"
	"github.com/muslih-a/appklinik/internal/domain/vaccination"
	"github.com/muslih-a/appklinik/internal/platform/apperr"
	"github.com/muslih-a/appklinik/internal/platform/auth"
	"github.com/muslih-a/appklinik/internal/platform/clock"
	"github.com/muslih-a/appklinik/internal/platform/events"
	"github.com/muslih-a/appklinik/internal/platform/notification"
)

type fixture struct {
	svc      *Service
	repo     *memRepo
	users    *fakeUsers
	vax      *fakeVaccinations
	bus      *recBroadcaster
	sender   *notification.MockSender
	notifier *notification.Notifier
	clk      *clock.Fixed

	clinic  *clinic.Clinic
	doctor  *user.User
	patient *user.User
	staff   auth.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clinicID := uuid.New()
	doctor := &user.User{ID: uuid.New(), Name: "dr. Sari", Role: auth.RoleDoctor, ClinicID: &clinicID}
	patient := &user.User{ID: uuid.New(), Name: "Budi", Role: auth.RolePatient, ExpoPushToken: "ExponentPushToken[budi]"}
	cl := &clinic.Clinic{
		ID:                      clinicID,
		Name:                    "Klinik Sehat",
		DoctorID:                &doctor.ID,
		AverageConsultationTime: 15,
		OpeningTime:             "08:00",
		DisplayKey:              "display-key",
	}

	f := &fixture{
		repo:    newMemRepo(),
		users:   &fakeUsers{users: map[uuid.UUID]*user.User{doctor.ID: doctor, patient.ID: patient}},
		vax:     &fakeVaccinations{},
		bus:     &recBroadcaster{},
		sender:  &notification.MockSender{},
		clk:     &clock.Fixed{T: time.Date(2026, 3, 10, 9, 0, 0, 0, wib)},
		clinic:  cl,
		doctor:  doctor,
		patient: patient,
		staff:   auth.Actor{UserID: uuid.NewString(), Role: auth.RoleAdminKlinik, ClinicID: clinicID.String()},
	}
	f.notifier = notification.NewNotifier(f.sender, nil, time.Second, zerolog.Nop(), nil)
	f.svc = NewService(Deps{
		Repo:         f.repo,
		Clinics:      &fakeClinics{clinics: map[uuid.UUID]*clinic.Clinic{clinicID: cl}},
		Users:        f.users,
		Vaccinations: f.vax,
		Events:       f.bus,
		Notifier:     f.notifier,
		Clock:        f.clk,
		Location:     wib,
		Logger:       zerolog.Nop(),
	})
	return f
}

func (f *fixture) patientActor() auth.Actor {
	return auth.Actor{UserID: f.patient.ID.String(), Role: auth.RolePatient}
}

func (f *fixture) doctorActor() auth.Actor {
	return auth.Actor{UserID: f.doctor.ID.String(), Role: auth.RoleDoctor, ClinicID: f.clinic.ID.String()}
}

func (f *fixture) bookReq(at time.Time) BookRequest {
	return BookRequest{DoctorID: f.doctor.ID.String(), ClinicID: f.clinic.ID.String(), AppointmentTime: at}
}

// addPatient registers another patient and books them for today.
func (f *fixture) addPatient(t *testing.T, name string) *Appointment {
	t.Helper()
	p := &user.User{ID: uuid.New(), Name: name, Role: auth.RolePatient}
	f.users.mu.Lock()
	f.users.users[p.ID] = p
	f.users.mu.Unlock()
	a, err := f.svc.Book(context.Background(), auth.Actor{UserID: p.ID.String(), Role: auth.RolePatient},
		f.bookReq(f.clk.T.Add(time.Hour)))
	require.NoError(t, err)
	return a
}

func (f *fixture) transition(t *testing.T, actor auth.Actor, id uuid.UUID, status Status) *Appointment {
	t.Helper()
	a, err := f.svc.Transition(context.Background(), actor, id, string(status))
	require.NoError(t, err)
	return a
}

// ---------------------------------------------------------------------------
// Booking
// ---------------------------------------------------------------------------

func TestBook_AssignsSequentialNumbers(t *testing.T) {
	f := newFixture(t)

	first, err := f.svc.Book(context.Background(), f.patientActor(), f.bookReq(f.clk.T.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, 1, first.QueueNumber)
	assert.Equal(t, StatusScheduled, first.Status)
	assert.Equal(t, clock.Day(f.clk.T, wib), first.ServiceDay)

	second := f.addPatient(t, "Citra")
	assert.Equal(t, 2, second.QueueNumber)

	evt, ok := f.bus.last(events.QueueUpdated)
	require.True(t, ok, "same-day booking publishes the projection")
	room, ok := evt.Msg.Data.(RoomProjection)
	require.True(t, ok, "rooms get the redacted projection, got %T", evt.Msg.Data)
	assert.Len(t, room.ActiveQueue, 2)
}

func TestBook_RejectsDuplicateActiveSameDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Book(ctx, f.patientActor(), f.bookReq(f.clk.T.Add(time.Hour)))
	require.NoError(t, err)

	_, err = f.svc.Book(ctx, f.patientActor(), f.bookReq(f.clk.T.Add(2*time.Hour)))
	require.Error(t, err)
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperr.CodeDuplicateActive, ae.Code)

	// A different day is fine.
	tomorrow, err := f.svc.Book(ctx, f.patientActor(), f.bookReq(f.clk.T.AddDate(0, 0, 1)))
	require.NoError(t, err)
	assert.Equal(t, 1, tomorrow.QueueNumber)
}

func TestBook_AfterCancelPatientMayRebook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.Book(ctx, f.patientActor(), f.bookReq(f.clk.T.Add(time.Hour)))
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, f.patientActor(), a.ID)
	require.NoError(t, err)

	again, err := f.svc.Book(ctx, f.patientActor(), f.bookReq(f.clk.T.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, 2, again.QueueNumber, "numbers are never reused")
}

func TestBook_RegistrationClosed(t *testing.T) {
	f := newFixture(t)
	f.clinic.IsRegistrationClosed = true

	_, err := f.svc.Book(context.Background(), f.patientActor(), f.bookReq(f.clk.T.Add(time.Hour)))
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperr.CodeRegistrationClosed, ae.Code)

	// Closing only affects same-day bookings.
	_, err = f.svc.Book(context.Background(), f.patientActor(), f.bookReq(f.clk.T.AddDate(0, 0, 1)))
	assert.NoError(t, err)
}

func TestBook_ScheduledCloseTimePassed(t *testing.T) {
	f := newFixture(t)
	closeAt := f.clk.T.Add(-time.Minute)
	f.clinic.RegistrationCloseTime = &closeAt

	_, err := f.svc.Book(context.Background(), f.patientActor(), f.bookReq(f.clk.T.Add(time.Hour)))
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestBook_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	otherDoctor := &user.User{ID: uuid.New(), Role: auth.RoleDoctor}
	f.users.users[otherDoctor.ID] = otherDoctor

	tests := []struct {
		name  string
		actor auth.Actor
		req   BookRequest
		kind  apperr.Kind
	}{
		{"staff cannot book", f.staff, f.bookReq(f.clk.T), apperr.KindForbidden},
		{"booking for someone else", f.patientActor(), func() BookRequest {
			r := f.bookReq(f.clk.T)
			r.PatientID = uuid.NewString()
			return r
		}(), apperr.KindForbidden},
		{"unknown clinic", f.patientActor(), func() BookRequest {
			r := f.bookReq(f.clk.T)
			r.ClinicID = uuid.NewString()
			return r
		}(), apperr.KindNotFound},
		{"doctor of another clinic", f.patientActor(), func() BookRequest {
			r := f.bookReq(f.clk.T)
			r.DoctorID = otherDoctor.ID.String()
			return r
		}(), apperr.KindValidation},
		{"patient as doctor", f.patientActor(), func() BookRequest {
			r := f.bookReq(f.clk.T)
			r.DoctorID = f.patient.ID.String()
			return r
		}(), apperr.KindValidation},
		{"yesterday", f.patientActor(), f.bookReq(f.clk.T.AddDate(0, 0, -1)), apperr.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Book(ctx, tt.actor, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err), "got %v", err)
		})
	}
}

// ---------------------------------------------------------------------------
// Transitions
// ---------------------------------------------------------------------------

func TestTransition_FullVisit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.Book(ctx, f.patientActor(), f.bookReq(f.clk.T.Add(time.Hour)))
	require.NoError(t, err)
	f.bus.reset()

	called := f.transition(t, f.staff, a.ID, StatusWaiting)
	assert.Equal(t, StatusWaiting, called.Status)

	evt, ok := f.bus.last(events.PatientCalled)
	require.True(t, ok)
	assert.Equal(t, events.ClinicTopic(f.clinic.ID.String()), evt.Topic)
	data := evt.Msg.Data.(map[string]interface{})
	assert.Equal(t, a.PatientID, data["patientId"])
	assert.Equal(t, 1, data["queueNumber"])

	f.clk.T = f.clk.T.Add(5 * time.Minute)
	started := f.transition(t, f.doctorActor(), a.ID, StatusInProgress)
	require.NotNil(t, started.ConsultationStartTime)
	assert.Equal(t, f.clk.T, *started.ConsultationStartTime)
	assert.Equal(t, 1, f.users.users[f.doctor.ID].NowServingDoctor)

	f.clk.T = f.clk.T.Add(10 * time.Minute)
	done := f.transition(t, f.doctorActor(), a.ID, StatusCompleted)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, f.clk.T, *done.ConsultationEndTime)

	f.notifier.Wait()
	calls := f.sender.Calls()
	require.Len(t, calls, 2, "call and start each push")
	assert.Equal(t, "ExponentPushToken[budi]", calls[0].Token)
	assert.Equal(t, "Panggilan dari Klinik", calls[0].Title)
	assert.Contains(t, calls[0].Body, "Klinik Sehat")
	assert.Contains(t, calls[0].Body, "Antrian 1")

	// queueUpdated after every change.
	count := 0
	for _, e := range f.bus.events() {
		if e == events.QueueUpdated {
			count++
		}
	}
	assert.Equal(t, 3, count)
}

func TestTransition_SameStatusIsNoop(t *testing.T) {
	f := newFixture(t)
	a, err := f.svc.Book(context.Background(), f.patientActor(), f.bookReq(f.clk.T.Add(time.Hour)))
	require.NoError(t, err)
	f.transition(t, f.staff, a.ID, StatusWaiting)
	f.bus.reset()

	again := f.transition(t, f.staff, a.ID, StatusWaiting)
	assert.Equal(t, StatusWaiting, again.Status)
	assert.Empty(t, f.bus.events())

	stored, _ := f.repo.GetByID(context.Background(), a.ID)
	assert.Equal(t, 2, stored.VersionID, "no write on a no-op")
}

func TestTransition_SkipHoldsThenRequeues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.Book(ctx, f.patientActor(), f.bookReq(f.clk.T.Add(time.Hour)))
	require.NoError(t, err)
	f.addPatient(t, "Citra")
	f.addPatient(t, "Dewi")
	f.bus.reset()

	held := f.transition(t, f.staff, a.ID, StatusSkipped)
	assert.Equal(t, StatusOnHold, held.Status)
	require.NotNil(t, held.OnHoldTime)
	evt, ok := f.bus.last(events.PatientSkipped)
	require.True(t, ok)
	assert.Equal(t, "Budi", evt.Msg.Data.(map[string]interface{})["patientName"])

	p, err := f.svc.Projection(ctx, f.clinic.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, numbers(p.OnHoldQueue))
	assert.Equal(t, []int{2, 3}, numbers(p.ActiveQueue))

	skipped := f.transition(t, f.staff, a.ID, StatusSkipped)
	assert.Equal(t, StatusSkipped, skipped.Status)
	require.NotNil(t, skipped.SupersededBy)

	requeued, err := f.repo.GetByID(ctx, *skipped.SupersededBy)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, requeued.Status)
	assert.Equal(t, 4, requeued.QueueNumber)
	assert.Equal(t, a.PatientID, requeued.PatientID)
	assert.Equal(t, a.AppointmentTime, requeued.AppointmentTime)

	p, err = f.svc.Projection(ctx, f.clinic.ID)
	require.NoError(t, err)
	assert.Empty(t, p.OnHoldQueue)
	assert.Equal(t, []int{2, 3, 4}, numbers(p.ActiveQueue))

	mine, err := f.svc.MyToday(ctx, f.patientActor())
	require.NoError(t, err)
	require.NotNil(t, mine)
	assert.Equal(t, requeued.ID, mine.ID)
}

func TestTransition_HoldThenCallBack(t *testing.T) {
	f := newFixture(t)
	a, err := f.svc.Book(context.Background(), f.patientActor(), f.bookReq(f.clk.T.Add(time.Hour)))
	require.NoError(t, err)

	f.transition(t, f.staff, a.ID, StatusOnHold)
	back := f.transition(t, f.staff, a.ID, StatusWaiting)
	assert.Equal(t, StatusWaiting, back.Status)
	assert.Nil(t, back.OnHoldTime)
	assert.Equal(t, 1, back.QueueNumber)
}

func TestTransition_InvalidAndUnknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.Book(ctx, f.patientActor(), f.bookReq(f.clk.T.Add(time.Hour)))
	require.NoError(t, err)

	_, err = f.svc.Transition(ctx, f.doctorActor(), a.ID, string(StatusCompleted))
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperr.CodeInvalidTransition, ae.Code)

	_, err = f.svc.Transition(ctx, f.staff, a.ID, "DONE")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.svc.Transition(ctx, f.staff, uuid.New(), string(StatusWaiting))
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestTransition_ForbiddenActors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.Book(ctx, f.patientActor(), f.bookReq(f.clk.T.Add(time.Hour)))
	require.NoError(t, err)

	_, err = f.svc.Transition(ctx, f.patientActor(), a.ID, string(StatusWaiting))
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, err = f.svc.Transition(ctx, auth.Actor{UserID: uuid.NewString(), Role: auth.RoleAdmin}, a.ID, string(StatusWaiting))
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, err = f.svc.Cancel(ctx, auth.Actor{UserID: uuid.NewString(), Role: auth.RolePatient}, a.ID)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

func TestTransition_RetriesOnStaleVersion(t *testing.T) {
	f := newFixture(t)
	a, err := f.svc.Book(context.Background(), f.patientActor(), f.bookReq(f.clk.T.Add(time.Hour)))
	require.NoError(t, err)

	f.repo.staleUpdates = 2
	called := f.transition(t, f.staff, a.ID, StatusWaiting)
	assert.Equal(t, StatusWaiting, called.Status)
}

func TestTransition_GivesUpAfterRepeatedConflicts(t *testing.T) {
	f := newFixture(t)
	a, err := f.svc.Book(context.Background(), f.patientActor(), f.bookReq(f.clk.T.Add(time.Hour)))
	require.NoError(t, err)
	f.bus.reset()

	f.repo.staleUpdates = maxAttempts
	_, err = f.svc.Transition(context.Background(), f.staff, a.ID, string(StatusWaiting))
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperr.CodeConcurrentUpdate, ae.Code)
	assert.Empty(t, f.bus.events())
}

func TestTransition_MissingPushTokenStillSucceeds(t *testing.T) {
	for name, setup := range map[string]func(u *user.User){
		"no token": func(u *user.User) { u.ExpoPushToken = "" },
		"fcm only": func(u *user.User) { u.ExpoPushToken, u.FCMToken = "", "fcm-registration-token-abc123" },
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			setup(f.patient)
			a, err := f.svc.Book(context.Background(), f.patientActor(), f.bookReq(f.clk.T.Add(time.Hour)))
			require.NoError(t, err)

			f.transition(t, f.staff, a.ID, StatusWaiting)
			f.notifier.Wait()
			assert.Empty(t, f.sender.Calls())
		})
	}
}

func TestTransition_PushFailureDoesNotFailTransition(t *testing.T) {
	f := newFixture(t)
	f.sender.ShouldFail = true
	f.sender.FailError = "expo down"
	a, err := f.svc.Book(context.Background(), f.patientActor(), f.bookReq(f.clk.T.Add(time.Hour)))
	require.NoError(t, err)

	called := f.transition(t, f.staff, a.ID, StatusWaiting)
	f.notifier.Wait()
	assert.Equal(t, StatusWaiting, called.Status)
	assert.Len(t, f.sender.Calls(), 1)
}

// ---------------------------------------------------------------------------
// EMR
// ---------------------------------------------------------------------------

func TestRecordEMR(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.Book(ctx, f.patientActor(), f.bookReq(f.clk.T.Add(time.Hour)))
	require.NoError(t, err)

	diag := "ISPA"
	got, err := f.svc.RecordEMR(ctx, f.doctorActor(), a.ID, EMRRequest{Diagnosis: &diag})
	require.NoError(t, err)
	assert.Equal(t, "ISPA", got.Diagnosis)
	assert.Equal(t, StatusScheduled, got.Status)

	f.repo.staleUpdates = 1
	treat := "istirahat"
	got, err = f.svc.RecordEMR(ctx, f.staff, a.ID, EMRRequest{Treatment: &treat})
	require.NoError(t, err)
	assert.Equal(t, "ISPA", got.Diagnosis)
	assert.Equal(t, "istirahat", got.Treatment)

	_, err = f.svc.RecordEMR(ctx, f.patientActor(), a.ID, EMRRequest{Diagnosis: &diag})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

// ---------------------------------------------------------------------------
// Views
// ---------------------------------------------------------------------------

func TestMyToday_Estimate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, name := range []string{"A", "B", "C", "D"} {
		f.addPatient(t, name)
	}
	mine, err := f.svc.Book(ctx, f.patientActor(), f.bookReq(f.clk.T.Add(time.Hour)))
	require.NoError(t, err)
	require.Equal(t, 5, mine.QueueNumber)
	require.NoError(t, f.users.SetNowServing(ctx, f.doctor.ID, 2, f.clk.T))

	v, err := f.svc.MyToday(ctx, f.patientActor())
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "Klinik Sehat", v.ClinicName)
	assert.Equal(t, 2, v.NowServing)
	require.NotNil(t, v.EstimatedStartTime)
	assert.True(t, time.Date(2026, 3, 10, 9, 30, 0, 0, wib).Equal(*v.EstimatedStartTime))
}

func TestMyToday_StaleCursorReadsZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Book(ctx, f.patientActor(), f.bookReq(f.clk.T.Add(time.Hour)))
	require.NoError(t, err)
	require.NoError(t, f.users.SetNowServing(ctx, f.doctor.ID, 7, f.clk.T.AddDate(0, 0, -1)))

	v, err := f.svc.MyToday(ctx, f.patientActor())
	require.NoError(t, err)
	assert.Equal(t, 0, v.NowServing)
	require.NotNil(t, v.EstimatedStartTime)
}

func TestMyToday_NothingBooked(t *testing.T) {
	f := newFixture(t)
	v, err := f.svc.MyToday(context.Background(), f.patientActor())
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestProjectionFor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addPatient(t, "A")

	p, err := f.svc.ProjectionFor(ctx, f.staff, "")
	require.NoError(t, err)
	assert.Len(t, p.ActiveQueue, 1)

	_, err = f.svc.ProjectionFor(ctx, f.staff, uuid.NewString())
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	p, err = f.svc.ProjectionFor(ctx, f.patientActor(), f.clinic.ID.String())
	require.NoError(t, err)
	assert.Len(t, p.DailyHistory, 1)

	_, err = f.svc.ProjectionFor(ctx, f.patientActor(), "")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestDisplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var appts []*Appointment
	for _, name := range []string{"A", "B", "C", "D", "E"} {
		appts = append(appts, f.addPatient(t, name))
	}
	for _, a := range appts[1:] {
		f.transition(t, f.staff, a.ID, StatusWaiting)
	}
	f.transition(t, f.staff, appts[0].ID, StatusWaiting)
	f.transition(t, f.doctorActor(), appts[0].ID, StatusInProgress)

	d, err := f.svc.Display(ctx, "display-key")
	require.NoError(t, err)
	assert.Equal(t, "Klinik Sehat", d.ClinicName)
	assert.Equal(t, 1, d.NowServing)
	assert.Equal(t, []int{2, 3, 4}, d.NextInQueue)
	require.Len(t, d.Doctors, 1)
	assert.Equal(t, "dr. Sari", d.Doctors[0].DoctorName)
	assert.Equal(t, []int{2, 3, 4}, d.Doctors[0].NextInQueue)

	_, err = f.svc.Display(ctx, "nope")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestDoctorSchedule_MergesVaccinations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.Book(ctx, f.patientActor(), f.bookReq(f.clk.T.Add(time.Hour)))
	require.NoError(t, err)
	vaxAt := f.clk.T.Add(30 * time.Minute)
	f.vax.items = append(f.vax.items, &vaccination.Vaccination{
		ID: uuid.New(), DoctorID: f.doctor.ID, VaccineName: "BCG", ScheduledAt: vaxAt, PatientName: "Eka",
	})

	from, to := f.clk.T.Add(-time.Hour), f.clk.T.Add(24*time.Hour)
	entries, err := f.svc.DoctorSchedule(ctx, f.doctorActor(), "", from, to)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "vaccination", entries[0].Type)
	assert.Equal(t, "Vaksin (BCG): Eka", entries[0].Title)
	assert.Equal(t, vaxAt.Add(15*time.Minute), entries[0].End)

	assert.Equal(t, "appointment", entries[1].Type)
	assert.Equal(t, a.ID, entries[1].ID)
	assert.Equal(t, a.AppointmentTime.Add(15*time.Minute), entries[1].End)

	// Clinic admins must name a doctor of their own clinic.
	_, err = f.svc.DoctorSchedule(ctx, f.staff, "", from, to)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	entries, err = f.svc.DoctorSchedule(ctx, f.staff, f.doctor.ID.String(), from, to)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	_, err = f.svc.DoctorSchedule(ctx, f.doctorActor(), "", to, from)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestDoctorHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a1 := f.addPatient(t, "A")
	f.addPatient(t, "B")
	f.transition(t, f.staff, a1.ID, StatusWaiting)
	f.transition(t, f.doctorActor(), a1.ID, StatusInProgress)
	f.transition(t, f.doctorActor(), a1.ID, StatusCompleted)

	all, err := f.svc.DoctorHistory(ctx, f.doctorActor(), "", HistoryFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, all.Count)

	done, err := f.svc.DoctorHistory(ctx, f.doctorActor(), "", HistoryFilter{Status: StatusCompleted})
	require.NoError(t, err)
	require.Equal(t, 1, done.Count)
	assert.Equal(t, a1.ID, done.Data[0].ID)

	_, err = f.svc.DoctorHistory(ctx, f.doctorActor(), "", HistoryFilter{Status: "DONE"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestMyHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Book(ctx, f.patientActor(), f.bookReq(f.clk.T.Add(time.Hour)))
	require.NoError(t, err)
	_, err = f.svc.Book(ctx, f.patientActor(), f.bookReq(f.clk.T.AddDate(0, 0, 2)))
	require.NoError(t, err)

	items, total, err := f.svc.MyHistory(ctx, f.patientActor(), 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, items, 1)
	assert.True(t, items[0].AppointmentTime.After(f.clk.T.AddDate(0, 0, 1)))
}
