package queue

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/muslih-a/appklinik/internal/domain/clinic"
	"github.com/muslih-a/appklinik/internal/domain/user"
	"github.com/muslih-a/appklinik/internal/domain/vaccination"
	"github.com/muslih-a/appklinik/internal/platform/apperr"
	"github.com/muslih-a/appklinik/internal/platform/auth"
	"github.com/muslih-a/appklinik/internal/platform/clock"
	"github.com/muslih-a/appklinik/internal/platform/db"
	"github.com/muslih-a/appklinik/internal/platform/events"
	"github.com/muslih-a/appklinik/internal/platform/metrics"
	"github.com/muslih-a/appklinik/internal/platform/notification"
)

// maxAttempts bounds the re-read/re-plan loop on version conflicts.
const maxAttempts = 3

type Clinics interface {
	GetByID(ctx context.Context, id uuid.UUID) (*clinic.Clinic, error)
	GetByDisplayKey(ctx context.Context, key string) (*clinic.Clinic, error)
}

type Users interface {
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
	ListByClinic(ctx context.Context, clinicID uuid.UUID, role string) ([]*user.User, error)
	SetNowServing(ctx context.Context, doctorID uuid.UUID, queueNumber int, at time.Time) error
}

type Vaccinations interface {
	ForDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*vaccination.Vaccination, error)
}

// Notifier sends pushes without blocking the caller.
type Notifier interface {
	NotifyAsync(msg notification.Message)
}

type Deps struct {
	Repo         Repository
	Clinics      Clinics
	Users        Users
	Vaccinations Vaccinations
	Tx           db.TxManager
	Events       events.Broadcaster
	Notifier     Notifier
	Metrics      *metrics.Metrics
	Clock        clock.Clock
	Location     *time.Location
	Logger       zerolog.Logger
}

type Service struct {
	repo         Repository
	clinics      Clinics
	users        Users
	vaccinations Vaccinations
	tx           db.TxManager
	events       events.Broadcaster
	notifier     Notifier
	metrics      *metrics.Metrics
	clock        clock.Clock
	loc          *time.Location
	logger       zerolog.Logger
}

func NewService(d Deps) *Service {
	s := &Service{
		repo:         d.Repo,
		clinics:      d.Clinics,
		users:        d.Users,
		vaccinations: d.Vaccinations,
		tx:           d.Tx,
		events:       d.Events,
		notifier:     d.Notifier,
		metrics:      d.Metrics,
		clock:        d.Clock,
		loc:          d.Location,
		logger:       d.Logger.With().Str("component", "queue").Logger(),
	}
	if s.tx == nil {
		s.tx = db.NopTxManager{}
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	if s.clock == nil {
		s.clock = clock.System()
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	return s
}

func (s *Service) today() time.Time { return clock.Day(s.clock.Now(), s.loc) }

// ---------------------------------------------------------------------------
// Booking
// ---------------------------------------------------------------------------

// Book creates a SCHEDULED appointment for the calling patient and assigns
// the next queue number for the doctor's day.
func (s *Service) Book(ctx context.Context, actor auth.Actor, req BookRequest) (*Appointment, error) {
	a, err := s.book(ctx, actor, req)
	if err != nil {
		result := "error"
		switch apperr.KindOf(err) {
		case apperr.KindConflict:
			result = "conflict"
		case apperr.KindValidation, apperr.KindNotFound, apperr.KindForbidden:
			result = "rejected"
		}
		s.metrics.Booking(result)
		return nil, err
	}
	s.metrics.Booking("ok")
	s.logger.Info().
		Str("appointment_id", a.ID.String()).
		Str("clinic_id", a.ClinicID.String()).
		Int("queue_number", a.QueueNumber).
		Msg("appointment booked")

	if a.ServiceDay.Equal(s.today()) {
		s.publishProjection(ctx, a.ClinicID)
	}
	return a, nil
}

func (s *Service) book(ctx context.Context, actor auth.Actor, req BookRequest) (*Appointment, error) {
	patientID, ok := actor.UUID()
	if !ok || !actor.Is(auth.RolePatient) {
		return nil, apperr.Forbidden("only patients can book appointments")
	}
	if req.PatientID != "" && req.PatientID != actor.UserID {
		return nil, apperr.Forbidden("patients can only book for themselves")
	}
	clinicID, err := uuid.Parse(req.ClinicID)
	if err != nil {
		return nil, apperr.Validation("clinicId must be a valid id")
	}
	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		return nil, apperr.Validation("doctorId must be a valid id")
	}

	cl, err := s.clinics.GetByID(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	doctor, err := s.users.GetByID(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if doctor.Role != auth.RoleDoctor || doctor.ClinicID == nil || *doctor.ClinicID != cl.ID {
		return nil, apperr.Validation("doctor does not practise at this clinic")
	}

	now := s.clock.Now()
	day := clock.Day(req.AppointmentTime, s.loc)
	today := clock.Day(now, s.loc)
	if day.Before(today) {
		return nil, apperr.Validation("appointmentTime must not be in the past")
	}
	if day.Equal(today) && !cl.RegistrationOpen(now) {
		return nil, apperr.Conflict(apperr.CodeRegistrationClosed, "registration for today is closed")
	}

	a := &Appointment{
		PatientID:       patientID,
		DoctorID:        doctorID,
		ClinicID:        cl.ID,
		AppointmentTime: req.AppointmentTime,
		ServiceDay:      day,
		Status:          StatusScheduled,
	}
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		existing, err := s.repo.ActiveForPatientOnDay(ctx, patientID, day)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperr.Conflict(apperr.CodeDuplicateActive, "patient already has an active appointment on that day")
		}
		n, err := s.repo.NextQueueNumber(ctx, doctorID, day)
		if err != nil {
			return err
		}
		a.QueueNumber = n
		return s.repo.Create(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ---------------------------------------------------------------------------
// Status transitions
// ---------------------------------------------------------------------------

type outcome struct {
	plan     Plan
	appt     *Appointment
	requeued *Appointment
}

// Transition applies a status request. The read, the plan and the
// conditional write happen in one transaction; a lost race re-reads and
// re-plans. Projection publishing and pushes happen after commit.
func (s *Service) Transition(ctx context.Context, actor auth.Actor, id uuid.UUID, status string) (*Appointment, error) {
	requested, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}

	var out outcome
	for attempt := 1; ; attempt++ {
		out, err = s.transitionOnce(ctx, actor, id, requested)
		if !errors.Is(err, ErrStaleVersion) {
			break
		}
		s.logger.Debug().Str("appointment_id", id.String()).Int("attempt", attempt).Msg("version conflict, retrying")
		if attempt == maxAttempts {
			return nil, apperr.Conflict(apperr.CodeConcurrentUpdate, "appointment is being updated by someone else, try again")
		}
	}
	if err != nil {
		return nil, err
	}
	if out.plan.Action == ActionNoop {
		return out.appt, nil
	}

	s.metrics.Transition(string(out.plan.From), string(out.appt.Status))
	evt := s.logger.Info().
		Str("appointment_id", id.String()).
		Str("from", string(out.plan.From)).
		Str("to", string(out.appt.Status)).
		Str("actor", actor.UserID)
	if out.requeued != nil {
		evt = evt.Str("requeued_as", out.requeued.ID.String()).Int("new_queue_number", out.requeued.QueueNumber)
	}
	evt.Msg("appointment status changed")

	s.afterTransition(ctx, out)
	return out.appt, nil
}

func (s *Service) transitionOnce(ctx context.Context, actor auth.Actor, id uuid.UUID, requested Status) (outcome, error) {
	var out outcome
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := Authorize(actor, a, requested); err != nil {
			return err
		}
		plan, err := PlanTransition(a.Status, requested)
		if err != nil {
			return err
		}
		out = outcome{plan: plan, appt: a}
		if plan.Action == ActionNoop {
			return nil
		}

		now := s.clock.Now()
		var next *Appointment
		if plan.Action == ActionRequeue {
			next = &Appointment{
				ID:              uuid.New(),
				PatientID:       a.PatientID,
				DoctorID:        a.DoctorID,
				ClinicID:        a.ClinicID,
				AppointmentTime: a.AppointmentTime,
				ServiceDay:      a.ServiceDay,
				Status:          StatusScheduled,
				PatientName:     a.PatientName,
				DoctorName:      a.DoctorName,
			}
			a.SupersededBy = &next.ID
		}
		plan.Apply(a, now)
		if err := s.repo.Update(ctx, a); err != nil {
			return err
		}

		switch plan.Action {
		case ActionStart:
			if err := s.users.SetNowServing(ctx, a.DoctorID, a.QueueNumber, now); err != nil {
				return err
			}
		case ActionRequeue:
			n, err := s.repo.NextQueueNumber(ctx, a.DoctorID, a.ServiceDay)
			if err != nil {
				return err
			}
			next.QueueNumber = n
			if err := s.repo.Create(ctx, next); err != nil {
				return err
			}
			out.requeued = next
		}
		return nil
	})
	return out, err
}

// afterTransition publishes the new projection and the per-action notices.
// Failures are logged and never reach the caller.
func (s *Service) afterTransition(ctx context.Context, out outcome) {
	ctx = context.WithoutCancel(ctx)
	a := out.appt
	s.publishProjection(ctx, a.ClinicID)

	topic := events.ClinicTopic(a.ClinicID.String())
	switch out.plan.Action {
	case ActionCall:
		s.publish(ctx, topic, events.PatientCalled, map[string]interface{}{
			"patientId":   a.PatientID,
			"queueNumber": a.QueueNumber,
		})
		s.pushPatientCall(ctx, a)
	case ActionStart:
		s.pushPatientCall(ctx, a)
	case ActionHold:
		name := a.PatientName
		if name == "" {
			if p, err := s.users.GetByID(ctx, a.PatientID); err == nil {
				name = p.Name
			}
		}
		s.publish(ctx, topic, events.PatientSkipped, map[string]interface{}{"patientName": name})
	}
}

func (s *Service) pushPatientCall(ctx context.Context, a *Appointment) {
	if s.notifier == nil {
		return
	}
	patient, err := s.users.GetByID(ctx, a.PatientID)
	if err != nil {
		s.logger.Error().Err(err).Str("appointment_id", a.ID.String()).Msg("patient record missing, call not pushed")
		return
	}
	cl, err := s.clinics.GetByID(ctx, a.ClinicID)
	if err != nil {
		s.logger.Error().Err(err).Str("appointment_id", a.ID.String()).Msg("clinic record missing, call not pushed")
		return
	}
	token := patient.PushToken()
	if !notification.ValidExpoToken(token) {
		s.logger.Warn().Str("patient_id", patient.ID.String()).Msg("patient has no push token, call not pushed")
		return
	}
	s.notifier.NotifyAsync(notification.Message{
		Kind:  notification.KindPatientCall,
		Token: token,
		Vars: map[string]string{
			"clinic_name":  cl.Name,
			"queue_number": strconv.Itoa(a.QueueNumber),
		},
		Data: map[string]interface{}{
			"type":        "patient-call",
			"clinicName":  cl.Name,
			"queueNumber": a.QueueNumber,
		},
		Ref: a.ID.String(),
	})
}

func (s *Service) publish(ctx context.Context, topic, event string, data interface{}) {
	if err := s.events.Publish(ctx, topic, events.Message{Event: event, Data: data}); err != nil {
		s.logger.Warn().Err(err).Str("event", event).Str("topic", topic).Msg("publish failed")
	}
}

func (s *Service) publishProjection(ctx context.Context, clinicID uuid.UUID) {
	p, err := s.Projection(ctx, clinicID)
	if err != nil {
		s.logger.Error().Err(err).Str("clinic_id", clinicID.String()).Msg("recompute projection")
		return
	}
	s.publish(ctx, events.ClinicTopic(clinicID.String()), events.QueueUpdated, p.ForRoom())
}

// Cancel is the patient's own cancellation.
func (s *Service) Cancel(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Appointment, error) {
	return s.Transition(ctx, actor, id, string(StatusCancelled))
}

// RecordEMR writes consultation notes under the same version check as status
// changes.
func (s *Service) RecordEMR(ctx context.Context, actor auth.Actor, id uuid.UUID, req EMRRequest) (*Appointment, error) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		a, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := CanRecordEMR(actor, a); err != nil {
			return nil, err
		}
		if req.Symptoms != nil {
			a.Symptoms = *req.Symptoms
		}
		if req.Diagnosis != nil {
			a.Diagnosis = *req.Diagnosis
		}
		if req.Treatment != nil {
			a.Treatment = *req.Treatment
		}
		err = s.repo.Update(ctx, a)
		if errors.Is(err, ErrStaleVersion) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return a, nil
	}
	return nil, apperr.Conflict(apperr.CodeConcurrentUpdate, "appointment is being updated by someone else, try again")
}

// ---------------------------------------------------------------------------
// Views
// ---------------------------------------------------------------------------

// Projection recomputes today's queue for a clinic from the store.
func (s *Service) Projection(ctx context.Context, clinicID uuid.UUID) (Projection, error) {
	items, err := s.repo.ListForClinicDay(ctx, clinicID, s.today())
	if err != nil {
		return Projection{}, err
	}
	return BuildProjection(items), nil
}

// ProjectionFor returns the projection the caller may see. Staff see their
// own clinic; admins and patients name the clinic.
func (s *Service) ProjectionFor(ctx context.Context, actor auth.Actor, clinicParam string) (Projection, error) {
	var clinicID uuid.UUID
	switch {
	case actor.Is(auth.RoleDoctor) || actor.Is(auth.RoleAdminKlinik):
		id, ok := actor.ClinicUUID()
		if !ok {
			return Projection{}, apperr.Forbidden("user is not linked to a clinic")
		}
		if clinicParam != "" && clinicParam != actor.ClinicID {
			return Projection{}, apperr.Forbidden("staff can only view their own clinic")
		}
		clinicID = id
	default:
		id, err := uuid.Parse(clinicParam)
		if err != nil {
			return Projection{}, apperr.Validation("clinicId is required")
		}
		clinicID = id
	}
	if _, err := s.clinics.GetByID(ctx, clinicID); err != nil {
		return Projection{}, err
	}
	return s.Projection(ctx, clinicID)
}

// Display builds the public display board for a display key.
func (s *Service) Display(ctx context.Context, displayKey string) (*Display, error) {
	cl, err := s.clinics.GetByDisplayKey(ctx, displayKey)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.ListForClinicDay(ctx, cl.ID, s.today())
	if err != nil {
		return nil, err
	}
	doctors, err := s.users.ListByClinic(ctx, cl.ID, auth.RoleDoctor)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	d := &Display{
		ClinicName:  cl.Name,
		NextInQueue: nextWaiting(items, uuid.Nil),
		Doctors:     make([]DisplayDoctor, 0, len(doctors)),
	}
	for i, doc := range doctors {
		serving := doc.NowServing(now, s.loc)
		d.Doctors = append(d.Doctors, DisplayDoctor{
			DoctorID:    doc.ID,
			DoctorName:  doc.Name,
			NowServing:  serving,
			NextInQueue: nextWaiting(items, doc.ID),
		})
		if (cl.DoctorID != nil && *cl.DoctorID == doc.ID) || (cl.DoctorID == nil && i == 0) {
			d.NowServing = serving
		}
	}
	return d, nil
}

// PatientView is the patient's appointment for today with its estimate.
type PatientView struct {
	*Appointment
	ClinicName              string     `json:"clinicName"`
	AverageConsultationTime int        `json:"averageConsultationTime"`
	OpeningTime             string     `json:"openingTime"`
	NowServing              int        `json:"nowServing"`
	EstimatedStartTime      *time.Time `json:"estimatedStartTime"`
}

// MyToday returns the caller's active appointment today, or nil.
func (s *Service) MyToday(ctx context.Context, actor auth.Actor) (*PatientView, error) {
	patientID, ok := actor.UUID()
	if !ok {
		return nil, apperr.NotFound("no profile for %s", actor.UserID)
	}
	a, err := s.repo.ActiveForPatientOnDay(ctx, patientID, s.today())
	if err != nil || a == nil {
		return nil, err
	}

	v := &PatientView{Appointment: a}
	cl, err := s.clinics.GetByID(ctx, a.ClinicID)
	if err != nil {
		s.logger.Error().Err(err).Str("appointment_id", a.ID.String()).Msg("clinic record missing")
		return v, nil
	}
	v.ClinicName = cl.Name
	v.AverageConsultationTime = cl.AverageConsultationTime
	v.OpeningTime = cl.OpeningTime

	doctor, err := s.users.GetByID(ctx, a.DoctorID)
	if err != nil {
		s.logger.Error().Err(err).Str("appointment_id", a.ID.String()).Msg("doctor record missing")
		return v, nil
	}
	now := s.clock.Now()
	v.NowServing = doctor.NowServing(now, s.loc)
	v.EstimatedStartTime = EstimateStart(a.QueueNumber, v.NowServing, cl.AverageConsultationTime, cl.OpeningTime, now, s.loc)
	return v, nil
}

func (s *Service) MyHistory(ctx context.Context, actor auth.Actor, limit, offset int) ([]*Appointment, int, error) {
	patientID, ok := actor.UUID()
	if !ok {
		return nil, 0, apperr.NotFound("no profile for %s", actor.UserID)
	}
	return s.repo.ListForPatient(ctx, patientID, limit, offset)
}

// resolveDoctor picks whose schedule or history the caller is asking about.
// Doctors get their own; clinic admins must name a doctor of their clinic.
func (s *Service) resolveDoctor(ctx context.Context, actor auth.Actor, doctorParam string) (uuid.UUID, error) {
	if actor.Is(auth.RoleDoctor) {
		id, ok := actor.UUID()
		if !ok {
			return uuid.Nil, apperr.Forbidden("caller is not a registered doctor")
		}
		return id, nil
	}
	id, err := uuid.Parse(doctorParam)
	if err != nil {
		return uuid.Nil, apperr.Validation("doctorId is required")
	}
	doc, err := s.users.GetByID(ctx, id)
	if err != nil {
		return uuid.Nil, err
	}
	if !actor.Is(auth.RoleAdmin) && (doc.ClinicID == nil || doc.ClinicID.String() != actor.ClinicID) {
		return uuid.Nil, apperr.Forbidden("doctor belongs to another clinic")
	}
	return id, nil
}

// ScheduleEntry is one item on a doctor's calendar.
type ScheduleEntry struct {
	ID    uuid.UUID `json:"id"`
	Title string    `json:"title"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Type  string    `json:"type"`
}

// DoctorSchedule merges active appointments and scheduled vaccinations in
// [from, to], ordered by start.
func (s *Service) DoctorSchedule(ctx context.Context, actor auth.Actor, doctorParam string, from, to time.Time) ([]ScheduleEntry, error) {
	if to.Before(from) {
		return nil, apperr.Validation("endDate must not be before startDate")
	}
	doctorID, err := s.resolveDoctor(ctx, actor, doctorParam)
	if err != nil {
		return nil, err
	}
	appts, err := s.repo.ListScheduleForDoctor(ctx, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	var vax []*vaccination.Vaccination
	if s.vaccinations != nil {
		if vax, err = s.vaccinations.ForDoctor(ctx, doctorID, from, to); err != nil {
			return nil, err
		}
	}

	avg := map[uuid.UUID]int{}
	entries := make([]ScheduleEntry, 0, len(appts)+len(vax))
	for _, a := range appts {
		minutes, ok := avg[a.ClinicID]
		if !ok {
			minutes = clinic.DefaultAverageConsultationTime
			if cl, err := s.clinics.GetByID(ctx, a.ClinicID); err == nil && cl.AverageConsultationTime > 0 {
				minutes = cl.AverageConsultationTime
			}
			avg[a.ClinicID] = minutes
		}
		entries = append(entries, ScheduleEntry{
			ID:    a.ID,
			Title: "Konsultasi: " + nameOr(a.PatientName),
			Start: a.AppointmentTime,
			End:   a.AppointmentTime.Add(time.Duration(minutes) * time.Minute),
			Type:  "appointment",
		})
	}
	for _, v := range vax {
		entries = append(entries, ScheduleEntry{
			ID:    v.ID,
			Title: "Vaksin (" + v.VaccineName + "): " + nameOr(v.PatientName),
			Start: v.ScheduledAt,
			End:   v.ScheduledAt.Add(vaccination.SlotDuration),
			Type:  "vaccination",
		})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Start.Before(entries[j].Start) })
	return entries, nil
}

func nameOr(name string) string {
	if name == "" {
		return "Pasien ???"
	}
	return name
}

// HistoryResult is a doctor's history, newest first.
type HistoryResult struct {
	Count int            `json:"count"`
	Data  []*Appointment `json:"data"`
}

func (s *Service) DoctorHistory(ctx context.Context, actor auth.Actor, doctorParam string, f HistoryFilter) (*HistoryResult, error) {
	if f.Status != "" {
		if _, err := ParseStatus(string(f.Status)); err != nil {
			return nil, err
		}
	}
	doctorID, err := s.resolveDoctor(ctx, actor, doctorParam)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.ListForDoctor(ctx, doctorID, f)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Appointment{}
	}
	return &HistoryResult{Count: len(items), Data: items}, nil
}
