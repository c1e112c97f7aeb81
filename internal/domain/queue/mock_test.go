package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/muslih-a/appklinik/internal/domain/clinic"
	"github.com/muslih-a/appklinik/internal/domain/user"
	"github.com/muslih-a/appklinik/internal/domain/vaccination"
	"github.com/muslih-a/appklinik/internal/platform/apperr"
	"github.com/muslih-a/appklinik/internal/platform/events"
)

type counterKey struct {
	doctor uuid.UUID
	day    time.Time
}

// memRepo keeps appointments in memory with the same version semantics as
// the Postgres repository. staleUpdates makes the next n Update calls fail
// as if another writer got there first.
type memRepo struct {
	mu           sync.Mutex
	appts        map[uuid.UUID]*Appointment
	counters     map[counterKey]int
	staleUpdates int
}

func newMemRepo() *memRepo {
	return &memRepo{appts: make(map[uuid.UUID]*Appointment), counters: make(map[counterKey]int)}
}

func (m *memRepo) NextQueueNumber(_ context.Context, doctorID uuid.UUID, day time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := counterKey{doctorID, day}
	if _, ok := m.counters[k]; !ok {
		for _, a := range m.appts {
			if a.DoctorID == doctorID && a.ServiceDay.Equal(day) && a.QueueNumber > m.counters[k] {
				m.counters[k] = a.QueueNumber
			}
		}
	}
	m.counters[k]++
	return m.counters[k], nil
}

func (m *memRepo) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.appts {
		if other.DoctorID == a.DoctorID && other.ServiceDay.Equal(a.ServiceDay) && other.QueueNumber == a.QueueNumber {
			return apperr.Conflict(apperr.CodeConflict, "queue number taken")
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.VersionID = 1
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	m.appts[a.ID] = &cp
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, apperr.NotFound("appointment %s not found", id)
	}
	cp := *a
	return &cp, nil
}

func (m *memRepo) Update(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.staleUpdates > 0 {
		m.staleUpdates--
		if cur, ok := m.appts[a.ID]; ok {
			cur.VersionID++
		}
		return ErrStaleVersion
	}
	cur, ok := m.appts[a.ID]
	if !ok || cur.VersionID != a.VersionID {
		return ErrStaleVersion
	}
	a.VersionID++
	a.UpdatedAt = time.Now()
	cp := *a
	m.appts[a.ID] = &cp
	return nil
}

func (m *memRepo) ActiveForPatientOnDay(_ context.Context, patientID uuid.UUID, day time.Time) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.appts {
		if a.PatientID == patientID && a.ServiceDay.Equal(day) && a.Status.Active() {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memRepo) filter(keep func(a *Appointment) bool) []*Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, a := range m.appts {
		if keep(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueueNumber < out[j].QueueNumber })
	return out
}

func (m *memRepo) ListForClinicDay(_ context.Context, clinicID uuid.UUID, day time.Time) ([]*Appointment, error) {
	return m.filter(func(a *Appointment) bool { return a.ClinicID == clinicID && a.ServiceDay.Equal(day) }), nil
}

func (m *memRepo) ListForPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	all := m.filter(func(a *Appointment) bool { return a.PatientID == patientID })
	sort.Slice(all, func(i, j int) bool { return all[i].AppointmentTime.After(all[j].AppointmentTime) })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *memRepo) ListForDoctor(_ context.Context, doctorID uuid.UUID, f HistoryFilter) ([]*Appointment, error) {
	out := m.filter(func(a *Appointment) bool {
		if a.DoctorID != doctorID || (f.Status != "" && a.Status != f.Status) {
			return false
		}
		if f.From != nil && a.AppointmentTime.Before(*f.From) {
			return false
		}
		return f.To == nil || !a.AppointmentTime.After(*f.To)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].AppointmentTime.After(out[j].AppointmentTime) })
	return out, nil
}

func (m *memRepo) ListScheduleForDoctor(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	return m.filter(func(a *Appointment) bool {
		return a.DoctorID == doctorID && a.Status.Active() &&
			!a.AppointmentTime.Before(from) && !a.AppointmentTime.After(to)
	}), nil
}

func (m *memRepo) put(a *Appointment) *Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.VersionID == 0 {
		a.VersionID = 1
	}
	cp := *a
	m.appts[a.ID] = &cp
	return a
}

type fakeClinics struct {
	clinics map[uuid.UUID]*clinic.Clinic
}

func (f *fakeClinics) GetByID(_ context.Context, id uuid.UUID) (*clinic.Clinic, error) {
	c, ok := f.clinics[id]
	if !ok {
		return nil, apperr.NotFound("clinic %s not found", id)
	}
	cp := *c
	return &cp, nil
}

func (f *fakeClinics) GetByDisplayKey(_ context.Context, key string) (*clinic.Clinic, error) {
	for _, c := range f.clinics {
		if c.DisplayKey == key {
			cp := *c
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("display not found")
}

type fakeUsers struct {
	mu    sync.Mutex
	users map[uuid.UUID]*user.User
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, apperr.NotFound("user %s not found", id)
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) ListByClinic(_ context.Context, clinicID uuid.UUID, role string) ([]*user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*user.User
	for _, u := range f.users {
		if u.ClinicID != nil && *u.ClinicID == clinicID && (role == "" || u.Role == role) {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeUsers) SetNowServing(_ context.Context, doctorID uuid.UUID, n int, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[doctorID]
	if !ok {
		return apperr.NotFound("doctor %s not found", doctorID)
	}
	u.NowServingDoctor = n
	u.NowServingUpdatedAt = &at
	return nil
}

type fakeVaccinations struct {
	items []*vaccination.Vaccination
}

func (f *fakeVaccinations) ForDoctor(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]*vaccination.Vaccination, error) {
	var out []*vaccination.Vaccination
	for _, v := range f.items {
		if v.DoctorID == doctorID && !v.ScheduledAt.Before(from) && !v.ScheduledAt.After(to) {
			out = append(out, v)
		}
	}
	return out, nil
}

type published struct {
	Topic string
	Msg   events.Message
}

type recBroadcaster struct {
	mu   sync.Mutex
	msgs []published
}

func (r *recBroadcaster) Publish(_ context.Context, topic string, msg events.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, published{Topic: topic, Msg: msg})
	return nil
}

func (r *recBroadcaster) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.msgs))
	for _, m := range r.msgs {
		out = append(out, m.Msg.Event)
	}
	return out
}

func (r *recBroadcaster) last(event string) (published, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.msgs) - 1; i >= 0; i-- {
		if r.msgs[i].Msg.Event == event {
			return r.msgs[i], true
		}
	}
	return published{}, false
}

func (r *recBroadcaster) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = nil
}
