package user

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/muslih-a/appklinik/internal/platform/apperr"
)

type mockRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*User
}

func newMockRepo() *mockRepo {
	return &mockRepo{users: make(map[uuid.UUID]*User)}
}

func (m *mockRepo) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return apperr.Conflict("", "email %s is already registered", u.Email)
		}
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	m.users[u.ID] = u
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, apperr.NotFound("user %s not found", id)
	}
	cp := *u
	return &cp, nil
}

func (m *mockRepo) ListByClinic(_ context.Context, clinicID uuid.UUID, role string) ([]*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*User
	for _, u := range m.users {
		if u.ClinicID != nil && *u.ClinicID == clinicID && (role == "" || u.Role == role) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mockRepo) AssignClinic(_ context.Context, id, clinicID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return apperr.NotFound("user %s not found", id)
	}
	u.ClinicID = &clinicID
	return nil
}

func (m *mockRepo) UpdatePushTokens(_ context.Context, id uuid.UUID, expo, fcm string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return apperr.NotFound("user %s not found", id)
	}
	u.ExpoPushToken = expo
	u.FCMToken = fcm
	return nil
}

func (m *mockRepo) SetNowServing(_ context.Context, doctorID uuid.UUID, n int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[doctorID]
	if !ok {
		return apperr.NotFound("doctor %s not found", doctorID)
	}
	u.NowServingDoctor = n
	u.NowServingUpdatedAt = &at
	return nil
}

func (m *mockRepo) ResetNowServing(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, u := range m.users {
		if u.Role == "Doctor" && u.NowServingDoctor != 0 {
			u.NowServingDoctor = 0
			n++
		}
	}
	return n, nil
}
