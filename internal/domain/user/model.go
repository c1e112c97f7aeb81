package user

import (
	"time"

	"github.com/google/uuid"

	"github.com/muslih-a/appklinik/internal/platform/clock"
)

type User struct {
	ID                  uuid.UUID  `json:"id"`
	Name                string     `json:"name"`
	Email               string     `json:"email"`
	Role                string     `json:"role"`
	ClinicID            *uuid.UUID `json:"clinicId,omitempty"`
	FCMToken            string     `json:"-"`
	ExpoPushToken       string     `json:"-"`
	NowServingDoctor    int        `json:"nowServingDoctor"`
	NowServingUpdatedAt *time.Time `json:"nowServingUpdatedAt,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// PushToken returns the device token notifications go to. Pushes are
// delivered through Expo only, so a patient with just an FCM token has none.
func (u *User) PushToken() string {
	return u.ExpoPushToken
}

// NowServing returns the doctor's cursor as of now. A cursor last written on
// an earlier calendar day in loc reads as 0.
func (u *User) NowServing(now time.Time, loc *time.Location) int {
	if u.NowServingUpdatedAt == nil || u.NowServingDoctor <= 0 {
		return 0
	}
	if clock.Day(*u.NowServingUpdatedAt, loc).Before(clock.Day(now, loc)) {
		return 0
	}
	return u.NowServingDoctor
}

type CreateRequest struct {
	Name     string `json:"name" validate:"required,max=200"`
	Email    string `json:"email" validate:"required,email"`
	Role     string `json:"role" validate:"required,oneof=Admin Doctor Patient AdminKlinik"`
	ClinicID string `json:"clinicId" validate:"omitempty,uuid"`
}

type PushTokenRequest struct {
	ExpoPushToken string `json:"expoPushToken" validate:"required_without=FCMToken"`
	FCMToken      string `json:"fcmToken"`
}
