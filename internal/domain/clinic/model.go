package clinic

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultAverageConsultationTime = 15
	DefaultOpeningTime             = "08:00"
)

type Clinic struct {
	ID                      uuid.UUID  `json:"id"`
	Name                    string     `json:"name"`
	Address                 string     `json:"address"`
	PhoneNumber             string     `json:"phoneNumber"`
	DoctorID                *uuid.UUID `json:"doctorId,omitempty"`
	AverageConsultationTime int        `json:"averageConsultationTime"`
	OpeningTime             string     `json:"openingTime"`
	IsRegistrationClosed    bool       `json:"isRegistrationClosed"`
	RegistrationCloseTime   *time.Time `json:"registrationCloseTime,omitempty"`
	DisplayKey              string     `json:"displayKey,omitempty"`
	CreatedAt               time.Time  `json:"createdAt"`
	UpdatedAt               time.Time  `json:"updatedAt"`
}

// RegistrationOpen reports whether same-day bookings are accepted at now.
func (c *Clinic) RegistrationOpen(now time.Time) bool {
	if c.IsRegistrationClosed {
		return false
	}
	return c.RegistrationCloseTime == nil || !now.After(*c.RegistrationCloseTime)
}

// Public strips the display key, which only clinic staff may see.
func (c *Clinic) Public() *Clinic {
	cp := *c
	cp.DisplayKey = ""
	return &cp
}

// NewDisplayKey returns an opaque token for the public display board URL.
func NewDisplayKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

type CreateRequest struct {
	Name                    string `json:"name" validate:"required,max=200"`
	Address                 string `json:"address" validate:"max=500"`
	PhoneNumber             string `json:"phoneNumber" validate:"max=30"`
	DoctorID                string `json:"doctorId" validate:"omitempty,uuid"`
	AverageConsultationTime int    `json:"averageConsultationTime" validate:"omitempty,min=1,max=240"`
	OpeningTime             string `json:"openingTime" validate:"omitempty,hhmm"`
}

// UpdateRequest is a partial update of the caller's clinic.
type UpdateRequest struct {
	Name                    *string `json:"name" validate:"omitempty,min=1,max=200"`
	Address                 *string `json:"address" validate:"omitempty,max=500"`
	PhoneNumber             *string `json:"phoneNumber" validate:"omitempty,max=30"`
	AverageConsultationTime *int    `json:"averageConsultationTime" validate:"omitempty,min=1,max=240"`
	OpeningTime             *string `json:"openingTime" validate:"omitempty,hhmm"`
}

func (r UpdateRequest) apply(c *Clinic) {
	if r.Name != nil {
		c.Name = *r.Name
	}
	if r.Address != nil {
		c.Address = *r.Address
	}
	if r.PhoneNumber != nil {
		c.PhoneNumber = *r.PhoneNumber
	}
	if r.AverageConsultationTime != nil {
		c.AverageConsultationTime = *r.AverageConsultationTime
	}
	if r.OpeningTime != nil {
		c.OpeningTime = *r.OpeningTime
	}
}

type ScheduleCloseRequest struct {
	CloseTime time.Time `json:"closeTime" validate:"required"`
}

type AssignDoctorRequest struct {
	DoctorID string `json:"doctorId" validate:"required,uuid"`
}
