package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/muslih-a/appklinik/internal/platform/apperr"
)

type Status string

const (
	StatusScheduled  Status = "SCHEDULED"
	StatusWaiting    Status = "WAITING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
	StatusSkipped    Status = "SKIPPED"
	StatusOnHold     Status = "ON_HOLD"
)

var knownStatuses = map[Status]bool{
	StatusScheduled: true, StatusWaiting: true, StatusInProgress: true, StatusCompleted: true,
	StatusCancelled: true, StatusSkipped: true, StatusOnHold: true,
}

// ParseStatus rejects anything outside the seven appointment statuses.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !knownStatuses[st] {
		return "", apperr.Validation("unknown appointment status %q", s)
	}
	return st, nil
}

// Active statuses count towards the one-visit-per-day rule.
func (s Status) Active() bool {
	switch s {
	case StatusScheduled, StatusWaiting, StatusInProgress, StatusOnHold:
		return true
	}
	return false
}

type Appointment struct {
	ID                    uuid.UUID  `json:"id"`
	PatientID             uuid.UUID  `json:"patientId"`
	DoctorID              uuid.UUID  `json:"doctorId"`
	ClinicID              uuid.UUID  `json:"clinicId"`
	AppointmentTime       time.Time  `json:"appointmentTime"`
	ServiceDay            time.Time  `json:"-"`
	QueueNumber           int        `json:"queueNumber"`
	Status                Status     `json:"status"`
	OnHoldTime            *time.Time `json:"onHoldTime,omitempty"`
	ConsultationStartTime *time.Time `json:"consultationStartTime,omitempty"`
	ConsultationEndTime   *time.Time `json:"consultationEndTime,omitempty"`
	Symptoms              string     `json:"symptoms"`
	Diagnosis             string     `json:"diagnosis"`
	Treatment             string     `json:"treatment"`
	RealtimeReminderSent  bool       `json:"realtimeReminderSent"`
	SupersededBy          *uuid.UUID `json:"supersededBy,omitempty"`
	VersionID             int        `json:"versionId"`
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`

	// Joined by list queries.
	PatientName string `json:"patientName,omitempty"`
	DoctorName  string `json:"doctorName,omitempty"`
}

type BookRequest struct {
	PatientID       string    `json:"patientId" validate:"omitempty,uuid"`
	DoctorID        string    `json:"doctorId" validate:"required,uuid"`
	ClinicID        string    `json:"clinicId" validate:"required,uuid"`
	AppointmentTime time.Time `json:"appointmentTime" validate:"required"`
}

type StatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// EMRRequest carries the consultation notes; nil fields are left unchanged.
type EMRRequest struct {
	Symptoms  *string `json:"symptoms" validate:"omitempty,max=4000"`
	Diagnosis *string `json:"diagnosis" validate:"omitempty,max=4000"`
	Treatment *string `json:"treatment" validate:"omitempty,max=4000"`
}

// HistoryFilter narrows a doctor's appointment history.
type HistoryFilter struct {
	Status Status
	From   *time.Time
	To     *time.Time
}
