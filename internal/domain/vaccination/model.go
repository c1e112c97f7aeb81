package vaccination

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusScheduled = "SCHEDULED"
	StatusCompleted = "COMPLETED"
	StatusCancelled = "CANCELLED"
)

// SlotDuration is how long a vaccination occupies on the doctor's schedule.
const SlotDuration = 15 * time.Minute

type Vaccination struct {
	ID          uuid.UUID `json:"id"`
	PatientID   uuid.UUID `json:"patientId"`
	DoctorID    uuid.UUID `json:"doctorId"`
	ClinicID    uuid.UUID `json:"clinicId"`
	VaccineName string    `json:"vaccineName"`
	ScheduledAt time.Time `json:"scheduledDate"`
	ServiceDay  time.Time `json:"-"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`

	// PatientName is filled by list queries.
	PatientName string `json:"patientName,omitempty"`
}

type CreateRequest struct {
	PatientID     string    `json:"patientId" validate:"required,uuid"`
	VaccineName   string    `json:"vaccineName" validate:"required,max=200"`
	ScheduledDate time.Time `json:"scheduledDate" validate:"required"`
}

type StatusRequest struct {
	Status string `json:"status" validate:"required,oneof=COMPLETED CANCELLED"`
}
