// Package reminder holds the two periodic reminder sweeps: the realtime
// "get ready" push for patients already called, and the once-a-day reminders
// for today's and tomorrow's appointments and vaccinations.
package reminder

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Daily reminder kinds, also the kind column of reminder_log.
const (
	KindAppointment = "appointment"
	KindVaccination = "vaccination"
)

// RealtimeCandidate is a WAITING appointment that has not had its realtime
// reminder yet, with whatever could be resolved of its clinic, doctor and
// patient. The *Found flags are false when the linked row is missing.
type RealtimeCandidate struct {
	AppointmentID uuid.UUID
	QueueNumber   int

	PatientFound bool
	PatientID    uuid.UUID
	PushToken    string

	ClinicFound             bool
	ClinicName              string
	AverageConsultationTime int
	OpeningTime             string

	DoctorFound         bool
	NowServing          int
	NowServingUpdatedAt *time.Time
}

// DailyCandidate is a SCHEDULED appointment or vaccination on the target day.
type DailyCandidate struct {
	Kind         string
	RefID        uuid.UUID
	At           time.Time
	VaccineName  string
	PatientFound bool
	PatientID    uuid.UUID
	PushToken    string
}

type Store interface {
	RealtimeCandidates(ctx context.Context, day time.Time) ([]RealtimeCandidate, error)
	// ClaimRealtime flips realtime_reminder_sent for a still-WAITING
	// appointment. It reports false when another sweep got there first or
	// the appointment moved on.
	ClaimRealtime(ctx context.Context, appointmentID uuid.UUID) (bool, error)
	// ReleaseRealtime undoes a claim whose push failed so the next tick
	// tries again.
	ReleaseRealtime(ctx context.Context, appointmentID uuid.UUID) error

	DailyCandidates(ctx context.Context, day time.Time) ([]DailyCandidate, error)
	// ClaimDaily records (kind, ref, day) in reminder_log and reports whether
	// this caller inserted it.
	ClaimDaily(ctx context.Context, kind string, refID uuid.UUID, day time.Time) (bool, error)
}
