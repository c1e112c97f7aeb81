package queue

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Projection is the clinic's queue for one day, as staff pull it.
type Projection struct {
	ActiveQueue  []*Appointment `json:"activeQueue"`
	OnHoldQueue  []*Appointment `json:"onHoldQueue"`
	DailyHistory []*Appointment `json:"dailyHistory"`
}

// BuildProjection splits a day's appointments into the three views.
func BuildProjection(day []*Appointment) Projection {
	p := Projection{
		ActiveQueue:  []*Appointment{},
		OnHoldQueue:  []*Appointment{},
		DailyHistory: make([]*Appointment, 0, len(day)),
	}
	for _, a := range day {
		switch a.Status {
		case StatusScheduled, StatusWaiting, StatusInProgress:
			p.ActiveQueue = append(p.ActiveQueue, a)
		case StatusOnHold:
			p.OnHoldQueue = append(p.OnHoldQueue, a)
		}
		p.DailyHistory = append(p.DailyHistory, a)
	}

	sort.SliceStable(p.ActiveQueue, byQueueNumber(p.ActiveQueue))
	sort.SliceStable(p.DailyHistory, byQueueNumber(p.DailyHistory))
	sort.SliceStable(p.OnHoldQueue, func(i, j int) bool {
		a, b := p.OnHoldQueue[i].OnHoldTime, p.OnHoldQueue[j].OnHoldTime
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return a.Before(*b)
	})
	return p
}

// QueueEntry is an appointment as every member of a clinic room sees it,
// display boards included. It carries no patient identity and no notes.
type QueueEntry struct {
	ID                    uuid.UUID  `json:"id"`
	DoctorID              uuid.UUID  `json:"doctorId"`
	QueueNumber           int        `json:"queueNumber"`
	Status                Status     `json:"status"`
	AppointmentTime       time.Time  `json:"appointmentTime"`
	OnHoldTime            *time.Time `json:"onHoldTime,omitempty"`
	ConsultationStartTime *time.Time `json:"consultationStartTime,omitempty"`
	ConsultationEndTime   *time.Time `json:"consultationEndTime,omitempty"`
}

// RoomProjection is the queueUpdated payload broadcast to a clinic room.
type RoomProjection struct {
	ActiveQueue  []QueueEntry `json:"activeQueue"`
	OnHoldQueue  []QueueEntry `json:"onHoldQueue"`
	DailyHistory []QueueEntry `json:"dailyHistory"`
}

// ForRoom strips the projection down to what a clinic room may see.
func (p Projection) ForRoom() RoomProjection {
	return RoomProjection{
		ActiveQueue:  entries(p.ActiveQueue),
		OnHoldQueue:  entries(p.OnHoldQueue),
		DailyHistory: entries(p.DailyHistory),
	}
}

func entries(items []*Appointment) []QueueEntry {
	out := make([]QueueEntry, 0, len(items))
	for _, a := range items {
		out = append(out, QueueEntry{
			ID:                    a.ID,
			DoctorID:              a.DoctorID,
			QueueNumber:           a.QueueNumber,
			Status:                a.Status,
			AppointmentTime:       a.AppointmentTime,
			OnHoldTime:            a.OnHoldTime,
			ConsultationStartTime: a.ConsultationStartTime,
			ConsultationEndTime:   a.ConsultationEndTime,
		})
	}
	return out
}

func byQueueNumber(items []*Appointment) func(i, j int) bool {
	return func(i, j int) bool {
		if items[i].QueueNumber != items[j].QueueNumber {
			return items[i].QueueNumber < items[j].QueueNumber
		}
		return items[i].AppointmentTime.Before(items[j].AppointmentTime)
	}
}

// DisplayDoctor is one doctor's line on the public display board.
type DisplayDoctor struct {
	DoctorID    uuid.UUID `json:"doctorId"`
	DoctorName  string    `json:"doctorName"`
	NowServing  int       `json:"nowServing"`
	NextInQueue []int     `json:"nextInQueue"`
}

// Display is the unauthenticated display board payload.
type Display struct {
	ClinicName  string          `json:"clinicName"`
	NowServing  int             `json:"nowServing"`
	NextInQueue []int           `json:"nextInQueue"`
	Doctors     []DisplayDoctor `json:"doctors"`
}

const displayNext = 3

// nextWaiting returns up to displayNext WAITING queue numbers, in order,
// for doctorID (or for everyone when doctorID is uuid.Nil).
func nextWaiting(day []*Appointment, doctorID uuid.UUID) []int {
	var waiting []*Appointment
	for _, a := range day {
		if a.Status == StatusWaiting && (doctorID == uuid.Nil || a.DoctorID == doctorID) {
			waiting = append(waiting, a)
		}
	}
	sort.SliceStable(waiting, byQueueNumber(waiting))

	out := []int{}
	for i := 0; i < len(waiting) && i < displayNext; i++ {
		out = append(out, waiting[i].QueueNumber)
	}
	return out
}
