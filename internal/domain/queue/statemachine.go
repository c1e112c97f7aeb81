package queue

import (
	"time"

	"github.com/muslih-a/appklinik/internal/platform/apperr"
	"github.com/muslih-a/appklinik/internal/platform/auth"
)

// Action is what a status request does to an appointment.
type Action int

const (
	ActionNoop Action = iota
	ActionCall
	ActionStart
	ActionHold
	ActionRequeue
	ActionComplete
	ActionCancel
)

func (a Action) String() string {
	switch a {
	case ActionCall:
		return "call"
	case ActionStart:
		return "start"
	case ActionHold:
		return "hold"
	case ActionRequeue:
		return "requeue"
	case ActionComplete:
		return "complete"
	case ActionCancel:
		return "cancel"
	default:
		return "noop"
	}
}

// transitions maps current status and requested status to an action.
// SKIPPED on a fresh appointment puts it on hold; SKIPPED on an appointment
// already on hold retires it and requeues the patient at the end of the day.
var transitions = map[Status]map[Status]Action{
	StatusScheduled: {
		StatusWaiting:   ActionCall,
		StatusSkipped:   ActionHold,
		StatusOnHold:    ActionHold,
		StatusCancelled: ActionCancel,
	},
	StatusWaiting: {
		StatusInProgress: ActionStart,
		StatusSkipped:    ActionHold,
		StatusOnHold:     ActionHold,
		StatusCancelled:  ActionCancel,
	},
	StatusOnHold: {
		StatusWaiting:   ActionCall,
		StatusSkipped:   ActionRequeue,
		StatusCancelled: ActionCancel,
	},
	StatusInProgress: {
		StatusCompleted: ActionComplete,
	},
}

// Plan is the outcome of planning one status request.
type Plan struct {
	Action Action
	From   Status
	To     Status
}

// PlanTransition decides what requesting status requested does to an
// appointment currently in from. Requesting the current status is a no-op.
func PlanTransition(from, requested Status) (Plan, error) {
	if requested == from {
		return Plan{Action: ActionNoop, From: from, To: from}, nil
	}
	action, ok := transitions[from][requested]
	if !ok {
		return Plan{}, apperr.Conflict(apperr.CodeInvalidTransition,
			"cannot change appointment status from %s to %s", from, requested)
	}
	to := requested
	if action == ActionHold {
		to = StatusOnHold
	}
	return Plan{Action: action, From: from, To: to}, nil
}

// Apply mutates a according to p. Consultation timestamps are only set the
// first time.
func (p Plan) Apply(a *Appointment, now time.Time) {
	switch p.Action {
	case ActionCall:
		a.Status = StatusWaiting
		a.OnHoldTime = nil
	case ActionStart:
		a.Status = StatusInProgress
		if a.ConsultationStartTime == nil {
			t := now
			a.ConsultationStartTime = &t
		}
	case ActionHold:
		a.Status = StatusOnHold
		t := now
		a.OnHoldTime = &t
	case ActionRequeue:
		a.Status = StatusSkipped
	case ActionComplete:
		a.Status = StatusCompleted
		if a.ConsultationEndTime == nil {
			t := now
			a.ConsultationEndTime = &t
		}
	case ActionCancel:
		a.Status = StatusCancelled
	}
}

// Authorize checks that actor may request status requested on a.
func Authorize(actor auth.Actor, a *Appointment, requested Status) error {
	switch requested {
	case StatusWaiting, StatusSkipped, StatusOnHold:
		if !actor.Is(auth.RoleAdminKlinik) {
			return apperr.Forbidden("only clinic admins can set status %s", requested)
		}
		if actor.ClinicID != a.ClinicID.String() {
			return apperr.Forbidden("appointment belongs to another clinic")
		}
	case StatusInProgress, StatusCompleted:
		if !actor.Is(auth.RoleDoctor) {
			return apperr.Forbidden("only doctors can set status %s", requested)
		}
		if actor.ClinicID != a.ClinicID.String() || actor.UserID != a.DoctorID.String() {
			return apperr.Forbidden("appointment belongs to another doctor")
		}
	case StatusCancelled:
		if !actor.Is(auth.RolePatient) || actor.UserID != a.PatientID.String() {
			return apperr.Forbidden("only the patient can cancel this appointment")
		}
	}
	return nil
}

// CanRecordEMR reports whether actor may write consultation notes on a.
func CanRecordEMR(actor auth.Actor, a *Appointment) error {
	if !actor.Is(auth.RoleDoctor) && !actor.Is(auth.RoleAdminKlinik) {
		return apperr.Forbidden("only doctors and clinic admins can record notes")
	}
	if actor.ClinicID != a.ClinicID.String() {
		return apperr.Forbidden("appointment belongs to another clinic")
	}
	return nil
}
