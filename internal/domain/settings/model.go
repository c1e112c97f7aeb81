package settings

import "time"

// Settings controls the reminder sweeps. There is exactly one row; the
// sweeps re-read it on every tick so edits take effect within a minute.
type Settings struct {
	IsScheduledReminderActive bool      `json:"isScheduledReminderActive"`
	H1ReminderTime            string    `json:"h1ReminderTime"`
	DayHReminderTime          string    `json:"dayHReminderTime"`
	RealtimeReminderThreshold int       `json:"realtimeReminderThreshold"`
	UpdatedAt                 time.Time `json:"updatedAt"`
}

func Defaults() Settings {
	return Settings{
		IsScheduledReminderActive: true,
		H1ReminderTime:            "17:00",
		DayHReminderTime:          "07:00",
		RealtimeReminderThreshold: 15,
	}
}

// UpdateRequest is a partial update; nil fields are left unchanged.
type UpdateRequest struct {
	IsScheduledReminderActive *bool   `json:"isScheduledReminderActive"`
	H1ReminderTime            *string `json:"h1ReminderTime" validate:"omitempty,hhmm"`
	DayHReminderTime          *string `json:"dayHReminderTime" validate:"omitempty,hhmm"`
	RealtimeReminderThreshold *int    `json:"realtimeReminderThreshold" validate:"omitempty,min=1,max=720"`
}

func (r UpdateRequest) apply(s *Settings) {
	if r.IsScheduledReminderActive != nil {
		s.IsScheduledReminderActive = *r.IsScheduledReminderActive
	}
	if r.H1ReminderTime != nil {
		s.H1ReminderTime = *r.H1ReminderTime
	}
	if r.DayHReminderTime != nil {
		s.DayHReminderTime = *r.DayHReminderTime
	}
	if r.RealtimeReminderThreshold != nil {
		s.RealtimeReminderThreshold = *r.RealtimeReminderThreshold
	}
}
