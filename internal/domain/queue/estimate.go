package queue

import (
	"time"

	"github.com/muslih-a/appklinik/internal/platform/clock"
)

// EstimateStart predicts when queueNumber will be seen. It returns nil once
// the doctor has reached or passed the number. The estimate counts the
// patients strictly between the one being served and this one, and starts
// from the later of now and today's opening time.
func EstimateStart(queueNumber, nowServing, avgMinutes int, openingTime string, now time.Time, loc *time.Location) *time.Time {
	if queueNumber <= nowServing {
		return nil
	}
	ahead := queueNumber - nowServing - 1
	if ahead < 0 {
		ahead = 0
	}

	base := now
	if opening, err := clock.At(clock.Day(now, loc), openingTime, loc); err == nil && opening.After(now) {
		base = opening
	}
	est := base.Add(time.Duration(ahead*avgMinutes) * time.Minute)
	return &est
}
