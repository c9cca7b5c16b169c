package core

import (
	"math"

	"attendance.service/internal/core/model"
)

// StandardShiftHours is the shift length beyond which hours count as overtime.
const StandardShiftHours = 8.0

// Metrics holds the derived figures stored on a record at check-out.
type Metrics struct {
	HoursWorked   float64 `json:"hoursWorked"`
	OvertimeHours float64 `json:"overtimeHours"`
}

// ComputeMetrics converts a check-in/check-out pair into worked hours and
// overtime, both rounded to two decimals half away from zero. A check-out
// earlier than the check-in is a caller or clock-skew bug and is rejected
// rather than clamped, so the bad write never reaches the store.
func ComputeMetrics(checkIn, checkOut model.LocationSample) (Metrics, error) {
	d := checkOut.CapturedAt.Sub(checkIn.CapturedAt)
	if d < 0 {
		return Metrics{}, model.NewError(model.CodeNegativeDuration,
			"check-out %s precedes check-in %s", checkOut.CapturedAt.Format("15:04:05"), checkIn.CapturedAt.Format("15:04:05"))
	}

	hours := round2(d.Hours())
	overtime := round2(math.Max(0, hours-StandardShiftHours))

	return Metrics{HoursWorked: hours, OvertimeHours: overtime}, nil
}

// round2 rounds half away from zero to two decimal places.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
