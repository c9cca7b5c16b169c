package messaging

import "time"

// CheckOutNotifyEvent is the payload queued for the notify worker after a
// successful check-out.
type CheckOutNotifyEvent struct {
	RecordID      string    `json:"recordId"`
	OwnerID       string    `json:"ownerId"`
	HoursWorked   float64   `json:"hoursWorked"`
	OvertimeHours float64   `json:"overtimeHours"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// PayrollEvent is the payload queued for the payroll worker, which forwards
// closed shifts to the payroll system.
type PayrollEvent struct {
	RecordID      string    `json:"recordId"`
	OwnerID       string    `json:"ownerId"`
	Date          string    `json:"date"`
	HoursWorked   float64   `json:"hoursWorked"`
	OvertimeHours float64   `json:"overtimeHours"`
	ClockOutTime  time.Time `json:"clockOutTime"`
}
