package model

import (
	"time"
)

// Role is the closed set of authorization roles. It is resolved from the
// profile store per uid and never read from client-supplied record fields.
type Role string

const (
	RoleAdministrator Role = "ADMINISTRATOR"
	RoleSupervisor    Role = "SUPERVISOR"
	RoleEmployee      Role = "EMPLOYEE"
)

// AttendanceStatus defines the state of an attendance record for a shift.
type AttendanceStatus string

const (
	StatusAbsent  AttendanceStatus = "ABSENT"
	StatusPresent AttendanceStatus = "PRESENT"
	StatusLate    AttendanceStatus = "LATE"
	StatusOnLeave AttendanceStatus = "ON_LEAVE"
)

// LocationSample is a timestamped coordinate captured from the device.
// A sample with either coordinate missing is unresolved and must never be
// persisted as a check-in or check-out event.
type LocationSample struct {
	Latitude   *float64  `json:"latitude"`
	Longitude  *float64  `json:"longitude"`
	CapturedAt time.Time `json:"capturedAt"`
}

// Resolved reports whether both coordinates are present and within range.
func (s LocationSample) Resolved() bool {
	if s.Latitude == nil || s.Longitude == nil {
		return false
	}
	if *s.Latitude < -90 || *s.Latitude > 90 {
		return false
	}
	if *s.Longitude < -180 || *s.Longitude > 180 {
		return false
	}
	return true
}

// AttendanceRecord is one employee's record for one work shift.
type AttendanceRecord struct {
	ID            string           `json:"id"`
	OwnerID       string           `json:"ownerId"`
	Date          string           `json:"date"` // calendar date, YYYY-MM-DD
	Status        AttendanceStatus `json:"status"`
	CheckIn       *LocationSample  `json:"checkIn,omitempty"`
	CheckOut      *LocationSample  `json:"checkOut,omitempty"`
	HoursWorked   *float64         `json:"hoursWorked,omitempty"`
	OvertimeHours *float64         `json:"overtimeHours,omitempty"`
}

// Open reports whether the record has a check-in but no check-out yet.
func (r *AttendanceRecord) Open() bool {
	return r.CheckIn != nil && r.CheckOut == nil
}

// Clone returns a deep copy so mirror snapshots and optimistic rollbacks
// never alias a caller-held record.
func (r *AttendanceRecord) Clone() AttendanceRecord {
	out := *r
	out.CheckIn = cloneSample(r.CheckIn)
	out.CheckOut = cloneSample(r.CheckOut)
	out.HoursWorked = cloneFloat(r.HoursWorked)
	out.OvertimeHours = cloneFloat(r.OvertimeHours)
	return out
}

func cloneSample(s *LocationSample) *LocationSample {
	if s == nil {
		return nil
	}
	out := *s
	out.Latitude = cloneFloat(s.Latitude)
	out.Longitude = cloneFloat(s.Longitude)
	return &out
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// Identity is an authenticated caller.
type Identity struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Profile is the authoritative role metadata for a uid, looked up from the
// profile store.
type Profile struct {
	UID         string `json:"uid"`
	Role        Role   `json:"role"`
	ServiceArea string `json:"serviceArea,omitempty"`
	Email       string `json:"email,omitempty"`
}

// DateLayout is the wire format for AttendanceRecord.Date.
const DateLayout = "2006-01-02"

// ValidDate reports whether d is a well-formed calendar date.
func ValidDate(d string) bool {
	_, err := time.Parse(DateLayout, d)
	return err == nil
}
