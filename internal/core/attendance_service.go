package core

import (
	"context"
	"time"

	"attendance.service/internal/access"
	"attendance.service/internal/core/model"
	"attendance.service/internal/ports/docstore"
	"attendance.service/internal/ports/messaging"
	"github.com/rs/zerolog/log"
)

// ShiftSchedule holds the scheduled start time used for the Present/Late
// tie-break at check-in.
type ShiftSchedule struct {
	Start string        // wall-clock shift start, "15:04" layout, UTC
	Grace time.Duration // check-ins within Start+Grace still count as present
}

// lateCutoff combines a record's calendar date with the scheduled start.
func (s ShiftSchedule) lateCutoff(date string) (time.Time, error) {
	t, err := time.ParseInLocation(model.DateLayout+" 15:04", date+" "+s.Start, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return t.Add(s.Grace), nil
}

// AttendanceService owns the record lifecycle: creation, check-in,
// check-out, administrative edit and deletion. It is the only writer of
// derived metrics, so stored and displayed hours cannot diverge.
type AttendanceService struct {
	store    docstore.Store
	access   *access.Resolver
	producer messaging.QueueProducer
	schedule ShiftSchedule
}

// NewAttendanceService wires the document store, the scope resolver and the
// queue producer into the application service.
func NewAttendanceService(store docstore.Store, resolver *access.Resolver, producer messaging.QueueProducer, schedule ShiftSchedule) *AttendanceService {
	return &AttendanceService{
		store:    store,
		access:   resolver,
		producer: producer,
		schedule: schedule,
	}
}

// Create opens a new record for a shift, status Absent until check-in.
// Creating on behalf of another owner requires the administrator role.
func (s *AttendanceService) Create(ctx context.Context, caller model.Identity, ownerID, date string) (*model.AttendanceRecord, error) {
	if ownerID == "" {
		ownerID = caller.UID
	}
	if !model.ValidDate(date) {
		return nil, model.NewError(model.CodeIllegalTransition, "invalid calendar date %q", date)
	}
	if ownerID != caller.UID {
		if err := s.access.AuthorizeAdmin(ctx, caller); err != nil {
			return nil, err
		}
	}
	if err := s.rejectOpenRecord(ctx, ownerID, ""); err != nil {
		return nil, err
	}

	rec := &model.AttendanceRecord{
		OwnerID: ownerID,
		Date:    date,
		Status:  model.StatusAbsent,
	}
	id, err := s.store.Create(ctx, rec)
	if err != nil {
		return nil, err
	}
	rec.ID = id
	return rec, nil
}

// CheckIn records the shift start. The sample must be resolved, the record
// must not already hold a check-in, and the owner must not have another
// open record.
func (s *AttendanceService) CheckIn(ctx context.Context, caller model.Identity, id string, sample model.LocationSample) (*model.AttendanceRecord, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.access.AuthorizeMutation(caller, rec); err != nil {
		return nil, err
	}
	if !sample.Resolved() {
		return nil, model.NewError(model.CodeInvalidLocation, "check-in location is unresolved or out of range")
	}
	if rec.CheckIn != nil {
		return nil, model.NewError(model.CodeIllegalTransition, "record %s is already checked in", id)
	}
	if rec.Status == model.StatusOnLeave {
		return nil, model.NewError(model.CodeIllegalTransition, "record %s is on leave", id)
	}
	if err := s.rejectOpenRecord(ctx, rec.OwnerID, rec.ID); err != nil {
		return nil, err
	}

	rec.CheckIn = &sample
	rec.Status = s.statusFor(rec.Date, sample)

	if err := s.store.Update(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// CheckOut closes the shift and stores the derived metrics. The status set
// at check-in is left untouched.
func (s *AttendanceService) CheckOut(ctx context.Context, caller model.Identity, id string, sample model.LocationSample) (*model.AttendanceRecord, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.access.AuthorizeMutation(caller, rec); err != nil {
		return nil, err
	}
	if !sample.Resolved() {
		return nil, model.NewError(model.CodeInvalidLocation, "check-out location is unresolved or out of range")
	}
	if rec.CheckIn == nil {
		return nil, model.NewError(model.CodeIllegalTransition, "record %s has no check-in", id)
	}
	if rec.CheckOut != nil {
		return nil, model.NewError(model.CodeIllegalTransition, "record %s is already checked out", id)
	}

	m, err := ComputeMetrics(*rec.CheckIn, sample)
	if err != nil {
		return nil, err
	}

	rec.CheckOut = &sample
	applyMetrics(rec, m)

	if err := s.store.Update(ctx, rec); err != nil {
		return nil, err
	}

	s.publishCheckOut(ctx, rec, m)
	return rec, nil
}

// Patch carries the administrator-editable fields; nil means unchanged.
// Derived metrics are never patched directly.
type Patch struct {
	Date     *string                 `json:"date,omitempty"`
	Status   *model.AttendanceStatus `json:"status,omitempty"`
	CheckIn  *model.LocationSample   `json:"checkIn,omitempty"`
	CheckOut *model.LocationSample   `json:"checkOut,omitempty"`
}

// Edit merges the patch into the record and re-validates every invariant,
// recomputing metrics from the current check-in/check-out pair.
func (s *AttendanceService) Edit(ctx context.Context, caller model.Identity, id string, patch Patch) (*model.AttendanceRecord, error) {
	if err := s.access.AuthorizeAdmin(ctx, caller); err != nil {
		return nil, err
	}
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Date != nil {
		if !model.ValidDate(*patch.Date) {
			return nil, model.NewError(model.CodeIllegalTransition, "invalid calendar date %q", *patch.Date)
		}
		rec.Date = *patch.Date
	}
	if patch.Status != nil {
		if !validStatus(*patch.Status) {
			return nil, model.NewError(model.CodeIllegalTransition, "unknown status %q", *patch.Status)
		}
		rec.Status = *patch.Status
	}
	if patch.CheckIn != nil {
		if !patch.CheckIn.Resolved() {
			return nil, model.NewError(model.CodeInvalidLocation, "patched check-in location is unresolved or out of range")
		}
		rec.CheckIn = patch.CheckIn
	}
	if patch.CheckOut != nil {
		if !patch.CheckOut.Resolved() {
			return nil, model.NewError(model.CodeInvalidLocation, "patched check-out location is unresolved or out of range")
		}
		rec.CheckOut = patch.CheckOut
	}

	if rec.CheckOut != nil && rec.CheckIn == nil {
		return nil, model.NewError(model.CodeIllegalTransition, "record %s cannot hold a check-out without a check-in", id)
	}

	// Metrics always derive from the current pair, even when only the
	// check-in moved.
	if rec.CheckIn != nil && rec.CheckOut != nil {
		m, err := ComputeMetrics(*rec.CheckIn, *rec.CheckOut)
		if err != nil {
			return nil, err
		}
		applyMetrics(rec, m)
	} else {
		rec.HoursWorked = nil
		rec.OvertimeHours = nil
	}

	if rec.Open() {
		if err := s.rejectOpenRecord(ctx, rec.OwnerID, rec.ID); err != nil {
			return nil, err
		}
	}

	if err := s.store.Update(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete permanently removes a record. Administrator only.
func (s *AttendanceService) Delete(ctx context.Context, caller model.Identity, id string) error {
	if err := s.access.AuthorizeAdmin(ctx, caller); err != nil {
		return err
	}
	return s.store.Delete(ctx, id)
}

// ListFilter narrows a scoped list on top of the caller's scope.
type ListFilter struct {
	Date     string
	DateFrom string
	DateTo   string
	OpenOnly bool
}

// List returns the records visible under the caller's scope, optionally
// narrowed by filter. Scoping happens at the store boundary.
func (s *AttendanceService) List(ctx context.Context, caller model.Identity, filter ListFilter) ([]model.AttendanceRecord, error) {
	scope, err := s.access.Resolve(ctx, caller)
	if err != nil {
		return nil, err
	}
	q := scope.Query()
	q.Date = filter.Date
	q.DateFrom = filter.DateFrom
	q.DateTo = filter.DateTo
	q.OpenOnly = filter.OpenOnly
	return s.store.List(ctx, q)
}

// ReportRange returns every record in [from, to] for the report renderer.
// Administrator only.
func (s *AttendanceService) ReportRange(ctx context.Context, caller model.Identity, from, to string) ([]model.AttendanceRecord, error) {
	if err := s.access.AuthorizeAdmin(ctx, caller); err != nil {
		return nil, err
	}
	if !model.ValidDate(from) || !model.ValidDate(to) {
		return nil, model.NewError(model.CodeIllegalTransition, "invalid report range %q..%q", from, to)
	}
	return s.store.List(ctx, docstore.Query{DateFrom: from, DateTo: to})
}

// rejectOpenRecord enforces "at most one open record per owner". excludeID
// skips the record being mutated.
func (s *AttendanceService) rejectOpenRecord(ctx context.Context, ownerID, excludeID string) error {
	open, err := s.store.List(ctx, docstore.Query{OwnerID: ownerID, OpenOnly: true})
	if err != nil {
		return err
	}
	for i := range open {
		if open[i].ID != excludeID {
			return model.NewError(model.CodeConflict, "owner %s already has open record %s", ownerID, open[i].ID)
		}
	}
	return nil
}

// statusFor applies the grace-period tie-break against the scheduled start.
func (s *AttendanceService) statusFor(date string, sample model.LocationSample) model.AttendanceStatus {
	cutoff, err := s.schedule.lateCutoff(date)
	if err != nil {
		// Unparseable schedule config; do not penalize the employee.
		log.Warn().Err(err).Msg("Invalid shift schedule, defaulting to present")
		return model.StatusPresent
	}
	if sample.CapturedAt.After(cutoff) {
		return model.StatusLate
	}
	return model.StatusPresent
}

// publishCheckOut fans the closed shift out to the notify and payroll
// queues. The record is already committed; queue failures are logged and
// left to the workers' redelivery, not surfaced to the caller.
func (s *AttendanceService) publishCheckOut(ctx context.Context, rec *model.AttendanceRecord, m Metrics) {
	if s.producer == nil {
		return
	}
	now := time.Now().UTC()

	notify := messaging.CheckOutNotifyEvent{
		RecordID:      rec.ID,
		OwnerID:       rec.OwnerID,
		HoursWorked:   m.HoursWorked,
		OvertimeHours: m.OvertimeHours,
		OccurredAt:    now,
	}
	if err := s.producer.PublishNotify(ctx, notify); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("record_id", rec.ID).Msg("Failed to publish notify event")
	}

	payroll := messaging.PayrollEvent{
		RecordID:      rec.ID,
		OwnerID:       rec.OwnerID,
		Date:          rec.Date,
		HoursWorked:   m.HoursWorked,
		OvertimeHours: m.OvertimeHours,
		ClockOutTime:  rec.CheckOut.CapturedAt,
	}
	if err := s.producer.PublishPayroll(ctx, payroll); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("record_id", rec.ID).Msg("Failed to publish payroll event")
	}
}

// applyMetrics stores derived figures; overtime is present only when the
// shift ran past the standard length.
func applyMetrics(rec *model.AttendanceRecord, m Metrics) {
	hours := m.HoursWorked
	rec.HoursWorked = &hours
	if m.OvertimeHours > 0 {
		overtime := m.OvertimeHours
		rec.OvertimeHours = &overtime
	} else {
		rec.OvertimeHours = nil
	}
}

func validStatus(st model.AttendanceStatus) bool {
	switch st {
	case model.StatusAbsent, model.StatusPresent, model.StatusLate, model.StatusOnLeave:
		return true
	}
	return false
}
