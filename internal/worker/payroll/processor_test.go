package payroll

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"attendance.service/internal/core/model"
	"attendance.service/internal/ports/docstore"
	"attendance.service/internal/ports/messaging"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type fakePayrollAPI struct {
	recorded []messaging.PayrollEvent
	err      error
}

func (f *fakePayrollAPI) RecordShift(ctx context.Context, event messaging.PayrollEvent) error {
	if f.err != nil {
		return f.err
	}
	f.recorded = append(f.recorded, event)
	return nil
}

func eventMessage(t *testing.T, event messaging.PayrollEvent) types.Message {
	t.Helper()
	raw, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	body := string(raw)
	return types.Message{Body: &body}
}

func seedClosedRecord(t *testing.T, store *docstore.MemoryStore) string {
	t.Helper()
	lat, lng := 44.43, 26.10
	hoursWorked := 8.0
	rec := model.AttendanceRecord{
		OwnerID: "emp-1",
		Date:    "2026-03-02",
		Status:  model.StatusPresent,
		CheckIn: &model.LocationSample{Latitude: &lat, Longitude: &lng,
			CapturedAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
		CheckOut: &model.LocationSample{Latitude: &lat, Longitude: &lng,
			CapturedAt: time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC)},
		HoursWorked: &hoursWorked,
	}
	id, err := store.Create(context.Background(), &rec)
	if err != nil {
		t.Fatalf("seed record: %v", err)
	}
	return id
}

func TestProcessForwardsClosedShift(t *testing.T) {
	store := docstore.NewMemoryStore()
	api := &fakePayrollAPI{}
	p := NewProcessor(store, api)

	id := seedClosedRecord(t, store)
	retry, _, err := p.Process(context.Background(), eventMessage(t, messaging.PayrollEvent{
		RecordID: id, OwnerID: "emp-1", Date: "2026-03-02", HoursWorked: 8,
	}))
	if err != nil || retry {
		t.Fatalf("expected success, got retry=%v err=%v", retry, err)
	}
	if len(api.recorded) != 1 || api.recorded[0].RecordID != id {
		t.Fatalf("expected one recorded shift for %s, got %+v", id, api.recorded)
	}
}

func TestProcessSkipsDeletedRecord(t *testing.T) {
	api := &fakePayrollAPI{}
	p := NewProcessor(docstore.NewMemoryStore(), api)

	retry, _, err := p.Process(context.Background(), eventMessage(t, messaging.PayrollEvent{
		RecordID: "gone", OwnerID: "emp-1",
	}))
	if err != nil || retry {
		t.Fatalf("expected silent skip, got retry=%v err=%v", retry, err)
	}
	if len(api.recorded) != 0 {
		t.Fatal("expected nothing recorded for deleted record")
	}
}

func TestProcessSkipsReopenedRecord(t *testing.T) {
	store := docstore.NewMemoryStore()
	api := &fakePayrollAPI{}
	p := NewProcessor(store, api)

	lat, lng := 44.43, 26.10
	rec := model.AttendanceRecord{
		OwnerID: "emp-1",
		Date:    "2026-03-02",
		Status:  model.StatusPresent,
		CheckIn: &model.LocationSample{Latitude: &lat, Longitude: &lng,
			CapturedAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
	}
	id, _ := store.Create(context.Background(), &rec)

	retry, _, err := p.Process(context.Background(), eventMessage(t, messaging.PayrollEvent{
		RecordID: id, OwnerID: "emp-1",
	}))
	if err != nil || retry {
		t.Fatalf("expected silent skip for reopened record, got retry=%v err=%v", retry, err)
	}
	if len(api.recorded) != 0 {
		t.Fatal("expected nothing recorded for reopened record")
	}
}

func TestProcessRetriesAPIFailures(t *testing.T) {
	store := docstore.NewMemoryStore()
	api := &fakePayrollAPI{err: errors.New("payroll api down")}
	p := NewProcessor(store, api)

	id := seedClosedRecord(t, store)
	msg := eventMessage(t, messaging.PayrollEvent{RecordID: id, OwnerID: "emp-1"})

	retry, first, err := p.Process(context.Background(), msg)
	if !retry || err == nil {
		t.Fatalf("expected retry, got retry=%v err=%v", retry, err)
	}
	retry, second, _ := p.Process(context.Background(), msg)
	if !retry || second <= first {
		t.Fatalf("expected growing delay, got %d then %d", first, second)
	}
}

func TestProcessDropsMalformedBody(t *testing.T) {
	p := NewProcessor(docstore.NewMemoryStore(), &fakePayrollAPI{})

	body := "not json"
	retry, _, err := p.Process(context.Background(), types.Message{Body: &body})
	if retry {
		t.Fatal("malformed body must not be retried")
	}
	if err == nil {
		t.Fatal("expected unmarshal error")
	}
}
