package payroll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"attendance.service/internal/core/model"
	"attendance.service/internal/ports/docstore"
	"attendance.service/internal/ports/messaging"
	"attendance.service/internal/worker"
	"attendance.service/internal/worker/payrollapi"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// Processor forwards closed shifts from the payroll queue to the payroll
// API. A circuit breaker keeps a struggling payroll system from being
// hammered by the retry loop.
type Processor struct {
	store   docstore.Store
	payroll payrollapi.Client
	cb      *gobreaker.CircuitBreaker

	mu       sync.Mutex
	attempts map[string]int
}

// NewProcessor creates a processor for the payroll queue, with a breaker
// that trips once half the calls fail across at least ten requests.
func NewProcessor(store docstore.Store, payroll payrollapi.Client) *Processor {
	settings := gobreaker.Settings{
		Name:        "Payroll-API",
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.5
		},
	}

	return &Processor{
		store:    store,
		payroll:  payroll,
		cb:       gobreaker.NewCircuitBreaker(settings),
		attempts: make(map[string]int),
	}
}

// Process handles one payroll message. Events for records that were
// deleted in the meantime are dropped; API failures are retried with
// capped exponential backoff via queue redelivery.
func (p *Processor) Process(ctx context.Context, msg types.Message) (bool, int32, error) {
	var event messaging.PayrollEvent
	if err := json.Unmarshal([]byte(*msg.Body), &event); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("Failed to unmarshal payroll event")
		return false, 0, err // Do not retry on malformed message
	}

	log.Ctx(ctx).Info().Str("owner_id", event.OwnerID).Float64("hours", event.HoursWorked).Msg("Processing closed shift")

	rec, err := p.store.Get(ctx, event.RecordID)
	if err != nil {
		if model.HasCode(err, model.CodeNotFound) {
			log.Ctx(ctx).Info().Str("record_id", event.RecordID).Msg("Record deleted before payroll export, skipping")
			p.clear(event.RecordID)
			return false, 0, nil
		}
		return true, 10, fmt.Errorf("failed to load record for payroll export: %w", err)
	}
	if rec.CheckOut == nil {
		// An admin reopened the record after the event was queued.
		log.Ctx(ctx).Warn().Str("record_id", event.RecordID).Msg("Record no longer closed, skipping payroll export")
		p.clear(event.RecordID)
		return false, 0, nil
	}

	_, err = p.cb.Execute(func() (interface{}, error) {
		return nil, p.payroll.RecordShift(ctx, event)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			log.Ctx(ctx).Warn().Msg("Circuit breaker is OPEN, skipping payroll API call")
		}
		delay := worker.RetryBackoff(p.bump(event.RecordID))
		return true, delay, err
	}

	p.clear(event.RecordID)
	return false, 0, nil
}

func (p *Processor) bump(recordID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts[recordID]++
	return p.attempts[recordID]
}

func (p *Processor) clear(recordID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.attempts, recordID)
}
