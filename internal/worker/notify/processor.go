package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"attendance.service/internal/core"
	"attendance.service/internal/core/model"
	"attendance.service/internal/ports/docstore"
	"attendance.service/internal/ports/messaging"
	"attendance.service/internal/ports/profile"
	"attendance.service/internal/worker"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog/log"
)

// Processor sends the check-out summary email for each notify event. The
// record store is consulted first so events for deleted records are
// dropped instead of mailing about a shift that no longer exists.
type Processor struct {
	emailService core.EmailService
	store        docstore.Store
	profiles     profile.Store

	mu       sync.Mutex
	attempts map[string]int
}

// NewProcessor sets up a processor for the notify queue.
func NewProcessor(emailService core.EmailService, store docstore.Store, profiles profile.Store) *Processor {
	return &Processor{
		emailService: emailService,
		store:        store,
		profiles:     profiles,
		attempts:     make(map[string]int),
	}
}

// Process handles one message from the notify queue, telling the worker to
// retry with increasing delay when the mail provider misbehaves.
func (p *Processor) Process(ctx context.Context, msg types.Message) (bool, int32, error) {
	var event messaging.CheckOutNotifyEvent
	if err := json.Unmarshal([]byte(*msg.Body), &event); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("Failed to unmarshal notify event")
		return false, 0, err // Do not retry on malformed message
	}

	if _, err := p.store.Get(ctx, event.RecordID); err != nil {
		if model.HasCode(err, model.CodeNotFound) {
			log.Ctx(ctx).Info().Str("record_id", event.RecordID).Msg("Record deleted before notification, skipping")
			p.clear(event.RecordID)
			return false, 0, nil
		}
		return true, 10, fmt.Errorf("failed to load record for notification: %w", err)
	}

	to := event.OwnerID + "@attendance-service.com"
	if prof, err := p.profiles.GetProfile(ctx, event.OwnerID); err == nil && prof.Email != "" {
		to = prof.Email
	}

	if err := p.emailService.SendCheckOutSummary(ctx, to, event.HoursWorked, event.OvertimeHours); err != nil {
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
