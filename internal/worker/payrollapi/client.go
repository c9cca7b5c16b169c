package payrollapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"attendance.service/internal/ports/messaging"
	"github.com/rs/zerolog/log"
)

// Client is the contract for the downstream payroll system.
type Client interface {
	RecordShift(ctx context.Context, event messaging.PayrollEvent) error
}

// HTTPClient pushes closed shifts to the payroll API over HTTP.
type HTTPClient struct {
	client  *http.Client
	baseURL string
}

// NewHTTPClient creates a payroll API client with a fixed timeout.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL: baseURL,
	}
}

// RecordShift submits one closed shift. The payroll system deduplicates on
// recordId, so redelivery after a timeout is safe.
func (c *HTTPClient) RecordShift(ctx context.Context, event messaging.PayrollEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal payroll payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create payroll request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call payroll api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("payroll api returned non-successful status code: %d", resp.StatusCode)
	}

	log.Ctx(ctx).Info().Str("owner_id", event.OwnerID).Str("record_id", event.RecordID).Msg("Shift recorded in payroll system")
	return nil
}
