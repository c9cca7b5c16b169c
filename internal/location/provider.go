package location

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"attendance.service/internal/core/model"
)

// Provider is the single-shot "get current position" contract. A stale or
// absent coordinate surfaces as an invalid-location failure rather than
// being retried: repeated device polls cost battery and network.
type Provider interface {
	CurrentPosition(ctx context.Context, uid string) (model.LocationSample, error)
}

// requestTimeout bounds the device gateway call.
const requestTimeout = 10 * time.Second

// HTTPProvider resolves positions through the device location gateway.
type HTTPProvider struct {
	client  *http.Client
	baseURL string
}

// NewHTTPProvider creates a gateway client with a fixed timeout and no retry.
func NewHTTPProvider(baseURL string) *HTTPProvider {
	return &HTTPProvider{
		client: &http.Client{
			Timeout: requestTimeout,
		},
		baseURL: baseURL,
	}
}

// CurrentPosition fetches the device's coordinate for uid. Timeouts,
// permission denials and unresolved coordinates all map to the
// invalid-location failure the state machine expects.
func (p *HTTPProvider) CurrentPosition(ctx context.Context, uid string) (model.LocationSample, error) {
	url := fmt.Sprintf("%s/v1/position/%s", p.baseURL, uid)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return model.LocationSample{}, fmt.Errorf("failed to create position request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return model.LocationSample{}, model.WrapError(model.CodeInvalidLocation, err, "device position for %s unavailable", uid)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return model.LocationSample{}, model.NewError(model.CodeInvalidLocation, "device location permission denied for %s", uid)
	}
	if resp.StatusCode >= 300 {
		return model.LocationSample{}, model.NewError(model.CodeInvalidLocation, "device gateway returned status %d for %s", resp.StatusCode, uid)
	}

	var body struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return model.LocationSample{}, model.WrapError(model.CodeInvalidLocation, err, "malformed position response for %s", uid)
	}

	sample := model.LocationSample{
		Latitude:   body.Latitude,
		Longitude:  body.Longitude,
		CapturedAt: time.Now().UTC(),
	}
	if !sample.Resolved() {
		return model.LocationSample{}, model.NewError(model.CodeInvalidLocation, "device position for %s is unresolved", uid)
	}
	return sample, nil
}
