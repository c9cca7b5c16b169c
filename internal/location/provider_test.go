package location

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"attendance.service/internal/core/model"
)

func gateway(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/position/u1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestCurrentPosition(t *testing.T) {
	server := gateway(t, http.StatusOK, `{"latitude": 44.43, "longitude": 26.10}`)
	p := NewHTTPProvider(server.URL)

	sample, err := p.CurrentPosition(context.Background(), "u1")
	if err != nil {
		t.Fatalf("CurrentPosition returned error: %v", err)
	}
	if !sample.Resolved() {
		t.Fatalf("expected resolved sample, got %+v", sample)
	}
	if *sample.Latitude != 44.43 || *sample.Longitude != 26.10 {
		t.Fatalf("unexpected coordinates: %+v", sample)
	}
	if sample.CapturedAt.IsZero() {
		t.Fatal("expected capture timestamp")
	}
}

func TestCurrentPositionPermissionDenied(t *testing.T) {
	server := gateway(t, http.StatusForbidden, "")
	p := NewHTTPProvider(server.URL)

	_, err := p.CurrentPosition(context.Background(), "u1")
	if !model.HasCode(err, model.CodeInvalidLocation) {
		t.Fatalf("expected INVALID_LOCATION on 403, got %v", err)
	}
}

func TestCurrentPositionUnresolvedCoordinate(t *testing.T) {
	server := gateway(t, http.StatusOK, `{"latitude": 44.43}`)
	p := NewHTTPProvider(server.URL)

	_, err := p.CurrentPosition(context.Background(), "u1")
	if !model.HasCode(err, model.CodeInvalidLocation) {
		t.Fatalf("expected INVALID_LOCATION for missing longitude, got %v", err)
	}
}

func TestCurrentPositionGatewayDown(t *testing.T) {
	server := gateway(t, http.StatusOK, "{}")
	url := server.URL
	server.Close()
	p := NewHTTPProvider(url)

	_, err := p.CurrentPosition(context.Background(), "u1")
	if !model.HasCode(err, model.CodeInvalidLocation) {
		t.Fatalf("expected INVALID_LOCATION when gateway is down, got %v", err)
	}
}
