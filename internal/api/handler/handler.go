package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"attendance.service/internal/core"
	"attendance.service/internal/core/model"
	"attendance.service/internal/identity"
	"attendance.service/internal/location"
	"attendance.service/internal/mirror"
	"attendance.service/internal/report"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// AttendanceHandler exposes the record lifecycle over HTTP.
type AttendanceHandler struct {
	Service  *core.AttendanceService
	Mirrors  *mirror.Manager
	Location location.Provider
}

type createRequest struct {
	OwnerID string `json:"ownerId"`
	Date    string `json:"date"`
}

type sampleRequest struct {
	Latitude   *float64   `json:"latitude"`
	Longitude  *float64   `json:"longitude"`
	CapturedAt *time.Time `json:"capturedAt"`
}

func (h *AttendanceHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity.FromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthenticated", http.StatusUnauthorized)
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Date == "" {
		http.Error(w, "date is required", http.StatusBadRequest)
		return
	}

	rec, err := h.Service.Create(r.Context(), caller, req.OwnerID, req.Date)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *AttendanceHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Service.CheckIn)
}

func (h *AttendanceHandler) CheckOut(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Service.CheckOut)
}

// transition handles the shared shape of check-in and check-out: resolve a
// location sample, run the state machine, return the updated record.
func (h *AttendanceHandler) transition(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, caller model.Identity, id string, sample model.LocationSample) (*model.AttendanceRecord, error)) {

	caller, ok := identity.FromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthenticated", http.StatusUnauthorized)
		return
	}
	id := mux.Vars(r)["id"]

	sample, err := h.resolveSample(r, caller)
	if err != nil {
		writeError(w, err)
		return
	}

	rec, err := op(r.Context(), caller, id, sample)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// resolveSample reads the coordinate from the request body; a body without
// coordinates falls back to a single-shot device gateway lookup.
func (h *AttendanceHandler) resolveSample(r *http.Request, caller model.Identity) (model.LocationSample, error) {
	var req sampleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// An absent or unreadable body falls back to the device gateway.
		req = sampleRequest{}
	}

	if req.Latitude == nil && req.Longitude == nil {
		if h.Location == nil {
			return model.LocationSample{}, model.NewError(model.CodeInvalidLocation, "no coordinates supplied and no device gateway configured")
		}
		return h.Location.CurrentPosition(r.Context(), caller.UID)
	}

	capturedAt := time.Now().UTC()
	if req.CapturedAt != nil {
		capturedAt = req.CapturedAt.UTC()
	}
	return model.LocationSample{
		Latitude:   req.Latitude,
		Longitude:  req.Longitude,
		CapturedAt: capturedAt,
	}, nil
}

func (h *AttendanceHandler) Edit(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity.FromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthenticated", http.StatusUnauthorized)
		return
	}
	id := mux.Vars(r)["id"]

	var patch core.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	rec, err := h.Service.Edit(r.Context(), caller, id, patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *AttendanceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity.FromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthenticated", http.StatusUnauthorized)
		return
	}
	id := mux.Vars(r)["id"]

	if err := h.Service.Delete(r.Context(), caller, id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AttendanceHandler) List(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity.FromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthenticated", http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	filter := core.ListFilter{
		Date:     q.Get("date"),
		DateFrom: q.Get("from"),
		DateTo:   q.Get("to"),
		OpenOnly: q.Get("open") == "true",
	}
	if q.Get("date") == "today" {
		filter.Date = time.Now().UTC().Format(model.DateLayout)
	}

	recs, err := h.Service.List(r.Context(), caller, filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if recs == nil {
		recs = []model.AttendanceRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *AttendanceHandler) Report(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity.FromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthenticated", http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	from, to := q.Get("start"), q.Get("end")

	recs, err := h.Service.ReportRange(r.Context(), caller, from, to)
	if err != nil {
		writeError(w, err)
		return
	}

	if q.Get("format") == "pdf" {
		pdf, err := report.RenderPDF(from, to, recs)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.WriteHeader(http.StatusOK)
		w.Write(pdf)
		return
	}
	if recs == nil {
		recs = []model.AttendanceRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// Stream serves the caller's live mirror as server-sent events: the
// current snapshot first, then every change until the client disconnects.
func (h *AttendanceHandler) Stream(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity.FromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthenticated", http.StatusUnauthorized)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub, err := h.Mirrors.Subscribe(r.Context(), caller)
	if err != nil {
		writeError(w, err)
		return
	}
	defer sub.Cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case u, open := <-sub.Updates():
			if !open {
				return
			}
			payload, err := json.Marshal(u.Record)
			if err != nil {
				log.Ctx(r.Context()).Error().Err(err).Msg("Failed to encode stream update")
				continue
			}
			if _, err := w.Write([]byte("event: " + string(u.Type) + "\ndata: " + string(payload) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeError maps the stable error codes to distinct HTTP statuses so the
// UI can render a specific message for each failure kind.
func writeError(w http.ResponseWriter, err error) {
	type errorBody struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}

	code := model.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case model.CodeConflict:
		status = http.StatusConflict
	case model.CodeIllegalTransition, model.CodeNegativeDuration:
		status = http.StatusUnprocessableEntity
	case model.CodeInvalidLocation:
		status = http.StatusBadRequest
	case model.CodeForbidden:
		status = http.StatusForbidden
	case model.CodeNotFound:
		status = http.StatusNotFound
	case model.CodeStoreUnavailable:
		status = http.StatusServiceUnavailable
	}

	body := errorBody{Error: string(code), Message: err.Error()}
	if code == "" {
		body.Error = "INTERNAL"
		body.Message = "unexpected error"
		log.Error().Err(err).Msg("Unclassified error reached the API boundary")
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
