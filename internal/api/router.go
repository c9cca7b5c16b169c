package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"attendance.service/internal/api/handler"
)

// NewRouter sets up the gorilla/mux router and defines all API routes.
// Every record route requires an authenticated identity.
func NewRouter(h *handler.AttendanceHandler, jwtSecret string) *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Service is operational."))
	}).Methods(http.MethodGet)

	records := api.PathPrefix("/records").Subrouter()
	records.Use(AuthMiddleware(jwtSecret))

	records.HandleFunc("", h.Create).Methods(http.MethodPost)
	records.HandleFunc("", h.List).Methods(http.MethodGet)
	records.HandleFunc("/stream", h.Stream).Methods(http.MethodGet)
	records.HandleFunc("/report", h.Report).Methods(http.MethodGet)
	records.HandleFunc("/{id}/check-in", h.CheckIn).Methods(http.MethodPost)
	records.HandleFunc("/{id}/check-out", h.CheckOut).Methods(http.MethodPost)
	records.HandleFunc("/{id}", h.Edit).Methods(http.MethodPatch)
	records.HandleFunc("/{id}", h.Delete).Methods(http.MethodDelete)

	return r
}
