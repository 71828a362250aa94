package app

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aria-ai/aria/internal/meeting"
)

// registerCallRoutes adds the call control API to mux:
//
//	GET    /v1/calls                      running calls
//	POST   /v1/meetings/{meetingID}/call  start the meeting's call
//	GET    /v1/meetings/{meetingID}/call  phase, tracks and transcript
//	DELETE /v1/meetings/{meetingID}/call  stop the call and store its summary
func (a *App) registerCallRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/calls", a.handleListCalls)
	mux.HandleFunc("POST /v1/meetings/{meetingID}/call", a.handleStartCall)
	mux.HandleFunc("GET /v1/meetings/{meetingID}/call", a.handleCallStatus)
	mux.HandleFunc("DELETE /v1/meetings/{meetingID}/call", a.handleStopCall)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *App) handleListCalls(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.calls.Active())
}

func (a *App) handleStartCall(w http.ResponseWriter, r *http.Request) {
	info, err := a.calls.Start(r.Context(), r.PathValue("meetingID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (a *App) handleCallStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.calls.Status(r.PathValue("meetingID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *App) handleStopCall(w http.ResponseWriter, r *http.Request) {
	if err := a.calls.Stop(r.Context(), r.PathValue("meetingID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeError maps call errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, meeting.ErrNotFound), errors.Is(err, ErrNoCall):
		status = http.StatusNotFound
	case errors.Is(err, ErrCallActive):
		status = http.StatusConflict
	case errors.Is(err, ErrShuttingDown):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		slog.Error("app: request failed", "err", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
