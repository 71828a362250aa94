package webrtc

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// SignalingServer exposes the HTTP endpoints peers use to join a room. Every
// request must carry the room's connection token as a bearer token.
type SignalingServer struct {
	platform *Platform
}

// NewSignalingServer creates a signaling server for rooms on platform.
func NewSignalingServer(platform *Platform) *SignalingServer {
	return &SignalingServer{platform: platform}
}

// Register adds the signaling routes to mux:
//
//	POST   /v1/rooms/{roomID}/join   SDP offer in, session ID and answer out
//	POST   /v1/rooms/{roomID}/ice    remote ICE candidate
//	DELETE /v1/rooms/{roomID}/leave  end a peer session
func (s *SignalingServer) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/rooms/{roomID}/join", s.handleJoin)
	mux.HandleFunc("POST /v1/rooms/{roomID}/ice", s.handleICE)
	mux.HandleFunc("DELETE /v1/rooms/{roomID}/leave", s.handleLeave)
}

// Handler returns a mux serving only the signaling routes.
func (s *SignalingServer) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

type joinRequest struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	SDPOffer string `json:"sdp_offer"`
}

type joinResponse struct {
	SessionID string `json:"session_id"`
	SDPAnswer string `json:"sdp_answer"`
}

type iceRequest struct {
	SessionID string `json:"session_id"`
	Candidate string `json:"candidate"`
}

type leaveRequest struct {
	SessionID string `json:"session_id"`
}

func (s *SignalingServer) handleJoin(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.authorize(w, r)
	if !ok {
		return
	}
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.SDPOffer == "" {
		http.Error(w, "user_id and sdp_offer are required", http.StatusBadRequest)
		return
	}

	sessionID, answer, err := conn.AddPeer(r.Context(), req.UserID, req.Username, req.SDPOffer)
	if err != nil {
		http.Error(w, "join failed: "+err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, joinResponse{SessionID: sessionID, SDPAnswer: answer})
}

func (s *SignalingServer) handleICE(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.authorize(w, r)
	if !ok {
		return
	}
	var req iceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := conn.AddICECandidate(req.SessionID, req.Candidate); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *SignalingServer) handleLeave(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.authorize(w, r)
	if !ok {
		return
	}
	var req leaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := conn.RemovePeer(req.SessionID); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// authorize resolves the room and checks the bearer token. It writes the
// error response itself and reports whether the request may proceed.
func (s *SignalingServer) authorize(w http.ResponseWriter, r *http.Request) (*Connection, bool) {
	conn, ok := s.platform.Room(r.PathValue("roomID"))
	if !ok {
		http.Error(w, "room not found", http.StatusNotFound)
		return nil, false
	}
	token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !found || !conn.Authorize(token) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	return conn, true
}

func statusFor(err error) int {
	if errors.Is(err, ErrPeerNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
