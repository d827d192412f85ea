package handler

import (
	"net/http"

	"github.com/chatsync/internal/session"
	"github.com/go-chi/chi/v5"
)

// Connectivity is what the status handler can flip; connectivity.Monitor
// satisfies it.
type Connectivity interface {
	Online() bool
	Set(online bool) bool
}

type StatusHandler struct {
	sc  *session.Client
	net Connectivity
}

func NewStatusHandler(sc *session.Client, net Connectivity) *StatusHandler {
	return &StatusHandler{sc: sc, net: net}
}

type OnlineRequest struct {
	Online *bool `json:"online"`
}

type OnlineResponse struct {
	Online  bool `json:"online"`
	Changed bool `json:"changed,omitempty"`
}

func (h *StatusHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "online": h.net.Online()})
}

// SetConnectivity lets the host report network reachability; going online
// drains the outbox.
func (h *StatusHandler) SetConnectivity(w http.ResponseWriter, r *http.Request) {
	var req OnlineRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Online == nil {
		writeError(w, http.StatusBadRequest, "online is required")
		return
	}
	changed := h.net.Set(*req.Online)
	writeJSON(w, http.StatusOK, OnlineResponse{Online: *req.Online, Changed: changed})
}

// SetPresence records the user's online flag. Writes are debounced.
func (h *StatusHandler) SetPresence(w http.ResponseWriter, r *http.Request) {
	var req OnlineRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Online == nil {
		writeError(w, http.StatusBadRequest, "online is required")
		return
	}
	h.sc.Presence().UpdateOnlineStatus(h.sc.UserID(), *req.Online)
	w.WriteHeader(http.StatusAccepted)
}

func (h *StatusHandler) GetPresence(w http.ResponseWriter, r *http.Request) {
	online, err := h.sc.Presence().IsOnline(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		writeErr(w, "status.GetPresence", err)
		return
	}
	writeJSON(w, http.StatusOK, OnlineResponse{Online: online})
}
