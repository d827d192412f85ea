package handler

import (
	"net/http"

	"github.com/chatsync/internal/session"
	"github.com/go-chi/chi/v5"
)

type OutboxHandler struct {
	sc *session.Client
}

func NewOutboxHandler(sc *session.Client) *OutboxHandler {
	return &OutboxHandler{sc: sc}
}

// List returns unsent entries, optionally for one conversation.
func (h *OutboxHandler) List(w http.ResponseWriter, r *http.Request) {
	pending, err := h.sc.Outbox().Pending(r.URL.Query().Get("conversation_id"))
	if err != nil {
		writeErr(w, "outbox.List", err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

func (h *OutboxHandler) Retry(w http.ResponseWriter, r *http.Request) {
	if err := h.sc.Outbox().Retry(r.Context(), chi.URLParam(r, "localId")); err != nil {
		writeErr(w, "outbox.Retry", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *OutboxHandler) Discard(w http.ResponseWriter, r *http.Request) {
	if err := h.sc.Outbox().Discard(r.Context(), chi.URLParam(r, "localId")); err != nil {
		writeErr(w, "outbox.Discard", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
