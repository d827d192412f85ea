package handler

import (
	"net/http"
	"net/url"

	"github.com/chatsync/internal/session"
	"github.com/go-chi/chi/v5"
)

type ReactionHandler struct {
	sc *session.Client
}

func NewReactionHandler(sc *session.Client) *ReactionHandler {
	return &ReactionHandler{sc: sc}
}

type ReactionRequest struct {
	Emoji string `json:"emoji"`
}

// Add is idempotent: reacting twice with the same emoji is a no-op.
func (h *ReactionHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req ReactionRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.sc.Reactions().Add(r.Context(), chi.URLParam(r, "id"), h.sc.UserID(), req.Emoji); err != nil {
		writeErr(w, "reactions.Add", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ReactionHandler) Remove(w http.ResponseWriter, r *http.Request) {
	emoji, err := url.PathUnescape(chi.URLParam(r, "emoji"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid emoji")
		return
	}
	if _, err := h.sc.Reactions().Remove(r.Context(), chi.URLParam(r, "id"), h.sc.UserID(), emoji); err != nil {
		writeErr(w, "reactions.Remove", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ReactionHandler) Summary(w http.ResponseWriter, r *http.Request) {
	groups, err := h.sc.Reactions().Summary(r.Context(), chi.URLParam(r, "id"), h.sc.UserID())
	if err != nil {
		writeErr(w, "reactions.Summary", err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}
