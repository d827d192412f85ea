package handler

import (
	"net/http"

	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/session"
	"github.com/go-chi/chi/v5"
)

type ConversationHandler struct {
	sc *session.Client
}

func NewConversationHandler(sc *session.Client) *ConversationHandler {
	return &ConversationHandler{sc: sc}
}

type CreateDirectRequest struct {
	UserID string `json:"user_id"`
}

type CreateGroupRequest struct {
	Name      string   `json:"name"`
	MemberIDs []string `json:"member_ids"`
}

type RenameRequest struct {
	Name string `json:"name"`
}

type SendMessageRequest struct {
	Content     string             `json:"content"`
	Attachments []model.Attachment `json:"attachments,omitempty"`
}

type SendMessageResponse struct {
	LocalID string `json:"local_id"`
}

type MemberRequest struct {
	UserID string `json:"user_id"`
}

func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.sc.OpenList().Refresh(r.Context())
	if err != nil {
		writeErr(w, "conversations.List", err)
		return
	}
	if list == nil {
		list = []model.ConversationSummary{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *ConversationHandler) CreateDirect(w http.ResponseWriter, r *http.Request) {
	var req CreateDirectRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	c, err := h.sc.Conversations().CreateDirect(r.Context(), h.sc.UserID(), req.UserID)
	if err != nil {
		writeErr(w, "conversations.CreateDirect", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *ConversationHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.sc.Conversations().CreateGroup(r.Context(), h.sc.UserID(), req.Name, req.MemberIDs)
	if err != nil {
		writeErr(w, "conversations.CreateGroup", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.sc.Conversations().GetForViewer(r.Context(), chi.URLParam(r, "id"), h.sc.UserID())
	if err != nil {
		writeErr(w, "conversations.Get", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *ConversationHandler) Rename(w http.ResponseWriter, r *http.Request) {
	var req RenameRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.sc.Conversations().RenameGroup(r.Context(), chi.URLParam(r, "id"), h.sc.UserID(), req.Name); err != nil {
		writeErr(w, "conversations.Rename", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetMessages pages history newest first; pass next_cursor back as cursor.
func (h *ConversationHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	page, err := h.sc.Messages().GetMessages(r.Context(), chi.URLParam(r, "id"), h.sc.UserID(), limit, r.URL.Query().Get("cursor"))
	if err != nil {
		writeErr(w, "conversations.GetMessages", err)
		return
	}
	if page.Messages == nil {
		page.Messages = []model.Message{}
	}
	writeJSON(w, http.StatusOK, page)
}

// SendMessage queues the message and answers 202 with its local id.
func (h *ConversationHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if !decode(w, r, &req) {
		return
	}
	localID, err := h.sc.SendTo(r.Context(), chi.URLParam(r, "id"), req.Content, req.Attachments)
	if err != nil {
		writeErr(w, "conversations.SendMessage", err)
		return
	}
	writeJSON(w, http.StatusAccepted, SendMessageResponse{LocalID: localID})
}

func (h *ConversationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	if err := h.sc.Messages().MarkMessagesAsRead(r.Context(), chi.URLParam(r, "id"), h.sc.UserID()); err != nil {
		writeErr(w, "conversations.MarkRead", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConversationHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	var req MemberRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.sc.Members().AddMember(r.Context(), chi.URLParam(r, "id"), h.sc.UserID(), req.UserID); err != nil {
		writeErr(w, "conversations.AddMember", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConversationHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	if err := h.sc.Members().RemoveMember(r.Context(), chi.URLParam(r, "id"), h.sc.UserID(), chi.URLParam(r, "userId")); err != nil {
		writeErr(w, "conversations.RemoveMember", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConversationHandler) TransferAdmin(w http.ResponseWriter, r *http.Request) {
	var req MemberRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.sc.Members().TransferAdmin(r.Context(), chi.URLParam(r, "id"), h.sc.UserID(), req.UserID); err != nil {
		writeErr(w, "conversations.TransferAdmin", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
