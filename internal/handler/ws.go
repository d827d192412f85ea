package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/session"
	"github.com/chatsync/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

type WSHandler struct {
	sc             *session.Client
	hub            *ws.Hub
	opts           ws.Options
	allowedOrigins string
}

// NewWSHandler serves conversation feeds. allowedOrigins uses the CORS format
// (comma separated or "*").
func NewWSHandler(sc *session.Client, hub *ws.Hub, opts ws.Options, allowedOrigins string) *WSHandler {
	return &WSHandler{sc: sc, hub: hub, opts: opts, allowedOrigins: strings.TrimSpace(allowedOrigins)}
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigins == "*" || h.allowedOrigins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(h.allowedOrigins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

// ServeConversation upgrades to a live feed of one conversation.
func (h *WSHandler) ServeConversation(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	convID := chi.URLParam(r, "id")
	if _, err := h.sc.Conversations().GetForViewer(r.Context(), convID, h.sc.UserID()); err != nil {
		writeErr(w, "ws.ServeConversation", err)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade: %v", err)
		return
	}
	if _, err := ws.Bind(context.WithoutCancel(r.Context()), h.sc, convID, conn, h.opts, h.hub); err != nil {
		logger.Warnf("ws bind conv=%s: %v", convID, err)
	}
}
