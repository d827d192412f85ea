package handler

import (
	"github.com/chatsync/internal/blob"
	"github.com/chatsync/internal/metrics"
	"github.com/chatsync/internal/session"
	"github.com/chatsync/internal/ws"
	"github.com/go-chi/chi/v5"
)

// API bundles the local HTTP handlers of one agent.
type API struct {
	Conversations *ConversationHandler
	Reactions     *ReactionHandler
	Outbox        *OutboxHandler
	Status        *StatusHandler
	Files         *FileHandler
	WS            *WSHandler
}

func NewAPI(sc *session.Client, net Connectivity, blobs *blob.Store, hub *ws.Hub, wsOpts ws.Options, allowedOrigins string) *API {
	return &API{
		Conversations: NewConversationHandler(sc),
		Reactions:     NewReactionHandler(sc),
		Outbox:        NewOutboxHandler(sc),
		Status:        NewStatusHandler(sc, net),
		Files:         NewFileHandler(blobs),
		WS:            NewWSHandler(sc, hub, wsOpts, allowedOrigins),
	}
}

// Routes mounts every endpoint on r. Middleware is the caller's.
func (a *API) Routes(r chi.Router) {
	r.Get("/health", a.Status.Health)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/files/{name}", a.Files.Serve)

	r.Route("/api", func(r chi.Router) {
		r.Get("/conversations", a.Conversations.List)
		r.Post("/conversations/direct", a.Conversations.CreateDirect)
		r.Post("/conversations/group", a.Conversations.CreateGroup)
		r.Get("/conversations/{id}", a.Conversations.Get)
		r.Patch("/conversations/{id}", a.Conversations.Rename)
		r.Get("/conversations/{id}/messages", a.Conversations.GetMessages)
		r.Post("/conversations/{id}/messages", a.Conversations.SendMessage)
		r.Post("/conversations/{id}/read", a.Conversations.MarkRead)
		r.Post("/conversations/{id}/members", a.Conversations.AddMember)
		r.Delete("/conversations/{id}/members/{userId}", a.Conversations.RemoveMember)
		r.Post("/conversations/{id}/admin", a.Conversations.TransferAdmin)

		r.Get("/messages/{id}/reactions", a.Reactions.Summary)
		r.Post("/messages/{id}/reactions", a.Reactions.Add)
		r.Delete("/messages/{id}/reactions/{emoji}", a.Reactions.Remove)

		r.Get("/outbox", a.Outbox.List)
		r.Post("/outbox/{localId}/retry", a.Outbox.Retry)
		r.Delete("/outbox/{localId}", a.Outbox.Discard)

		r.Put("/connectivity", a.Status.SetConnectivity)
		r.Put("/presence", a.Status.SetPresence)
		r.Get("/presence/{userId}", a.Status.GetPresence)

		r.Post("/files", a.Files.Upload)
	})

	r.Get("/ws/conversations/{id}", a.WS.ServeConversation)
}
