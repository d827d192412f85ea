package model

import "time"

type Presence struct {
	UserID    string    `json:"user_id"`
	Online    bool      `json:"online"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TypingEvent is what the live feed reports for a conversation's typers.
type TypingEvent struct {
	ConversationID string   `json:"conversation_id"`
	UserIDs        []string `json:"user_ids"`
}
