package model

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 100
)

// Cursor points at the oldest message of a page; the next page starts
// strictly before it in (timestamp, id) order.
type Cursor struct {
	Timestamp time.Time
	ID        string
}

func CursorFor(m Message) Cursor {
	return Cursor{Timestamp: m.Timestamp, ID: m.ID}
}

// Encode returns an opaque URL-safe token.
func (c Cursor) Encode() string {
	raw := strconv.FormatInt(c.Timestamp.UnixNano(), 10) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Before reports whether m sorts strictly before the cursor position.
func (c Cursor) Before(m Message) bool {
	return CompareMessages(m, Message{Timestamp: c.Timestamp, ID: c.ID}) < 0
}

func ParseCursor(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed cursor", ErrInvalidState)
	}
	ts, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, fmt.Errorf("%w: malformed cursor", ErrInvalidState)
	}
	ns, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed cursor", ErrInvalidState)
	}
	return &Cursor{Timestamp: time.Unix(0, ns).UTC(), ID: id}, nil
}

// ClampLimit maps a requested page size into [1, MaxPageLimit].
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPageLimit
	case limit > MaxPageLimit:
		return MaxPageLimit
	}
	return limit
}

// Page is one newest-first slice of a conversation's history.
type Page struct {
	Messages   []Message `json:"messages"`
	NextCursor string    `json:"next_cursor,omitempty"`
}
