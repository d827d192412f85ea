package memory

import (
	"fmt"
	"slices"
	"sync"

	"github.com/chatsync/internal/model"
)

// Outbox keeps queued messages in process memory. It is not durable and is
// meant for tests and throwaway agents.
type Outbox struct {
	mu      sync.Mutex
	entries map[string]*model.QueuedMessage
	seq     uint64
}

func NewOutbox() *Outbox {
	return &Outbox{entries: make(map[string]*model.QueuedMessage)}
}

func (o *Outbox) Put(q *model.QueuedMessage) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries[q.LocalID] = q.Clone()
	return nil
}

func (o *Outbox) Get(localID string) (*model.QueuedMessage, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	q, ok := o.entries[localID]
	if !ok {
		return nil, fmt.Errorf("memory.Outbox.Get: %w", model.ErrNotFound)
	}
	return q.Clone(), nil
}

func (o *Outbox) Delete(localID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.entries, localID)
	return nil
}

func (o *Outbox) List(conversationID string) ([]*model.QueuedMessage, error) {
	o.mu.Lock()
	out := make([]*model.QueuedMessage, 0, len(o.entries))
	for _, q := range o.entries {
		if conversationID == "" || q.ConversationID == conversationID {
			out = append(out, q.Clone())
		}
	}
	o.mu.Unlock()
	slices.SortFunc(out, model.CompareQueued)
	return out, nil
}

func (o *Outbox) NextSeq() (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seq++
	return o.seq, nil
}

func (o *Outbox) Close() error { return nil }
