package realtime

import (
	"cmp"
	"slices"
	"sync"

	"github.com/chatsync/internal/model"
)

// Merge dedupes a batch by id (last copy wins) and sorts it by
// (timestamp, id). Merge(Merge(b)) equals Merge(b).
func Merge(batch []model.Message) []model.Message {
	byID := make(map[string]int, len(batch))
	out := make([]model.Message, 0, len(batch))
	for _, m := range batch {
		if i, ok := byID[m.ID]; ok {
			out[i] = m
			continue
		}
		byID[m.ID] = len(out)
		out = append(out, m)
	}
	slices.SortFunc(out, model.CompareMessages)
	return out
}

// view is the local message list of one conversation: the last authoritative
// window, messages confirmed by the outbox but not yet seen in a batch, and
// optimistic placeholders.
type view struct {
	mu            sync.Mutex
	authoritative []model.Message
	settled       map[string]model.Message
	placeholders  map[string]model.QueuedMessage
	handles       map[*Handle]struct{}
	focused       bool
	version       uint64
}

func newView() *view {
	return &view{
		settled:      make(map[string]model.Message),
		placeholders: make(map[string]model.QueuedMessage),
		handles:      make(map[*Handle]struct{}),
	}
}

// replaceLocked swaps in a merged batch. Settled messages present in the
// batch are no longer tracked separately.
func (v *view) replaceLocked(batch []model.Message) {
	v.authoritative = Merge(batch)
	for _, m := range v.authoritative {
		delete(v.settled, m.ID)
	}
}

// snapshotLocked is authoritative messages followed by pending placeholders
// in FIFO order. A placeholder already confirmed by a message with its
// client id is dropped.
func (v *view) snapshotLocked() []model.Message {
	msgs := make([]model.Message, 0, len(v.authoritative)+len(v.settled))
	msgs = append(msgs, v.authoritative...)
	for _, m := range v.settled {
		msgs = append(msgs, m)
	}
	out := Merge(msgs)

	confirmed := make(map[string]struct{}, len(out))
	for _, m := range out {
		if m.ClientID != "" {
			confirmed[m.ClientID] = struct{}{}
		}
	}
	pending := make([]*model.QueuedMessage, 0, len(v.placeholders))
	for id, q := range v.placeholders {
		if _, ok := confirmed[id]; ok {
			continue
		}
		pending = append(pending, &q)
	}
	slices.SortFunc(pending, func(a, b *model.QueuedMessage) int {
		if c := model.CompareQueued(a, b); c != 0 {
			return c
		}
		return cmp.Compare(a.LocalID, b.LocalID)
	})
	for _, q := range pending {
		out = append(out, q.Placeholder())
	}
	return out
}

func (v *view) unreadByLocked(userID string) bool {
	for _, m := range v.authoritative {
		if !m.IsReadBy(userID) {
			return true
		}
	}
	return false
}

func (v *view) liveHandlesLocked() []*Handle {
	out := make([]*Handle, 0, len(v.handles))
	for h := range v.handles {
		out = append(out, h)
	}
	return out
}
