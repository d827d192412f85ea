// Package connectivity tracks whether the backend is reachable and fans out
// offline/online transitions.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/chatsync/internal/logger"
)

// Signal is what the core reads; Monitor is the only implementation.
type Signal interface {
	Online() bool
	Subscribe() (<-chan bool, func())
}

type Monitor struct {
	mu     sync.Mutex
	online bool
	subs   map[chan bool]struct{}
}

func NewMonitor(initial bool) *Monitor {
	return &Monitor{online: initial, subs: make(map[chan bool]struct{})}
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set records the current state and reports whether it changed. Subscribers
// see only transitions; a slow subscriber sees the latest state.
func (m *Monitor) Set(online bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.online == online {
		return false
	}
	m.online = online
	for ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- online
	}
	logger.Infof("connectivity online=%t", online)
	return true
}

// Subscribe returns a transition channel and its cancel func.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	ch := make(chan bool, 1)
	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, ch)
			m.mu.Unlock()
		})
	}
}

// Probe runs check every interval and sets the state from its result until
// ctx is done.
func (m *Monitor) Probe(ctx context.Context, interval time.Duration, check func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		pctx, cancel := context.WithTimeout(ctx, interval)
		err := check(pctx)
		cancel()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Debugf("connectivity probe failed: %v", err)
		}
		m.Set(err == nil)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
