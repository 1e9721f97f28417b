// Package sessions tracks the live call sessions by call SID, so reconnects
// can find their session and shutdown can drain every call.
package sessions

import (
	"context"
	"sync"

	"github.com/mr-web-x/collectrelay/pkg/relay/session"
)

type Registry struct {
	mu      sync.Mutex
	entries map[string]*trackedCall
	wg      sync.WaitGroup
}

type trackedCall struct {
	sess *session.Session
	once sync.Once
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*trackedCall),
	}
}

// Register tracks a session under its call SID and returns the matching
// unregister hook. Registering the same SID again evicts the old entry; the
// evicted session keeps running until it removes itself.
func (r *Registry) Register(callSID string, s *session.Session) (unregister func()) {
	if r == nil {
		return func() {}
	}

	entry := &trackedCall{sess: s}

	r.mu.Lock()
	if r.entries == nil {
		r.entries = make(map[string]*trackedCall)
	}
	old := r.entries[callSID]
	r.entries[callSID] = entry
	r.wg.Add(1)
	r.mu.Unlock()

	if old != nil {
		r.unregister(callSID, old)
	}

	return func() { r.unregister(callSID, entry) }
}

func (r *Registry) unregister(callSID string, entry *trackedCall) {
	if r == nil || entry == nil {
		return
	}
	entry.once.Do(func() {
		r.mu.Lock()
		if r.entries != nil && r.entries[callSID] == entry {
			delete(r.entries, callSID)
		}
		r.mu.Unlock()
		r.wg.Done()
	})
}

// Lookup returns the live session for a call SID, if any.
func (r *Registry) Lookup(callSID string) (*session.Session, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[callSID]
	if !ok || entry.sess == nil {
		return nil, false
	}
	return entry.sess, true
}

func (r *Registry) Count() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// ShutdownAll posts a shutdown event to every tracked session. Sessions
// unregister themselves once they finish cleaning up.
func (r *Registry) ShutdownAll() (notified int) {
	if r == nil {
		return 0
	}

	var live []*session.Session
	r.mu.Lock()
	for _, entry := range r.entries {
		if entry == nil || entry.sess == nil {
			continue
		}
		live = append(live, entry.sess)
	}
	r.mu.Unlock()

	for _, s := range live {
		s.Enqueue(session.ShutdownEvent())
		notified++
	}
	return notified
}

// Wait blocks until every tracked session has unregistered, or the context
// expires. It reports whether the drain completed.
func (r *Registry) Wait(ctx context.Context) bool {
	if r == nil {
		return true
	}
	if ctx == nil {
		r.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
