package service

import (
	"context"
	"sort"
	"sync"

	"github.com/capitalize-ai/voice-configurator/internal/model"
)

// SessionHandle is what the tracker needs to observe and stop a running session.
type SessionHandle struct {
	Cancel func()
	Info   func() model.SessionInfo
}

// SessionTracker keeps the configuration sessions running on an agent worker.
type SessionTracker struct {
	mu       sync.Mutex
	sessions map[string]*trackedSession
	wg       sync.WaitGroup
}

type trackedSession struct {
	handle SessionHandle
	once   sync.Once
}

// NewSessionTracker creates an empty tracker.
func NewSessionTracker() *SessionTracker {
	return &SessionTracker{
		sessions: make(map[string]*trackedSession),
	}
}

// Register adds the session for room. A session already registered for the same room is replaced.
func (t *SessionTracker) Register(room string, h SessionHandle) (unregister func()) {
	if t == nil {
		return func() {}
	}

	entry := &trackedSession{handle: h}

	t.mu.Lock()
	old := t.sessions[room]
	t.sessions[room] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.unregister(room, old)
	}

	return func() { t.unregister(room, entry) }
}

// Claim registers the session for room only if no session holds it yet.
// The check and the registration happen under one lock.
func (t *SessionTracker) Claim(room string, h SessionHandle) (unregister func(), ok bool) {
	if t == nil {
		return func() {}, true
	}

	t.mu.Lock()
	if _, taken := t.sessions[room]; taken {
		t.mu.Unlock()
		return nil, false
	}
	entry := &trackedSession{handle: h}
	t.sessions[room] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	return func() { t.unregister(room, entry) }, true
}

func (t *SessionTracker) unregister(room string, entry *trackedSession) {
	entry.once.Do(func() {
		t.mu.Lock()
		if t.sessions[room] == entry {
			delete(t.sessions, room)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

// Count returns the number of registered sessions.
func (t *SessionTracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Has reports whether a session is registered for room.
func (t *SessionTracker) Has(room string) bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sessions[room]
	return ok
}

// Active returns the current state of every registered session, ordered by start time.
func (t *SessionTracker) Active() []model.SessionInfo {
	if t == nil {
		return nil
	}

	var infos []func() model.SessionInfo
	t.mu.Lock()
	for room, entry := range t.sessions {
		if entry.handle.Info == nil {
			r := room
			infos = append(infos, func() model.SessionInfo { return model.SessionInfo{Room: r} })
			continue
		}
		infos = append(infos, entry.handle.Info)
	}
	t.mu.Unlock()

	out := make([]model.SessionInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, info())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].Room < out[j].Room
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// CancelAll cancels every registered session and returns how many were cancelled.
func (t *SessionTracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}

	var cancels []func()
	t.mu.Lock()
	for _, entry := range t.sessions {
		if entry.handle.Cancel == nil {
			continue
		}
		cancels = append(cancels, entry.handle.Cancel)
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered session unregisters or ctx is done.
// It reports whether all sessions finished.
func (t *SessionTracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
