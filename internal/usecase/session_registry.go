package usecase

import (
	"context"
	"sync"

	"fixmate/pkg/errors"
	"fixmate/pkg/logger"
)

// SessionRegistry keeps at most one ChatSession, and therefore at most one
// realtime subscription, per logged-in user.
type SessionRegistry struct {
	ctx  context.Context
	deps SessionDeps

	mu       sync.Mutex
	sessions map[string]*ChatSession
	sink     func(userID string, event Event)
}

// NewSessionRegistry binds subscriptions to ctx, which should live as long
// as the process.
func NewSessionRegistry(ctx context.Context, deps SessionDeps) *SessionRegistry {
	if deps.PairLocks == nil {
		deps.PairLocks = NewPairLocks()
	}
	return &SessionRegistry{
		ctx:      ctx,
		deps:     deps,
		sessions: make(map[string]*ChatSession),
	}
}

// OnEvent forwards the events of every session opened afterwards to sink.
func (r *SessionRegistry) OnEvent(sink func(userID string, event Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = sink
}

// Open is the login hook. It returns the user's session, creating and
// subscribing it on first use.
func (r *SessionRegistry) Open(userID string) (*ChatSession, bool, error) {
	if userID == "" {
		return nil, false, errors.Unauthorized("Authentication required", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if session, ok := r.sessions[userID]; ok {
		return session, false, nil
	}

	session := NewChatSession(userID, r.deps)
	if sink := r.sink; sink != nil {
		session.Subscribe(func(event Event) { sink(userID, event) })
	}
	if err := session.Start(r.ctx); err != nil {
		return nil, false, errors.Internal("Failed to start chat session", err)
	}
	r.sessions[userID] = session
	logger.Info("SessionRegistry: Opened chat session for user %s", userID)
	return session, true, nil
}

func (r *SessionRegistry) Get(userID string) (*ChatSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[userID]
	return session, ok
}

// Close is the logout hook. It reports whether a session existed.
func (r *SessionRegistry) Close(userID string) bool {
	r.mu.Lock()
	session, ok := r.sessions[userID]
	delete(r.sessions, userID)
	r.mu.Unlock()

	if !ok {
		return false
	}
	session.Close()
	logger.Info("SessionRegistry: Closed chat session for user %s", userID)
	return true
}

func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown closes every session.
func (r *SessionRegistry) Shutdown() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*ChatSession)
	r.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
}
