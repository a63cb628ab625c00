package mcp

import "sync"

// SessionRegistry tracks which MCP session each submitter or editor was
// last seen on, so notify_user assignments can reach them.
type SessionRegistry struct {
	mu        sync.RWMutex
	byUser    map[string]string
	bySession map[string]map[string]struct{}
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		byUser:    make(map[string]string),
		bySession: make(map[string]map[string]struct{}),
	}
}

// Register records that user is on sessionID. A user lives on one session
// at a time; registering again moves them.
func (r *SessionRegistry) Register(user, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.byUser[user]; ok {
		if prev == sessionID {
			return
		}
		r.detach(user, prev)
	}
	r.byUser[user] = sessionID
	users, ok := r.bySession[sessionID]
	if !ok {
		users = make(map[string]struct{})
		r.bySession[sessionID] = users
	}
	users[user] = struct{}{}
}

// SessionFor returns the session user was last seen on.
func (r *SessionRegistry) SessionFor(user string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.byUser[user]
	return sid, ok
}

// Remove forgets a closed session and every user on it.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for user := range r.bySession[sessionID] {
		delete(r.byUser, user)
	}
	delete(r.bySession, sessionID)
}

func (r *SessionRegistry) detach(user, sessionID string) {
	users := r.bySession[sessionID]
	delete(users, user)
	if len(users) == 0 {
		delete(r.bySession, sessionID)
	}
}
