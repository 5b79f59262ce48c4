package session

import "sync"

// State holds the remote-session identity. It is created empty, populated by
// the initialization handshake, and cleared whenever the peer reports the
// session invalid. Updates are last-write-wins: a race between two concurrent
// repairs costs at most one spurious handshake, which is harmless, so no
// stronger coordination is used. It is never persisted.
type State struct {
	mu          sync.Mutex
	sessionID   string
	initialized bool
}

// NewState returns an empty session state.
func NewState() *State { return &State{} }

// SessionID returns the current session token, empty until established.
func (s *State) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// SetSessionID replaces the stored token with the peer's most recent value.
func (s *State) SetSessionID(id string) {
	s.mu.Lock()
	s.sessionID = id
	s.mu.Unlock()
}

// Initialized reports whether the handshake has completed.
func (s *State) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

func (s *State) markInitialized() {
	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
}

// Reset clears both the token and the initialized flag together.
func (s *State) Reset() {
	s.mu.Lock()
	s.sessionID = ""
	s.initialized = false
	s.mu.Unlock()
}

// Snapshot is the state's /status representation.
type Snapshot struct {
	SessionID   string `json:"session_id,omitempty"`
	Initialized bool   `json:"initialized"`
}

// Snapshot returns a copy of the current state for status reporting.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{SessionID: s.sessionID, Initialized: s.initialized}
}
