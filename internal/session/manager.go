package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the per-session pipeline state machine. Valid transitions are
// Idle→Processing, Processing→Idle and *→Ended, all guarded by the manager
// so a second pipeline run can never slip in between check and set.
type State string

const (
	StateIdle       State = "idle"
	StateProcessing State = "processing"
	StateEnded      State = "ended"
)

var (
	ErrNotFound   = errors.New("session not found")
	ErrProcessing = errors.New("session already processing")
	ErrEnded      = errors.New("session ended")
)

// Session is the orchestrator's live state for one connected participant.
type Session struct {
	ID                   string    `json:"session_id"`
	InterviewID          string    `json:"interview_id"`
	UserID               string    `json:"user_id"`
	State                State     `json:"state"`
	CurrentQuestionIndex int       `json:"current_question_index"`
	JoinedAt             time.Time `json:"joined_at"`
	LastActivityAt       time.Time `json:"last_activity_at"`
}

// Manager is the injectable session store. Entries are guarded by the
// manager mutex, held only for the transition itself and never across
// pipeline stage I/O.
type Manager struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	idleTimeout time.Duration
	onExpire    func(*Session)
}

func NewManager(idleTimeout time.Duration) *Manager {
	if idleTimeout <= 0 {
		idleTimeout = 10 * time.Minute
	}
	return &Manager{
		sessions:    make(map[string]*Session),
		idleTimeout: idleTimeout,
	}
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Register(interviewID, userID string, currentQuestionIndex int) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:                   uuid.NewString(),
		InterviewID:          interviewID,
		UserID:               userID,
		State:                StateIdle,
		CurrentQuestionIndex: currentQuestionIndex,
		JoinedAt:             now,
		LastActivityAt:       now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// BeginProcessing performs the atomic Idle→Processing check-and-set that
// enforces the single-flight guarantee.
func (m *Manager) BeginProcessing(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	switch s.State {
	case StateProcessing:
		return nil, ErrProcessing
	case StateEnded:
		return nil, ErrEnded
	}
	s.State = StateProcessing
	s.LastActivityAt = time.Now().UTC()
	return clone(s), nil
}

// EndProcessing releases the latch. It is safe to call on every exit path:
// a session that was removed or ended in the meantime is left alone.
func (m *Manager) EndProcessing(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	if s.State == StateProcessing {
		s.State = StateIdle
	}
	s.LastActivityAt = time.Now().UTC()
}

func (m *Manager) AdvanceQuestionIndex(sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return 0, ErrNotFound
	}
	s.CurrentQuestionIndex++
	s.LastActivityAt = time.Now().UTC()
	return s.CurrentQuestionIndex, nil
}

func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// End transitions *→Ended. The entry stays registered so a repeated end
// request can still resolve its interview; Remove and the janitor reap it.
func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	s.State = StateEnded
	s.LastActivityAt = time.Now().UTC()
	return clone(s), nil
}

// Remove drops the session without touching persisted interview state.
func (m *Manager) Remove(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// Alive reports whether the session still exists. Late pipeline runs check
// this before emitting so a disconnected client never receives events.
func (m *Manager) Alive(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return ok && s.State != StateEnded
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.State != StateEnded {
			count++
		}
	}
	return count
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireIdle()
			}
		}
	}()
}

func (m *Manager) expireIdle() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		// Never reap a session mid-pipeline; the run releases the latch
		// and refreshes activity on completion.
		if s.State == StateProcessing {
			continue
		}
		if s.State != StateEnded && now.Sub(s.LastActivityAt) < m.idleTimeout {
			continue
		}
		s.State = StateEnded
		expired = append(expired, clone(s))
		delete(m.sessions, id)
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
