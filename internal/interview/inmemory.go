package interview

import (
	"context"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

// InMemoryStore is a simple in-process store for local/dev use.
type InMemoryStore struct {
	mu         sync.RWMutex
	interviews map[string]*Interview
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{interviews: make(map[string]*Interview)}
}

func (s *InMemoryStore) Create(_ context.Context, iv *Interview) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if iv.ID == "" {
		iv.ID = shortuuid.New()
	}
	if iv.StartedAt.IsZero() {
		iv.StartedAt = time.Now().UTC()
	}
	if iv.Status == "" {
		iv.Status = StatusInProgress
	}
	s.interviews[iv.ID] = cloneInterview(iv)
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (*Interview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	iv, ok := s.interviews[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneInterview(iv), nil
}

func (s *InMemoryStore) GetInProgress(_ context.Context, id, userID string) (*Interview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	iv, ok := s.interviews[id]
	if !ok || iv.UserID != userID || iv.Status != StatusInProgress {
		return nil, ErrNotFound
	}
	return cloneInterview(iv), nil
}

func (s *InMemoryStore) ListByUser(_ context.Context, userID string) ([]*Interview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Interview
	for _, iv := range s.interviews {
		if iv.UserID == userID {
			out = append(out, cloneInterview(iv))
		}
	}
	return out, nil
}

func (s *InMemoryStore) AppendQuestion(_ context.Context, id string, q Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	iv, ok := s.interviews[id]
	if !ok {
		return ErrNotFound
	}
	if iv.Status != StatusInProgress {
		return ErrEnded
	}
	iv.Questions = append(iv.Questions, q)
	return nil
}

func (s *InMemoryStore) AppendResponse(_ context.Context, id string, r Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	iv, ok := s.interviews[id]
	if !ok {
		return ErrNotFound
	}
	if iv.Status != StatusInProgress {
		return ErrEnded
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	iv.Responses = append(iv.Responses, r)
	return nil
}

func (s *InMemoryStore) Complete(_ context.Context, id string, endedAt time.Time, actualDurationSeconds int64) (*Interview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	iv, ok := s.interviews[id]
	if !ok {
		return nil, ErrNotFound
	}
	if iv.Status == StatusCompleted {
		return cloneInterview(iv), nil
	}
	ended := endedAt.UTC()
	iv.Status = StatusCompleted
	iv.EndedAt = &ended
	iv.ActualDuration = actualDurationSeconds
	return cloneInterview(iv), nil
}

func (s *InMemoryStore) Close() error { return nil }

func cloneInterview(iv *Interview) *Interview {
	c := *iv
	c.FocusAreas = append([]string(nil), iv.FocusAreas...)
	c.Questions = append([]Question(nil), iv.Questions...)
	c.Responses = append([]Response(nil), iv.Responses...)
	c.Panelists = append([]Panelist(nil), iv.Panelists...)
	if iv.EndedAt != nil {
		ended := *iv.EndedAt
		c.EndedAt = &ended
	}
	return &c
}
