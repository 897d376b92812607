package enrichment

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemorySource is an in-process Source used for local development and tests.
type MemorySource struct {
	mu        sync.RWMutex
	learners  map[string]Learner
	attempts  map[string]Attempt
	questions map[string]Question
	options   map[string]Option
	logs      map[string]ActivityLog
}

func NewMemorySource() *MemorySource {
	return &MemorySource{
		learners:  map[string]Learner{},
		attempts:  map[string]Attempt{},
		questions: map[string]Question{},
		options:   map[string]Option{},
		logs:      map[string]ActivityLog{},
	}
}

func (s *MemorySource) PutLearner(l Learner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.learners[l.ID] = l
}

func (s *MemorySource) PutAttempt(a Attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[a.ID] = a
}

func (s *MemorySource) PutQuestion(q Question) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questions[q.ID] = q
}

func (s *MemorySource) PutOption(o Option) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.options[o.ID] = o
}

func (s *MemorySource) PutActivityLog(l ActivityLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[l.ID] = l
}

func (s *MemorySource) GetAttempt(ctx context.Context, attemptID string) (Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attempts[attemptID]
	if !ok {
		return Attempt{}, ErrNotFound
	}
	return a, nil
}

func (s *MemorySource) GetLearner(ctx context.Context, userID string) (Learner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.learners[userID]
	if !ok {
		return Learner{}, ErrNotFound
	}
	return l, nil
}

// ListActivityLogIDs returns ids with StartedAt in [from, to), oldest first.
func (s *MemorySource) ListActivityLogIDs(ctx context.Context, userID string, from, to time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []ActivityLog
	for _, l := range s.logs {
		if l.UserID != userID || l.StartedAt.Before(from) || !l.StartedAt.Before(to) {
			continue
		}
		matched = append(matched, l)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].StartedAt.Equal(matched[j].StartedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].StartedAt.Before(matched[j].StartedAt)
	})
	ids := make([]string, len(matched))
	for i, l := range matched {
		ids[i] = l.ID
	}
	return ids, nil
}

func (s *MemorySource) GetQuestions(ctx context.Context, ids []string) (map[string]Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Question, len(ids))
	for _, id := range ids {
		if q, ok := s.questions[id]; ok {
			out[id] = q
		}
	}
	return out, nil
}

func (s *MemorySource) GetOptions(ctx context.Context, ids []string) (map[string]Option, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Option, len(ids))
	for _, id := range ids {
		if o, ok := s.options[id]; ok {
			out[id] = o
		}
	}
	return out, nil
}

func (s *MemorySource) GetActivityLogs(ctx context.Context, ids []string) (map[string]ActivityLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]ActivityLog, len(ids))
	for _, id := range ids {
		if l, ok := s.logs[id]; ok {
			out[id] = l
		}
	}
	return out, nil
}

var _ Source = (*MemorySource)(nil)
