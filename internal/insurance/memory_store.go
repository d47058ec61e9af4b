package insurance

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrIssueNotFound is returned when resolving an unknown issue.
var ErrIssueNotFound = errors.New("payment issue not found")

// MemoryIssueStore is an in-memory issue store for development and tests.
type MemoryIssueStore struct {
	issues []*Issue
	mu     sync.RWMutex
}

// NewMemoryIssueStore creates a new in-memory issue store.
func NewMemoryIssueStore() *MemoryIssueStore {
	return &MemoryIssueStore{}
}

func (m *MemoryIssueStore) Create(ctx context.Context, issue *Issue) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *issue
	m.issues = append(m.issues, &cp)
	return nil
}

func (m *MemoryIssueStore) List(ctx context.Context, status string, limit int) ([]*Issue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Issue
	for i := len(m.issues) - 1; i >= 0 && len(result) < limit; i-- {
		if status == "" || m.issues[i].Status == status {
			cp := *m.issues[i]
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryIssueStore) Resolve(ctx context.Context, issueID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, issue := range m.issues {
		if issue.ID == issueID {
			now := time.Now()
			issue.Status = StatusResolved
			issue.ResolvedAt = &now
			return nil
		}
	}
	return ErrIssueNotFound
}
