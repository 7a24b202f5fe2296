// Package memory provides an in-memory audit store for tests and
// single-process deployments.
package memory

import (
	"context"
	"sort"
	"sync"

	"mathilda/internal/audit"
)

var _ audit.Store = (*InMemoryStore)(nil)

type InMemoryStore struct {
	mu      sync.RWMutex
	entries []audit.Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}

func (s *InMemoryStore) Append(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *InMemoryStore) GetByID(_ context.Context, id string) (*audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.entries {
		if s.entries[i].ID == id {
			entry := s.entries[i]
			return &entry, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) Search(_ context.Context, opts audit.SearchOptions) (audit.PaginatedResult, error) {
	s.mu.RLock()
	matched := make([]audit.Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		if matches(entry, opts) {
			matched = append(matched, entry)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if opts.SortOrder == audit.SortAsc {
			return matched[i].Timestamp.Before(matched[j].Timestamp)
		}
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	return paginate(matched, opts), nil
}

func matches(entry audit.Entry, opts audit.SearchOptions) bool {
	if !opts.StartDate.IsZero() && entry.Timestamp.Before(opts.StartDate) {
		return false
	}
	if !opts.EndDate.IsZero() && entry.Timestamp.After(opts.EndDate) {
		return false
	}
	if len(opts.ActionTypes) > 0 && !containsAction(opts.ActionTypes, entry.ActionType) {
		return false
	}
	if len(opts.UserIDs) > 0 && !containsString(opts.UserIDs, entry.UserID) {
		return false
	}
	if len(opts.TargetIDs) > 0 && !containsString(opts.TargetIDs, entry.TargetID) {
		return false
	}
	if len(opts.Severities) > 0 && !containsSeverity(opts.Severities, entry.Severity) {
		return false
	}
	return true
}

func paginate(matched []audit.Entry, opts audit.SearchOptions) audit.PaginatedResult {
	total := len(matched)
	offset := opts.Offset
	if offset > total {
		offset = total
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = total - offset
	}
	end := offset + limit
	if end > total {
		end = total
	}

	result := audit.PaginatedResult{
		Entries:    append([]audit.Entry{}, matched[offset:end]...),
		TotalCount: total,
		HasMore:    end < total,
	}
	if result.HasMore {
		result.NextOffset = end
	}
	return result
}

func containsAction(haystack []audit.ActionType, needle audit.ActionType) bool {
	for _, candidate := range haystack {
		if candidate == needle {
			return true
		}
	}
	return false
}

func containsSeverity(haystack []audit.Severity, needle audit.Severity) bool {
	for _, candidate := range haystack {
		if candidate == needle {
			return true
		}
	}
	return false
}

func containsString(haystack []string, needle string) bool {
	for _, candidate := range haystack {
		if candidate == needle {
			return true
		}
	}
	return false
}
