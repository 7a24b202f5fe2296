package audit

import "context"

// Store persists the audit trail.
type Store interface {
	// Append writes one entry. The service fills ID and Timestamp before
	// calling.
	Append(ctx context.Context, entry Entry) error
	// Search returns one page of entries matching the options.
	Search(ctx context.Context, opts SearchOptions) (PaginatedResult, error)
	// GetByID returns one entry, or nil when no entry has that ID.
	GetByID(ctx context.Context, id string) (*Entry, error)
}
