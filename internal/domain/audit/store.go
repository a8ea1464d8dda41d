package audit

import (
	"context"
)

// AuditStore persists audit records.
// Interface owned by domain per hexagonal architecture.
// Implementation handles batching and async writes.
type AuditStore interface {
	// Append stores audit records.
	Append(ctx context.Context, records ...ToolCallRecord) error

	// Flush forces pending records to storage. Called during shutdown.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// RecentReader returns the most recently stored records, newest first.
type RecentReader interface {
	Recent(ctx context.Context, n int) ([]ToolCallRecord, error)
}
