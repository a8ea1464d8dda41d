// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/Sentinel-Gate/toolproxy/internal/domain/audit"
)

const defaultRecentCap = 1000

var (
	_ audit.AuditStore   = (*AuditStore)(nil)
	_ audit.RecentReader = (*AuditStore)(nil)
)

// AuditStore writes tool call records as JSON lines and keeps the most recent
// ones in a bounded ring buffer.
type AuditStore struct {
	mu      sync.Mutex
	encoder *json.Encoder
	writer  io.Writer
	closer  io.Closer // nil for stdout and caller-owned writers

	ring  []audit.ToolCallRecord
	next  int // slot the next record goes into
	count int
}

// NewAuditStore creates a store writing to w. A non-positive capacity
// selects the default ring size. w is not closed by Close.
func NewAuditStore(w io.Writer, capacity int) *AuditStore {
	if w == nil {
		w = io.Discard
	}
	if capacity <= 0 {
		capacity = defaultRecentCap
	}
	return &AuditStore{
		encoder: json.NewEncoder(w),
		writer:  w,
		ring:    make([]audit.ToolCallRecord, capacity),
	}
}

// OpenFileAuditStore appends JSON lines to the file at path, creating it
// with 0600 permissions if needed.
func OpenFileAuditStore(path string, capacity int) (*AuditStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	s := NewAuditStore(f, capacity)
	s.closer = f
	return s, nil
}

// Append writes records in order and remembers them.
func (s *AuditStore) Append(ctx context.Context, records ...audit.ToolCallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if err := s.encoder.Encode(r); err != nil {
			return fmt.Errorf("encode audit record: %w", err)
		}
		s.ring[s.next] = r
		s.next = (s.next + 1) % len(s.ring)
		if s.count < len(s.ring) {
			s.count++
		}
	}
	return nil
}

// Flush syncs the file when writing to one.
func (s *AuditStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.writer.(*os.File); ok && s.closer != nil {
		return f.Sync()
	}
	return nil
}

// Close closes the file when the store opened it.
func (s *AuditStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}

// Recent returns up to n records, newest first.
func (s *AuditStore) Recent(ctx context.Context, n int) ([]audit.ToolCallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n = min(n, s.count)
	if n <= 0 {
		return nil, nil
	}
	out := make([]audit.ToolCallRecord, n)
	for i := 0; i < n; i++ {
		idx := (s.next - 1 - i + len(s.ring)) % len(s.ring)
		out[i] = s.ring[idx]
	}
	return out, nil
}
