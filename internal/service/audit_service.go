package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sentinel-Gate/toolproxy/internal/domain/audit"
)

// ErrAuditDropped is returned by LogToolCall when the buffer stayed full for
// the whole send timeout and the record was discarded.
var ErrAuditDropped = errors.New("audit record dropped")

// ErrAuditStopped is returned by LogToolCall after Stop.
var ErrAuditStopped = errors.New("audit service stopped")

// AuditService writes tool call records asynchronously through a buffered
// channel and a batching background worker, so audit never sits on the
// call path.
type AuditService struct {
	store         audit.AuditStore
	records       chan audit.ToolCallRecord
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration
	sendTimeout   time.Duration // 0 drops immediately when the buffer is full

	wg       sync.WaitGroup
	stopOnce sync.Once
	mu       sync.RWMutex // guards stopped against a concurrent close
	stopped  bool

	dropCount        atomic.Int64
	warningThreshold int // percent of capacity, 0 disables
	lastWarning      atomic.Int64
}

// AuditOption configures AuditService.
type AuditOption func(*AuditService)

// WithBatchSize sets the number of records written per store call.
func WithBatchSize(size int) AuditOption {
	return func(s *AuditService) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithFlushInterval sets how often a partial batch is written.
func WithFlushInterval(interval time.Duration) AuditOption {
	return func(s *AuditService) {
		if interval > 0 {
			s.flushInterval = interval
		}
	}
}

// WithChannelSize sets the buffer capacity.
func WithChannelSize(size int) AuditOption {
	return func(s *AuditService) {
		if size > 0 {
			s.records = make(chan audit.ToolCallRecord, size)
		}
	}
}

// WithSendTimeout sets how long LogToolCall waits on a full buffer.
func WithSendTimeout(timeout time.Duration) AuditOption {
	return func(s *AuditService) {
		s.sendTimeout = timeout
	}
}

// WithWarningThreshold sets the buffer fill percentage that logs a warning.
func WithWarningThreshold(percent int) AuditOption {
	return func(s *AuditService) {
		s.warningThreshold = min(max(percent, 0), 100)
	}
}

// NewAuditService creates an AuditService writing to store.
func NewAuditService(store audit.AuditStore, logger *slog.Logger, opts ...AuditOption) *AuditService {
	s := &AuditService{
		store:            store,
		records:          make(chan audit.ToolCallRecord, 1000),
		logger:           logger,
		batchSize:        100,
		flushInterval:    time.Second,
		sendTimeout:      100 * time.Millisecond,
		warningThreshold: 80,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background worker.
func (s *AuditService) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.worker(ctx)
}

// LogToolCall queues a record. It returns ErrAuditDropped when the buffer
// stays full past the send timeout.
func (s *AuditService) LogToolCall(ctx context.Context, record audit.ToolCallRecord) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return ErrAuditStopped
	}

	if s.warningThreshold > 0 {
		if depth := len(s.records); depth >= cap(s.records)*s.warningThreshold/100 {
			s.warnDepth(depth)
		}
	}

	select {
	case s.records <- record:
		return nil
	default:
	}

	if s.sendTimeout <= 0 {
		return s.drop(record)
	}

	timer := time.NewTimer(s.sendTimeout)
	defer timer.Stop()
	select {
	case s.records <- record:
		return nil
	case <-timer.C:
		return s.drop(record)
	case <-ctx.Done():
		return s.drop(record)
	}
}

func (s *AuditService) drop(record audit.ToolCallRecord) error {
	drops := s.dropCount.Add(1)
	s.logger.Warn("audit record dropped",
		"request_id", record.RequestID,
		"server", record.ServerID,
		"tool", record.ToolName,
		"total_drops", drops,
	)
	return ErrAuditDropped
}

// warnDepth logs at most once per second.
func (s *AuditService) warnDepth(depth int) {
	now := time.Now().UnixNano()
	last := s.lastWarning.Load()
	if now-last < int64(time.Second) {
		return
	}
	if s.lastWarning.CompareAndSwap(last, now) {
		s.logger.Warn("audit buffer approaching capacity",
			"depth", depth,
			"capacity", cap(s.records),
		)
	}
}

// DroppedRecords returns the number of records dropped so far.
func (s *AuditService) DroppedRecords() int64 {
	return s.dropCount.Load()
}

// ChannelDepth returns the number of queued records.
func (s *AuditService) ChannelDepth() int {
	return len(s.records)
}

// ChannelCapacity returns the buffer capacity.
func (s *AuditService) ChannelCapacity() int {
	return cap(s.records)
}

// Stop closes the buffer, waits for the worker to write what is queued and
// flushes the store. It is safe to call more than once.
func (s *AuditService) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		close(s.records)
		s.mu.Unlock()
		s.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.Flush(ctx); err != nil {
			s.logger.Error("failed to flush audit store", "error", err)
		}
	})
}

func (s *AuditService) worker(ctx context.Context) {
	defer s.wg.Done()

	batch := make([]audit.ToolCallRecord, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	// final writes get their own deadline since ctx may already be done
	finalFlush := func() {
		if len(batch) == 0 {
			return
		}
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.write(flushCtx, batch)
	}

	for {
		select {
		case record, ok := <-s.records:
			if !ok {
				finalFlush()
				return
			}
			batch = append(batch, record)
			if len(batch) >= s.batchSize {
				s.write(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.write(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			for record := range s.records {
				batch = append(batch, record)
			}
			finalFlush()
			return
		}
	}
}

// write hands a batch to the store. Errors are logged only.
func (s *AuditService) write(ctx context.Context, batch []audit.ToolCallRecord) {
	if err := s.store.Append(ctx, batch...); err != nil {
		s.logger.Error("failed to write audit batch",
			"error", err,
			"count", len(batch),
		)
	}
}
