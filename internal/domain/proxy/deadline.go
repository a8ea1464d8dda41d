package proxy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sentinel-Gate/toolproxy/internal/domain/security"
)

// DefaultTimeout is the system-wide timeout used when neither the call nor
// the server profile sets one.
const DefaultTimeout = 30 * time.Second

// DeadlineExecutor bounds a delegated tool call to its effective timeout.
//
// The downstream call runs in its own goroutine and races a timer. When the
// timer wins the caller gets a timeout result immediately; the downstream
// call receives a cancelled context but may keep running, and its late
// result is discarded. Cancellation is therefore best-effort: a client that
// ignores its context is not aborted.
type DeadlineExecutor struct {
	clients        ClientManager
	defaultTimeout time.Duration
}

// NewDeadlineExecutor creates a DeadlineExecutor. A non-positive
// defaultTimeout selects DefaultTimeout.
func NewDeadlineExecutor(clients ClientManager, defaultTimeout time.Duration) *DeadlineExecutor {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	return &DeadlineExecutor{clients: clients, defaultTimeout: defaultTimeout}
}

// EffectiveTimeout resolves the timeout for a call: explicit override, then
// the server's MaxExecution, then the system default.
func (d *DeadlineExecutor) EffectiveTimeout(override time.Duration, profile security.Profile) time.Duration {
	switch {
	case override > 0:
		return override
	case profile.MaxExecution > 0:
		return profile.MaxExecution
	default:
		return d.defaultTimeout
	}
}

type callOutcome struct {
	result ToolCallResult
	err    error
}

// Run invokes the tool through the Client Manager and returns within
// req.Timeout. DurationMs is measured on the monotonic clock from entry to
// result availability.
func (d *DeadlineExecutor) Run(ctx context.Context, req ToolCallRequest) ToolCallResult {
	start := time.Now()
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = d.defaultTimeout
	}

	finish := func(r ToolCallResult) ToolCallResult {
		r = normalize(r, req.RequestID)
		r.DurationMs = time.Since(start).Milliseconds()
		return r
	}

	if err := ctx.Err(); err != nil {
		return finish(failure(KindExecutionFailure, fmt.Sprintf("call cancelled: %v", err), req.RequestID))
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Buffered so a late downstream result never blocks its goroutine.
	done := make(chan callOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callOutcome{err: fmt.Errorf("tool call panicked: %v", r)}
			}
		}()
		res, err := d.clients.CallTool(callCtx, req)
		done <- callOutcome{result: res, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		if out.err != nil {
			if errors.Is(out.err, context.DeadlineExceeded) && callCtx.Err() != nil && ctx.Err() == nil {
				return finish(failure(KindTimeout, ErrExecutionTimeout.Error(), req.RequestID))
			}
			return finish(failure(KindExecutionFailure, out.err.Error(), req.RequestID))
		}
		return finish(out.result)
	case <-timer.C:
		return finish(failure(KindTimeout, ErrExecutionTimeout.Error(), req.RequestID))
	case <-ctx.Done():
		return finish(failure(KindExecutionFailure, fmt.Sprintf("call cancelled: %v", ctx.Err()), req.RequestID))
	}
}
