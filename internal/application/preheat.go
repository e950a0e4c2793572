package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/credshare/credpool/internal/domain/model"
)

// preheatDeadline bounds how long an abandoned preheat task may keep its
// upstream calls running.
const preheatDeadline = 30 * time.Second

// PreheatResult is a ready-to-use attempt produced ahead of a failover.
type PreheatResult struct {
	Credential  *model.Credential
	AccessToken string
	TenantID    string
}

// PreheatHandle is a caller-owned handle to one in-flight preheat task. The
// result channel is buffered, so the task never blocks on an abandoned
// handle; Cancel stops the task's upstream work early when the handle will
// not be consumed.
type PreheatHandle struct {
	id     string
	result chan *PreheatResult
	cancel context.CancelFunc
}

// ID returns the task's correlation id for logs.
func (h *PreheatHandle) ID() string { return h.id }

// Cancel stops the underlying task. Safe to call any number of times.
func (h *PreheatHandle) Cancel() { h.cancel() }

// PreheatCoordinator runs the full selection+resolution pipeline in the
// background so a future failover has near-zero added latency.
type PreheatCoordinator struct {
	selection *SelectionEngine
	resolver  *Resolver
}

// NewPreheatCoordinator creates a PreheatCoordinator.
func NewPreheatCoordinator(selection *SelectionEngine, resolver *Resolver) *PreheatCoordinator {
	return &PreheatCoordinator{selection: selection, resolver: resolver}
}

// Start launches a preheat task and returns its handle. The task runs
// detached from the originating request's context: it must survive the
// current attempt finishing, and its lifetime is bounded by its own
// deadline. A failed task delivers nil, which callers treat as "fall back
// to synchronous selection".
func (p *PreheatCoordinator) Start(req SelectionRequest) *PreheatHandle {
	ctx, cancel := context.WithTimeout(context.Background(), preheatDeadline)
	handle := &PreheatHandle{
		id:     uuid.NewString(),
		result: make(chan *PreheatResult, 1),
		cancel: cancel,
	}

	go func() {
		defer cancel()
		handle.result <- p.run(ctx, handle.id, req)
	}()

	return handle
}

func (p *PreheatCoordinator) run(ctx context.Context, taskID string, req SelectionRequest) *PreheatResult {
	cred, err := p.selection.Select(ctx, req)
	if err != nil {
		slog.Debug("preheat selection failed", "task_id", taskID, "error", err)
		return nil
	}

	token, tenantID, err := p.resolver.Resolve(ctx, cred)
	if err != nil {
		slog.Debug("preheat resolution failed",
			"task_id", taskID,
			"credential_id", cred.ID,
			"error", err,
		)
		return nil
	}

	slog.Debug("preheat ready", "task_id", taskID, "credential_id", cred.ID)
	return &PreheatResult{Credential: cred, AccessToken: token, TenantID: tenantID}
}

// Await consumes the task's result: an already-finished task yields
// immediately, a running one is awaited up to the timeout. A nil result
// (task failed, timed out, or context cancelled) means the caller should
// select synchronously instead. The wait is always bounded; it never blocks
// the retry loop.
func (h *PreheatHandle) Await(ctx context.Context, timeout time.Duration) *PreheatResult {
	select {
	case res := <-h.result:
		return res
	case <-time.After(timeout):
		slog.Debug("preheat await timed out", "task_id", h.id, "timeout", timeout)
		return nil
	case <-ctx.Done():
		return nil
	}
}
