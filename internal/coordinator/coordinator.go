// Package coordinator bridges the synchronous REST contract to the
// asynchronous, multi-stage pipeline: an HTTP handler registers a request,
// suspends on a single-shot completion signal, and whichever pipeline stage
// finishes the request last notifies the coordinator to wake it.
//
// Grounded on original_source's domain/exchange/response/coordinator.py
// (ResponseCoordinator: register_request, wait_for_completion,
// notify_completion, update_status, cleanup_completed_requests, shutdown)
// and, for the single-shot wakeup primitive, on spec.md's guidance to
// replace Python's threading.Event with a Go channel.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Status is the lifecycle stage of a pending request.
type Status int

const (
	Pending Status = iota
	Validating
	Matching
	Settling
	Completed
	Timeout
	Error
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Validating:
		return "validating"
	case Matching:
		return "matching"
	case Settling:
		return "settling"
	case Completed:
		return "completed"
	case Timeout:
		return "timeout"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

func (s Status) terminal() bool { return s == Completed || s == Timeout || s == Error }

// APIResponse is the outcome a pipeline stage hands back to the waiting
// HTTP request, success-or-not plus an arbitrary payload the caller
// serialises.
type APIResponse struct {
	Success bool
	Code    string
	Message string
	Data    any
}

// Registration is returned from RegisterRequest.
type Registration struct {
	RequestID string
	TimeoutAt time.Time
}

// ResponseResult is what WaitForCompletion returns once the request
// resolves, either via notification or via the coordinator's own
// synthesised timeout/shutdown response.
type ResponseResult struct {
	RequestID      string
	Status         Status
	Response       APIResponse
	OrderID        string
	ProcessingTime time.Duration
}

type pendingRequest struct {
	requestID    string
	teamID       string
	status       Status
	registeredAt time.Time
	timeoutAt    time.Time
	orderID      string
	response     APIResponse
	done         chan struct{} // closed exactly once, on first notify/timeout/shutdown
	settled      bool          // true once done has been closed
	result       ResponseResult
	completedAt  time.Time
}

// ErrOverloaded is returned by RegisterRequest when the pending count is at
// capacity.
var ErrOverloaded = fmt.Errorf("coordinator: too many pending requests")

// ErrShuttingDown is returned by RegisterRequest once Shutdown has been
// called.
var ErrShuttingDown = fmt.Errorf("coordinator: shutting down")

// ErrUnknownRequest is returned by WaitForCompletion for a request id the
// coordinator has no record of.
var ErrUnknownRequest = fmt.Errorf("coordinator: unknown request id")

// Config holds the coordinator's tunables, sourced from the core's typed
// configuration (never read from viper directly — see internal/config).
type Config struct {
	DefaultTimeout     time.Duration
	MaxPendingRequests int
	CleanupInterval    time.Duration
	RequestIDPrefix    string
	// CompletedRetention bounds how long a terminal entry survives in the
	// map before cleanup sweeps it, so a slow caller still has time to
	// read GetRequestStatus after WaitForCompletion returns.
	CompletedRetention time.Duration
}

// Coordinator is the single response-routing authority for the exchange;
// spec.md explicitly retires ad-hoc global dictionaries in its favour.
type Coordinator struct {
	cfg Config

	mu             sync.Mutex
	pending        map[string]*pendingRequest
	seq            uint64
	shutdown       bool
	sweeperRunning int32
}

// New builds a Coordinator. Call StartCleanupSweeper separately to run the
// periodic sweep as a supervised goroutine.
func New(cfg Config) *Coordinator {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 5 * time.Second
	}
	if cfg.MaxPendingRequests <= 0 {
		cfg.MaxPendingRequests = 10_000
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 30 * time.Second
	}
	if cfg.RequestIDPrefix == "" {
		cfg.RequestIDPrefix = "req"
	}
	if cfg.CompletedRetention <= 0 {
		cfg.CompletedRetention = 60 * time.Second
	}
	return &Coordinator{cfg: cfg, pending: make(map[string]*pendingRequest)}
}

// RegisterRequest reserves a request id and a deadline for a team's
// in-flight operation.
func (c *Coordinator) RegisterRequest(teamID string, timeout time.Duration) (Registration, error) {
	if timeout <= 0 {
		timeout = c.cfg.DefaultTimeout
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shutdown {
		return Registration{}, ErrShuttingDown
	}
	if len(c.pending) >= c.cfg.MaxPendingRequests {
		return Registration{}, ErrOverloaded
	}

	c.seq++
	requestID := fmt.Sprintf("%s-%d-%d", c.cfg.RequestIDPrefix, time.Now().UnixNano(), c.seq)
	now := time.Now()
	timeoutAt := now.Add(timeout)

	c.pending[requestID] = &pendingRequest{
		requestID:    requestID,
		teamID:       teamID,
		status:       Pending,
		registeredAt: now,
		timeoutAt:    timeoutAt,
		done:         make(chan struct{}),
	}

	return Registration{RequestID: requestID, TimeoutAt: timeoutAt}, nil
}

// WaitForCompletion blocks until the request is notified complete, times
// out (the coordinator synthesises a PROCESSING_TIMEOUT response), or the
// caller's context is cancelled first.
func (c *Coordinator) WaitForCompletion(ctx context.Context, requestID string) (ResponseResult, error) {
	c.mu.Lock()
	req, ok := c.pending[requestID]
	c.mu.Unlock()
	if !ok {
		return ResponseResult{}, ErrUnknownRequest
	}

	timer := time.NewTimer(time.Until(req.timeoutAt))
	defer timer.Stop()

	select {
	case <-req.done:
		c.mu.Lock()
		result := req.result
		c.mu.Unlock()
		return result, nil
	case <-timer.C:
		c.synthesize(req, Timeout, APIResponse{Success: false, Code: "PROCESSING_TIMEOUT", Message: "request timed out"})
		c.mu.Lock()
		result := req.result
		// A request that actually settled as a timeout here (as opposed to a
		// notify that won the race against the timer) is removed immediately
		// rather than left for CleanupCompletedRequests's retention window,
		// so a late notify_completion for it falls into the unknown-id path
		// instead of incorrectly reporting success.
		if result.Status == Timeout {
			delete(c.pending, requestID)
		}
		c.mu.Unlock()
		return result, nil
	case <-ctx.Done():
		return ResponseResult{}, ctx.Err()
	}
}

// NotifyCompletion is idempotent: the first call for a request id records
// the outcome and wakes the waiter; a redundant subsequent call for the same
// id is a no-op that still returns true, per the sticky-terminal-state
// contract. Unknown ids return false — and a request that already settled
// via timeout (WaitForCompletion's timer branch, or the cleanup sweep) is
// removed from pending at that moment, so a late notify for it lands here
// too and correctly returns false rather than appearing to succeed.
func (c *Coordinator) NotifyCompletion(requestID string, response APIResponse, orderID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.pending[requestID]
	if !ok {
		return false
	}
	if req.settled {
		return true
	}

	status := Completed
	if !response.Success {
		status = Error
	}
	req.orderID = orderID
	c.synthesizeLocked(req, status, response)

	return true
}

// synthesize settles req with the given terminal status and response,
// exactly once; later calls (timeout racing a late notify, or a redundant
// notify) observe the first outcome and do nothing further.
func (c *Coordinator) synthesize(req *pendingRequest, status Status, response APIResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if req.settled {
		return
	}
	req.settled = true
	req.status = status
	req.response = response
	req.completedAt = time.Now()
	req.result = ResponseResult{
		RequestID:      req.requestID,
		Status:         status,
		Response:       response,
		OrderID:        req.orderID,
		ProcessingTime: req.completedAt.Sub(req.registeredAt),
	}
	close(req.done)
}

// UpdateStatus is an observational, non-terminal transition. It returns
// false if the request is unknown or already terminal.
func (c *Coordinator) UpdateStatus(requestID string, status Status) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, ok := c.pending[requestID]
	if !ok || req.settled || req.status.terminal() {
		return false
	}
	req.status = status
	return true
}

// GetRequestStatus returns a read-only snapshot of a pending request's
// current status.
func (c *Coordinator) GetRequestStatus(requestID string) (Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.pending[requestID]
	if !ok {
		return 0, false
	}
	return req.status, true
}

// CleanupCompletedRequests sweeps entries that are either past their
// timeout deadline and never settled, or settled long enough ago to be
// past CompletedRetention. Returns the count removed. Intended to be
// called periodically by a background sweeper goroutine.
func (c *Coordinator) CleanupCompletedRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, req := range c.pending {
		if req.settled && now.Sub(req.completedAt) > c.cfg.CompletedRetention {
			delete(c.pending, id)
			removed++
			continue
		}
		if !req.settled && now.After(req.timeoutAt) {
			// Should be rare: WaitForCompletion normally settles timeouts
			// itself, but a request whose caller never waited (e.g. the
			// HTTP handler's goroutine was killed) would otherwise leak.
			c.synthesizeLocked(req, Timeout, APIResponse{Success: false, Code: "PROCESSING_TIMEOUT", Message: "request timed out"})
			delete(c.pending, id)
			removed++
		}
	}
	return removed
}

// synthesizeLocked is synthesize's body for callers that already hold mu.
func (c *Coordinator) synthesizeLocked(req *pendingRequest, status Status, response APIResponse) {
	if req.settled {
		return
	}
	req.settled = true
	req.status = status
	req.response = response
	req.completedAt = time.Now()
	req.result = ResponseResult{
		RequestID:      req.requestID,
		Status:         status,
		Response:       response,
		OrderID:        req.orderID,
		ProcessingTime: req.completedAt.Sub(req.registeredAt),
	}
	close(req.done)
}

// Shutdown rejects further registrations and synthesises SERVICE_SHUTDOWN
// responses for every outstanding wait.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	c.shutdown = true
	for _, req := range c.pending {
		c.synthesizeLocked(req, Error, APIResponse{Success: false, Code: "SERVICE_SHUTDOWN", Message: "exchange is shutting down"})
	}
	c.mu.Unlock()
}

// StartCleanupSweeper launches the periodic sweep as a goroutine that
// blocks until ctx is cancelled. Intended to be launched via
// `t.Go(func() error { return coordinator.StartCleanupSweeper(ctx, c) })`
// from the pipeline's tomb.Tomb.
func StartCleanupSweeper(ctx context.Context, c *Coordinator) error {
	if !atomic.CompareAndSwapInt32(&c.sweeperRunning, 0, 1) {
		return fmt.Errorf("coordinator: cleanup sweeper already running")
	}
	defer atomic.StoreInt32(&c.sweeperRunning, 0)

	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := c.CleanupCompletedRequests(); n > 0 {
				log.Debug().Int("removed", n).Msg("coordinator cleanup swept completed requests")
			}
		}
	}
}
