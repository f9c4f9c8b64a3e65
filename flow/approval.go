package flow

import (
	"strings"
	"sync"
	"time"
)

// ApprovalResponse is a human decision submitted for a waiting approval
// node.
type ApprovalResponse struct {
	Approved    bool      `json:"approved"`
	Feedback    string    `json:"feedback,omitempty"`
	RespondedAt time.Time `json:"respondedAt"`
}

// approvalOutcome is what a waiting approval executor receives: either a
// response or a rejection cause (cancellation, interrupt, timeout=fail).
type approvalOutcome struct {
	resp ApprovalResponse
	err  error
}

type pendingApproval struct {
	ch    chan approvalOutcome
	timer *time.Timer
}

// ApprovalRegistry is the process-wide rendezvous table for pending human
// approvals, keyed by "executionId:nodeId". Every entry is resolved at
// most once: by Submit, Cancel, CancelAll, or its timeout; resolution
// removes the entry and stops its timer.
type ApprovalRegistry struct {
	mu      sync.Mutex
	pending map[string]*pendingApproval
}

// NewApprovalRegistry returns an empty registry.
func NewApprovalRegistry() *ApprovalRegistry {
	return &ApprovalRegistry{pending: make(map[string]*pendingApproval)}
}

func approvalKey(executionID, nodeID string) string {
	return executionID + ":" + nodeID
}

// register parks a waiting approval and returns its resolution channel.
// When timeout is positive, onTimeout computes the timed-out outcome and
// the registry delivers it if nothing else resolves the entry first.
func (r *ApprovalRegistry) register(executionID, nodeID string, timeout time.Duration, onTimeout func() approvalOutcome) <-chan approvalOutcome {
	key := approvalKey(executionID, nodeID)
	p := &pendingApproval{ch: make(chan approvalOutcome, 1)}

	r.mu.Lock()
	// A duplicate registration replaces the stale entry; the old waiter
	// already left via cancellation or timeout.
	if old, ok := r.pending[key]; ok && old.timer != nil {
		old.timer.Stop()
	}
	r.pending[key] = p
	if timeout > 0 && onTimeout != nil {
		p.timer = time.AfterFunc(timeout, func() {
			r.resolve(key, onTimeout())
		})
	}
	r.mu.Unlock()

	return p.ch
}

// resolve removes the entry and delivers the outcome. It is a no-op when
// the key is absent.
func (r *ApprovalRegistry) resolve(key string, out approvalOutcome) bool {
	r.mu.Lock()
	p, ok := r.pending[key]
	if ok {
		delete(r.pending, key)
		if p.timer != nil {
			p.timer.Stop()
		}
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	p.ch <- out
	return true
}

// Submit delivers a human response to the waiting approval. It returns
// false when no approval with that key is pending.
func (r *ApprovalRegistry) Submit(executionID, nodeID string, resp ApprovalResponse) bool {
	if resp.RespondedAt.IsZero() {
		resp.RespondedAt = time.Now()
	}
	return r.resolve(approvalKey(executionID, nodeID), approvalOutcome{resp: resp})
}

// Cancel rejects a single pending approval with ErrApprovalCancelled.
func (r *ApprovalRegistry) Cancel(executionID, nodeID string) bool {
	return r.resolve(approvalKey(executionID, nodeID), approvalOutcome{err: ErrApprovalCancelled})
}

// CancelAll rejects every pending approval of the execution with
// ErrCancelled. The engine calls it on interrupt.
func (r *ApprovalRegistry) CancelAll(executionID string) {
	prefix := executionID + ":"

	r.mu.Lock()
	var keys []string
	for key := range r.pending {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	r.mu.Unlock()

	for _, key := range keys {
		r.resolve(key, approvalOutcome{err: ErrCancelled})
	}
}

// PendingCount reports the number of parked approvals, across all
// executions.
func (r *ApprovalRegistry) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
