package flow

import (
	"errors"
	"testing"
	"time"
)

func TestApprovalRegistry_SubmitWithoutPending(t *testing.T) {
	reg := NewApprovalRegistry()
	if reg.Submit("x1", "gate", ApprovalResponse{Approved: true}) {
		t.Error("Submit reported delivery with nothing pending")
	}
	if reg.PendingCount() != 0 {
		t.Errorf("PendingCount = %d", reg.PendingCount())
	}
}

func TestApprovalRegistry_SubmitDelivers(t *testing.T) {
	reg := NewApprovalRegistry()
	ch := reg.register("x1", "gate", 0, nil)
	if reg.PendingCount() != 1 {
		t.Fatalf("PendingCount = %d, want 1", reg.PendingCount())
	}

	if !reg.Submit("x1", "gate", ApprovalResponse{Approved: true, Feedback: "ship it"}) {
		t.Fatal("Submit found no pending approval")
	}
	out := <-ch
	if out.err != nil {
		t.Fatalf("outcome err = %v", out.err)
	}
	if !out.resp.Approved || out.resp.Feedback != "ship it" {
		t.Errorf("resp = %+v", out.resp)
	}
	if out.resp.RespondedAt.IsZero() {
		t.Error("RespondedAt not defaulted")
	}

	if reg.PendingCount() != 0 {
		t.Errorf("PendingCount after resolution = %d", reg.PendingCount())
	}
	if reg.Submit("x1", "gate", ApprovalResponse{}) {
		t.Error("second Submit resolved an already-resolved approval")
	}
}

func TestApprovalRegistry_Cancel(t *testing.T) {
	reg := NewApprovalRegistry()
	ch := reg.register("x1", "gate", 0, nil)

	if !reg.Cancel("x1", "gate") {
		t.Fatal("Cancel found no pending approval")
	}
	out := <-ch
	if !errors.Is(out.err, ErrApprovalCancelled) {
		t.Errorf("outcome err = %v, want ErrApprovalCancelled", out.err)
	}
	if reg.Cancel("x1", "gate") {
		t.Error("Cancel resolved twice")
	}
}

func TestApprovalRegistry_CancelAllScopedToExecution(t *testing.T) {
	reg := NewApprovalRegistry()
	a := reg.register("x1", "gate-a", 0, nil)
	b := reg.register("x1", "gate-b", 0, nil)
	other := reg.register("x2", "gate-a", 0, nil)

	reg.CancelAll("x1")

	for _, ch := range []<-chan approvalOutcome{a, b} {
		out := <-ch
		if !errors.Is(out.err, ErrCancelled) {
			t.Errorf("outcome err = %v, want ErrCancelled", out.err)
		}
	}
	if reg.PendingCount() != 1 {
		t.Fatalf("PendingCount = %d, want the other execution untouched", reg.PendingCount())
	}

	select {
	case out := <-other:
		t.Errorf("unrelated execution resolved: %+v", out)
	default:
	}
	reg.Cancel("x2", "gate-a")
}

func TestApprovalRegistry_Timeout(t *testing.T) {
	reg := NewApprovalRegistry()
	timedOut := &ApprovalTimeoutError{NodeID: "gate"}
	ch := reg.register("x1", "gate", 10*time.Millisecond, func() approvalOutcome {
		return approvalOutcome{err: timedOut}
	})

	select {
	case out := <-ch:
		var aerr *ApprovalTimeoutError
		if !errors.As(out.err, &aerr) {
			t.Errorf("outcome err = %v, want ApprovalTimeoutError", out.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout never fired")
	}
	if reg.PendingCount() != 0 {
		t.Errorf("PendingCount = %d after timeout", reg.PendingCount())
	}
}

func TestApprovalRegistry_SubmitBeatsTimeout(t *testing.T) {
	reg := NewApprovalRegistry()
	ch := reg.register("x1", "gate", time.Hour, func() approvalOutcome {
		return approvalOutcome{err: &ApprovalTimeoutError{NodeID: "gate"}}
	})

	if !reg.Submit("x1", "gate", ApprovalResponse{Approved: false, Feedback: "redo"}) {
		t.Fatal("Submit found no pending approval")
	}
	out := <-ch
	if out.err != nil || out.resp.Approved || out.resp.Feedback != "redo" {
		t.Errorf("outcome = %+v", out)
	}
}
