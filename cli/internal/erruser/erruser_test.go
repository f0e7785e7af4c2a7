package erruser

import (
	"errors"
	"testing"
)

func TestErr_Error_returnsMsgOnly(t *testing.T) {
	t.Parallel()
	cause := errors.New("connection refused")
	e := New("Could not reach the review agent.", cause)
	if got := e.Error(); got != "Could not reach the review agent." {
		t.Errorf("Error() = %q, want user message only", got)
	}
	if !errors.Is(e, cause) {
		t.Error("errors.Is(e, cause) should be true")
	}
	var ue *Err
	if !errors.As(e, &ue) {
		t.Fatal("errors.As to *Err failed")
	}
	if ue.Unwrap() != cause {
		t.Errorf("Unwrap() = %v, want cause", ue.Unwrap())
	}
}

func TestNew_nilCause_returnsSimpleError(t *testing.T) {
	t.Parallel()
	e := New("No diff provided. Paste a unified diff first.", nil)
	if e.Error() != "No diff provided. Paste a unified diff first." {
		t.Errorf("Error() = %q", e.Error())
	}
	if errors.Unwrap(e) != nil {
		t.Errorf("Unwrap() should be nil for New(msg, nil), got %v", errors.Unwrap(e))
	}
}

func TestErr_nilReceiver_noPanic(t *testing.T) {
	t.Parallel()
	var e *Err
	if got := e.Error(); got != "" {
		t.Errorf("(*Err)(nil).Error() = %q, want empty", got)
	}
	if e.Unwrap() != nil {
		t.Errorf("(*Err)(nil).Unwrap() = %v, want nil", e.Unwrap())
	}
}
