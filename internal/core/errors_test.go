package core_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/quorumforge/aiorch/internal/core"
	"github.com/quorumforge/aiorch/internal/testutil"
)

func TestDomainError_WrapsCauseAndUnwraps(t *testing.T) {
	cause := errors.New("network reset")
	err := core.ErrExternal("GIT_FAILED", "git push failed").WithCause(cause)

	testutil.AssertTrue(t, errors.Is(err, cause), "expected errors.Is to find the wrapped cause")
	testutil.AssertContains(t, err.Error(), "GIT_FAILED")
	testutil.AssertContains(t, err.Error(), "network reset")
}

func TestDomainError_Is_MatchesOnKindAndCode(t *testing.T) {
	a := core.ErrNotFound("project", "p1")
	b := core.ErrNotFound("project", "p2")
	c := core.ErrDenied("nope")

	testutil.AssertTrue(t, errors.Is(a, b), "two NOT_FOUND errors should match regardless of message")
	testutil.AssertFalse(t, errors.Is(a, c), "a NOT_FOUND should not match a DENIED")
}

func TestIsRetryable_OnlyExternalAndTimeoutAreRetryable(t *testing.T) {
	testutil.AssertTrue(t, core.IsRetryable(core.ErrExternal("X", "boom")), "EXTERNAL should be retryable")
	testutil.AssertTrue(t, core.IsRetryable(core.ErrTimeout("slow")), "TIMEOUT should be retryable")
	testutil.AssertFalse(t, core.IsRetryable(core.ErrPrecondition("BAD", "bad input")), "PRECONDITION should not be retryable")
	testutil.AssertFalse(t, core.IsRetryable(errors.New("plain error")), "a non-DomainError should not be retryable")
}

func TestKind_NilIsEmptyNonDomainIsInternal(t *testing.T) {
	testutil.AssertEqual(t, core.Kind(nil), core.ErrorKind(""))
	testutil.AssertEqual(t, core.Kind(errors.New("plain")), core.KindInternal)
	testutil.AssertEqual(t, core.Kind(core.ErrDenied("no")), core.KindDenied)
}

func TestIsKind(t *testing.T) {
	err := core.ErrAlreadyRunning("already running")
	testutil.AssertTrue(t, core.IsKind(err, core.KindAlreadyRunning), "expected ALREADY_RUNNING kind")
	testutil.AssertFalse(t, core.IsKind(err, core.KindDenied), "should not report DENIED")
}

func TestDomainError_WithDetailAndCorrelationID(t *testing.T) {
	err := core.ErrInternal("corr-1", "unexpected nil pointer").
		WithDetail("file", "main.go").
		WithCorrelationID("corr-2")

	testutil.AssertEqual(t, err.CorrelationID, "corr-2")
	testutil.AssertEqual(t, err.Details["file"], "main.go")
}

func TestDomainError_ErrorStringWithoutCause(t *testing.T) {
	err := core.ErrPrecondition("BAD_INPUT", "missing field")
	testutil.AssertEqual(t, err.Error(), fmt.Sprintf("[%s] %s: %s", core.KindPrecondition, "BAD_INPUT", "missing field"))
}
