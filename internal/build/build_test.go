package build

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_BuildExplicitCommandSuccess(t *testing.T) {
	dir := t.TempDir()
	svc := New(nil)

	result, err := svc.Build(context.Background(), "p1", dir, "", []string{"true"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 0, result.ExitCode)
}

func TestService_BuildCommandFailureReportsExitCode(t *testing.T) {
	dir := t.TempDir()
	svc := New(nil)

	result, err := svc.Build(context.Background(), "p1", dir, "", []string{"false"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.ExitCode)
}

func TestService_BuildNoCommandAndUnknownLanguageIsNoop(t *testing.T) {
	dir := t.TempDir()
	svc := New(nil)

	result, err := svc.Build(context.Background(), "p1", dir, "cobol", nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestService_BuildUsesLanguageDefault(t *testing.T) {
	dir := t.TempDir()
	svc := New(nil)

	_, err := svc.Build(context.Background(), "p1", dir, "go", nil)
	// go toolchain may not produce a buildable module in an empty dir, but
	// the command must at least be resolvable and runnable rather than a
	// PRECONDITION/EXTERNAL wiring error.
	require.NoError(t, err)
}
