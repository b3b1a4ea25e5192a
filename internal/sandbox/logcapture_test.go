package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogCaptureTailOrdering(t *testing.T) {
	c, err := newLogCapture(t.TempDir())
	require.NoError(t, err)
	defer c.Close()

	for i := 0; i < 5; i++ {
		c.Append("line")
	}
	tail := c.Tail(3)
	assert.Len(t, tail, 3)
}

func TestLogCaptureSubscribeReceivesNewLinesOnly(t *testing.T) {
	c, err := newLogCapture(t.TempDir())
	require.NoError(t, err)
	defer c.Close()

	c.Append("before subscribe")
	id, ch := c.Subscribe()
	defer c.Unsubscribe(id)

	c.Append("after subscribe")
	select {
	case line := <-ch:
		assert.Equal(t, "after subscribe", line)
	default:
		t.Fatal("expected a line on the subscription channel")
	}
}

func TestLogCaptureRingWrapsAtCapacity(t *testing.T) {
	c, err := newLogCapture(t.TempDir())
	require.NoError(t, err)
	defer c.Close()

	for i := 0; i < ringCapacity+10; i++ {
		c.Append("l")
	}
	assert.Len(t, c.Tail(0), ringCapacity)
}
