package reembed

import (
	"bytes"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestProgressTracker_Reports(t *testing.T) {
	var buf bytes.Buffer
	clock := clockwork.NewFakeClock()
	tracker := NewProgressTracker(&buf, clock, 100, 10)

	tracker.Start()
	clock.Advance(2 * time.Second)
	tracker.Add(5)
	assert.Empty(t, buf.String(), "below the report interval")

	tracker.Add(45)
	assert.Contains(t, buf.String(), "50/100 (50.0%) - 25.0 nodes/s")
	assert.Equal(t, 2*time.Second, tracker.Elapsed())
}

func TestProgressTracker_Finish(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, clockwork.NewFakeClock(), 100, 10)

	tracker.Start()
	tracker.Add(100)
	tracker.Finish()

	output := buf.String()
	assert.Contains(t, output, "100/100")
	assert.Contains(t, output, "100.0%")
	assert.Contains(t, output, "\n", "finish should print newline")
}

func TestProgressTracker_CapsAtTotal(t *testing.T) {
	tracker := NewProgressTracker(nil, nil, 10, 1)
	tracker.Start()
	tracker.Add(15)
	assert.Equal(t, 10, tracker.Current())
}

func TestProgressTracker_NotStarted(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, clockwork.NewFakeClock(), 10, 1)
	tracker.Add(5)
	tracker.Finish()
	assert.Zero(t, tracker.Current())
	assert.Zero(t, tracker.Elapsed())
	assert.Empty(t, buf.String())
}

func TestProgressTracker_ZeroTotal(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, clockwork.NewFakeClock(), 0, 10)
	tracker.Start()
	tracker.Finish()
	assert.Contains(t, buf.String(), "0/0")
}
