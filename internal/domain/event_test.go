package domain

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestRun_Duration(t *testing.T) {
	started := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	run := Run{StartedAt: started}
	assert.Zero(t, run.Duration())

	finished := started.Add(90 * time.Second)
	run.FinishedAt = &finished
	assert.Equal(t, 90*time.Second, run.Duration())
}

func TestSetClock(t *testing.T) {
	frozen := time.Date(2025, 3, 10, 12, 0, 0, 0, time.FixedZone("EAT", 3*60*60))
	SetClock(clockwork.NewFakeClockAt(frozen))
	t.Cleanup(func() { SetClock(nil) })

	now := Now()
	assert.True(t, now.Equal(frozen))
	assert.Equal(t, time.UTC, now.Location())

	SetClock(nil)
	assert.WithinDuration(t, time.Now(), Now(), time.Second)
}

func TestStages_Order(t *testing.T) {
	assert.Equal(t, []string{"merge", "elevation", "population", "recommendation"}, Stages)
}
