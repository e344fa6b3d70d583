package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHealthTable(t *testing.T) {
	t.Parallel()

	table := newHealthTable(customRelays("a", "b"))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, table.healthy(0))

	assert.False(t, table.recordFailure(0, now, false), "transient failure keeps relay healthy")
	assert.True(t, table.healthy(0))

	assert.True(t, table.recordFailure(0, now, true))
	assert.False(t, table.healthy(0))
	assert.False(t, table.recordFailure(0, now, true), "already unhealthy")

	table.recordSuccess(0, now.Add(time.Second))
	assert.True(t, table.healthy(0))

	snap := table.snapshot()
	assert.Equal(t, Health{Sent: 1, Failed: 3, LastUsedAt: now.Add(time.Second), Healthy: true}, snap["custom_smtp.test_a_0"])

	table.recordFailure(1, now, true)
	table.resetAll()
	assert.True(t, table.healthy(1))
	assert.Equal(t, 1, table.snapshot()["custom_smtp.test_b_1"].Failed, "reset keeps counters")
}

func TestHealthTable_SnapshotIsCopy(t *testing.T) {
	t.Parallel()

	table := newHealthTable(customRelays("a"))
	snap := table.snapshot()
	snap["custom_smtp.test_a_0"] = Health{Sent: 99}

	assert.Zero(t, table.snapshot()["custom_smtp.test_a_0"].Sent)
}
