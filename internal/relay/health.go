package relay

import "time"

// Health is the delivery record of one relay.
type Health struct {
	Sent       int       `json:"sent"`
	Failed     int       `json:"failed"`
	LastUsedAt time.Time `json:"last_used_at"`
	Healthy    bool      `json:"healthy"`
}

// healthTable tracks Health per relay ordinal. It is not synchronized;
// the owning Pool holds its mutex around every call.
type healthTable struct {
	ids     []string
	entries []Health
}

func newHealthTable(configs []Config) *healthTable {
	t := &healthTable{
		ids:     make([]string, len(configs)),
		entries: make([]Health, len(configs)),
	}
	for i, cfg := range configs {
		t.ids[i] = cfg.ID(i)
		t.entries[i].Healthy = true
	}
	return t
}

func (t *healthTable) healthy(i int) bool {
	return t.entries[i].Healthy
}

func (t *healthTable) recordSuccess(i int, now time.Time) {
	e := &t.entries[i]
	e.Sent++
	e.LastUsedAt = now
	e.Healthy = true
}

// recordFailure counts a failed attempt and reports whether the relay
// transitioned from healthy to unhealthy.
func (t *healthTable) recordFailure(i int, now time.Time, markUnhealthy bool) bool {
	e := &t.entries[i]
	e.Failed++
	e.LastUsedAt = now
	if markUnhealthy && e.Healthy {
		e.Healthy = false
		return true
	}
	return false
}

func (t *healthTable) resetAll() {
	for i := range t.entries {
		t.entries[i].Healthy = true
	}
}

func (t *healthTable) snapshot() map[string]Health {
	out := make(map[string]Health, len(t.entries))
	for i, e := range t.entries {
		out[t.ids[i]] = e
	}
	return out
}
