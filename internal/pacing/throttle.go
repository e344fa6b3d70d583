package pacing

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Throttle caps the number of sends per hour. A nil Throttle never waits.
type Throttle struct {
	limiter *rate.Limiter
}

// NewThrottle returns a Throttle allowing perHour sends per hour, or nil
// when perHour is not positive. The first perHour sends are not delayed.
func NewThrottle(perHour int) *Throttle {
	if perHour <= 0 {
		return nil
	}
	return &Throttle{
		limiter: rate.NewLimiter(rate.Every(time.Hour/time.Duration(perHour)), perHour),
	}
}

// Wait blocks until another send is allowed or ctx is done.
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil {
		return nil
	}
	return t.limiter.Wait(ctx)
}

// WarmupDay is the recommended daily send limit on one day of a relay warm-up.
type WarmupDay struct {
	Day            int    `json:"day"`
	Limit          int    `json:"limit"`
	Recommendation string `json:"recommendation"`
}

// WarmupSchedule returns a two week ramp for a freshly provisioned relay,
// starting at startingLimit sends on day one. Limits grow 50% a day in the
// first week and 30% a day in the second. From day 15 the relay is at full
// capacity.
func WarmupSchedule(startingLimit int) []WarmupDay {
	if startingLimit <= 0 {
		startingLimit = 10
	}

	schedule := make([]WarmupDay, 0, 14)
	limit := float64(startingLimit)

	for day := 1; day <= 7; day++ {
		schedule = append(schedule, WarmupDay{
			Day:            day,
			Limit:          int(limit),
			Recommendation: "Send to most engaged recipients",
		})
		limit *= 1.5
	}
	for day := 8; day <= 14; day++ {
		schedule = append(schedule, WarmupDay{
			Day:            day,
			Limit:          int(limit),
			Recommendation: "Mix of engaged and new recipients",
		})
		limit *= 1.3
	}

	return schedule
}
