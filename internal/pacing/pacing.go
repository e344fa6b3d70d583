// Package pacing computes the delay inserted between consecutive sends of a
// campaign so relays are not throttled or blacklisted for bursting.
package pacing

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shineum/mail-dispatch/internal/mailerr"
)

// Warm-up floors. Fresh relay credentials are paced at least this slowly.
const (
	WarmupMinDelay = 5 * time.Second
	WarmupMaxDelay = 15 * time.Second
)

// Config holds the pacing policy of a campaign.
type Config struct {
	MinDelay   time.Duration `yaml:"min_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	Randomize  bool          `yaml:"randomize"`
	WarmupMode bool          `yaml:"warmup_mode"`

	// MaxPerHour caps sends per hour across the campaign. Zero disables the cap.
	MaxPerHour int `yaml:"max_per_hour"`
}

// DefaultConfig returns the pacing used when a campaign does not set one.
func DefaultConfig() Config {
	return Config{
		MinDelay:  2 * time.Second,
		MaxDelay:  5 * time.Second,
		Randomize: true,
	}
}

// Validate checks the delay bounds.
func (c Config) Validate() error {
	if c.MinDelay < 0 || c.MaxDelay < 0 {
		return mailerr.Configf("pacing delays must not be negative (min %s, max %s)", c.MinDelay, c.MaxDelay)
	}
	if c.MinDelay > c.MaxDelay {
		return mailerr.Configf("pacing min delay %s exceeds max delay %s", c.MinDelay, c.MaxDelay)
	}
	if c.MaxPerHour < 0 {
		return mailerr.Configf("pacing max per hour must not be negative")
	}
	return nil
}

// Option configures a Controller.
type Option func(*Controller)

// WithRand sets the random source used for sampling delays.
func WithRand(r *rand.Rand) Option {
	return func(c *Controller) {
		c.rnd = r
	}
}

// Controller samples pacing delays. It is safe for concurrent use.
type Controller struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// New creates a Controller.
func New(opts ...Option) *Controller {
	c := &Controller{}
	for _, opt := range opts {
		opt(c)
	}
	if c.rnd == nil {
		c.rnd = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64()))
	}
	return c
}

// NextDelay returns the delay to wait before the next send.
//
// In warm-up mode the delay is sampled uniformly from
// [max(MinDelay, 5s), max(MaxDelay, 15s)]. Otherwise it is sampled from
// [MinDelay, MaxDelay] when Randomize is set, or fixed at MinDelay.
// Bounds are inclusive.
func (c *Controller) NextDelay(cfg Config) (time.Duration, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}

	switch {
	case cfg.WarmupMode:
		return c.uniform(max(cfg.MinDelay, WarmupMinDelay), max(cfg.MaxDelay, WarmupMaxDelay)), nil
	case cfg.Randomize:
		return c.uniform(cfg.MinDelay, cfg.MaxDelay), nil
	default:
		return cfg.MinDelay, nil
	}
}

func (c *Controller) uniform(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return lo + time.Duration(c.rnd.Int64N(int64(hi-lo)+1))
}

// Sleep waits for d or until ctx is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
