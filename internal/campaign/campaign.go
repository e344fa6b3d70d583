// Package campaign runs a mail campaign: it personalizes a message for each
// recipient, sends it through a relay pool with failover, and paces sends.
package campaign

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shineum/mail-dispatch/internal/mailerr"
	"github.com/shineum/mail-dispatch/internal/metrics"
	"github.com/shineum/mail-dispatch/internal/pacing"
	"github.com/shineum/mail-dispatch/internal/recipient"
	"github.com/shineum/mail-dispatch/internal/relay"
)

// Renderer turns a personalized attachment source into a document.
type Renderer interface {
	Render(ctx context.Context, source string) ([]byte, error)
	ContentType() string
	Extension() string
}

// Pacer computes the delay inserted between consecutive sends.
type Pacer interface {
	NextDelay(cfg pacing.Config) (time.Duration, error)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Templates are the per-campaign message templates. Every {{field}} token is
// replaced with the recipient's value for field.
type Templates struct {
	Subject    string `yaml:"subject"`
	HTML       string `yaml:"html"`
	Text       string `yaml:"text"`
	Attachment string `yaml:"attachment"`
}

// Request describes one campaign run.
type Request struct {
	Recipients []recipient.Recipient
	Templates  Templates
	Pacing     pacing.Config
	// MaxAttempts bounds relay attempts per recipient. Zero means
	// relay.DefaultMaxAttempts; the pool caps it at the relay count.
	MaxAttempts int
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRenderer sets the attachment renderer. Without one, attachment
// templates are ignored.
func WithRenderer(r Renderer) Option {
	return func(d *Dispatcher) {
		d.renderer = r
	}
}

// WithPacer replaces the pacing controller.
func WithPacer(p Pacer) Option {
	return func(d *Dispatcher) {
		d.pacer = p
	}
}

// WithSleeper replaces the function used to wait between sends.
func WithSleeper(s Sleeper) Option {
	return func(d *Dispatcher) {
		d.sleep = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// WithSender sets the From address of every message. Without it each relay
// fills in its own sender address.
func WithSender(from string) Option {
	return func(d *Dispatcher) {
		d.sender = from
	}
}

// WithThrottle sets an hourly throttle shared across runs. Without it a run
// builds its own from Pacing.MaxPerHour.
func WithThrottle(t *pacing.Throttle) Option {
	return func(d *Dispatcher) {
		d.throttle = t
	}
}

// WithClock sets the time source used for result timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// Dispatcher processes campaign recipients one at a time, in input order.
type Dispatcher struct {
	pool     *relay.Pool
	renderer Renderer
	pacer    Pacer
	sleep    Sleeper
	throttle *pacing.Throttle
	sender   string
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Dispatcher sending through pool.
func New(pool *relay.Pool, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		pool:   pool,
		sleep:  pacing.Sleep,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.pacer == nil {
		d.pacer = pacing.New()
	}
	return d
}

// Run processes every recipient of req. Per-recipient failures are recorded
// in the result and never stop the run. A *mailerr.ConfigurationError aborts
// the run before any send. When ctx is cancelled, Run stops before the next
// recipient and returns the partial result together with ctx.Err().
func (d *Dispatcher) Run(ctx context.Context, req Request) (*Result, error) {
	result := &Result{
		ID:        uuid.NewString(),
		State:     StateIdle,
		Total:     len(req.Recipients),
		PerRelay:  make(map[string]int),
		Results:   make([]DispatchResult, 0, len(req.Recipients)),
		StartedAt: d.now(),
	}

	if err := d.validate(req); err != nil {
		result.State = StateAborted
		result.FinishedAt = d.now()
		d.logger.Error("campaign aborted", "campaign_id", result.ID, "error", err)
		return result, err
	}

	throttle := d.throttle
	if throttle == nil {
		throttle = pacing.NewThrottle(req.Pacing.MaxPerHour)
	}

	result.State = StateRunning
	d.logger.Info("campaign started",
		"campaign_id", result.ID,
		"recipients", result.Total,
		"relays", d.pool.Len(),
		"warmup", req.Pacing.WarmupMode,
	)

	for i, rec := range req.Recipients {
		if err := ctx.Err(); err != nil {
			return d.cancel(result, req.Recipients, i, err)
		}

		addr, err := rec.Email()
		if err != nil {
			result.addError(i, "", StageValidate, err)
			result.record(DispatchResult{Index: i, Status: StatusSkipped, Error: err.Error()})
			d.logger.Warn("recipient skipped", "campaign_id", result.ID, "index", i, "error", err)
			continue
		}

		msg := d.compose(ctx, result, i, req.Templates, rec, addr)

		if err := throttle.Wait(ctx); err != nil {
			// rate.Limiter also fails early when the wait would outlast the deadline.
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			return d.cancel(result, req.Recipients, i, err)
		}

		receipt, err := d.pool.Send(ctx, msg, req.MaxAttempts)
		if err != nil {
			dr := DispatchResult{Index: i, Email: addr, Status: StatusFailed, Error: err.Error()}
			var exhausted *mailerr.DispatchExhaustedError
			if errors.As(err, &exhausted) {
				dr.Attempts = exhausted.Attempts
			}
			result.addError(i, addr, StageSend, err)
			result.record(dr)
			d.logger.Warn("recipient failed", "campaign_id", result.ID, "index", i, "email", addr, "error", err)
		} else {
			result.record(DispatchResult{
				Index:    i,
				Email:    addr,
				Status:   StatusSent,
				Relay:    receipt.RelayID,
				Response: receipt.Response,
				Attempts: receipt.Attempts,
			})
			d.logger.Debug("recipient sent", "campaign_id", result.ID, "index", i, "relay", receipt.RelayID)
		}

		if i < len(req.Recipients)-1 {
			d.pause(ctx, req.Pacing)
		}
	}

	result.State = StateCompleted
	d.finish(result)
	return result, nil
}

func (d *Dispatcher) validate(req Request) error {
	if d.pool == nil {
		return mailerr.Configf("relay pool is required")
	}
	if len(req.Recipients) == 0 {
		return mailerr.Configf("recipient list is empty")
	}
	return req.Pacing.Validate()
}

// pause sleeps for the next pacing delay. A cancelled sleep is picked up by
// the context check before the next recipient.
func (d *Dispatcher) pause(ctx context.Context, cfg pacing.Config) {
	delay, err := d.pacer.NextDelay(cfg)
	if err != nil {
		d.logger.Warn("pacing delay unavailable, using minimum", "error", err)
		delay = cfg.MinDelay
	}
	metrics.PacingDelaySeconds.Observe(delay.Seconds())
	_ = d.sleep(ctx, delay)
}

func (d *Dispatcher) cancel(result *Result, recipients []recipient.Recipient, from int, cause error) (*Result, error) {
	for i := from; i < len(recipients); i++ {
		addr, _ := recipients[i].Email()
		result.record(DispatchResult{Index: i, Email: addr, Status: StatusNotAttempted})
	}
	result.State = StateCancelled
	d.finish(result)
	d.logger.Warn("campaign cancelled", "campaign_id", result.ID, "not_attempted", result.NotAttempted)
	return result, cause
}

func (d *Dispatcher) finish(result *Result) {
	result.Relays = d.pool.Stats()
	result.FinishedAt = d.now()
	d.logger.Info("campaign finished",
		"campaign_id", result.ID,
		"state", string(result.State),
		"sent", result.Sent,
		"failed", result.Failed,
		"skipped", result.Skipped,
		"not_attempted", result.NotAttempted,
	)
}

// RunCampaign runs one campaign against a pool built for the run from relays
// and factory. The pool is closed before returning.
func RunCampaign(
	ctx context.Context,
	recipients []recipient.Recipient,
	templates Templates,
	relays []relay.Config,
	factory relay.TransportFactory,
	pacingCfg pacing.Config,
	maxAttempts int,
	opts ...Option,
) (*Result, error) {
	d := New(nil, opts...)

	pool, err := relay.NewPool(relays, factory, relay.WithLogger(d.logger))
	if err != nil {
		now := d.now()
		return &Result{
			ID:         uuid.NewString(),
			State:      StateAborted,
			Total:      len(recipients),
			PerRelay:   map[string]int{},
			StartedAt:  now,
			FinishedAt: now,
		}, err
	}
	defer func() {
		if cerr := pool.Close(); cerr != nil {
			d.logger.Debug("failed to close relay pool", "error", cerr)
		}
	}()

	d.pool = pool
	return d.Run(ctx, Request{
		Recipients:  recipients,
		Templates:   templates,
		Pacing:      pacingCfg,
		MaxAttempts: maxAttempts,
	})
}
