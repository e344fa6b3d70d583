package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/shineum/mail-dispatch/internal/email"
	"github.com/shineum/mail-dispatch/internal/mailerr"
	"github.com/shineum/mail-dispatch/internal/metrics"
	"github.com/shineum/mail-dispatch/internal/transport"
)

// DefaultMaxAttempts is the per-message attempt budget when the caller passes none.
const DefaultMaxAttempts = 3

// TransportFactory opens a transport for a relay configuration.
type TransportFactory interface {
	Open(ctx context.Context, cfg Config) (transport.Transport, error)
}

// TransportFactoryFunc adapts a function to TransportFactory.
type TransportFactoryFunc func(ctx context.Context, cfg Config) (transport.Transport, error)

// Open calls f(ctx, cfg).
func (f TransportFactoryFunc) Open(ctx context.Context, cfg Config) (transport.Transport, error) {
	return f(ctx, cfg)
}

// Receipt describes a successful submission.
type Receipt struct {
	RelayID  string
	Response string
	Attempts int
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConnectionReuse keeps one open transport per relay and evicts it after
// it has been idle for longer than idle. Without this option a transport is
// opened and closed for every attempt.
func WithConnectionReuse(idle time.Duration) PoolOption {
	return func(p *Pool) {
		p.reuseIdle = idle
	}
}

// WithClock overrides the time source used for LastUsedAt and idle eviction.
func WithClock(now func() time.Time) PoolOption {
	return func(p *Pool) {
		p.now = now
	}
}

// WithLogger sets the pool logger.
func WithLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) {
		p.logger = l
	}
}

// Pool rotates messages across relays. It is safe for concurrent use, so
// several campaigns may share one Pool and its health view.
type Pool struct {
	mu      sync.Mutex
	configs []Config
	health  *healthTable
	cursor  int

	factory   TransportFactory
	reuseIdle time.Duration
	conns     *connCache
	now       func() time.Time
	logger    *slog.Logger
}

// NewPool builds a pool over configs. The slice is copied.
func NewPool(configs []Config, factory TransportFactory, opts ...PoolOption) (*Pool, error) {
	if len(configs) == 0 {
		return nil, mailerr.Configf("at least one relay configuration is required")
	}
	if factory == nil {
		return nil, mailerr.Configf("transport factory is required")
	}

	cfgs := make([]Config, len(configs))
	copy(cfgs, configs)

	p := &Pool{
		configs: cfgs,
		health:  newHealthTable(cfgs),
		factory: factory,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.reuseIdle > 0 {
		p.conns = newConnCache(len(cfgs), p.reuseIdle)
	}
	return p, nil
}

// Len returns the number of relays in the pool.
func (p *Pool) Len() int {
	return len(p.configs)
}

// IDs returns relay ids in configuration order.
func (p *Pool) IDs() []string {
	ids := make([]string, len(p.health.ids))
	copy(ids, p.health.ids)
	return ids
}

// SelectNext returns the next relay in round-robin order, skipping unhealthy
// relays. When every relay is unhealthy all of them are reset to healthy and
// the first relay is returned. A single-relay pool always returns its relay.
func (p *Pool) SelectNext() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.configs[p.selectLocked()]
}

func (p *Pool) selectLocked() int {
	n := len(p.configs)
	if n == 1 {
		return 0
	}

	for range n {
		i := p.cursor
		p.cursor = (p.cursor + 1) % n
		if p.health.healthy(i) {
			return i
		}
	}

	p.health.resetAll()
	metrics.RelayHealthResets.Inc()
	p.logger.Warn("all relays unhealthy, resetting health", "relays", n)
	return 0
}

// Send submits msg through up to min(maxAttempts, Len()) relays obtained
// from SelectNext and returns on the first success. Auth and connection
// failures take the failing relay out of rotation. If every attempt fails
// the returned *mailerr.DispatchExhaustedError wraps the last failure.
func (p *Pool) Send(ctx context.Context, msg *email.Email, maxAttempts int) (Receipt, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	attempts := min(maxAttempts, len(p.configs))

	if p.conns != nil {
		p.conns.evictIdle(p.now())
	}

	lastErr := mailerr.ErrNoAttempts
	made := 0
	for made < attempts {
		if err := ctx.Err(); err != nil {
			return Receipt{}, fmt.Errorf("send cancelled after %d attempts: %w", made, err)
		}

		p.mu.Lock()
		idx := p.selectLocked()
		p.mu.Unlock()

		cfg := p.configs[idx]
		id := p.health.ids[idx]
		made++

		resp, err := p.submit(ctx, idx, cfg, msg)
		if err == nil {
			p.mu.Lock()
			p.health.recordSuccess(idx, p.now())
			p.mu.Unlock()
			metrics.RelaySendSuccess.WithLabelValues(id).Inc()

			p.logger.Debug("relay accepted message", "relay", id, "attempt", made)
			return Receipt{RelayID: id, Response: resp, Attempts: made}, nil
		}

		kind := mailerr.KindOf(err)
		p.mu.Lock()
		downed := p.health.recordFailure(idx, p.now(), kind.MarksUnhealthy())
		p.mu.Unlock()

		metrics.RelaySendFailure.WithLabelValues(id, kind.String()).Inc()
		if downed {
			metrics.RelayMarkedUnhealthy.WithLabelValues(id).Inc()
		}

		p.logger.Warn("relay send failed",
			"relay", id,
			"attempt", made,
			"max_attempts", attempts,
			"kind", kind.String(),
			"marked_unhealthy", downed,
			"error", err,
		)
		lastErr = fmt.Errorf("relay %s: %w", id, err)
	}

	return Receipt{}, &mailerr.DispatchExhaustedError{Attempts: made, Err: lastErr}
}

// submit performs one attempt through the relay at idx.
func (p *Pool) submit(ctx context.Context, idx int, cfg Config, msg *email.Email) (string, error) {
	if msg.From == "" {
		msg = msg.WithFrom(cfg.FromAddress())
	}

	open := func() (transport.Transport, error) {
		tr, err := p.factory.Open(ctx, cfg)
		if err != nil {
			return nil, classifyOpenError(err)
		}
		return tr, nil
	}

	if p.conns != nil {
		return p.conns.do(idx, p.now(), open, func(tr transport.Transport) (string, error) {
			return tr.Submit(ctx, msg)
		})
	}

	tr, err := open()
	if err != nil {
		return "", err
	}
	defer closeTransport(tr)

	return tr.Submit(ctx, msg)
}

// classifyOpenError treats an unclassified failure to construct a transport
// as a connection failure: the relay cannot be used as configured.
func classifyOpenError(err error) error {
	var te *mailerr.TransportError
	if errors.As(err, &te) {
		return err
	}
	return mailerr.Connection(fmt.Errorf("open transport: %w", err))
}

// Stats returns a snapshot of per-relay health keyed by relay id.
func (p *Pool) Stats() map[string]Health {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.health.snapshot()
}

// ResetHealth marks every relay healthy.
func (p *Pool) ResetHealth() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.health.resetAll()
}

// Close releases cached transports.
func (p *Pool) Close() error {
	if p.conns == nil {
		return nil
	}
	return p.conns.close()
}

func closeTransport(tr transport.Transport) {
	if c, ok := tr.(io.Closer); ok {
		if err := c.Close(); err != nil {
			slog.Debug("failed to close transport", "transport", tr.Name(), "error", err)
		}
	}
}
