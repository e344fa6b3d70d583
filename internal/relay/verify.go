package relay

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/shineum/mail-dispatch/internal/transport"
)

// ErrVerifyUnsupported is reported for relays whose transport cannot be
// checked without sending a message.
var ErrVerifyUnsupported = errors.New("transport does not support verification")

// maxConcurrentVerify bounds the number of relays checked at once.
const maxConcurrentVerify = 4

// Verify checks every relay concurrently and returns the outcome per relay
// id. A nil value means the relay accepted the connection and credentials.
// Health counters are not touched.
func (p *Pool) Verify(ctx context.Context) map[string]error {
	results := make(map[string]error, len(p.configs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentVerify)

	for i, cfg := range p.configs {
		id := p.health.ids[i]
		g.Go(func() error {
			err := p.verifyOne(gctx, cfg)

			mu.Lock()
			results[id] = err
			mu.Unlock()

			if err != nil {
				p.logger.Warn("relay verification failed", "relay", id, "error", err)
			} else {
				p.logger.Info("relay verified", "relay", id)
			}
			// One failing relay must not cancel the others.
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (p *Pool) verifyOne(ctx context.Context, cfg Config) error {
	tr, err := p.factory.Open(ctx, cfg)
	if err != nil {
		return classifyOpenError(err)
	}
	defer closeTransport(tr)

	v, ok := tr.(transport.Verifier)
	if !ok {
		return ErrVerifyUnsupported
	}
	return v.Verify(ctx)
}
