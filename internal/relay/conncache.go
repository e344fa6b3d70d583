package relay

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/shineum/mail-dispatch/internal/mailerr"
	"github.com/shineum/mail-dispatch/internal/transport"
)

// connSlot holds the cached transport of one relay. mu serializes use of tr,
// so one transport is never driven by two campaigns at once.
type connSlot struct {
	mu       sync.Mutex
	tr       transport.Transport
	lastUsed time.Time
}

type connCache struct {
	idle  time.Duration
	slots []*connSlot
}

func newConnCache(n int, idle time.Duration) *connCache {
	c := &connCache{
		idle:  idle,
		slots: make([]*connSlot, n),
	}
	for i := range c.slots {
		c.slots[i] = &connSlot{}
	}
	return c
}

// do runs fn against the cached transport for relay idx, opening one if
// needed. The transport is dropped after auth or connection failures.
func (c *connCache) do(idx int, now time.Time, open func() (transport.Transport, error), fn func(transport.Transport) (string, error)) (string, error) {
	s := c.slots[idx]
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tr != nil && now.Sub(s.lastUsed) > c.idle {
		closeTransport(s.tr)
		s.tr = nil
	}
	if s.tr == nil {
		tr, err := open()
		if err != nil {
			return "", err
		}
		s.tr = tr
	}

	resp, err := fn(s.tr)
	s.lastUsed = now
	if err != nil && mailerr.KindOf(err).MarksUnhealthy() {
		closeTransport(s.tr)
		s.tr = nil
	}
	return resp, err
}

// evictIdle closes transports idle longer than the cache timeout. Slots in
// use by another campaign are left alone.
func (c *connCache) evictIdle(now time.Time) {
	for _, s := range c.slots {
		if !s.mu.TryLock() {
			continue
		}
		if s.tr != nil && now.Sub(s.lastUsed) > c.idle {
			closeTransport(s.tr)
			s.tr = nil
		}
		s.mu.Unlock()
	}
}

func (c *connCache) close() error {
	var errs []error
	for _, s := range c.slots {
		s.mu.Lock()
		if closer, ok := s.tr.(io.Closer); ok {
			errs = append(errs, closer.Close())
		}
		s.tr = nil
		s.mu.Unlock()
	}
	return errors.Join(errs...)
}
