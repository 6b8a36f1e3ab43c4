// Package correlator matches asynchronous replies to the requests awaiting them.
package correlator

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"

	"metronome/internal/core"
	"metronome/internal/metrics"
)

const (
	// DefaultTimeout bounds how long a request waits for its reply.
	DefaultTimeout = 30 * time.Second
	shards         = 16
)

var (
	// ErrTimeout is delivered when no reply arrived in time.
	ErrTimeout = errors.New("correlation timeout")
	// ErrClosed is delivered to requests still pending when the correlator closes.
	ErrClosed = errors.New("correlator closed")
	// ErrCanceled is delivered to requests withdrawn by their sender.
	ErrCanceled = errors.New("correlation canceled")
)

// Reply is delivered exactly once to each pending request.
type Reply struct {
	Response *core.Response
	Err      error
}

// Pending is a request waiting for its reply.
type Pending struct {
	id       string
	done     chan Reply
	resolved atomic.Bool
	owner    *Correlator
}

func (p *Pending) ID() string {
	return p.id
}

// Done yields the reply once.
func (p *Pending) Done() <-chan Reply {
	return p.done
}

// Wait blocks until the reply arrives or ctx ends. On ctx end the request is
// withdrawn and counted as a timeout.
func (p *Pending) Wait(ctx context.Context) (*core.Response, error) {
	select {
	case r := <-p.done:
		return r.Response, r.Err
	case <-ctx.Done():
		p.owner.withdraw(p)
		r := <-p.done
		return r.Response, r.Err
	}
}

// Cancel withdraws a request whose send failed. It is not counted as a timeout.
func (p *Pending) Cancel() {
	p.resolve(Reply{Err: ErrCanceled})
	p.owner.shard(p.id).Delete(p.id)
}

func (p *Pending) resolve(r Reply) bool {
	if !p.resolved.CompareAndSwap(false, true) {
		return false
	}
	p.done <- r
	return true
}

// Correlator is a registry of pending requests keyed by correlation id.
// The registry is sharded so that registration and resolution of unrelated
// ids do not contend.
type Correlator struct {
	strategy Strategy
	timeout  time.Duration
	sink     metrics.Sink
	shards   [shards]*cache.Cache

	done      chan struct{}
	sweeper   sync.WaitGroup
	closeOnce sync.Once

	misses   atomic.Int64
	timeouts atomic.Int64
	matched  atomic.Int64
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithTimeout sets how long unanswered requests are kept.
func WithTimeout(d time.Duration) Option {
	return func(c *Correlator) { c.timeout = d }
}

// WithSink reports misses and timeouts to s.
func WithSink(s metrics.Sink) Option {
	return func(c *Correlator) { c.sink = metrics.OrNoop(s) }
}

// New creates a correlator deriving ids with strategy.
func New(strategy Strategy, opts ...Option) *Correlator {
	c := &Correlator{
		strategy: strategy,
		timeout:  DefaultTimeout,
		sink:     metrics.Noop{},
	}
	for _, opt := range opts {
		opt(c)
	}
	cleanup := c.timeout / 2
	if cleanup < 100*time.Millisecond {
		cleanup = 100 * time.Millisecond
	}
	// Shards run without their own janitor; one sweeper expires all of them
	// and stops on Close.
	for i := range c.shards {
		shard := cache.New(c.timeout, 0)
		shard.OnEvicted(c.evicted)
		c.shards[i] = shard
	}
	c.done = make(chan struct{})
	c.sweeper.Add(1)
	go c.sweep(cleanup)
	return c
}

func (c *Correlator) sweep(interval time.Duration) {
	defer c.sweeper.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			for _, s := range c.shards {
				s.DeleteExpired()
			}
		}
	}
}

// Timeout returns how long a request may wait for its reply.
func (c *Correlator) Timeout() time.Duration {
	return c.timeout
}

func (c *Correlator) shard(id string) *cache.Cache {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return c.shards[h.Sum32()%shards]
}

// RegisterRequest derives the id of msg and records it as pending.
// The returned Pending must be registered before the request is sent.
func (c *Correlator) RegisterRequest(msg *core.Message) (*Pending, error) {
	id, err := c.strategy.RequestID(msg)
	if err != nil {
		return nil, fmt.Errorf("deriving correlation id: %w", err)
	}
	p := &Pending{id: id, done: make(chan Reply, 1), owner: c}
	if err := c.shard(id).Add(id, p, c.timeout); err != nil {
		return nil, fmt.Errorf("correlation id %q is already pending", id)
	}
	return p, nil
}

// RegisterResponse notifies every request the reply answers and returns how
// many were matched. Unmatched ids are counted as misses, never as errors.
func (c *Correlator) RegisterResponse(resp *core.Response) int {
	ids := c.strategy.ResponseIDs(resp)
	if len(ids) == 0 {
		c.miss("")
		return 0
	}
	matched := 0
	for _, id := range ids {
		shard := c.shard(id)
		v, ok := shard.Get(id)
		if !ok {
			c.miss(id)
			continue
		}
		p := v.(*Pending)
		if !p.resolve(Reply{Response: resp}) {
			c.miss(id)
			continue
		}
		shard.Delete(id)
		c.matched.Add(1)
		matched++
	}
	return matched
}

// withdraw gives up on p. If the reply has not arrived yet, p receives ErrTimeout.
func (c *Correlator) withdraw(p *Pending) {
	c.shard(p.id).Delete(p.id)
	c.expire(p, ErrTimeout)
}

func (c *Correlator) evicted(_ string, v interface{}) {
	if p, ok := v.(*Pending); ok {
		c.expire(p, ErrTimeout)
	}
}

func (c *Correlator) expire(p *Pending, err error) {
	if !p.resolve(Reply{Err: err}) {
		return
	}
	if errors.Is(err, ErrTimeout) {
		c.timeouts.Add(1)
		c.sink.CorrelationTimeout()
		log.WithField("correlationId", p.id).Debug("Request timed out waiting for its reply")
	}
}

func (c *Correlator) miss(id string) {
	c.misses.Add(1)
	c.sink.CorrelationMiss()
	log.WithField("correlationId", id).Debug("Reply matched no pending request")
}

// PendingCount returns the number of requests awaiting replies.
func (c *Correlator) PendingCount() int {
	n := 0
	for _, s := range c.shards {
		n += s.ItemCount()
	}
	return n
}

func (c *Correlator) Misses() int64   { return c.misses.Load() }
func (c *Correlator) Timeouts() int64 { return c.timeouts.Load() }
func (c *Correlator) Matched() int64  { return c.matched.Load() }

// Close stops expiring requests and releases every pending request with
// ErrClosed. Expired requests still get ErrTimeout. Close is idempotent.
func (c *Correlator) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.sweeper.Wait()
	})
	for _, s := range c.shards {
		s.DeleteExpired()
		for id, item := range s.Items() {
			if p, ok := item.Object.(*Pending); ok {
				c.expire(p, ErrClosed)
			}
			s.Delete(id)
		}
	}
}
