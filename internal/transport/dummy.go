package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"metronome/internal/core"
)

// ErrInjected is returned by the dummy transport when configured to fail.
var ErrInjected = errors.New("injected failure")

// DummyConfig controls the dummy transport.
type DummyConfig struct {
	// Delay is how long a send takes, or how long until an async reply arrives.
	Delay time.Duration
	// Async delivers the reply through OnReply instead of returning it.
	Async bool
	// FailEvery makes every n-th send fail. Zero never fails.
	FailEvery int64
}

// Dummy sends nothing. It echoes the request back as the reply.
type Dummy struct {
	cfg   DummyConfig
	sends *atomic.Int64

	mu      sync.RWMutex
	handler func(*core.Response)
	closed  atomic.Bool
	timers  sync.WaitGroup
}

// NewDummyFactory returns a factory whose instances share a send counter.
func NewDummyFactory(cfg DummyConfig) Factory {
	sends := &atomic.Int64{}
	return func(context.Context) (core.Transport, error) {
		return &Dummy{cfg: cfg, sends: sends}, nil
	}
}

func (d *Dummy) OnReply(handler func(*core.Response)) {
	d.mu.Lock()
	d.handler = handler
	d.mu.Unlock()
}

func (d *Dummy) PreSend(context.Context, *core.Message) error {
	if d.closed.Load() {
		return errors.New("dummy transport is closed")
	}
	return nil
}

func (d *Dummy) Send(ctx context.Context, msg *core.Message, _ *core.MeasurementUnit) (*core.Response, error) {
	n := d.sends.Add(1)
	if d.cfg.FailEvery > 0 && n%d.cfg.FailEvery == 0 {
		return nil, fmt.Errorf("send %d: %w", n, ErrInjected)
	}

	reply := &core.Response{Payload: append([]byte(nil), msg.Payload...), Headers: copyHeaders(msg.Headers), StatusCode: 200}
	if d.cfg.Async {
		d.mu.RLock()
		handler := d.handler
		d.mu.RUnlock()
		if handler != nil {
			d.timers.Add(1)
			time.AfterFunc(d.cfg.Delay, func() {
				defer d.timers.Done()
				handler(reply)
			})
		}
		return nil, nil
	}

	if d.cfg.Delay > 0 {
		t := time.NewTimer(d.cfg.Delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return reply, nil
}

func (d *Dummy) PostSend(context.Context, *core.Message) error {
	return nil
}

// Close waits for scheduled async replies to be delivered.
func (d *Dummy) Close() error {
	d.closed.Store(true)
	d.timers.Wait()
	return nil
}

func copyHeaders(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
