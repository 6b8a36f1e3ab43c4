// Package transport provides pooled transports for sending iterations to the
// system under test.
package transport

import (
	"context"
	"errors"
	"fmt"

	pool "github.com/jolestar/go-commons-pool"
	log "github.com/sirupsen/logrus"

	"metronome/internal/core"
)

// DefaultPoolSize bounds the number of live transport instances.
const DefaultPoolSize = 100

// ErrNotBorrowed is returned when releasing an instance the pool did not lend.
var ErrNotBorrowed = errors.New("transport was not acquired from this pool")

// Factory creates a new transport instance.
type Factory func(ctx context.Context) (core.Transport, error)

// Pool lends transport instances to worker slots. Acquire blocks while every
// instance is in use; Release always hands the instance back.
type Pool struct {
	objects *pool.ObjectPool
	size    int
}

// NewPool creates a pool of at most size instances built by factory.
func NewPool(ctx context.Context, size int, factory Factory) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: transport pool size must be positive, got %d", core.ErrConfig, size)
	}
	if factory == nil {
		return nil, fmt.Errorf("%w: transport factory is nil", core.ErrConfig)
	}

	config := pool.NewDefaultPoolConfig()
	config.MaxTotal = size
	config.MaxIdle = size
	config.MinIdle = 0
	config.BlockWhenExhausted = true

	objects := pool.NewObjectPool(ctx, pool.NewPooledObjectFactory(
		func(ctx context.Context) (interface{}, error) {
			return factory(ctx)
		},
		func(ctx context.Context, object *pool.PooledObject) error {
			if t, ok := object.Object.(core.Transport); ok {
				return t.Close()
			}
			return nil
		}, nil, nil, nil), config)

	return &Pool{objects: objects, size: size}, nil
}

// Acquire borrows an instance, waiting until one is free or ctx ends.
func (p *Pool) Acquire(ctx context.Context) (core.Transport, error) {
	obj, err := p.objects.BorrowObject(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring transport: %w", err)
	}
	t, ok := obj.(core.Transport)
	if !ok {
		_ = p.objects.InvalidateObject(ctx, obj)
		return nil, fmt.Errorf("pooled object %T is not a transport", obj)
	}
	return t, nil
}

// Release returns an instance. Releasing nil or a foreign instance reports
// ErrNotBorrowed and leaves the pool untouched.
func (p *Pool) Release(ctx context.Context, t core.Transport) error {
	if t == nil {
		return ErrNotBorrowed
	}
	if err := p.objects.ReturnObject(ctx, t); err != nil {
		log.WithError(err).Warn("Error returning transport to pool")
		return fmt.Errorf("%w: %v", ErrNotBorrowed, err)
	}
	return nil
}

// Size is the maximum number of instances.
func (p *Pool) Size() int {
	return p.size
}

// Active is the number of instances currently lent out.
func (p *Pool) Active() int {
	return p.objects.GetNumActive()
}

// Idle is the number of instances waiting in the pool.
func (p *Pool) Idle() int {
	return p.objects.GetNumIdle()
}

// Close destroys idle instances; lent instances are destroyed when released.
func (p *Pool) Close(ctx context.Context) {
	p.objects.Close(ctx)
}
