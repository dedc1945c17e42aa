package resourcepool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Key identifies a shared resource, e.g. the network of one cloud region or one zone.
type Key struct {
	Cloud    string
	Scope    string
	Location string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Cloud, k.Scope, k.Location)
}

type entry[T any] struct {
	createLock sync.Mutex
	created    bool
	resource   T
	refs       int
}

// Pool hands out shared resources by key. The first Acquire of a key creates the resource and the
// last matching Release destroys it. Pass a Pool to whoever needs it; there is no package-level instance.
type Pool[T any] struct {
	mu      sync.Mutex
	entries map[Key]*entry[T]
	create  func(context.Context, Key) (T, error)
	destroy func(T) error
}

func NewPool[T any](create func(context.Context, Key) (T, error), destroy func(T) error) *Pool[T] {
	return &Pool[T]{
		entries: map[Key]*entry[T]{},
		create:  create,
		destroy: destroy,
	}
}

// Acquire returns the resource for key, creating it if needed. Concurrent callers for the same key
// wait for the first creation to finish. Every successful Acquire must be paired with a Release.
func (p *Pool[T]) Acquire(ctx context.Context, key Key) (T, error) {
	p.mu.Lock()
	e, ok := p.entries[key]
	if !ok {
		e = &entry[T]{}
		p.entries[key] = e
	}
	e.refs++
	p.mu.Unlock()

	e.createLock.Lock()
	defer e.createLock.Unlock()
	if e.created {
		return e.resource, nil
	}

	res, err := p.create(ctx, key)
	if err != nil {
		p.mu.Lock()
		e.refs--
		if e.refs == 0 && p.entries[key] == e {
			delete(p.entries, key)
		}
		p.mu.Unlock()
		var zero T
		return zero, fmt.Errorf("creating resource %s failed: %w", key, err)
	}
	slog.Debug("created shared resource", slog.String("key", key.String()))
	e.resource = res
	e.created = true
	return res, nil
}

// Release drops one reference to key. The resource is destroyed when no references remain.
func (p *Pool[T]) Release(key Key) error {
	p.mu.Lock()
	e, ok := p.entries[key]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("release of unknown resource %s", key)
	}
	e.refs--
	if e.refs > 0 {
		p.mu.Unlock()
		return nil
	}
	delete(p.entries, key)
	p.mu.Unlock()

	e.createLock.Lock()
	defer e.createLock.Unlock()
	if !e.created {
		return nil
	}
	err := p.destroy(e.resource)
	if err != nil {
		return fmt.Errorf("destroying resource %s failed: %w", key, err)
	}
	slog.Debug("destroyed shared resource", slog.String("key", key.String()))
	return nil
}

func (p *Pool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func (p *Pool[T]) RefCount(key Key) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[key]
	if !ok {
		return 0
	}
	return e.refs
}
