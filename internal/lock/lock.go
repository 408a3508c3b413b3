// Package lock serialises work per (machine, date) so concurrent grouping and
// approval on the same slice of state cannot interleave.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/pesio-ai/be-mfg-batch-approvals/internal/repository"
)

// Locker acquires a named exclusive lock. The returned func releases it and
// is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// MachineDateKey is the lock key for one machine on one calendar day.
func MachineDateKey(machineID string, date time.Time) string {
	return "machine:" + machineID + ":" + repository.DateKey(repository.NormalizeDate(date))
}

// GroupKey is the lock key for mutations of one approval group.
func GroupKey(groupID string) string {
	return "group:" + groupID
}

// Local is an in-process Locker backed by one mutex per key. Entries are
// dropped once no goroutine holds or waits on them.
type Local struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

// NewLocal creates an empty in-process locker.
func NewLocal() *Local {
	return &Local{locks: make(map[string]*entry)}
}

// Lock blocks until key is free or ctx is done.
func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.release(key, e)
		})
	}, nil
}

func (l *Local) release(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

// held returns the number of keys currently tracked.
func (l *Local) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
