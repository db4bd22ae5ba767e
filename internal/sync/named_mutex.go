// SPDX-License-Identifier: Apache-2.0

package sync

import (
	"context"
	"sync"
)

// NamedMutex hands out one lock per name. Holders of different names never
// contend, and the per-name state is dropped once nobody references it.
type NamedMutex struct {
	mutex sync.Mutex
	locks map[string]*namedLock
}

type namedLock struct {
	ch   chan struct{}
	refs int
}

func NewNamedMutex() *NamedMutex {
	return &NamedMutex{locks: map[string]*namedLock{}}
}

// Lock blocks until the lock for name is acquired or ctx is done. The returned
// release function is safe to call more than once.
func (n *NamedMutex) Lock(ctx context.Context, name string) (release func(), err error) {
	l := n.ref(name)

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		n.unref(name, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			n.unref(name, l)
		})
	}, nil
}

func (n *NamedMutex) ref(name string) *namedLock {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	l, found := n.locks[name]
	if !found {
		l = &namedLock{ch: make(chan struct{}, 1)}
		n.locks[name] = l
	}
	l.refs++
	return l
}

func (n *NamedMutex) unref(name string, l *namedLock) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(n.locks, name)
	}
}

func (n *NamedMutex) size() int {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return len(n.locks)
}
