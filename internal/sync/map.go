// SPDX-License-Identifier: Apache-2.0

package sync

import (
	"maps"
	"sync"
)

// Map is a map guarded by a RWMutex.
type Map[K comparable, V any] struct {
	m     map[K]V
	mutex *sync.RWMutex
}

func NewMap[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{
		m:     make(map[K]V),
		mutex: &sync.RWMutex{},
	}
}

func (m *Map[K, V]) Get(key K) (V, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	value, ok := m.m[key]
	return value, ok
}

func (m *Map[K, V]) Set(key K, value V) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.m[key] = value
}

// GetOrCreate returns the value stored for key, building and storing it with
// create if missing. create runs under the write lock, at most once per key.
func (m *Map[K, V]) GetOrCreate(key K, create func() (V, error)) (V, error) {
	if v, ok := m.Get(key); ok {
		return v, nil
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if v, ok := m.m[key]; ok {
		return v, nil
	}
	v, err := create()
	if err != nil {
		return v, err
	}
	m.m[key] = v
	return v, nil
}

func (m *Map[K, V]) Delete(key K) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.m, key)
}

func (m *Map[K, V]) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.m)
}

// Update applies fn to the current value of key while holding the write lock.
// Returning keep=false removes the key.
func (m *Map[K, V]) Update(key K, fn func(current V, exists bool) (next V, keep bool, err error)) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	current, exists := m.m[key]
	next, keep, err := fn(current, exists)
	if err != nil {
		return err
	}
	if keep {
		m.m[key] = next
	} else {
		delete(m.m, key)
	}
	return nil
}

func (m *Map[K, V]) GetMap() map[K]V {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	result := make(map[K]V, len(m.m))
	maps.Copy(result, m.m)
	return result
}
