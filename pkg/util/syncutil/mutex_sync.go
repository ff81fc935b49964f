// Copyright 2016 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

//go:build !deadlock

package syncutil

import (
	"sync"
	"sync/atomic"
)

// DeadlockEnabled is true if the deadlock detector is enabled.
const DeadlockEnabled = false

// A Mutex is a mutual exclusion lock. Unlike sync.Mutex it tracks whether it
// is held so that callers can assert their locking preconditions.
type Mutex struct {
	mu     sync.Mutex
	locked atomic.Bool
}

// Lock locks m.
func (m *Mutex) Lock() {
	m.mu.Lock()
	m.locked.Store(true)
}

// Unlock unlocks m.
func (m *Mutex) Unlock() {
	m.locked.Store(false)
	m.mu.Unlock()
}

// AssertHeld panics if the mutex is not locked.
//
// Note that we do not require the lock to be held by any particular goroutine,
// just that some goroutine holds the lock.
func (m *Mutex) AssertHeld() {
	if !m.locked.Load() {
		panic("mutex is not locked")
	}
}
