// Package ksync implements the kernel's busy-wait synchronization
// primitives: a spinlock, a counting semaphore, and a recursive,
// owner-tracked mutex. All three are built on sync/atomic rather than
// hand-rolled test-and-set instruction sequences.
package ksync

import "sync/atomic"

// SpinLock is a test-and-set lock. Lock busy-waits; there is no
// parking queue because there is, at this layer, no scheduler to park
// against.
type SpinLock struct {
	locked atomic.Bool
}

// Lock acquires the lock, spinning until it succeeds.
func (s *SpinLock) Lock() {
	for !s.locked.CompareAndSwap(false, true) {
	}
}

// Unlock releases the lock. Unlock on an already-unlocked SpinLock is
// a caller bug; it is not detected here.
func (s *SpinLock) Unlock() {
	s.locked.Store(false)
}

// TryLock attempts to acquire the lock without blocking.
func (s *SpinLock) TryLock() bool {
	return s.locked.CompareAndSwap(false, true)
}

// Semaphore is a counting semaphore guarded by a SpinLock. Wait
// busy-polls the count, releasing and reacquiring the guard lock
// between attempts so Signal from another context can make progress.
type Semaphore struct {
	lock  SpinLock
	count int32
}

// NewSemaphore returns a semaphore initialized to count.
func NewSemaphore(count int32) *Semaphore {
	return &Semaphore{count: count}
}

// Wait decrements the count, blocking (busy-waiting) while it is zero.
func (s *Semaphore) Wait() {
	for {
		s.lock.Lock()
		if s.count > 0 {
			s.count--
			s.lock.Unlock()
			return
		}
		s.lock.Unlock()
		// spin with the guard released so Signal can run
	}
}

// Signal increments the count.
func (s *Semaphore) Signal() {
	s.lock.Lock()
	s.count++
	s.lock.Unlock()
}

// Count returns the current count, for diagnostics and tests.
func (s *Semaphore) Count() int32 {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.count
}

// Mutex is a recursive mutex that tracks its owning task PID. An
// Unlock from any PID other than the current owner is rejected, and
// the underlying lock is released only when the recursion count
// returns to zero.
type Mutex struct {
	lock  SpinLock
	owner int32 // PID of current owner, or -1 if unlocked
	count int32 // recursion depth
}

// NoOwner is the sentinel owner value of an unlocked Mutex.
const NoOwner int32 = -1

// NewMutex returns an unlocked Mutex.
func NewMutex() *Mutex {
	return &Mutex{owner: NoOwner}
}

// Lock acquires the mutex on behalf of pid. A pid that already owns
// the mutex reenters it, incrementing the recursion count instead of
// deadlocking against itself.
func (m *Mutex) Lock(pid int32) {
	for {
		m.lock.Lock()
		if m.owner == NoOwner {
			m.owner = pid
			m.count = 1
			m.lock.Unlock()
			return
		}
		if m.owner == pid {
			m.count++
			m.lock.Unlock()
			return
		}
		m.lock.Unlock()
		// spin; another pid holds the mutex
	}
}

// Unlock releases one recursion level on behalf of pid. It reports
// false without modifying any state if pid does not own the mutex.
func (m *Mutex) Unlock(pid int32) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.owner != pid {
		return false
	}
	m.count--
	if m.count == 0 {
		m.owner = NoOwner
	}
	return true
}

// Owner returns the PID currently holding the mutex, or NoOwner.
func (m *Mutex) Owner() int32 {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.owner
}
