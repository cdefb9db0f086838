/*
 * Copyright (c) 2024 Tomas Krizek
 */
package ldapdns

import (
	"sync"
)

// SyncState tracks the engine-wide progress from "nothing loaded yet"
// to "initial LDAP snapshot fully applied", mirroring the host server's
// own pattern (refreshengine.go's per-zone "expected" set draining to
// trigger a one-shot post-pass) generalized to an explicit state
// machine, since here the event source is a single syncrepl session
// instead of N independent zone transfers.
type SyncState uint8

const (
	StateInit SyncState = iota
	StateDatainit
	StateRefreshDone
	StateFinished
)

// Barrier turns the syncrepl watcher's initial refreshDone message into
// a one-shot "all zones loaded" event. Each registered per-zone task
// must drain every event queued for it during the initial refresh
// before the barrier can fire; barrier_wait blocks callers until that
// happens, and is idempotent once StateFinished is reached.
type Barrier struct {
	mu          sync.Mutex
	state       SyncState
	tasks       map[*zoneTask]bool
	drained     map[*zoneTask]bool
	waiters     []chan struct{}
	outstanding int64
	semCh       chan struct{} // back-pressure token bucket for concurr_wait/signal
}

// NewBarrier creates a Barrier whose back-pressure watermark is
// concurrency: that many ConcurrWait calls succeed before the next one
// blocks on a ConcurrSignal. The syncrepl watcher does not call
// ConcurrWait; its only back-pressure is each zoneTask's bounded queue.
func NewBarrier(concurrency int) *Barrier {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Barrier{
		tasks:   map[*zoneTask]bool{},
		drained: map[*zoneTask]bool{},
		semCh:   make(chan struct{}, concurrency),
	}
}

// Register records a task as participating in the initial refresh.
// Legal only before the barrier has fired; idempotent per task.
func (b *Barrier) Register(t *zoneTask) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state >= StateRefreshDone {
		return
	}
	b.tasks[t] = true
}

// ConcurrWait acquires one back-pressure slot, blocking the caller
// while every slot is taken.
func (b *Barrier) ConcurrWait() { b.semCh <- struct{}{} }

// ConcurrSignal releases one back-pressure slot after a task finishes
// processing an event.
func (b *Barrier) ConcurrSignal() { <-b.semCh }

// MarkDrained records that task has processed its "drain" marker (i.e.
// nothing queued before refreshDone remains in its queue). When every
// registered task has reported drained, the barrier fires.
func (b *Barrier) MarkDrained(t *zoneTask) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateFinished {
		return
	}
	b.drained[t] = true
	b.maybeFinishLocked()
}

func (b *Barrier) maybeFinishLocked() {
	if len(b.drained) < len(b.tasks) {
		return
	}
	b.state = StateFinished
	for _, ch := range b.waiters {
		close(ch)
	}
	b.waiters = nil
}

// Wait is called when LDAP delivers the refreshDone message. It
// transitions init -> datainit on first call and blocks the caller
// until StateFinished is reached. After StateFinished, further calls
// return immediately (idempotence).
func (b *Barrier) Wait() {
	b.mu.Lock()
	if b.state == StateFinished {
		b.mu.Unlock()
		return
	}
	if b.state == StateInit {
		b.state = StateDatainit
	}
	b.state = StateRefreshDone
	if len(b.tasks) == 0 {
		b.state = StateFinished
		b.mu.Unlock()
		return
	}
	ch := make(chan struct{})
	b.waiters = append(b.waiters, ch)
	b.maybeFinishLocked()
	fired := b.state == StateFinished
	b.mu.Unlock()
	if fired {
		return
	}
	<-ch
}

func (b *Barrier) State() SyncState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Finished reports whether the initial snapshot has been fully applied.
// Journal writes and SOA write-backs are gated on this.
func (b *Barrier) Finished() bool { return b.State() == StateFinished }
