/*
 * Copyright (c) 2024 Tomas Krizek
 */
package ldapdns

import "sync"

// GlobalStuff mirrors the small bag of process-wide flags the host
// server keeps; unlike the host, everything else that used to be a
// process-wide mutable singleton (the kinit lock, the exiting flag) now
// lives on Instance's Shared field instead, per the "no global mutable
// singletons" design note.
type GlobalStuff struct {
	Verbose bool
	Debug   bool
}

var Globals = GlobalStuff{}

// Shared holds the state that the source expressed as process-wide
// globals: the GSSAPI kinit lock (get_krb5_tgt is not reentrant) and the
// watcher's exiting flag. One Shared lives on each Instance.
type Shared struct {
	mu      sync.Mutex
	exiting bool

	kinitLock sync.Mutex
}

func (s *Shared) SetExiting() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exiting = true
}

func (s *Shared) IsExiting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exiting
}

// WithKinitLock serializes GSSAPI credential refreshes across every
// connection in the pool.
func (s *Shared) WithKinitLock(f func() error) error {
	s.kinitLock.Lock()
	defer s.kinitLock.Unlock()
	return f()
}
