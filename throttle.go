// Copyright (C) The Qgg Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package qgg

import (
	"sync"
)

// throttle runs at most Max funcs concurrently and remembers the first
// error reported by any of them. Used for per-chromosome workers: each
// func owns one chromosome's inputs and outputs exclusively.
type throttle struct {
	Max       int
	wg        sync.WaitGroup
	ch        chan struct{}
	setupOnce sync.Once

	mtx sync.Mutex
	err error
}

// Go runs f in a new goroutine, blocking first if Max funcs are
// already running.
func (t *throttle) Go(f func() error) {
	t.setupOnce.Do(func() {
		if t.Max < 1 {
			t.Max = 1
		}
		t.ch = make(chan struct{}, t.Max)
	})
	t.wg.Add(1)
	t.ch <- struct{}{}
	go func() {
		defer func() {
			<-t.ch
			t.wg.Done()
		}()
		t.Report(f())
	}()
}

// Report records err as the throttle's error, unless an earlier error
// is already recorded.
func (t *throttle) Report(err error) {
	if err == nil {
		return
	}
	t.mtx.Lock()
	defer t.mtx.Unlock()
	if t.err == nil {
		t.err = err
	}
}

// Wait blocks until all funcs started by Go have returned, then
// returns the first reported error, if any.
func (t *throttle) Wait() error {
	t.wg.Wait()
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return t.err
}
