// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package events

import "time"

type Event interface {
	isEvent()
}

// DidUpdateUser is published after a change to a user's balances, stakes or
// transactions has been committed.
type DidUpdateUser struct {
	UserID string
	Time   time.Time
}

// DidCreateUser is published after a user has been registered.
type DidCreateUser struct {
	UserID string
	Time   time.Time
}

// DidSweep is published after an accrual sweep completes.
type DidSweep struct {
	Time    time.Time
	Accrued int
	Failed  int
}

func (DidUpdateUser) isEvent() {}
func (DidCreateUser) isEvent() {}
func (DidSweep) isEvent()      {}
