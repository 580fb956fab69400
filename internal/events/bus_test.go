// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package events_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	. "gitlab.com/accumulatenetwork/staking-ledger/internal/events"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/logging"
)

func TestSubscribeSync(t *testing.T) {
	bus := NewBus(logging.NewTestLogger(t, "info"))

	var got []string
	SubscribeSync(bus, func(e DidUpdateUser) { got = append(got, e.UserID) })
	SubscribeSync(bus, func(e DidCreateUser) { got = append(got, "new "+e.UserID) })

	bus.Publish(DidUpdateUser{UserID: "a"})
	bus.Publish(DidCreateUser{UserID: "b"})
	bus.Publish(DidSweep{})
	require.Equal(t, []string{"a", "new b"}, got)
}

func TestSubscriberPanic(t *testing.T) {
	bus := NewBus(logging.NewTestLogger(t, "info"))

	var called bool
	SubscribeSync(bus, func(DidUpdateUser) { panic("boom") })
	SubscribeSync(bus, func(DidUpdateUser) { called = true })

	require.NotPanics(t, func() { bus.Publish(DidUpdateUser{UserID: "a"}) })
	require.True(t, called, "Later subscribers still run")
}

func TestSubscribeAsync(t *testing.T) {
	bus := NewBus(logging.NewTestLogger(t, "info"))

	wg := new(sync.WaitGroup)
	wg.Add(1)
	var accrued int
	SubscribeAsync(bus, func(e DidSweep) {
		defer wg.Done()
		accrued = e.Accrued
	})

	bus.Publish(DidSweep{Accrued: 3})
	wg.Wait()
	require.Equal(t, 3, accrued)
}

func TestNilBus(t *testing.T) {
	var bus *Bus
	require.NotPanics(t, func() { bus.Publish(DidUpdateUser{}) })
}
