// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package events

import (
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"
)

// Bus delivers events to subscribers. A panicking subscriber is logged and
// does not affect the publisher or other subscribers.
type Bus struct {
	mu          *sync.Mutex
	subscribers []func(Event)
	logger      zerolog.Logger
}

func NewBus(logger zerolog.Logger) *Bus {
	b := new(Bus)
	b.mu = new(sync.Mutex)
	b.logger = logger.With().Str("module", "events").Logger()
	return b
}

func (b *Bus) subscribe(sub func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, sub)
}

// Publish delivers the event to every subscriber. A nil bus drops the event.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}

	b.mu.Lock()
	n := len(b.subscribers)
	subs := b.subscribers
	b.mu.Unlock()

	for _, sub := range subs[:n] {
		sub(event)
	}
}

func (b *Bus) recover() {
	err := recover()
	if err == nil {
		return
	}

	b.logger.Error().Interface("error", err).Str("stack", string(debug.Stack())).Msg("Subscriber panicked")
}

func SubscribeSync[T Event](b *Bus, sub func(T)) {
	b.subscribe(func(e Event) {
		et, ok := e.(T)
		if !ok {
			return
		}

		defer b.recover()
		sub(et)
	})
}

func SubscribeAsync[T Event](b *Bus, sub func(T)) {
	b.subscribe(func(e Event) {
		et, ok := e.(T)
		if !ok {
			return
		}

		go func() {
			defer b.recover()
			sub(et)
		}()
	})
}
