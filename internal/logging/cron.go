// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package logging

import (
	"fmt"

	"github.com/rs/zerolog"
)

// CronLogger adapts zerolog to the logger interface of the cron scheduler.
// Info messages are logged at debug level since cron logs every job run.
type CronLogger struct {
	zerolog.Logger
}

func (l CronLogger) Info(msg string, keysAndValues ...interface{}) {
	withFields(l.Debug(), keysAndValues).Msg(msg)
}

func (l CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	withFields(l.Logger.Error().Err(err), keysAndValues).Msg(msg)
}

func withFields(e *zerolog.Event, kv []interface{}) *zerolog.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		e = e.Interface(fmt.Sprint(kv[i]), kv[i+1])
	}
	return e
}
