// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package badger

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// logger adapts zerolog to Badger's logging interface.
type logger struct {
	zerolog.Logger
}

func (l logger) format(format string, args ...interface{}) string {
	s := fmt.Sprintf(format, args...)
	return strings.TrimRight(s, "\n")
}

func (l logger) Errorf(format string, args ...interface{}) {
	l.Error().Msg(l.format(format, args...))
}

func (l logger) Warningf(format string, args ...interface{}) {
	l.Warn().Msg(l.format(format, args...))
}

func (l logger) Infof(format string, args ...interface{}) {
	l.Info().Msg(l.format(format, args...))
}

func (l logger) Debugf(format string, args ...interface{}) {
	l.Debug().Msg(l.format(format, args...))
}
