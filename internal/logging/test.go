// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package logging

import (
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// TestLogger writes log lines to the test log.
type TestLogger struct {
	Test testing.TB
}

var _ io.Writer = (*TestLogger)(nil)

func (l *TestLogger) Write(b []byte) (int, error) {
	s := string(b)
	if strings.HasSuffix(s, "\n") {
		s = s[:len(s)-1]
	}
	l.Test.Log(s)
	return len(b), nil
}

// NewTestLogger returns a logger that writes plain text to the test log. The
// level may name per-module levels.
func NewTestLogger(t testing.TB, level string) zerolog.Logger {
	logger, err := NewLogger(level, LogFormatPlain, &TestLogger{Test: t})
	if err != nil {
		t.Fatalf("Invalid log level: %v", err)
	}
	return logger
}
