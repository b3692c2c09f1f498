// Copyright (c) 2024-2026 The chainstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package calendar

import "github.com/decred/slog"

// log is a package level logger.  It defaults to disabled; the caller wires
// in a real logger with UseLogger.
var log = slog.Disabled

// UseLogger sets the package logger.
func UseLogger(logger slog.Logger) {
	log = logger
}
