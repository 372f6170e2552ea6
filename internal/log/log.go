// Package log provides the structured logging scope shared by the
// validator's internal components. Each component logger is derived
// from a caller-supplied base (defaulting to a no-op logger) so that
// embedding applications control formatting and output.
package log

import "github.com/rs/zerolog"

// Component returns base with a "component" field attached.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}

// Noop returns a logger that discards everything.
func Noop() zerolog.Logger {
	return zerolog.Nop()
}
