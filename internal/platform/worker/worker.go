// Package worker holds small helpers shared by the scheduled batch cycles.
package worker

import (
	"github.com/rs/zerolog"
)

// RecoverPanic recovers from panics and logs them, so a failing cycle never
// takes the scheduler down.
// Use as: defer worker.RecoverPanic(logger, "detection cycle")
func RecoverPanic(logger *zerolog.Logger, operation string) {
	if r := recover(); r != nil {
		logger.Error().
			Interface("panic", r).
			Str("operation", operation).
			Msg("recovered from panic")
	}
}
