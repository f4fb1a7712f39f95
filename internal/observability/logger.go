package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger returns the global logger tagged with component. Call it after the
// logging profile is configured so the tag lands on the configured writer.
func Logger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
