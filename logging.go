package stampwatch

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// GetLogger returns a child of the global logger tagged with the given
// component. A non-empty verbosity overrides the global level for that
// component; unparseable values are ignored.
func GetLogger(component, verbosity string) zerolog.Logger {
	logger := log.Logger
	if verbosity != "" {
		if level, err := zerolog.ParseLevel(verbosity); err == nil {
			logger = logger.Level(level)
		}
	}

	return logger.With().Str("component", component).Logger()
}
