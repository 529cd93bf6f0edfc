package env

import (
	zap "go.uber.org/zap"
)

// MakeLogger returns a JSON logger at info level, or a human readable one at
// debug level when debug is set.
func MakeLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopmentConfig().Build()
	}

	logConfig := zap.NewProductionConfig()
	logConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	logConfig.Encoding = "json"

	return logConfig.Build()
}
