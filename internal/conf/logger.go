package conf

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a console logger at debug level, or a JSON logger at
// info level when running in production
func NewLogger(c *Config) (*zap.Logger, error) {
	var config zap.Config

	if c.Env == "production" {
		config = zap.NewProductionConfig()
		if c.Debug {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	return config.Build()
}
