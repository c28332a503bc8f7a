package config

import (
	"fmt"

	"go.uber.org/zap"
)

// NewLogger builds a production JSON logger or a development console logger
func NewLogger(c LoggingConfig) (*zap.Logger, error) {
	var zc zap.Config
	if c.JSON {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	level := c.Level
	if level == "" {
		level = "info"
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}
	zc.Level = lvl
	return zc.Build()
}
