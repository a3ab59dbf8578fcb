package main

import (
	"go.uber.org/zap"
)

// newLogger - builds production JSON logger or development console one.
func newLogger(level string, dev bool) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	config := zap.NewProductionConfig()
	if dev {
		config = zap.NewDevelopmentConfig()
	}
	config.Level = lvl
	return config.Build()
}
