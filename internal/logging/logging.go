// Package logging builds the zap.Logger shared by every component in this
// module: the Channel Manager, Provider, and the mutchanctl CLI.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jackhumphries/mutablechannel/internal/config"
)

// Build constructs a *zap.Logger from cfg. Development mode trades JSON
// output for a colorized console encoder with a shorter caller trace; both
// modes log at the configured level.
func Build(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logging: parse level %q: %w", cfg.Level, err)
	}

	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	log, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build: %w", err)
	}
	return log, nil
}

// Must panics if Build fails; callers in main() that would os.Exit(1) on
// error anyway can use this to keep setup terse.
func Must(cfg config.LogConfig) *zap.Logger {
	log, err := Build(cfg)
	if err != nil {
		panic(err)
	}
	return log
}
