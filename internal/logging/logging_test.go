package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/jackhumphries/mutablechannel/internal/config"
)

func TestBuildProductionConfig(t *testing.T) {
	log, err := Build(config.LogConfig{Level: "debug", Development: false})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer log.Sync()
	if !log.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected debug level to be enabled")
	}
}

func TestBuildRejectsUnknownLevel(t *testing.T) {
	if _, err := Build(config.LogConfig{Level: "not-a-level"}); err == nil {
		t.Fatal("expected an error for an invalid level")
	}
}

func TestBuildDevelopmentConfig(t *testing.T) {
	log, err := Build(config.LogConfig{Level: "info", Development: true})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer log.Sync()
}
