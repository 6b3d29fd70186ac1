package logging

import (
	"testing"

	"github.com/zulandar/darkroom/internal/config"
	"go.uber.org/zap/zapcore"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		level string
		want  zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			log, err := New(config.LogConfig{Level: tt.level})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if !log.Core().Enabled(tt.want) {
				t.Errorf("level %s not enabled", tt.want)
			}
			if tt.want > zapcore.DebugLevel && log.Core().Enabled(tt.want-1) {
				t.Errorf("level %s should be disabled", tt.want-1)
			}
		})
	}
}

func TestNew_Development(t *testing.T) {
	log, err := New(config.LogConfig{Level: "debug", Development: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !log.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug should be enabled")
	}
}

func TestNew_BadLevel(t *testing.T) {
	if _, err := New(config.LogConfig{Level: "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
