package utils

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLogger_levels(t *testing.T) {
	tests := []struct {
		debug     bool
		wantDebug bool
	}{
		{debug: true, wantDebug: true},
		{debug: false, wantDebug: false},
	}
	for _, tt := range tests {
		logger, err := NewLogger(tt.debug)
		if err != nil {
			t.Fatalf("NewLogger(%v): %v", tt.debug, err)
		}
		if got := logger.Core().Enabled(zapcore.DebugLevel); got != tt.wantDebug {
			t.Errorf("NewLogger(%v) debug enabled = %v, want %v", tt.debug, got, tt.wantDebug)
		}
		if !logger.Core().Enabled(zapcore.InfoLevel) {
			t.Errorf("NewLogger(%v) should log at info", tt.debug)
		}
		_ = logger.Sync()
	}
}
