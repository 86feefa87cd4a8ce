package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/jobrunner/tilework/internal/config"
)

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LoggingConfig
		debugOn bool
		warnOn  bool
	}{
		{"json info", config.LoggingConfig{Level: "info", Format: "json"}, false, true},
		{"text debug", config.LoggingConfig{Level: "debug", Format: "text"}, true, true},
		{"error only", config.LoggingConfig{Level: "error", Format: "json"}, false, false},
		{"unknown level falls back to info", config.LoggingConfig{Level: "loud"}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, sync, err := setupLogger(tt.cfg)
			if err != nil {
				t.Fatalf("setupLogger() error = %v", err)
			}
			defer sync()

			ctx := context.Background()
			if got := logger.Enabled(ctx, slog.LevelDebug); got != tt.debugOn {
				t.Errorf("debug enabled = %v, want %v", got, tt.debugOn)
			}
			if got := logger.Enabled(ctx, slog.LevelWarn); got != tt.warnOn {
				t.Errorf("warn enabled = %v, want %v", got, tt.warnOn)
			}
		})
	}
}
