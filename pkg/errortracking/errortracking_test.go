package errortracking

import (
	"context"
	"errors"
	"testing"

	"github.com/getsentry/sentry-go"

	"github.com/bitechdev/StoreCache/pkg/config"
)

func TestNoOpProvider(t *testing.T) {
	provider := NewNoOpProvider()

	t.Run("CaptureError", func(t *testing.T) {
		provider.CaptureError(context.Background(), errors.New("redis level unreachable"), SeverityError, nil)
	})

	t.Run("CaptureMessage", func(t *testing.T) {
		provider.CaptureMessage(context.Background(), "partial failure on level L1", SeverityWarning, nil)
	})

	t.Run("CapturePanic", func(t *testing.T) {
		provider.CapturePanic(context.Background(), "panic!", []byte("stack trace"), nil)
	})

	t.Run("Flush", func(t *testing.T) {
		if !provider.Flush(5) {
			t.Error("Expected Flush to return true")
		}
	})

	t.Run("Close", func(t *testing.T) {
		if err := provider.Close(); err != nil {
			t.Errorf("Expected Close to return nil, got %v", err)
		}
	})
}

func TestConvertSeverity(t *testing.T) {
	tests := []struct {
		severity Severity
		expected sentry.Level
	}{
		{SeverityError, sentry.LevelError},
		{SeverityWarning, sentry.LevelWarning},
		{SeverityInfo, sentry.LevelInfo},
		{SeverityDebug, sentry.LevelDebug},
		{Severity("unknown"), sentry.LevelError},
	}

	for _, tt := range tests {
		t.Run(string(tt.severity), func(t *testing.T) {
			if got := convertSeverity(tt.severity); got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestNewProviderFromConfig(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.ErrorTrackingConfig
		wantNoOp  bool
		wantError bool
	}{
		{name: "disabled", cfg: config.ErrorTrackingConfig{Enabled: false, Provider: "sentry"}, wantNoOp: true},
		{name: "noop", cfg: config.ErrorTrackingConfig{Enabled: true, Provider: "noop"}, wantNoOp: true},
		{name: "empty provider", cfg: config.ErrorTrackingConfig{Enabled: true}, wantNoOp: true},
		{name: "sentry without dsn", cfg: config.ErrorTrackingConfig{Enabled: true, Provider: "sentry"}, wantError: true},
		{name: "unknown", cfg: config.ErrorTrackingConfig{Enabled: true, Provider: "rollbar"}, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewProviderFromConfig(tt.cfg)
			if (err != nil) != tt.wantError {
				t.Fatalf("NewProviderFromConfig() error = %v, wantError %v", err, tt.wantError)
			}
			if tt.wantNoOp {
				if _, ok := provider.(*NoOpProvider); !ok {
					t.Errorf("Expected *NoOpProvider, got %T", provider)
				}
			}
		})
	}
}

func TestProviderInterface(t *testing.T) {
	var _ Provider = (*NoOpProvider)(nil)
	var _ Provider = (*SentryProvider)(nil)
}
