package main

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/lalithlochan/schoolcms/internal/config"
)

func TestRun_Arguments(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"help", []string{"help"}, ""},
		{"unknown command", []string{"migrate"}, "unknown command"},
		{"run without job", []string{"run"}, "needs a job name"},
		{"trigger with extra args", []string{"trigger", "expiration-scan", "now"}, "needs a job name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(tt.args)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestTriggerJob_RequiresQueue(t *testing.T) {
	err := triggerJob(context.Background(), &config.Config{}, zap.NewNop(), "expiration-scan")
	if err == nil || !strings.Contains(err.Error(), "TRIGGER_QUEUE_URL") {
		t.Errorf("expected missing queue error, got %v", err)
	}
}

func TestBuildRelay(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.Config
		wantNil bool
	}{
		{"production without channels", config.Config{Env: "production"}, true},
		{"development falls back to log", config.Config{Env: "development"}, false},
		{"webhook configured", config.Config{Env: "production", WebhookURL: "http://localhost:9999/hook"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := buildRelay(context.Background(), &tt.cfg, zap.NewNop())
			if (r == nil) != tt.wantNil {
				t.Errorf("expected nil relay = %v, got %v", tt.wantNil, r)
			}
		})
	}
}
