package daemonrun

import (
	"context"
	"testing"

	"docflow/internal/config"
	"docflow/internal/logging"
	"docflow/internal/testsupport"
)

func TestNewOCREngine(t *testing.T) {
	tests := []struct {
		engine  string
		want    string
		wantErr bool
	}{
		{engine: config.OCREngineHTTP, want: "http"},
		{engine: " Tesseract ", want: "tesseract"},
		{engine: "paddle", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.engine, func(t *testing.T) {
			cfg := testsupport.NewConfig(t)
			cfg.OCR.Engine = tt.engine
			engine, err := NewOCREngine(cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for engine %q", tt.engine)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewOCREngine: %v", err)
			}
			if engine.Name() != tt.want {
				t.Fatalf("engine = %q, want %q", engine.Name(), tt.want)
			}
		})
	}
}

func TestBuildStagesWiresEveryStage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	stages, err := BuildStages(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("BuildStages: %v", err)
	}
	if stages.Splitter == nil || stages.Extractor == nil || stages.Entities == nil || stages.Refiner == nil {
		t.Fatalf("expected every stage configured, got %+v", stages)
	}
}

func TestNewEventHubWithoutRedis(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Events.RedisAddr = ""
	cfg.Notifications.NtfyTopic = ""

	hub, closeSinks := NewEventHub(context.Background(), cfg, logging.NewNop())
	defer closeSinks()
	defer hub.Close()

	ch, unsubscribe := hub.Subscribe(1)
	defer unsubscribe()
	if ch == nil {
		t.Fatal("expected subscription channel")
	}
}
