package router

import (
	"io"
	"log/slog"
	"testing"

	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/llm"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		msg  string
		want Tier
	}{
		{"schreibe ein Gedicht", TierCreative},
		{"Erzähl mir einen Witz", TierCreative},
		{"schreibe code für das backend", TierCoding},
		{"schreibe code für einen parser", TierStandard},
		{"refactor this api", TierCoding},
		{"kannst du beim Debugging helfen", TierCoding},
		{"analysiere dieses bild", TierVision},
		{"mach einen Screenshot", TierVision},
		{"hallo", TierStandard},
		{"wie spät ist es?", TierStandard},
		{"schreib mir kurz", TierStandard},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			if got := Classify(tt.msg, nil); got != tt.want {
				t.Errorf("Classify(%q) = %s, want %s", tt.msg, got, tt.want)
			}
		})
	}
}

func TestClassifyHistoryOverride(t *testing.T) {
	history := make([]llm.Message, HistoryThreshold+1)

	t.Run("long history forces coding", func(t *testing.T) {
		if got := Classify("hallo", history); got != TierCoding {
			t.Errorf("expected coding, got %s", got)
		}
		if got := Classify("analysiere dieses bild", history); got != TierCoding {
			t.Errorf("expected coding over vision, got %s", got)
		}
	})

	t.Run("creative still wins", func(t *testing.T) {
		if got := Classify("schreibe ein Gedicht", history); got != TierCreative {
			t.Errorf("expected creative, got %s", got)
		}
	})

	t.Run("threshold is exclusive", func(t *testing.T) {
		if got := Classify("hallo", history[:HistoryThreshold]); got != TierStandard {
			t.Errorf("expected standard at threshold, got %s", got)
		}
	})
}

func TestRouterSelect(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := New(Models{Standard: "cheap-model"}, logger)

	if got := r.Select("hallo", nil); got != "cheap-model" {
		t.Errorf("expected configured standard model, got %s", got)
	}
	if got := r.Select("refactor this api", nil); got != DefaultModels().Coding {
		t.Errorf("expected default coding model, got %s", got)
	}
}
