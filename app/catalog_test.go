package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/alvin-junjun/ai-guzhi-analysis/app/models"
)

func TestLoadCatalogDefaults(t *testing.T) {
	catalog, err := LoadCatalog("")
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if len(catalog.Plans()) != 4 {
		t.Fatalf("expected 4 default plans, got %d", len(catalog.Plans()))
	}

	monthly, ok := catalog.PlanByID("monthly")
	if !ok {
		t.Fatal("monthly plan missing")
	}
	if !monthly.Unlimited() || monthly.DurationDays != 30 {
		t.Fatalf("unexpected monthly plan: %+v", monthly)
	}

	weekly, _ := catalog.PlanByID("weekly")
	if weekly.Unlimited() {
		t.Fatal("weekly plan should have a daily cap")
	}
}

func TestLoadCatalogFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.yaml")
	content := `plans:
  - id: trial
    name: Trial
    price: 1.0
    durationDays: 3
    dailyAnalysisLimit: 10
    watchlistLimit: 5
  - id: pro
    name: Pro
    price: 99.0
    durationDays: 180
    dailyAnalysisLimit: -1
    watchlistLimit: 500
    recommended: true
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write plans file: %v", err)
	}

	catalog, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if len(catalog.Plans()) != 2 {
		t.Fatalf("expected 2 plans, got %d", len(catalog.Plans()))
	}

	pro, ok := catalog.PlanByID("pro")
	if !ok || pro.DailyAnalysisLimit != models.UnlimitedDailyLimit || !pro.Recommended {
		t.Fatalf("unexpected pro plan: %+v", pro)
	}
}

func TestLoadCatalogRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
	}{
		{name: "empty", content: "plans: []\n"},
		{name: "missing id", content: "plans:\n  - name: Broken\n    durationDays: 30\n"},
		{name: "zero duration", content: "plans:\n  - id: broken\n    name: Broken\n    durationDays: 0\n"},
		{name: "not yaml", content: "{{{"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, err := LoadCatalog(path); err == nil {
				t.Fatal("expected an error")
			}
		})
	}

	if _, err := LoadCatalog(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
