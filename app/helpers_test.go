package app

import (
	"strings"
	"testing"
	"time"

	"github.com/alvin-junjun/ai-guzhi-analysis/app/models"
)

func TestValidStockCode(t *testing.T) {
	valid := []string{"600519", "sh600519", "sz000001", "bj871981", " 600519 ", "SH600519"}
	for _, code := range valid {
		if !ValidStockCode(code) {
			t.Errorf("expected %q to be valid", code)
		}
	}

	invalid := []string{"", "60051", "6005199", "us600519", "600519a", "sh"}
	for _, code := range invalid {
		if ValidStockCode(code) {
			t.Errorf("expected %q to be invalid", code)
		}
	}
}

func TestNewTaskIDSortsByCreation(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	earlier := newTaskID("600519", base)
	later := newTaskID("600519", base.Add(time.Second))
	if !(earlier < later) {
		t.Fatalf("ids for one stock should sort by creation: %q vs %q", earlier, later)
	}
	if !strings.HasPrefix(earlier, "600519_") {
		t.Fatalf("id should embed the stock code: %q", earlier)
	}
}

func TestNewTaskIDUnique(t *testing.T) {
	now := time.Now()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := newTaskID("600519", now)
		if seen[id] {
			t.Fatalf("duplicate id %q after %d draws", id, i)
		}
		seen[id] = true
	}
}

func TestNewOrderNo(t *testing.T) {
	no := newOrderNo(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	if !strings.HasPrefix(no, "M20260301120000") {
		t.Fatalf("unexpected order no %q", no)
	}
	if len(no) != 1+14+8 {
		t.Fatalf("unexpected order no length %d (%q)", len(no), no)
	}
}

func TestSentimentFromScore(t *testing.T) {
	tests := []struct {
		score int
		want  models.Sentiment
	}{
		{score: 100, want: models.SentimentBullish},
		{score: 70, want: models.SentimentBullish},
		{score: 69, want: models.SentimentNeutral},
		{score: 31, want: models.SentimentNeutral},
		{score: 30, want: models.SentimentBearish},
		{score: 0, want: models.SentimentBearish},
	}
	for _, tt := range tests {
		if got := sentimentFromScore(tt.score); got != tt.want {
			t.Errorf("score %d: got %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestDayKey(t *testing.T) {
	// times on either side of UTC midnight land on different ledger days
	beijing := time.FixedZone("CST", 8*60*60)
	late := time.Date(2026, 3, 2, 6, 30, 0, 0, beijing) // 2026-03-01T22:30Z
	if got := dayKey(late); got != "2026-03-01" {
		t.Fatalf("dayKey = %q", got)
	}
}
