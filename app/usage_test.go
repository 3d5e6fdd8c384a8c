package app

import (
	"context"
	"sync"
	"testing"

	"github.com/alvin-junjun/ai-guzhi-analysis/app/models"
)

type fixedBenefits struct {
	limit int
}

func (f fixedBenefits) Benefits(_ context.Context, _ int64) (models.Benefits, error) {
	return models.Benefits{Level: models.LevelFree, DailyAnalysisLimit: f.limit}, nil
}

func newTestUser(t *testing.T, store *MemoryStore, subject string) models.User {
	t.Helper()
	ctx := context.Background()
	if err := store.UpsertUser(ctx, subject, subject+"@example.com", subject); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	user, err := store.UserBySubject(ctx, subject)
	if err != nil {
		t.Fatalf("load user: %v", err)
	}
	return user
}

func TestChargeOneConcurrent(t *testing.T) {
	store := NewMemoryStore()
	user := newTestUser(t, store, "quota-user")
	ledger := NewLedger(store, fixedBenefits{limit: models.UnlimitedDailyLimit})

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.ChargeOne(context.Background(), user.ID); err != nil {
				t.Errorf("ChargeOne: %v", err)
			}
		}()
	}
	wg.Wait()

	count, err := store.DailyAnalysisCount(context.Background(), user.ID, dayKey(ledger.now()))
	if err != nil {
		t.Fatalf("DailyAnalysisCount: %v", err)
	}
	if count != n {
		t.Fatalf("expected %d charges, got %d", n, count)
	}

	refreshed, _ := store.UserByID(context.Background(), user.ID)
	if refreshed.TotalAnalysisCount != n {
		t.Fatalf("expected lifetime count %d, got %d", n, refreshed.TotalAnalysisCount)
	}
}

func TestCheckLimit(t *testing.T) {
	tests := []struct {
		name      string
		limit     int
		preCharge int
		wantErr   bool
	}{
		{name: "under limit", limit: 5, preCharge: 4, wantErr: false},
		{name: "at limit", limit: 5, preCharge: 5, wantErr: true},
		{name: "over limit", limit: 5, preCharge: 7, wantErr: true},
		{name: "unlimited", limit: models.UnlimitedDailyLimit, preCharge: 100, wantErr: false},
		{name: "zero limit blocks immediately", limit: 0, preCharge: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			user := newTestUser(t, store, "limit-user")
			ledger := NewLedger(store, fixedBenefits{limit: tt.limit})

			for i := 0; i < tt.preCharge; i++ {
				if _, err := ledger.ChargeOne(context.Background(), user.ID); err != nil {
					t.Fatalf("ChargeOne: %v", err)
				}
			}

			used, limit, err := ledger.CheckLimit(context.Background(), user.ID)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected quota error, got used=%d limit=%d", used, limit)
				}
				if !IsQuotaExceeded(err) {
					t.Fatalf("expected quota error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("CheckLimit: %v", err)
			}
			if used != tt.preCharge || limit != tt.limit {
				t.Fatalf("got used=%d limit=%d, want used=%d limit=%d", used, limit, tt.preCharge, tt.limit)
			}
		})
	}
}
