package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alvin-junjun/ai-guzhi-analysis/app/models"
)

func TestMemoryStoreTaskRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	task := models.AnalysisTask{
		TaskID:    "600519_20260301120000.000000000_abc123",
		UserID:    7,
		Status:    models.TaskPending,
		StockCode: "600519",
		CreatedAt: time.Now().UTC(),
	}
	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	task.Status = models.TaskCompleted
	task.Result = &models.AnalysisResult{Code: "600519", SentimentScore: 75}
	if err := store.UpdateTask(ctx, task); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	got, err := store.GetTask(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != models.TaskCompleted || got.Result == nil || got.Result.SentimentScore != 75 {
		t.Fatalf("round trip lost data: %+v", got)
	}

	if err := store.UpdateTask(ctx, models.AnalysisTask{TaskID: "missing"}); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestMemoryStoreListTasksOrderAndFilter(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, tc := range []struct {
		id     string
		userID int64
	}{
		{"600001_a", 1},
		{"600002_b", 2},
		{"600003_c", 1},
	} {
		if err := store.CreateTask(ctx, models.AnalysisTask{
			TaskID:    tc.id,
			UserID:    tc.userID,
			Status:    models.TaskPending,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
	}

	tasks, err := store.ListTasks(ctx, 1, 0)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 2 || tasks[0].TaskID != "600003_c" || tasks[1].TaskID != "600001_a" {
		t.Fatalf("wrong order/filter: %+v", tasks)
	}

	all, _ := store.ListTasks(ctx, 0, 2)
	if len(all) != 2 || all[0].TaskID != "600003_c" {
		t.Fatalf("limit/all-users listing wrong: %+v", all)
	}
}

func TestMemoryStoreHistoryFilter(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, rec := range []models.AnalysisHistory{
		{UserID: 1, StockCode: "600001", Score: 80, Sentiment: models.SentimentBullish},
		{UserID: 1, StockCode: "600002", Score: 20, Sentiment: models.SentimentBearish},
		{UserID: 1, StockCode: "600003", Score: 50, Sentiment: models.SentimentNeutral},
		{UserID: 2, StockCode: "600004", Score: 90, Sentiment: models.SentimentBullish},
	} {
		if err := store.SaveAnalysisHistory(ctx, rec); err != nil {
			t.Fatalf("SaveAnalysisHistory: %v", err)
		}
	}

	all, err := store.ListAnalysisHistory(ctx, 1, "", 0)
	if err != nil {
		t.Fatalf("ListAnalysisHistory: %v", err)
	}
	if len(all) != 3 || all[0].StockCode != "600003" {
		t.Fatalf("expected newest-first user history, got %+v", all)
	}

	bullish, _ := store.ListAnalysisHistory(ctx, 1, models.SentimentBullish, 0)
	if len(bullish) != 1 || bullish[0].StockCode != "600001" {
		t.Fatalf("sentiment filter wrong: %+v", bullish)
	}
}

func TestMemoryStoreTransactAtomicity(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	user := newTestUser(t, store, "tx-user")

	err := store.Transact(ctx, user.ID, func(tx EntitlementTx) error {
		order := models.Order{OrderNo: "M-doomed", UserID: user.ID, PlanID: "monthly", ExpireAt: time.Now()}
		if err := tx.InsertOrder(&order); err != nil {
			return err
		}
		return errors.New("unit fails after staging a write")
	})
	if err == nil {
		t.Fatal("expected the unit's error")
	}

	if _, err := store.OrderByNo(ctx, "M-doomed"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("staged write leaked: %v", err)
	}
}
