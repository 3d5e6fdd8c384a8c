package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alvin-junjun/ai-guzhi-analysis/app/models"
)

type fakeAnalyzer struct {
	fn func(stockCode string) (*models.AnalysisResult, error)
}

func (f *fakeAnalyzer) Analyze(_ context.Context, stockCode string, _ models.ReportType) (*models.AnalysisResult, error) {
	return f.fn(stockCode)
}

func okAnalyzer(score int) *fakeAnalyzer {
	return &fakeAnalyzer{fn: func(stockCode string) (*models.AnalysisResult, error) {
		return &models.AnalysisResult{
			Code:            stockCode,
			Name:            "Test Stock",
			SentimentScore:  score,
			OperationAdvice: "hold",
			AnalysisSummary: "steady",
		}, nil
	}}
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeNotifier) SendReport(_ context.Context, to string, _ models.AnalysisResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to)
	return nil
}

func (f *fakeNotifier) recipients() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func waitForTerminal(t *testing.T, svc *AnalysisService, taskID string) models.AnalysisTask {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		task, err := svc.Task(context.Background(), taskID)
		if err != nil {
			t.Fatalf("Task: %v", err)
		}
		if task.Status.Terminal() {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s never reached a terminal status", taskID)
	return models.AnalysisTask{}
}

func TestSubmitLifecycleSuccess(t *testing.T) {
	store := NewMemoryStore()
	user := newTestUser(t, store, "analyst")
	ledger := NewLedger(store, fixedBenefits{limit: models.UnlimitedDailyLimit})
	notifier := &fakeNotifier{}

	svc := NewAnalysisService(store, store, ledger, okAnalyzer(85), notifier, 2, 16)
	defer svc.Close()

	taskID, err := svc.Submit(context.Background(), SubmitRequest{
		UserID:     user.ID,
		StockCode:  "sh600519",
		ReportType: models.ReportSimple,
		SourceIP:   "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	task := waitForTerminal(t, svc, taskID)
	if task.Status != models.TaskCompleted {
		t.Fatalf("expected completed, got %s (%s)", task.Status, task.ErrorMessage)
	}
	if task.Result == nil || task.Result.SentimentScore != 85 {
		t.Fatalf("missing result: %+v", task.Result)
	}
	if task.Progress != 100 || task.CompletedCount != 1 {
		t.Fatalf("progress=%d completed=%d", task.Progress, task.CompletedCount)
	}
	if task.StartedAt == nil || task.CompletedAt == nil {
		t.Fatal("expected started/completed timestamps")
	}

	used, err := store.DailyAnalysisCount(context.Background(), user.ID, dayKey(time.Now()))
	if err != nil || used != 1 {
		t.Fatalf("expected 1 quota charge, got %d err=%v", used, err)
	}

	waitFor(t, func() bool { return store.AnalysisHistoryCount(user.ID) == 1 })
	waitFor(t, func() bool { return len(notifier.recipients()) == 1 })
	if got := notifier.recipients()[0]; got != "analyst@example.com" {
		t.Fatalf("report sent to %q", got)
	}

	// the history row carries the sentiment bucket
	recs, err := store.ListAnalysisHistory(context.Background(), user.ID, models.SentimentBullish, 10)
	if err != nil || len(recs) != 1 {
		t.Fatalf("expected 1 bullish record, got %d err=%v", len(recs), err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never satisfied")
}

func TestSubmitInvalidStockCode(t *testing.T) {
	store := NewMemoryStore()
	ledger := NewLedger(store, fixedBenefits{limit: models.UnlimitedDailyLimit})
	svc := NewAnalysisService(store, store, ledger, okAnalyzer(50), nil, 1, 4)
	defer svc.Close()

	for _, code := range []string{"", "abc", "12345", "us600519", "600519x"} {
		if _, err := svc.Submit(context.Background(), SubmitRequest{StockCode: code}); !errors.Is(err, ErrInvalidStockCode) {
			t.Fatalf("code %q: expected ErrInvalidStockCode, got %v", code, err)
		}
	}
}

func TestAnalyzerFailureMarksTaskFailed(t *testing.T) {
	store := NewMemoryStore()
	user := newTestUser(t, store, "analyst")
	ledger := NewLedger(store, fixedBenefits{limit: models.UnlimitedDailyLimit})
	analyzer := &fakeAnalyzer{fn: func(string) (*models.AnalysisResult, error) {
		return nil, errors.New("engine exploded")
	}}

	svc := NewAnalysisService(store, store, ledger, analyzer, &fakeNotifier{}, 1, 4)
	defer svc.Close()

	taskID, err := svc.Submit(context.Background(), SubmitRequest{UserID: user.ID, StockCode: "000001"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	task := waitForTerminal(t, svc, taskID)
	if task.Status != models.TaskFailed {
		t.Fatalf("expected failed, got %s", task.Status)
	}
	if !strings.Contains(task.ErrorMessage, "engine exploded") {
		t.Fatalf("error message lost: %q", task.ErrorMessage)
	}
	if task.FailedCount != 1 || task.Result != nil {
		t.Fatalf("failed task should carry no result: %+v", task)
	}

	// the admission charge is not refunded
	used, _ := store.DailyAnalysisCount(context.Background(), user.ID, dayKey(time.Now()))
	if used != 1 {
		t.Fatalf("expected charge to stick, got %d", used)
	}
	if store.AnalysisHistoryCount(user.ID) != 0 {
		t.Fatal("failed task must not write history")
	}
}

func TestSubmitQueueFull(t *testing.T) {
	store := NewMemoryStore()
	ledger := NewLedger(store, fixedBenefits{limit: models.UnlimitedDailyLimit})

	release := make(chan struct{})
	analyzer := &fakeAnalyzer{fn: func(stockCode string) (*models.AnalysisResult, error) {
		<-release
		return &models.AnalysisResult{Code: stockCode, SentimentScore: 50}, nil
	}}

	svc := NewAnalysisService(store, store, ledger, analyzer, nil, 1, 1)
	defer func() {
		close(release)
		svc.Close()
	}()

	// first submit is picked up by the worker, second parks in the queue
	if _, err := svc.Submit(context.Background(), SubmitRequest{StockCode: "600001"}); err != nil {
		t.Fatalf("submit 1: %v", err)
	}
	waitFor(t, func() bool { return len(svc.queue) == 0 })
	if _, err := svc.Submit(context.Background(), SubmitRequest{StockCode: "600002"}); err != nil {
		t.Fatalf("submit 2: %v", err)
	}

	taskID, err := svc.Submit(context.Background(), SubmitRequest{StockCode: "600003"})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got taskID=%q err=%v", taskID, err)
	}
}

type failingListStore struct {
	*MemoryStore
}

func (f *failingListStore) ListTasks(context.Context, int64, int) ([]models.AnalysisTask, error) {
	return nil, errors.New("store down")
}

func TestListTasksFallsBackToCache(t *testing.T) {
	mem := NewMemoryStore()
	user := newTestUser(t, mem, "analyst")
	ledger := NewLedger(mem, fixedBenefits{limit: models.UnlimitedDailyLimit})

	svc := NewAnalysisService(&failingListStore{mem}, mem, ledger, okAnalyzer(50), nil, 1, 8)
	defer svc.Close()

	var ids []string
	for _, code := range []string{"600001", "600002", "600003"} {
		id, err := svc.Submit(context.Background(), SubmitRequest{UserID: user.ID, StockCode: code})
		if err != nil {
			t.Fatalf("Submit %s: %v", code, err)
		}
		ids = append(ids, id)
	}
	for _, id := range ids {
		waitForTerminal(t, svc, id)
	}

	tasks, err := svc.ListTasks(context.Background(), user.ID, 2)
	if err != nil {
		t.Fatalf("ListTasks should degrade to cache, got %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 cached tasks, got %d", len(tasks))
	}
}

func TestTaskNotFound(t *testing.T) {
	store := NewMemoryStore()
	ledger := NewLedger(store, fixedBenefits{limit: models.UnlimitedDailyLimit})
	svc := NewAnalysisService(store, store, ledger, okAnalyzer(50), nil, 1, 4)
	defer svc.Close()

	if _, err := svc.Task(context.Background(), "600519_nope"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}
