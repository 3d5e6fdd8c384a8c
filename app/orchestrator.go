package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/alvin-junjun/ai-guzhi-analysis/app/models"
)

// DefaultWorkerCount bounds concurrent analyses when no override is set.
const DefaultWorkerCount = 3

const defaultQueueSize = 1024

var (
	ErrInvalidStockCode = errors.New("invalid stock code")
	ErrQueueFull        = errors.New("analysis queue is full, try again later")
)

// Analyzer produces a structured analysis for one stock.
type Analyzer interface {
	Analyze(ctx context.Context, stockCode string, reportType models.ReportType) (*models.AnalysisResult, error)
}

// Notifier delivers a completed-analysis report to the user.
type Notifier interface {
	SendReport(ctx context.Context, to string, result models.AnalysisResult) error
}

// SubmitRequest carries everything needed to admit one analysis task.
type SubmitRequest struct {
	UserID     int64 // 0 for anonymous
	StockCode  string
	ReportType models.ReportType
	SourceIP   string
	UserAgent  string
}

// AnalysisService admits analysis tasks, runs them on a bounded worker
// pool and tracks their lifecycle. Submitted tasks are served from an
// in-process cache first; the store is the durable fallback so status
// survives a restart.
type AnalysisService struct {
	store    TaskStore
	users    UserStore
	ledger   *Ledger
	analyzer Analyzer
	notifier Notifier

	queue chan string
	wg    sync.WaitGroup

	mu    sync.RWMutex
	cache map[string]models.AnalysisTask

	now func() time.Time
}

// NewAnalysisService starts workers goroutines draining the task queue.
func NewAnalysisService(store TaskStore, users UserStore, ledger *Ledger, analyzer Analyzer, notifier Notifier, workers, queueSize int) *AnalysisService {
	if workers <= 0 {
		workers = DefaultWorkerCount
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	s := &AnalysisService{
		store:    store,
		users:    users,
		ledger:   ledger,
		analyzer: analyzer,
		notifier: notifier,
		queue:    make(chan string, queueSize),
		cache:    make(map[string]models.AnalysisTask),
		now:      time.Now,
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	return s
}

// Submit validates and admits one analysis task. The quota charge happens
// here, at admission: a task that later fails in the worker stays charged.
// The returned task id can be polled immediately.
func (s *AnalysisService) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if !ValidStockCode(req.StockCode) {
		return "", ErrInvalidStockCode
	}

	now := s.now()
	task := models.AnalysisTask{
		TaskID:     newTaskID(req.StockCode, now),
		UserID:     req.UserID,
		Status:     models.TaskPending,
		StockCode:  req.StockCode,
		ReportType: req.ReportType,
		TotalCount: 1,
		CreatedAt:  now,
		SourceIP:   req.SourceIP,
		UserAgent:  req.UserAgent,
	}

	s.putCache(task)
	if err := s.store.CreateTask(ctx, task); err != nil {
		s.dropCache(task.TaskID)
		return "", fmt.Errorf("persisting task: %w", err)
	}

	if req.UserID != 0 {
		if _, err := s.ledger.ChargeOne(ctx, req.UserID); err != nil {
			s.finalize(task, models.TaskFailed, nil, "quota charge failed")
			return "", err
		}
	}

	select {
	case s.queue <- task.TaskID:
	default:
		s.finalize(task, models.TaskFailed, nil, ErrQueueFull.Error())
		return "", ErrQueueFull
	}

	log.Printf("task submitted: id=%s user=%d stock=%s", task.TaskID, req.UserID, req.StockCode)
	return task.TaskID, nil
}

func (s *AnalysisService) worker(id int) {
	defer s.wg.Done()
	for taskID := range s.queue {
		s.runTask(id, taskID)
	}
}

func (s *AnalysisService) runTask(workerID int, taskID string) {
	task, ok := s.getCache(taskID)
	if !ok {
		var err error
		task, err = s.store.GetTask(context.Background(), taskID)
		if err != nil {
			log.Printf("worker %d: task %s vanished: %v", workerID, taskID, err)
			return
		}
	}

	started := s.now()
	task.Status = models.TaskRunning
	task.StartedAt = &started
	s.saveTask(task)

	result, err := s.analyzer.Analyze(context.Background(), task.StockCode, task.ReportType)
	if err != nil {
		log.Printf("worker %d: analysis failed id=%s stock=%s: %v", workerID, task.TaskID, task.StockCode, err)
		s.finalize(task, models.TaskFailed, nil, err.Error())
		return
	}

	s.finalize(task, models.TaskCompleted, result, "")
	s.afterSuccess(task, *result)
}

// finalize moves a task to a terminal status in cache and store.
func (s *AnalysisService) finalize(task models.AnalysisTask, status models.TaskStatus, result *models.AnalysisResult, errMsg string) {
	done := s.now()
	task.Status = status
	task.CompletedAt = &done
	task.ErrorMessage = errMsg
	if status == models.TaskCompleted {
		task.Result = result
		task.Progress = 100
		task.CompletedCount = 1
	} else {
		task.FailedCount = 1
	}
	s.saveTask(task)
}

// afterSuccess runs the success-path side effects exactly once per task:
// the history record and the email report. Both are best effort; a failed
// side effect never flips a completed task back.
func (s *AnalysisService) afterSuccess(task models.AnalysisTask, result models.AnalysisResult) {
	ctx := context.Background()

	if task.UserID != 0 {
		rec := models.AnalysisHistory{
			UserID:       task.UserID,
			TaskID:       task.TaskID,
			StockCode:    result.Code,
			StockName:    result.Name,
			AnalysisDate: dayKey(s.now()),
			AISummary:    result.AnalysisSummary,
			Score:        result.SentimentScore,
			Sentiment:    sentimentFromScore(result.SentimentScore),
		}
		if err := s.store.SaveAnalysisHistory(ctx, rec); err != nil {
			log.Printf("saving history for task %s: %v", task.TaskID, err)
		}
	}

	if s.notifier == nil || task.UserID == 0 {
		return
	}
	user, err := s.users.UserByID(ctx, task.UserID)
	if err != nil || user.Email == "" {
		return
	}
	if err := s.notifier.SendReport(ctx, user.Email, result); err != nil {
		log.Printf("emailing report for task %s to %s: %v", task.TaskID, user.Email, err)
	}
}

// Task returns the current view of a task, cache first.
func (s *AnalysisService) Task(ctx context.Context, taskID string) (models.AnalysisTask, error) {
	if task, ok := s.getCache(taskID); ok {
		return task, nil
	}
	return s.store.GetTask(ctx, taskID)
}

// ListTasks lists tasks newest first. When the store is unavailable the
// listing degrades to the in-process cache instead of failing.
func (s *AnalysisService) ListTasks(ctx context.Context, userID int64, limit int) ([]models.AnalysisTask, error) {
	tasks, err := s.store.ListTasks(ctx, userID, limit)
	if err == nil {
		return tasks, nil
	}
	log.Printf("task listing fell back to cache: %v", err)

	s.mu.RLock()
	for _, t := range s.cache {
		if userID == 0 || t.UserID == userID {
			tasks = append(tasks, t)
		}
	}
	s.mu.RUnlock()

	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
		}
		return tasks[i].TaskID > tasks[j].TaskID
	})
	if limit > 0 && len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

// Close stops accepting work and waits for in-flight tasks to finish.
func (s *AnalysisService) Close() {
	close(s.queue)
	s.wg.Wait()
}

func (s *AnalysisService) saveTask(task models.AnalysisTask) {
	s.putCache(task)
	if err := s.store.UpdateTask(context.Background(), task); err != nil {
		log.Printf("persisting task %s update: %v", task.TaskID, err)
	}
}

func (s *AnalysisService) putCache(task models.AnalysisTask) {
	s.mu.Lock()
	s.cache[task.TaskID] = task
	s.mu.Unlock()
}

func (s *AnalysisService) getCache(taskID string) (models.AnalysisTask, bool) {
	s.mu.RLock()
	task, ok := s.cache[taskID]
	s.mu.RUnlock()
	return task, ok
}

func (s *AnalysisService) dropCache(taskID string) {
	s.mu.Lock()
	delete(s.cache, taskID)
	s.mu.Unlock()
}
