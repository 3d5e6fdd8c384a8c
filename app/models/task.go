// Package models defines the persisted record types for tasks, orders,
// memberships and usage counters.
package models

import "time"

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Terminal reports whether a task in this status may never change again.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

type ReportType string

const (
	ReportSimple ReportType = "simple"
	ReportFull   ReportType = "full"
)

// ReportTypeFromString maps user input onto a known report type,
// defaulting to the simple report.
func ReportTypeFromString(s string) ReportType {
	if ReportType(s) == ReportFull {
		return ReportFull
	}
	return ReportSimple
}

// AnalysisResult is the structured payload returned by the analysis engine.
type AnalysisResult struct {
	Code            string `json:"code"`
	Name            string `json:"name"`
	SentimentScore  int    `json:"sentiment_score"`
	OperationAdvice string `json:"operation_advice"`
	TrendPrediction string `json:"trend_prediction,omitempty"`
	AnalysisSummary string `json:"analysis_summary,omitempty"`
}

// AnalysisTask is one admitted unit of analysis work. UserID 0 means the
// task was submitted anonymously.
type AnalysisTask struct {
	TaskID         string          `json:"task_id"`
	UserID         int64           `json:"user_id,omitempty"`
	Status         TaskStatus      `json:"status"`
	StockCode      string          `json:"stock_code"`
	ReportType     ReportType      `json:"report_type"`
	TotalCount     int             `json:"total_count"`
	CompletedCount int             `json:"completed_count"`
	FailedCount    int             `json:"failed_count"`
	Progress       int             `json:"progress"`
	Result         *AnalysisResult `json:"result,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	SourceIP       string          `json:"source_ip,omitempty"`
	UserAgent      string          `json:"user_agent,omitempty"`
}

type Sentiment string

const (
	SentimentBullish Sentiment = "bullish"
	SentimentNeutral Sentiment = "neutral"
	SentimentBearish Sentiment = "bearish"
)

// AnalysisHistory is the per-user record persisted after a completed
// analysis, used for history listing and score-based filtering.
type AnalysisHistory struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	TaskID       string    `json:"task_id"`
	StockCode    string    `json:"stock_code"`
	StockName    string    `json:"stock_name"`
	AnalysisDate string    `json:"analysis_date"` // YYYY-MM-DD
	AISummary    string    `json:"ai_summary,omitempty"`
	Score        int       `json:"score"`
	Sentiment    Sentiment `json:"sentiment"`
	CreatedAt    time.Time `json:"created_at"`
}
