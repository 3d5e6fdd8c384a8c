package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/alvin-junjun/ai-guzhi-analysis/app/models"
)

// httpc is package-level so tests can swap in a mock transport.
var httpc = &http.Client{Timeout: 120 * time.Second}

type httpError struct {
	Status int
	Body   string
}

func (e httpError) Error() string { return fmt.Sprintf("http %d: %s", e.Status, e.Body) }

// EngineClient calls the upstream AI analysis engine over HTTP.
type EngineClient struct {
	baseURL string
}

func NewEngineClient(baseURL string) *EngineClient {
	return &EngineClient{baseURL: baseURL}
}

type engineRequest struct {
	StockCode  string `json:"stock_code"`
	ReportType string `json:"report_type"`
}

func (c *EngineClient) Analyze(ctx context.Context, stockCode string, reportType models.ReportType) (*models.AnalysisResult, error) {
	body, err := json.Marshal(engineRequest{StockCode: stockCode, ReportType: string(reportType)})
	if err != nil {
		return nil, err
	}

	var result models.AnalysisResult
	if err := postJSON(ctx, c.baseURL+"/analyze", body, &result); err != nil {
		return nil, fmt.Errorf("engine analyze %s: %w", stockCode, err)
	}
	if result.Code == "" {
		result.Code = stockCode
	}
	return &result, nil
}

func postJSON(ctx context.Context, url string, body []byte, v any) error {
	// basic retry for 429/5xx
	var last httpError
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		res, err := httpc.Do(req)
		if err != nil {
			return err
		}

		if res.StatusCode == http.StatusOK {
			err := json.NewDecoder(res.Body).Decode(v)
			res.Body.Close()
			return err
		}

		// capture body (truncated) for error clarity
		var msg struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(res.Body).Decode(&msg)
		res.Body.Close()
		last = httpError{Status: res.StatusCode, Body: msg.Message}

		if res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500 {
			time.Sleep(time.Duration(250*(attempt+1)) * time.Millisecond)
			continue
		}
		break
	}
	return last
}

var _ Analyzer = (*EngineClient)(nil)
