// One-off local run: submits a single analysis against the configured
// engine and prints the result, bypassing the HTTP surface.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"github.com/alvin-junjun/ai-guzhi-analysis/app"
	"github.com/alvin-junjun/ai-guzhi-analysis/app/config"
	"github.com/alvin-junjun/ai-guzhi-analysis/app/models"
)

func main() {
	stockCode := flag.String("stock", "sh600519", "stock code to analyze")
	reportType := flag.String("report", "simple", "report type: simple or full")
	flag.Parse()

	start := time.Now()
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	client := app.NewEngineClient(cfg.Engine.URL)
	result, err := client.Analyze(ctx, *stockCode, models.ReportTypeFromString(*reportType))
	if err != nil {
		log.Fatalf("analysis failed: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		log.Fatalf("failed to print result: %v", err)
	}
	log.Printf("Took %s", time.Since(start))
}
