package app

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/alvin-junjun/ai-guzhi-analysis/app/models"
)

// Stock codes are six digits, optionally prefixed with an exchange marker
// (sh/sz/bj), e.g. "600519" or "sz000001".
var reStockCode = regexp.MustCompile(`^(?:sh|sz|bj)?\d{6}$`)

// ValidStockCode reports whether the identifier looks like an A-share code.
func ValidStockCode(code string) bool {
	return reStockCode.MatchString(strings.ToLower(strings.TrimSpace(code)))
}

// newTaskID builds a creation-time-sortable id: the UTC timestamp sorts
// lexicographically and the random suffix keeps ids unique within a tick.
func newTaskID(code string, now time.Time) string {
	return fmt.Sprintf("%s_%s_%s",
		code,
		now.UTC().Format("20060102150405.000000000"),
		randomHex(3),
	)
}

// newOrderNo generates an order number like M20240102150405A1B2C3D4.
func newOrderNo(now time.Time) string {
	return "M" + now.UTC().Format("20060102150405") + strings.ToUpper(randomHex(4))
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// rand.Read only fails when the OS entropy source is broken;
		// fall back to a timestamp-derived suffix.
		return fmt.Sprintf("%x", time.Now().UnixNano()&0xffffff)
	}
	return hex.EncodeToString(buf)
}

// dayKey is the calendar-date key used for the daily usage ledger.
func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// sentimentFromScore buckets an analysis score for history filtering.
func sentimentFromScore(score int) models.Sentiment {
	switch {
	case score >= 70:
		return models.SentimentBullish
	case score <= 30:
		return models.SentimentBearish
	default:
		return models.SentimentNeutral
	}
}

// converts string to int safely
func parsePositiveInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	if err != nil {
		return 0, err
	}
	return n, nil
}
