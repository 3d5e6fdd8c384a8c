package app

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/alvin-junjun/ai-guzhi-analysis/app/models"
)

// SMTPNotifier emails analysis reports through a plain SMTP relay.
type SMTPNotifier struct {
	host     string
	port     string
	username string
	password string
	from     string
}

func NewSMTPNotifier(host, port, username, password, from string) *SMTPNotifier {
	if from == "" {
		from = username
	}
	return &SMTPNotifier{host: host, port: port, username: username, password: password, from: from}
}

func (n *SMTPNotifier) SendReport(_ context.Context, to string, result models.AnalysisResult) error {
	subject := fmt.Sprintf("%s(%s) analysis report: %s", result.Name, result.Code, result.OperationAdvice)
	body := renderReport(result)

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", n.from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n")
	msg.WriteString(body)

	auth := smtp.PlainAuth("", n.username, n.password, n.host)
	addr := n.host + ":" + n.port
	if err := smtp.SendMail(addr, auth, n.from, []string{to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}
	return nil
}

func renderReport(r models.AnalysisResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Stock: %s (%s)\n", r.Name, r.Code)
	fmt.Fprintf(&b, "Sentiment score: %d (%s)\n", r.SentimentScore, sentimentFromScore(r.SentimentScore))
	fmt.Fprintf(&b, "Advice: %s\n", r.OperationAdvice)
	if r.TrendPrediction != "" {
		fmt.Fprintf(&b, "Trend: %s\n", r.TrendPrediction)
	}
	if r.AnalysisSummary != "" {
		fmt.Fprintf(&b, "\n%s\n", r.AnalysisSummary)
	}
	return b.String()
}

var _ Notifier = (*SMTPNotifier)(nil)
