// Package notify posts run summaries to configured webhook endpoints.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/initializ/slipway/logging"
	"github.com/initializ/slipway/pipeline"
)

// Webhook posts a JSON run summary to every configured URL. Delivery is
// advisory: one slow or broken endpoint must never block a deployment, so
// callers run it under fail-soft policy or a bounded context.
type Webhook struct {
	urls   []string
	client *http.Client
	logger logging.Logger
}

func NewWebhook(urls []string, logger logging.Logger) *Webhook {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Webhook{
		urls:   urls,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

type stageSummary struct {
	Stage    string           `json:"stage"`
	Outcome  pipeline.Outcome `json:"outcome"`
	Duration string           `json:"duration"`
	Retries  int              `json:"retries,omitempty"`
}

type payload struct {
	Event       string          `json:"event"`
	RunID       string          `json:"run_id"`
	Revision    string          `json:"revision"`
	Environment string          `json:"environment,omitempty"`
	Status      pipeline.Status `json:"status"`
	Error       string          `json:"error,omitempty"`
	Stages      []stageSummary  `json:"stages"`
}

func summarize(run *pipeline.Run) payload {
	event := "deploy.succeeded"
	if run.Status == pipeline.StatusFailed {
		event = "deploy.failed"
	}
	p := payload{
		Event:       event,
		RunID:       run.ID,
		Revision:    run.Revision,
		Environment: run.Environment,
		Status:      run.Status,
		Error:       run.Error,
	}
	for _, res := range run.Results {
		p.Stages = append(p.Stages, stageSummary{
			Stage:    res.Stage,
			Outcome:  res.Outcome,
			Duration: res.Duration().Round(time.Millisecond).String(),
			Retries:  res.Retries,
		})
	}
	return p
}

// NotifyRun posts the summary to every endpoint. Every endpoint is attempted
// even when an earlier one fails; the returned error counts the failures.
func (w *Webhook) NotifyRun(ctx context.Context, run *pipeline.Run) error {
	body, err := json.Marshal(summarize(run))
	if err != nil {
		return fmt.Errorf("encoding run summary: %w", err)
	}

	var failed int
	for _, url := range w.urls {
		if err := w.post(ctx, url, body); err != nil {
			failed++
			w.logger.Warn("notification failed", map[string]any{"url": url, "error": err.Error()})
		}
	}
	if failed > 0 {
		return fmt.Errorf("notify: %d of %d endpoint(s) failed", failed, len(w.urls))
	}
	return nil
}

func (w *Webhook) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned %s", resp.Status)
	}
	return nil
}
