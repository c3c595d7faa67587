package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/you/accountportal/domain"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPEvaluator calls a remote scoring service:
// POST {identifier, timestamp} -> {suspicious, reason, score}
type HTTPEvaluator struct {
	url    string
	client *http.Client
}

type assessRequest struct {
	Identifier string `json:"identifier"`
	Timestamp  string `json:"timestamp"`
}

type assessResponse struct {
	Suspicious *bool    `json:"suspicious"`
	Reason     string   `json:"reason"`
	Score      *float64 `json:"score"`
}

// NewHTTPEvaluator creates an evaluator for url. The caller bounds each call with its context.
func NewHTTPEvaluator(url string, client *http.Client) *HTTPEvaluator {
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &HTTPEvaluator{url: url, client: client}
}

// Assess implements domain.RiskEvaluator
func (e *HTTPEvaluator) Assess(ctx context.Context, identifier string, at time.Time) (domain.RiskAssessment, error) {
	body, err := json.Marshal(assessRequest{
		Identifier: identifier,
		Timestamp:  at.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return domain.RiskAssessment{}, fmt.Errorf("failed to encode risk request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return domain.RiskAssessment{}, fmt.Errorf("%w: %w", domain.ErrEvaluatorUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return domain.RiskAssessment{}, fmt.Errorf("%w: %w", domain.ErrEvaluatorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return domain.RiskAssessment{}, fmt.Errorf("%w: unexpected status %d", domain.ErrEvaluatorUnavailable, resp.StatusCode)
	}

	var out assessResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&out); err != nil {
		return domain.RiskAssessment{}, fmt.Errorf("%w: malformed response: %w", domain.ErrEvaluatorUnavailable, err)
	}
	if out.Suspicious == nil || out.Score == nil {
		return domain.RiskAssessment{}, fmt.Errorf("%w: response is missing fields", domain.ErrEvaluatorUnavailable)
	}

	assessment := domain.RiskAssessment{Suspicious: *out.Suspicious, Reason: out.Reason, Score: *out.Score}
	if err := assessment.Validate(); err != nil {
		return domain.RiskAssessment{}, err
	}
	return assessment, nil
}
