package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// WebhookTarget calls a remote target module over HTTP. The module receives
// the ApplyRequest as JSON and answers 2xx with {"recordId": "..."}; it owns
// idempotency for the key it is given.
type WebhookTarget struct {
	url    string
	client *http.Client
}

// NewWebhookTarget creates a target posting to url. The caller's per-call
// context carries the deadline, so the client itself has no timeout.
func NewWebhookTarget(url string) *WebhookTarget {
	return &WebhookTarget{
		url:    url,
		client: &http.Client{},
	}
}

func (t *WebhookTarget) ApplyAction(ctx context.Context, req ApplyRequest) (ApplyResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("marshal apply request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return ApplyResult{}, fmt.Errorf("build apply request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("call target %s: %w", req.TargetModule, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return ApplyResult{}, fmt.Errorf("target %s returned %d: %s", req.TargetModule, resp.StatusCode, snippet)
	}

	var result ApplyResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return ApplyResult{}, fmt.Errorf("decode target %s response: %w", req.TargetModule, err)
	}
	if result.RecordID == "" {
		return ApplyResult{}, fmt.Errorf("target %s returned no record id", req.TargetModule)
	}
	return result, nil
}
