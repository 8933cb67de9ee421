package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Entry is one settlement decision record, upserted by condition id
type Entry struct {
	ConditionID string    `json:"condition_id"`
	Question    string    `json:"question"`
	Answer      string    `json:"answer"`
	Reasoning   string    `json:"reasoning"`
	AskedAt     time.Time `json:"asked_at"`
	ResolvedAt  time.Time `json:"resolved_at"`
}

// Sink records settlement decisions in a remote structured store. Callers
// treat failures as non-critical: log and continue, never abort settlement.
type Sink interface {
	Record(ctx context.Context, entry Entry) error
}

// Client is the HTTP audit sink implementation
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

// Record upserts the entry keyed by condition id
func (c *Client) Record(ctx context.Context, entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	url := fmt.Sprintf("%s/records/%s", c.baseURL, entry.ConditionID)
	req, err := http.NewRequestWithContext(ctx, "PUT", url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call audit sink: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("audit sink error: %d - %s", resp.StatusCode, string(body))
	}

	return nil
}

// NopSink discards audit entries; used when no sink is configured
type NopSink struct{}

func (NopSink) Record(ctx context.Context, entry Entry) error {
	log.Printf("[Audit] Sink disabled, dropping record for %s", entry.ConditionID)
	return nil
}
