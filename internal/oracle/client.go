package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Decision is the oracle's verdict for a market question. A nil Answer means
// the oracle could not determine an outcome.
type Decision struct {
	Answer    *string `json:"answer"`
	Reasoning string  `json:"reasoning"`
}

// Decider is the exact contract the settlement pipeline needs from the
// decision oracle; test doubles implement the same interface.
type Decider interface {
	Decide(ctx context.Context, question string, outcomes []string) (*Decision, error)
}

// Client calls the decision oracle HTTP API
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

type decideRequest struct {
	Question string   `json:"question"`
	Outcomes []string `json:"outcomes"`
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

// Decide asks the oracle to pick one of the given outcomes for the question
func (c *Client) Decide(ctx context.Context, question string, outcomes []string) (*Decision, error) {
	payload, err := json.Marshal(decideRequest{
		Question: question,
		Outcomes: outcomes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/decide", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call oracle: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("oracle API error: %d - %s", resp.StatusCode, string(body))
	}

	var decision Decision
	if err := json.NewDecoder(resp.Body).Decode(&decision); err != nil {
		return nil, fmt.Errorf("failed to decode oracle response: %w", err)
	}

	return &decision, nil
}
