package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// ConditionEvent is one market-creation event from the feed
type ConditionEvent struct {
	ConditionID string `json:"condition_id"`
	Creator     string `json:"creator"`
	Sequence    int64  `json:"sequence"`
}

// Source delivers condition-creation events: a bounded historical range plus a
// live subscription. Delivery is at-least-once and may overlap the replay.
type Source interface {
	FetchEvents(ctx context.Context, cursor int64, limit int) ([]ConditionEvent, error)
	Subscribe(ctx context.Context, from int64, handler func(ConditionEvent)) error
}

// Client polls the indexer HTTP feed for condition events
type Client struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	pageSize     int
}

type eventsResponse struct {
	Events []ConditionEvent `json:"events"`
	Next   int64            `json:"next"`
}

func NewClient(baseURL, apiKey string, pollInterval time.Duration, pageSize int) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:      baseURL,
		apiKey:       apiKey,
		pollInterval: pollInterval,
		pageSize:     pageSize,
	}
}

// FetchEvents returns up to limit events at or after the cursor
func (c *Client) FetchEvents(ctx context.Context, cursor int64, limit int) ([]ConditionEvent, error) {
	url := fmt.Sprintf("%s/events/conditions?from=%d&limit=%d", c.baseURL, cursor, limit)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("indexer API error: %d - %s", resp.StatusCode, string(body))
	}

	var result eventsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode events response: %w", err)
	}

	return result.Events, nil
}

// Subscribe polls the feed from the given cursor and invokes the handler for
// each event until the context is cancelled. Fetch errors are logged and the
// loop keeps going; the feed redelivers on the next poll.
func (c *Client) Subscribe(ctx context.Context, from int64, handler func(ConditionEvent)) error {
	cursor := from
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			events, err := c.FetchEvents(ctx, cursor, c.pageSize)
			if err != nil {
				log.Printf("[Indexer] Poll error at cursor %d: %v", cursor, err)
				continue
			}

			for _, event := range events {
				handler(event)
				if event.Sequence >= cursor {
					cursor = event.Sequence + 1
				}
			}
		}
	}
}
