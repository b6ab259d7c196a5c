package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"shopfront/chatsync/pkg/config"
	"shopfront/chatsync/pkg/logger"
)

// Client talks to the storefront REST API. The chat layer only needs the
// read-receipt endpoint; everything else about the storefront API is out of
// scope here.
type Client struct {
	client  *http.Client
	baseURL string
	logger  *logger.Logger
}

// NewClient creates a REST client against the configured API base URL.
func NewClient(log *logger.Logger) *Client {
	cfg := config.Get()
	baseURL := cfg.Chat.APIBaseURL
	if baseURL == "" {
		baseURL = "http://localhost:8081" // fallback
	}
	if log == nil {
		log = logger.GetGlobal()
	}
	return &Client{
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: baseURL,
		logger:  log,
	}
}

// NewClientWithBaseURL is used by tests and the CLI to point at a specific server.
func NewClientWithBaseURL(baseURL string, log *logger.Logger) *Client {
	c := NewClient(log)
	c.baseURL = baseURL
	return c
}

type markReadRequest struct {
	UserID string `json:"user_id"`
}

// MarkRead posts a read receipt for one message. It is fired in parallel with
// the socket-side mark-as-read frame; neither path is relied on for
// exactly-once delivery.
func (c *Client) MarkRead(ctx context.Context, messageID, userID string) error {
	body, err := json.Marshal(markReadRequest{UserID: userID})
	if err != nil {
		return fmt.Errorf("error marshaling mark-read request: %w", err)
	}

	url := c.baseURL + "/messages/" + messageID + "/mark-read"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("error response: %s, status: %d", string(bodyBytes), resp.StatusCode)
	}

	return nil
}
