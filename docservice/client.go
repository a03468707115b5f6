// Package docservice is the HTTP client for the external document
// generation service that merges field values into petition templates.
package docservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"petition-hand/config"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

// Client wraps the document generation service API.
type Client struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewClient creates a document service client.
func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	return &Client{Config: cfg, Logger: logger}
}

type submitRequest struct {
	Template string            `json:"template"`
	Fields   map[string]string `json:"fields"`
	Token    string            `json:"token,omitempty"`
}

type submitResponse struct {
	Success bool   `json:"success"`
	TaskID  string `json:"task_id"`
	Error   string `json:"error"`
}

// Submit posts the full field map for asynchronous generation and returns
// the remote task id.
func (c *Client) Submit(ctx context.Context, templateSlug string, fields map[string]string) (string, error) {
	payload, err := json.Marshal(submitRequest{
		Template: templateSlug,
		Fields:   fields,
		Token:    c.Config.DocServiceToken,
	})
	if err != nil {
		return "", err
	}

	url := c.Config.DocServiceBaseURL + "/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("document service returned status %d", resp.StatusCode)
	}

	var sr submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", err
	}
	if sr.TaskID == "" {
		if sr.Error != "" {
			return "", fmt.Errorf("document service rejected submission: %s", sr.Error)
		}
		return "", fmt.Errorf("document service returned no task id")
	}

	c.Logger.Debug("generation task submitted",
		zap.String("template", templateSlug), zap.String("task_id", sr.TaskID))
	return sr.TaskID, nil
}

// TaskStatus is one progress report from the document service.
type TaskStatus struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Link     string `json:"link,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Status polls the remote task state.
func (c *Client) Status(ctx context.Context, taskID string) (*TaskStatus, error) {
	url := fmt.Sprintf("%s/task-status/%s", c.Config.DocServiceBaseURL, taskID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("task status request failed with status %d", resp.StatusCode)
	}

	var ts TaskStatus
	if err := json.NewDecoder(resp.Body).Decode(&ts); err != nil {
		return nil, err
	}
	return &ts, nil
}

// Fetch downloads a generated document for archival.
func (c *Client) Fetch(ctx context.Context, link string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("document download failed with status %d", resp.StatusCode)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
