package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pairchat/pkg/store/types"

	"github.com/sirupsen/logrus"
)

// Client is the remote message store's row API.
type Client interface {
	InsertMessage(ctx context.Context, req types.InsertRequest) (*types.MessageRow, error)
	UpdateMessage(ctx context.Context, id string, req types.UpdateRequest) error
	MarkRead(ctx context.Context, id string) error
	MarkSenderRead(ctx context.Context, sender string) error
	ListMessages(ctx context.Context) ([]types.MessageRow, error)
}

type httpClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *logrus.Logger
}

// NewClient builds a store client over HTTP.
func NewClient(baseURL, apiKey string, client *http.Client, logger *logrus.Logger) Client {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	return &httpClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
		logger:  logger,
	}
}

func (c *httpClient) InsertMessage(ctx context.Context, req types.InsertRequest) (*types.MessageRow, error) {
	c.logger.WithFields(logrus.Fields{
		"sender":   req.Sender,
		"has_file": req.FileURL != nil,
	}).Debug("Inserting message row")

	var row types.MessageRow
	if err := c.do(ctx, http.MethodPost, "/messages", req, &row); err != nil {
		return nil, err
	}
	return &row, nil
}

func (c *httpClient) UpdateMessage(ctx context.Context, id string, req types.UpdateRequest) error {
	if id == "" {
		return fmt.Errorf("message id is required")
	}
	return c.do(ctx, http.MethodPatch, "/messages/"+url.PathEscape(id), req, nil)
}

func (c *httpClient) MarkRead(ctx context.Context, id string) error {
	status := types.StatusRead
	return c.UpdateMessage(ctx, id, types.UpdateRequest{Status: &status})
}

// MarkSenderRead transitions all of the given sender's sent/delivered rows
// to read. Used once per session as the catch-up sweep.
func (c *httpClient) MarkSenderRead(ctx context.Context, sender string) error {
	if sender == "" {
		return fmt.Errorf("sender is required")
	}

	payload := struct {
		Sender string `json:"sender"`
	}{Sender: sender}

	return c.do(ctx, http.MethodPost, "/messages/read-sweep", payload, nil)
}

func (c *httpClient) ListMessages(ctx context.Context) ([]types.MessageRow, error) {
	var rows []types.MessageRow
	if err := c.do(ctx, http.MethodGet, "/messages", nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *httpClient) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("store API error: status %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
