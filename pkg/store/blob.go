package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"pairchat/pkg/store/types"

	"github.com/sirupsen/logrus"
)

// Uploader stores attachment bytes and returns a stable public URL.
type Uploader interface {
	Upload(ctx context.Context, path string, data []byte) (string, error)
}

type blobClient struct {
	baseURL string
	bucket  string
	apiKey  string
	client  *http.Client
	logger  *logrus.Logger
}

// NewBlobClient builds an uploader against the store's blob API.
func NewBlobClient(baseURL, bucket, apiKey string, client *http.Client, logger *logrus.Logger) Uploader {
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	return &blobClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		bucket:  bucket,
		apiKey:  apiKey,
		client:  client,
		logger:  logger,
	}
}

func (c *blobClient) Upload(ctx context.Context, path string, data []byte) (string, error) {
	if path == "" {
		return "", fmt.Errorf("upload path is required")
	}
	if len(data) == 0 {
		return "", fmt.Errorf("upload data is empty")
	}

	endpoint := fmt.Sprintf("%s/storage/%s/%s", c.baseURL, url.PathEscape(c.bucket), escapeObjectPath(path))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeFor(path))
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.logger.WithFields(logrus.Fields{
		"bucket": c.bucket,
		"path":   path,
		"bytes":  len(data),
	}).Debug("Uploading attachment")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("blob API error: status %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	var result types.UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	if result.URL == "" {
		return "", fmt.Errorf("blob store returned no public URL")
	}

	return result.URL, nil
}

// escapeObjectPath escapes each path segment while keeping the separators,
// so nested object paths like "Lilly/1234_photo.jpg" survive.
func escapeObjectPath(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

func contentTypeFor(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
