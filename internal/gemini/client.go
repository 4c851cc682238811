package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com"

// File states reported by the Files API.
const (
	StateProcessing = "PROCESSING"
	StateActive     = "ACTIVE"
	StateFailed     = "FAILED"
)

// Client is a Gemini API client
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithBaseURL points the client at a different API host (used in tests)
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// FileResponse represents a file in Gemini
type FileResponse struct {
	Name           string `json:"name"`
	DisplayName    string `json:"displayName"`
	MimeType       string `json:"mimeType"`
	SizeBytes      string `json:"sizeBytes"`
	CreateTime     string `json:"createTime"`
	UpdateTime     string `json:"updateTime"`
	ExpirationTime string `json:"expirationTime"`
	SHA256Hash     string `json:"sha256Hash"`
	URI            string `json:"uri"`
	State          string `json:"state"`
}

// UploadResponse represents the response from file upload
type UploadResponse struct {
	File FileResponse `json:"file"`
}

// NewClient creates a new Gemini API client
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UploadFile uploads a file to Gemini
func (c *Client) UploadFile(ctx context.Context, filePath string, displayName string, mimeType string) (*FileResponse, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	if displayName == "" {
		displayName = filepath.Base(filePath)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	metadataField, err := writer.CreateFormField("metadata")
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata field: %w", err)
	}
	metadata := map[string]interface{}{
		"file": map[string]string{
			"display_name": displayName,
		},
	}
	if err := json.NewEncoder(metadataField).Encode(metadata); err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}

	fileField, err := writer.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return nil, fmt.Errorf("failed to create file field: %w", err)
	}
	if _, err := io.Copy(fileField, file); err != nil {
		return nil, fmt.Errorf("failed to copy file content: %w", err)
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/upload/v1beta/files", nil), &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Goog-Upload-Protocol", "multipart")
	req.Header.Set("X-Goog-Upload-Header-Content-Length", fmt.Sprintf("%d", fileInfo.Size()))
	if mimeType != "" {
		req.Header.Set("X-Goog-Upload-Header-Content-Type", mimeType)
	}

	var uploadResp UploadResponse
	if err := c.do(req, "upload", &uploadResp); err != nil {
		return nil, err
	}
	return &uploadResp.File, nil
}

// GetFile gets a file by name
func (c *Client) GetFile(ctx context.Context, name string) (*FileResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/v1beta/"+name, nil), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	var fileResp FileResponse
	if err := c.do(req, "get", &fileResp); err != nil {
		return nil, err
	}
	return &fileResp, nil
}

// WaitForActive polls a file until it leaves the PROCESSING state
func (c *Client) WaitForActive(ctx context.Context, name string, interval time.Duration) (*FileResponse, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		f, err := c.GetFile(ctx, name)
		if err != nil {
			return nil, err
		}
		switch f.State {
		case StateActive, "":
			return f, nil
		case StateFailed:
			return nil, fmt.Errorf("file %s failed processing", name)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// DeleteFile deletes a file by name
func (c *Client) DeleteFile(ctx context.Context, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.url("/v1beta/"+name, nil), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("delete failed with status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (c *Client) url(path string, query url.Values) string {
	if query == nil {
		query = url.Values{}
	}
	query.Set("key", c.apiKey)
	return c.baseURL + path + "?" + query.Encode()
}

// do sends req and decodes a 200 JSON response into out
func (c *Client) do(req *http.Request, op string, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s failed with status %d: %s", op, resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
