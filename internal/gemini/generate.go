package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Part is one element of a content turn
type Part struct {
	Text     string    `json:"text,omitempty"`
	FileData *FileData `json:"fileData,omitempty"`
}

// FileData references an uploaded file
type FileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri"`
}

// Content is a single conversation turn
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// SafetySetting overrides a harm-category threshold
type SafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

// GenerationConfig holds generation parameters
type GenerationConfig struct {
	ResponseMimeType string `json:"responseMimeType,omitempty"`
}

// GenerateRequest is the generateContent request body
type GenerateRequest struct {
	Contents         []Content         `json:"contents"`
	SafetySettings   []SafetySetting   `json:"safetySettings,omitempty"`
	GenerationConfig *GenerationConfig `json:"generationConfig,omitempty"`
}

// Candidate is one generated answer
type Candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason"`
}

// PromptFeedback reports whether the prompt itself was blocked
type PromptFeedback struct {
	BlockReason string `json:"blockReason"`
}

// GenerateResponse is the generateContent response body
type GenerateResponse struct {
	Candidates     []Candidate     `json:"candidates"`
	PromptFeedback *PromptFeedback `json:"promptFeedback,omitempty"`
}

// Text concatenates the text parts of the first candidate
func (r *GenerateResponse) Text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, part := range r.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return b.String()
}

// Model describes a generative model
type Model struct {
	Name                       string   `json:"name"`
	DisplayName                string   `json:"displayName"`
	Description                string   `json:"description"`
	SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
}

// ID returns the model name without the "models/" prefix
func (m Model) ID() string {
	return strings.TrimPrefix(m.Name, "models/")
}

// SupportsGenerateContent reports whether the model can be used for tagging
func (m Model) SupportsGenerateContent() bool {
	for _, method := range m.SupportedGenerationMethods {
		if method == "generateContent" {
			return true
		}
	}
	return false
}

// ListModelsResponse represents the response from listing models
type ListModelsResponse struct {
	Models        []Model `json:"models"`
	NextPageToken string  `json:"nextPageToken"`
}

// blockNone disables every adjustable safety filter, matching how the bot
// has always called the model.
var blockNone = []SafetySetting{
	{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_NONE"},
}

// GenerateContent runs a model over the given contents
func (c *Client) GenerateContent(ctx context.Context, model string, genReq *GenerateRequest) (*GenerateResponse, error) {
	body, err := json.Marshal(genReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	path := "/v1beta/" + modelPath(model) + ":generateContent"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path, nil), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var genResp GenerateResponse
	if err := c.do(req, "generate", &genResp); err != nil {
		return nil, err
	}
	return &genResp, nil
}

// ListModels lists one page of models
func (c *Client) ListModels(ctx context.Context, pageToken string) (*ListModelsResponse, error) {
	q := url.Values{}
	q.Set("pageSize", "100")
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/v1beta/models", q), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	var listResp ListModelsResponse
	if err := c.do(req, "list models", &listResp); err != nil {
		return nil, err
	}
	return &listResp, nil
}

// ListAllModels lists all models (handles pagination)
func (c *Client) ListAllModels(ctx context.Context) ([]Model, error) {
	var all []Model
	pageToken := ""
	for {
		resp, err := c.ListModels(ctx, pageToken)
		if err != nil {
			return nil, err
		}
		all = append(all, resp.Models...)
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}
	return all, nil
}

// GetModel gets a model by name, with or without the "models/" prefix
func (c *Client) GetModel(ctx context.Context, name string) (*Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/v1beta/"+modelPath(name), nil), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	var m Model
	if err := c.do(req, "get model", &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func modelPath(name string) string {
	if strings.HasPrefix(name, "models/") {
		return name
	}
	return "models/" + name
}
