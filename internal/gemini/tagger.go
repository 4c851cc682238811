package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/takeshy/tagstash/internal/metrics"
	"github.com/takeshy/tagstash/internal/naming"
)

// Sentinel answers meaning the model could not find anything to tag.
const (
	SentinelNoTagsJA = "タグ抽出不可"
	SentinelNoTagsEN = "NO_TAGS"
)

const (
	DefaultModel      = "gemini-1.5-flash-latest"
	DefaultTagTimeout = 60 * time.Second
	cleanupTimeout    = 15 * time.Second
	defaultPollPeriod = 2 * time.Second
)

// DefaultPrompt is sent with every file unless replaced with WithPrompt.
const DefaultPrompt = `Look at the attached file and reply with 3 to 5 short keywords describing its content.
Separate keywords with hyphens, use no spaces or underscores, and output nothing else.
If you cannot determine any keywords, reply with exactly: ` + SentinelNoTagsJA

// Fallback reasons recorded when a file ends up untagged.
const (
	reasonDisabled = "disabled"
	reasonUpload   = "upload"
	reasonProcess  = "processing"
	reasonGenerate = "generate"
	reasonBlocked  = "blocked"
	reasonSentinel = "sentinel"
	reasonEmpty    = "empty"
)

var errBlocked = errors.New("response blocked")

// Tagger turns a staged file into a sanitized tag token.
// A nil client disables tagging and every call yields naming.NoTags.
type Tagger struct {
	client     *Client
	prompt     string
	timeout    time.Duration
	pollPeriod time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu    sync.RWMutex
	model string
}

// TaggerOption configures a Tagger
type TaggerOption func(*Tagger)

// WithPrompt replaces the instruction prompt. Empty prompts are ignored.
func WithPrompt(prompt string) TaggerOption {
	return func(t *Tagger) {
		if p := strings.TrimSpace(prompt); p != "" {
			t.prompt = p
		}
	}
}

// WithTimeout sets the per-call deadline
func WithTimeout(d time.Duration) TaggerOption {
	return func(t *Tagger) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithPollPeriod sets how often a processing upload is re-checked
func WithPollPeriod(d time.Duration) TaggerOption {
	return func(t *Tagger) {
		if d > 0 {
			t.pollPeriod = d
		}
	}
}

func WithLogger(l *slog.Logger) TaggerOption {
	return func(t *Tagger) {
		if l != nil {
			t.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) TaggerOption {
	return func(t *Tagger) { t.metrics = m }
}

// NewTagger creates a tagger using the given model
func NewTagger(client *Client, model string, opts ...TaggerOption) *Tagger {
	if model == "" {
		model = DefaultModel
	}
	t := &Tagger{
		client:     client,
		model:      model,
		prompt:     DefaultPrompt,
		timeout:    DefaultTagTimeout,
		pollPeriod: defaultPollPeriod,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// LoadPrompt reads a prompt file, returning "" when it is missing or empty.
func LoadPrompt(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read prompt file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Enabled reports whether an API client is configured
func (t *Tagger) Enabled() bool {
	return t.client != nil
}

// Model returns the model currently used for tagging
func (t *Tagger) Model() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.model
}

// SetModel switches to another model after checking it supports generateContent.
// It returns the normalized model id.
func (t *Tagger) SetModel(ctx context.Context, name string) (string, error) {
	if t.client == nil {
		return "", fmt.Errorf("tagging is disabled: no API key configured")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("model name is required")
	}
	m, err := t.client.GetModel(ctx, name)
	if err != nil {
		return "", fmt.Errorf("failed to get model %s: %w", name, err)
	}
	if !m.SupportsGenerateContent() {
		return "", fmt.Errorf("model %s does not support generateContent", m.ID())
	}
	id := m.ID()
	t.mu.Lock()
	t.model = id
	t.mu.Unlock()
	t.logger.Info("tagging model changed", "model", id)
	return id, nil
}

// UseModel switches models without asking the API, for ids that come from
// trusted configuration.
func (t *Tagger) UseModel(id string) {
	if id = strings.TrimSpace(id); id == "" {
		return
	}
	t.mu.Lock()
	t.model = strings.TrimPrefix(id, "models/")
	t.mu.Unlock()
}

// ListModels returns the models usable for tagging
func (t *Tagger) ListModels(ctx context.Context) ([]Model, error) {
	if t.client == nil {
		return nil, fmt.Errorf("tagging is disabled: no API key configured")
	}
	all, err := t.client.ListAllModels(ctx)
	if err != nil {
		return nil, err
	}
	var usable []Model
	for _, m := range all {
		if m.SupportsGenerateContent() {
			usable = append(usable, m)
		}
	}
	return usable, nil
}

// Tag returns a tag token for the file at path. Any failure degrades to
// naming.NoTags; errors never leave this method.
func (t *Tagger) Tag(ctx context.Context, path, displayName, mimeType string) string {
	if t.client == nil {
		t.fallback(reasonDisabled, displayName, nil)
		return naming.NoTags
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	uploaded, err := t.client.UploadFile(ctx, path, displayName, mimeType)
	if err != nil {
		t.fallback(reasonUpload, displayName, err)
		return naming.NoTags
	}
	defer t.cleanup(ctx, uploaded.Name)

	file, err := t.client.WaitForActive(ctx, uploaded.Name, t.pollPeriod)
	if err != nil {
		t.fallback(reasonProcess, displayName, err)
		return naming.NoTags
	}
	if file.URI == "" {
		file.URI = uploaded.URI
	}
	if file.MimeType == "" {
		file.MimeType = mimeType
	}

	text, err := t.generate(ctx, file)
	if errors.Is(err, errBlocked) {
		t.fallback(reasonBlocked, displayName, err)
		return naming.NoTags
	}
	if err != nil {
		t.fallback(reasonGenerate, displayName, err)
		return naming.NoTags
	}

	if isSentinel(text) {
		t.fallback(reasonSentinel, displayName, nil)
		return naming.NoTags
	}
	token := naming.SanitizeTags(text)
	if token == naming.NoTags {
		t.fallback(reasonEmpty, displayName, nil)
		return naming.NoTags
	}
	t.logger.Debug("tags generated", "file", displayName, "tags", token, "model", t.Model())
	return token
}

func (t *Tagger) generate(ctx context.Context, file *FileResponse) (string, error) {
	req := &GenerateRequest{
		Contents: []Content{{
			Role: "user",
			Parts: []Part{
				{Text: t.prompt},
				{FileData: &FileData{MimeType: file.MimeType, FileURI: file.URI}},
			},
		}},
		SafetySettings:   blockNone,
		GenerationConfig: &GenerationConfig{ResponseMimeType: "text/plain"},
	}
	resp, err := t.client.GenerateContent(ctx, t.Model(), req)
	if err != nil {
		return "", err
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: %s", errBlocked, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason == "SAFETY" {
		return "", fmt.Errorf("%w: SAFETY", errBlocked)
	}
	return resp.Text(), nil
}

// cleanup removes the uploaded copy even when ctx has already expired.
func (t *Tagger) cleanup(ctx context.Context, name string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := t.client.DeleteFile(ctx, name); err != nil {
		t.logger.Warn("failed to delete uploaded file", "name", name, "error", err)
	}
}

func (t *Tagger) fallback(reason, displayName string, err error) {
	t.metrics.TaggingFallback(reason)
	if err != nil {
		t.logger.Warn("tagging failed, using notags", "file", displayName, "reason", reason, "error", err)
		return
	}
	t.logger.Info("no tags for file", "file", displayName, "reason", reason)
}

func isSentinel(text string) bool {
	s := strings.TrimSpace(text)
	return s == SentinelNoTagsJA || strings.EqualFold(s, SentinelNoTagsEN) || strings.EqualFold(s, naming.NoTags)
}
