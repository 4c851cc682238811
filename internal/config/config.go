package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrConfig reports a malformed or invalid configuration.
var ErrConfig = errors.New("invalid configuration")

const (
	BackendLocal  = "local"
	BackendRemote = "remote"
)

// Config holds every persisted setting.
type Config struct {
	ActiveBackend           string   `json:"activeBackend"`
	LocalRoot               string   `json:"localRoot"`
	RemoteRootFolderID      string   `json:"remoteRootFolderId"`
	RemoteBucketingEnabled  bool     `json:"remoteBucketingEnabled"`
	TaggingModelID          string   `json:"taggingModelId"`
	CredentialsPath         string   `json:"credentialsPath"`
	AdminRoles              []string `json:"adminRoles"`
	AllowedExtensions       []string `json:"allowedExtensions"`
	MaxDownloadBytes        int64    `json:"maxDownloadBytes"`
	StagingDir              string   `json:"stagingDir"`
	RemoteParallelism       int      `json:"remoteParallelism"`
	RemoteRequestsPerSecond float64  `json:"remoteRequestsPerSecond"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		ActiveBackend:          BackendLocal,
		LocalRoot:              "uploads",
		RemoteBucketingEnabled: true,
		TaggingModelID:         "gemini-1.5-flash-latest",
		CredentialsPath:        "credentials.json",
		AdminRoles:             []string{"admin"},
		AllowedExtensions: []string{
			".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp",
			".mp4", ".mov", ".avi", ".mkv", ".webm",
		},
		MaxDownloadBytes:        8 << 20,
		RemoteParallelism:       4,
		RemoteRequestsPerSecond: 10,
	}
}

// Clone returns a deep copy.
func (c Config) Clone() Config {
	c.AdminRoles = slices.Clone(c.AdminRoles)
	c.AllowedExtensions = slices.Clone(c.AllowedExtensions)
	return c
}

// Validate checks values that cannot be defaulted.
func (c Config) Validate() error {
	var errs []error
	switch c.ActiveBackend {
	case BackendLocal, BackendRemote:
	default:
		errs = append(errs, fmt.Errorf("activeBackend must be %q or %q, got %q", BackendLocal, BackendRemote, c.ActiveBackend))
	}
	if strings.TrimSpace(c.LocalRoot) == "" {
		errs = append(errs, errors.New("localRoot must not be empty"))
	}
	if strings.TrimSpace(c.TaggingModelID) == "" {
		errs = append(errs, errors.New("taggingModelId must not be empty"))
	}
	if c.MaxDownloadBytes < 0 {
		errs = append(errs, errors.New("maxDownloadBytes must not be negative"))
	}
	if c.RemoteParallelism < 1 {
		errs = append(errs, errors.New("remoteParallelism must be at least 1"))
	}
	if c.RemoteRequestsPerSecond < 0 {
		errs = append(errs, errors.New("remoteRequestsPerSecond must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return nil
}

// IsAdmin reports whether any of roles is an admin role.
func (c Config) IsAdmin(roles []string) bool {
	for _, r := range roles {
		if slices.Contains(c.AdminRoles, r) {
			return true
		}
	}
	return false
}

// fields renders c as raw JSON values keyed by their config names. An empty
// remote root folder id is written as null.
func (c Config) fields() (map[string]json.RawMessage, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if c.RemoteRootFolderID == "" {
		out["remoteRootFolderId"] = json.RawMessage("null")
	}
	return out, nil
}

// Keys lists the recognized configuration keys.
func Keys() []string {
	f, _ := Defaults().fields()
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
