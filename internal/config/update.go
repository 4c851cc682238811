package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Update is a partial change. Nil fields are left untouched.
type Update struct {
	ActiveBackend           *string
	LocalRoot               *string
	RemoteRootFolderID      *string
	RemoteBucketingEnabled  *bool
	TaggingModelID          *string
	CredentialsPath         *string
	AdminRoles              []string
	AllowedExtensions       []string
	MaxDownloadBytes        *int64
	StagingDir              *string
	RemoteParallelism       *int
	RemoteRequestsPerSecond *float64
}

// Ptr returns a pointer to v, for building Updates.
func Ptr[T any](v T) *T { return &v }

// Apply returns c with u applied.
func (u Update) Apply(c Config) Config {
	c = c.Clone()
	if u.ActiveBackend != nil {
		c.ActiveBackend = *u.ActiveBackend
	}
	if u.LocalRoot != nil {
		c.LocalRoot = *u.LocalRoot
	}
	if u.RemoteRootFolderID != nil {
		c.RemoteRootFolderID = *u.RemoteRootFolderID
	}
	if u.RemoteBucketingEnabled != nil {
		c.RemoteBucketingEnabled = *u.RemoteBucketingEnabled
	}
	if u.TaggingModelID != nil {
		c.TaggingModelID = *u.TaggingModelID
	}
	if u.CredentialsPath != nil {
		c.CredentialsPath = *u.CredentialsPath
	}
	if u.AdminRoles != nil {
		c.AdminRoles = append([]string{}, u.AdminRoles...)
	}
	if u.AllowedExtensions != nil {
		c.AllowedExtensions = append([]string{}, u.AllowedExtensions...)
	}
	if u.MaxDownloadBytes != nil {
		c.MaxDownloadBytes = *u.MaxDownloadBytes
	}
	if u.StagingDir != nil {
		c.StagingDir = *u.StagingDir
	}
	if u.RemoteParallelism != nil {
		c.RemoteParallelism = *u.RemoteParallelism
	}
	if u.RemoteRequestsPerSecond != nil {
		c.RemoteRequestsPerSecond = *u.RemoteRequestsPerSecond
	}
	return c
}

// ParseUpdate builds an Update from a "key value" pair as typed by an
// operator. Lists are comma separated; "null" or "" clears the remote root
// folder id.
func ParseUpdate(key, value string) (Update, error) {
	value = strings.TrimSpace(value)
	var u Update
	switch key {
	case "activeBackend":
		u.ActiveBackend = Ptr(strings.ToLower(value))
	case "localRoot":
		u.LocalRoot = Ptr(value)
	case "remoteRootFolderId":
		if value == "null" {
			value = ""
		}
		u.RemoteRootFolderID = Ptr(value)
	case "remoteBucketingEnabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return Update{}, fmt.Errorf("%w: %s must be true or false", ErrConfig, key)
		}
		u.RemoteBucketingEnabled = &b
	case "taggingModelId":
		u.TaggingModelID = Ptr(value)
	case "credentialsPath":
		u.CredentialsPath = Ptr(value)
	case "adminRoles":
		u.AdminRoles = splitList(value)
	case "allowedExtensions":
		u.AllowedExtensions = splitList(value)
	case "maxDownloadBytes":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return Update{}, fmt.Errorf("%w: %s must be an integer", ErrConfig, key)
		}
		u.MaxDownloadBytes = &n
	case "stagingDir":
		u.StagingDir = Ptr(value)
	case "remoteParallelism":
		n, err := strconv.Atoi(value)
		if err != nil {
			return Update{}, fmt.Errorf("%w: %s must be an integer", ErrConfig, key)
		}
		u.RemoteParallelism = &n
	case "remoteRequestsPerSecond":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return Update{}, fmt.Errorf("%w: %s must be a number", ErrConfig, key)
		}
		u.RemoteRequestsPerSecond = &f
	default:
		return Update{}, fmt.Errorf("%w: unknown key %q (known keys: %s)", ErrConfig, key, strings.Join(Keys(), ", "))
	}
	return u, nil
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
