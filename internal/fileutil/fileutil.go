package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// FileInfo represents information about a file
type FileInfo struct {
	Path     string
	Size     int64
	MimeType string
}

// Category groups extensions for display.
type Category string

const (
	CategoryImage    Category = "image"
	CategoryVideo    Category = "video"
	CategoryDocument Category = "document"
	CategoryOther    Category = "other"
)

var mimeTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".txt":  "text/plain",
	".md":   "text/markdown",
	".pdf":  "application/pdf",
	".doc":  "application/msword",
}

var icons = map[Category]string{
	CategoryImage:    "🖼️",
	CategoryVideo:    "🎬",
	CategoryDocument: "📄",
	CategoryOther:    "📁",
}

// DiscoverFiles expands paths into regular files. Directories are walked
// recursively; anything matching an exclude pattern is skipped, and when
// accept is non-nil only names it accepts are returned.
func DiscoverFiles(paths []string, excludePatterns []string, accept func(name string) bool) ([]FileInfo, error) {
	// Compile exclude patterns
	excludeRegexps := make([]*regexp.Regexp, 0, len(excludePatterns))
	for _, pattern := range excludePatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
		}
		excludeRegexps = append(excludeRegexps, re)
	}
	excluded := func(path string) bool {
		for _, re := range excludeRegexps {
			if re.MatchString(path) {
				return true
			}
		}
		return false
	}

	var files []FileInfo

	for _, p := range paths {
		absPath, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path for %q: %w", p, err)
		}

		err = filepath.Walk(absPath, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}

			if info.IsDir() {
				if path != absPath && (excluded(path) || strings.HasPrefix(info.Name(), ".")) {
					return filepath.SkipDir
				}
				return nil
			}

			if !info.Mode().IsRegular() || excluded(path) {
				return nil
			}
			if accept != nil && !accept(info.Name()) {
				return nil
			}

			files = append(files, FileInfo{
				Path:     path,
				Size:     info.Size(),
				MimeType: DetectMimeType(path),
			})

			return nil
		})

		if err != nil {
			return nil, fmt.Errorf("failed to walk %q: %w", p, err)
		}
	}

	return files, nil
}

// DetectMimeType detects MIME type based on file extension
func DetectMimeType(path string) string {
	if mime, ok := mimeTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return mime
	}
	return "application/octet-stream"
}

// CategoryOf classifies a file name by extension.
func CategoryOf(name string) Category {
	mime := DetectMimeType(name)
	switch {
	case strings.HasPrefix(mime, "image/"):
		return CategoryImage
	case strings.HasPrefix(mime, "video/"):
		return CategoryVideo
	case mime == "application/octet-stream":
		return CategoryOther
	default:
		return CategoryDocument
	}
}

// Icon returns the emoji shown next to a file name.
func Icon(name string) string {
	return icons[CategoryOf(name)]
}
