package naming

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Byte caps for the parts of a canonical name. With the date prefix and
// separators a name is at most 246 bytes, within the 255-byte name limit
// of common filesystems.
const (
	MaxTagTokenBytes = 100
	MaxStemBytes     = 120
	MaxExtBytes      = 16
)

const stemPunct = "-_.()+"

// SanitizeStem maps an original file stem into the safe alphabet. Unsafe
// characters, including whitespace and path separators, become underscores.
// The result is cut to MaxStemBytes on a rune boundary.
func SanitizeStem(s string) string {
	return sanitizeStem(s, MaxStemBytes)
}

// SanitizeExt sanitizes an extension like SanitizeStem and returns it with
// its leading dot, or "" for no extension.
func SanitizeExt(ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		return ""
	}
	return "." + sanitizeStem(ext, MaxExtBytes-1)
}

func sanitizeStem(s string, maxBytes int) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if isWordRune(r) || strings.ContainsRune(stemPunct, r) {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	out := truncateBytes(b.String(), maxBytes)
	if strings.Trim(out, "_.") == "" {
		return "file"
	}
	return out
}

// SanitizeTags turns free-form tag text into a tag token. Separators
// (commas, whitespace, underscores, slashes) collapse into single hyphens and
// every other rune outside the safe alphabet is dropped. The result never
// contains an underscore and is at most MaxTagTokenBytes long. Empty input
// yields NoTags.
func SanitizeTags(raw string) string {
	if line, _, ok := strings.Cut(strings.TrimSpace(raw), "\n"); ok {
		raw = line
	}

	var b strings.Builder
	pendingSep := false
	for _, r := range raw {
		switch {
		case isWordRune(r):
			n := utf8.RuneLen(r)
			if pendingSep && b.Len() > 0 {
				n += len(TagSeparator)
			}
			if b.Len()+n > MaxTagTokenBytes {
				return finishTags(b.String())
			}
			if pendingSep && b.Len() > 0 {
				b.WriteString(TagSeparator)
			}
			pendingSep = false
			b.WriteRune(r)
		case isTagSeparator(r):
			pendingSep = true
		}
	}
	return finishTags(b.String())
}

// JoinTags sanitizes each tag and joins them into one token.
// The literal NoTags is passed through unchanged.
func JoinTags(tags []string) string {
	if len(tags) == 1 && strings.EqualFold(strings.TrimSpace(tags[0]), NoTags) {
		return NoTags
	}
	parts := make([]string, 0, len(tags))
	for _, tag := range tags {
		if t := SanitizeTags(tag); t != NoTags {
			parts = append(parts, t)
		}
	}
	if len(parts) == 0 {
		return NoTags
	}
	return SanitizeTags(strings.Join(parts, TagSeparator))
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func finishTags(s string) string {
	s = strings.Trim(s, TagSeparator)
	if s == "" {
		return NoTags
	}
	return s
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}

func isTagSeparator(r rune) bool {
	switch r {
	case '-', '_', ',', '/', '\\', '|', '、', '，', '・', ';':
		return true
	}
	return unicode.IsSpace(r)
}
