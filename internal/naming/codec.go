package naming

import (
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	// NoTags is the tag token used when no tags could be derived.
	NoTags = "notags"

	// NoTagsDisplay is how NoTags is rendered to users.
	NoTagsDisplay = "no tags"

	// TagSeparator joins individual tags inside a tag token.
	TagSeparator = "-"

	displaySeparator = ", "
	dateLayout       = "20060102"
	bucketLayout     = "200601"
)

var (
	taggedPattern   = regexp.MustCompile(`^(\d{8})_([^_]+)_(.+)$`)
	datedPattern    = regexp.MustCompile(`^(\d{8})_(.+)$`)
	bucketPattern   = regexp.MustCompile(`^\d{6}$`)
	datePrefixMatch = regexp.MustCompile(`^\d{8}_`)
)

// Decoded holds the metadata recovered from a canonical name.
// Date is empty when the name carries no recognizable date.
type Decoded struct {
	Date        string
	TagsRaw     string
	TagsDisplay string
	Stem        string
	Ext         string
}

// HasTags reports whether the name carried a tag token other than NoTags.
func (d Decoded) HasTags() bool {
	return d.TagsRaw != "" && d.TagsRaw != NoTags
}

// Encode builds "{date8}_{tagToken}_{stem}{ext}".
// tagToken and stem must already be sanitized.
func Encode(date8, tagToken, stem, ext string) string {
	return date8 + "_" + tagToken + "_" + stem + ext
}

// Decode parses a canonical name, degrading gracefully for names that do not
// follow the full grammar. It never fails.
func Decode(name string) Decoded {
	base, ext := SplitExt(name)

	if m := taggedPattern.FindStringSubmatch(base); m != nil {
		return Decoded{
			Date:        m[1],
			TagsRaw:     m[2],
			TagsDisplay: DisplayTags(m[2]),
			Stem:        m[3],
			Ext:         ext,
		}
	}
	if m := datedPattern.FindStringSubmatch(base); m != nil {
		return Decoded{Date: m[1], Stem: m[2], Ext: ext}
	}
	return Decoded{Stem: base, Ext: ext}
}

// DisplayTags renders a tag token for humans.
func DisplayTags(tagToken string) string {
	if tagToken == "" {
		return ""
	}
	if tagToken == NoTags {
		return NoTagsDisplay
	}
	return strings.ReplaceAll(tagToken, TagSeparator, displaySeparator)
}

// SplitExt splits name into base and extension. An extension is a final dot
// followed by at least one non-dot character.
func SplitExt(name string) (string, string) {
	ext := filepath.Ext(name)
	if ext == "." || ext == name {
		return name, ""
	}
	return strings.TrimSuffix(name, ext), ext
}

// Date8 formats t as the 8-digit ingestion date.
func Date8(t time.Time) string {
	return t.Format(dateLayout)
}

// BucketLabel formats t as a YYYYMM period bucket label.
func BucketLabel(t time.Time) string {
	return t.Format(bucketLayout)
}

// IsBucketLabel reports whether s has the YYYYMM shape.
func IsBucketLabel(s string) bool {
	return bucketPattern.MatchString(s)
}

// BucketOf derives the period bucket from a canonical name's date prefix.
// It returns "" for names without one.
func BucketOf(name string) string {
	if !datePrefixMatch.MatchString(name) {
		return ""
	}
	return name[:6]
}
