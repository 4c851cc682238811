package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"github.com/takeshy/tagstash/internal/storage"
)

// Front-end limits for suggestion lists.
const (
	MaxCandidates = 25
	MaxLabelRunes = 100
	MaxValueRunes = 100
	ellipsis      = "…"
	ellipsisRunes = 1

	// A shortened name ends in digestMarker plus the first digestLen hex
	// digits of the full name's SHA-256, which Resolve matches on.
	digestMarker = ellipsis + "~"
	digestLen    = 8
)

// Candidate is one autocomplete suggestion. Value is what gets submitted
// back and always resolves through Service.Resolve.
type Candidate struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// AutocompleteBuckets suggests YYYYMM bucket labels containing partial,
// newest first.
func (s *Service) AutocompleteBuckets(ctx context.Context, partial string) ([]Candidate, error) {
	b, err := s.backend()
	if err != nil {
		return nil, err
	}
	labels, err := s.periodBuckets(ctx, b)
	if err != nil {
		return nil, err
	}
	partial = strings.TrimSpace(partial)
	var out []Candidate
	for _, l := range labels {
		if !strings.Contains(l, partial) {
			continue
		}
		out = append(out, Candidate{Label: l, Value: l})
		if len(out) == MaxCandidates {
			break
		}
	}
	return out, nil
}

// AutocompleteFiles suggests files whose names contain partialName. When
// partialBucket names an existing bucket only that bucket is searched;
// otherwise every bucket containing partialBucket is, newest first. An empty
// partialName suggests nothing.
func (s *Service) AutocompleteFiles(ctx context.Context, partialBucket, partialName string) ([]Candidate, error) {
	b, err := s.backend()
	if err != nil {
		return nil, err
	}
	partialBucket = strings.TrimSpace(partialBucket)
	partialName = strings.TrimSpace(partialName)
	if partialName == "" {
		return nil, nil
	}
	labels, err := s.periodBuckets(ctx, b)
	if err != nil {
		return nil, err
	}

	var buckets []string
	for _, l := range labels {
		if l == partialBucket {
			buckets = []string{l}
			break
		}
		if strings.Contains(l, partialBucket) {
			buckets = append(buckets, l)
		}
	}

	var out []Candidate
	for _, bucket := range buckets {
		files, err := b.List(ctx, bucket, partialName)
		if err != nil {
			s.logger.Warn("autocomplete listing failed", "bucket", bucket, "error", err)
			continue
		}
		for _, f := range files {
			out = append(out, fileCandidate(f))
			if len(out) == MaxCandidates {
				return out, nil
			}
		}
	}
	return out, nil
}

// fileCandidate shortens the name once and uses the result in both the
// label and the value.
func fileCandidate(f storage.FileRef) Candidate {
	suffix := " (" + f.Bucket + ")"
	prefix := f.Bucket + "/"
	room := min(MaxLabelRunes-utf8.RuneCountInString(suffix), MaxValueRunes-utf8.RuneCountInString(prefix))
	short := shortenName(f.Name, room)
	return Candidate{
		Label: short + suffix,
		Value: prefix + short,
	}
}

// shortenName fits name into max runes. A cut name keeps its head and ends
// in a digest of the full name, so names sharing a long prefix stay distinct.
func shortenName(name string, max int) string {
	if utf8.RuneCountInString(name) <= max {
		return name
	}
	tail := digestMarker + nameDigest(name)
	room := max - utf8.RuneCountInString(tail)
	if room < 1 {
		return truncateRunes(name, max)
	}
	return string([]rune(name)[:room]) + tail
}

func nameDigest(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:])[:digestLen]
}

// splitDigest parses a name produced by shortenName.
func splitDigest(name string) (head, digest string, ok bool) {
	i := strings.LastIndex(name, digestMarker)
	if i < 0 {
		return "", "", false
	}
	digest = name[i+len(digestMarker):]
	if len(digest) != digestLen {
		return "", "", false
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", "", false
	}
	return name[:i], digest, true
}

// truncateRunes cuts s to at most max runes, ending in an ellipsis when cut.
func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	if max <= ellipsisRunes {
		return string([]rune(s)[:max])
	}
	return string([]rune(s)[:max-ellipsisRunes]) + ellipsis
}
