package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

var (
	fakeParentRe = regexp.MustCompile(`^'((?:[^'\\]|\\.)*)' in parents`)
	fakeNameRe   = regexp.MustCompile(` name = '((?:[^'\\]|\\.)*)'`)
	fakeMimeEqRe = regexp.MustCompile(`mimeType = '([^']*)'`)
	fakeMimeNeRe = regexp.MustCompile(`mimeType != '([^']*)'`)
	fakeUnescape = strings.NewReplacer(`\\`, `\`, `\'`, `'`)
)

type fakeEntry struct {
	file    *drive.File
	parent  string
	content []byte
}

// fakeDrive is an in-memory driveFiles understanding the query shapes the
// remote backend issues.
type fakeDrive struct {
	mu       sync.Mutex
	entries  map[string]*fakeEntry
	seq      int
	pageSize int
	calls    map[string]int

	uploadErr error
	listErr   error
}

func newFakeDrive() *fakeDrive {
	return &fakeDrive{entries: map[string]*fakeEntry{}, pageSize: 2, calls: map[string]int{}}
}

func (f *fakeDrive) add(parent, name, mimeType string, content []byte) *drive.File {
	f.seq++
	file := &drive.File{
		Id:           fmt.Sprintf("id-%03d", f.seq),
		Name:         name,
		MimeType:     mimeType,
		Size:         int64(len(content)),
		CreatedTime:  time.Date(2025, 5, 1, 0, 0, f.seq, 0, time.UTC).Format(time.RFC3339),
		ModifiedTime: time.Date(2025, 5, 1, 0, 0, f.seq, 0, time.UTC).Format(time.RFC3339),
	}
	f.entries[file.Id] = &fakeEntry{file: file, parent: parent, content: content}
	return file
}

func (f *fakeDrive) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeDrive) List(_ context.Context, query, pageToken string) (*drive.FileList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["list"]++
	if f.listErr != nil {
		return nil, f.listErr
	}

	var parent, name, mimeEq, mimeNe string
	if m := fakeParentRe.FindStringSubmatch(query); m != nil {
		parent = fakeUnescape.Replace(m[1])
	}
	if m := fakeNameRe.FindStringSubmatch(query); m != nil {
		name = fakeUnescape.Replace(m[1])
	}
	if m := fakeMimeEqRe.FindStringSubmatch(query); m != nil {
		mimeEq = m[1]
	}
	if m := fakeMimeNeRe.FindStringSubmatch(query); m != nil {
		mimeNe = m[1]
	}

	var matched []*drive.File
	for _, e := range f.entries {
		if parent != "" && e.parent != parent {
			continue
		}
		if name != "" && e.file.Name != name {
			continue
		}
		if mimeEq != "" && e.file.MimeType != mimeEq {
			continue
		}
		if mimeNe != "" && e.file.MimeType == mimeNe {
			continue
		}
		copied := *e.file
		matched = append(matched, &copied)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Id < matched[j].Id })

	start := 0
	if pageToken != "" {
		fmt.Sscanf(pageToken, "%d", &start)
	}
	end := start + f.pageSize
	next := ""
	if end < len(matched) {
		next = fmt.Sprintf("%d", end)
	} else {
		end = len(matched)
	}
	return &drive.FileList{Files: matched[start:end], NextPageToken: next}, nil
}

func (f *fakeDrive) CreateFolder(_ context.Context, parentID, name string) (*drive.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["create_folder"]++
	copied := *f.add(parentID, name, folderMimeType, nil)
	return &copied, nil
}

func (f *fakeDrive) Upload(_ context.Context, parentID, name, mimeType string, r io.Reader) (*drive.File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["upload"]++
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	copied := *f.add(parentID, name, mimeType, data)
	return &copied, nil
}

func (f *fakeDrive) Download(_ context.Context, id string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok {
		return nil, &googleapi.Error{Code: http.StatusNotFound}
	}
	return io.NopCloser(bytes.NewReader(e.content)), nil
}

func (f *fakeDrive) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["delete"]++
	if _, ok := f.entries[id]; !ok {
		return &googleapi.Error{Code: http.StatusNotFound}
	}
	delete(f.entries, id)
	return nil
}

func (f *fakeDrive) Rename(_ context.Context, id, name string) (*drive.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok {
		return nil, errors.New("missing")
	}
	e.file.Name = name
	copied := *e.file
	return &copied, nil
}
