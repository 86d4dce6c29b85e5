package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const maxPosterBytes = 5 << 20

var (
	ErrNotImage       = errors.New("remote file is not an image")
	ErrPosterTooLarge = errors.New("poster exceeds size limit")
	ErrInvalidID      = errors.New("invalid movie id")
)

var posterExtensions = []string{".jpg", ".png", ".webp", ".gif"}

type poster struct {
	filename    string
	contentType string
}

// PosterStore downloads each poster once and serves later requests from disk.
// Files are named after the movie id, so stored posters survive restarts.
type PosterStore struct {
	storage    Storage
	httpClient *http.Client
	maxBytes   int64
	now        func() time.Time

	mu    sync.RWMutex
	index map[string]poster
	group singleflight.Group
}

func NewPosterStore(storage Storage, httpClient *http.Client) *PosterStore {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &PosterStore{
		storage:    storage,
		httpClient: httpClient,
		maxBytes:   maxPosterBytes,
		now:        time.Now,
		index:      make(map[string]poster),
	}
}

// Open returns the stored poster for id, fetching it from sourceURL first if
// it has not been stored yet. The caller closes the returned file.
func (ps *PosterStore) Open(ctx context.Context, id, sourceURL string) (io.ReadSeekCloser, string, error) {
	if !validID(id) {
		return nil, "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	p, err := ps.ensure(ctx, id, sourceURL)
	if err != nil {
		return nil, "", err
	}

	f, err := ps.storage.OpenFile(p.filename)
	if err != nil {
		ps.forget(id)
		return nil, "", err
	}
	return f, p.contentType, nil
}

// Purge deletes posters stored more than olderThan ago. Zero deletes all.
func (ps *PosterStore) Purge(olderThan time.Duration) (int, error) {
	files, err := ps.storage.ListFiles()
	if err != nil {
		return 0, err
	}

	cutoff := ps.now().Add(-olderThan)
	removed := 0
	for _, f := range files {
		if olderThan > 0 && !f.ModTime.Before(cutoff) {
			continue
		}
		if err := ps.storage.DeleteFile(f.Filename); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return removed, err
		}
		ps.forgetFile(f.Filename)
		removed++
	}
	return removed, nil
}

func (ps *PosterStore) ensure(ctx context.Context, id, sourceURL string) (poster, error) {
	ps.mu.RLock()
	p, ok := ps.index[id]
	ps.mu.RUnlock()
	if ok {
		return p, nil
	}

	v, err, _ := ps.group.Do(id, func() (any, error) {
		p, ok := ps.stored(id)
		if !ok {
			var err error
			if p, err = ps.fetch(ctx, id, sourceURL); err != nil {
				return poster{}, err
			}
		}
		ps.mu.Lock()
		ps.index[id] = p
		ps.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return poster{}, err
	}
	return v.(poster), nil
}

// stored finds a poster saved by an earlier run.
func (ps *PosterStore) stored(id string) (poster, bool) {
	for _, ext := range posterExtensions {
		f, err := ps.storage.OpenFile(id + ext)
		if err != nil {
			continue
		}
		f.Close()
		return poster{filename: id + ext, contentType: mime.TypeByExtension(ext)}, true
	}
	return poster{}, false
}

func (ps *PosterStore) fetch(ctx context.Context, id, sourceURL string) (poster, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return poster{}, fmt.Errorf("creating request: %w", err)
	}

	resp, err := ps.httpClient.Do(req)
	if err != nil {
		return poster{}, fmt.Errorf("fetching poster: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return poster{}, fmt.Errorf("poster host returned status %d", resp.StatusCode)
	}

	contentType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if !strings.HasPrefix(contentType, "image/") {
		return poster{}, ErrNotImage
	}
	if resp.ContentLength > ps.maxBytes {
		return poster{}, fmt.Errorf("%w: %d bytes", ErrPosterTooLarge, resp.ContentLength)
	}

	filename, err := ps.storage.SaveFile(&cappedReader{r: resp.Body, remaining: ps.maxBytes}, FileInfo{
		Filename:    id + extensionFor(contentType),
		ContentType: contentType,
		Size:        resp.ContentLength,
	})
	if err != nil {
		return poster{}, err
	}

	return poster{filename: filename, contentType: contentType}, nil
}

func (ps *PosterStore) forget(id string) {
	ps.mu.Lock()
	delete(ps.index, id)
	ps.mu.Unlock()
}

func (ps *PosterStore) forgetFile(filename string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for id, p := range ps.index {
		if p.filename == filename {
			delete(ps.index, id)
		}
	}
}

// cappedReader fails once more than remaining bytes have been read.
type cappedReader struct {
	r         io.Reader
	remaining int64
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if int64(len(p)) > c.remaining+1 {
		p = p[:c.remaining+1]
	}
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	if c.remaining < 0 {
		return n, ErrPosterTooLarge
	}
	return n, err
}

func validID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return false
		}
	}
	return true
}
