package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/deusflow/crisiswatch/internal/news"
)

type fileState struct {
	Sent    []news.SentRecord `json:"sent"`
	Scalars map[string]string `json:"scalars"`
}

// FileStore keeps sent records in a JSON file. An empty path keeps
// everything in memory, which is what tests and dry runs use.
type FileStore struct {
	filePath string
	mu       sync.RWMutex
	byURL    map[string]news.SentRecord
	scalars  map[string]string
}

// OpenFileStore loads filePath if it exists.
func OpenFileStore(filePath string) (*FileStore, error) {
	fs := &FileStore{
		filePath: filePath,
		byURL:    make(map[string]news.SentRecord),
		scalars:  make(map[string]string),
	}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *FileStore) load() error {
	if fs.filePath == "" {
		return nil
	}
	data, err := os.ReadFile(fs.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read store file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var st fileState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("failed to unmarshal store: %w", err)
	}
	for _, rec := range st.Sent {
		fs.byURL[rec.URL] = rec
	}
	for k, v := range st.Scalars {
		fs.scalars[k] = v
	}
	return nil
}

// save writes through a temp file so a crash never leaves half a document.
// Callers hold fs.mu.
func (fs *FileStore) save() error {
	if fs.filePath == "" {
		return nil
	}
	st := fileState{Sent: fs.sortedLocked(), Scalars: fs.scalars}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store: %w", err)
	}
	if dir := filepath.Dir(fs.filePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create store dir: %w", err)
		}
	}
	tmp := fs.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write store file: %w", err)
	}
	if err := os.Rename(tmp, fs.filePath); err != nil {
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	return nil
}

// sortedLocked returns records newest first.
func (fs *FileStore) sortedLocked() []news.SentRecord {
	out := make([]news.SentRecord, 0, len(fs.byURL))
	for _, rec := range fs.byURL {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SentAt.Equal(out[j].SentAt) {
			return out[i].URL < out[j].URL
		}
		return out[i].SentAt.After(out[j].SentAt)
	})
	return out
}

func (fs *FileStore) InsertSent(_ context.Context, rec news.SentRecord) (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, ok := fs.byURL[rec.URL]; ok {
		return false, nil
	}
	fs.byURL[rec.URL] = rec
	if err := fs.save(); err != nil {
		return true, err
	}
	return true, nil
}

func (fs *FileStore) SentURL(_ context.Context, url string) (bool, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	_, ok := fs.byURL[url]
	return ok, nil
}

func (fs *FileStore) TitleHashSeen(_ context.Context, hash string, since time.Time) (bool, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	for _, rec := range fs.byURL {
		if rec.TitleHash == hash && !rec.SentAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (fs *FileStore) CountSent(_ context.Context, from, to time.Time) (int, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	n := 0
	for _, rec := range fs.byURL {
		if !rec.SentAt.Before(from) && rec.SentAt.Before(to) {
			n++
		}
	}
	return n, nil
}

func (fs *FileStore) RecentTitles(_ context.Context, since time.Time, limit int) ([]string, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	var titles []string
	for _, rec := range fs.sortedLocked() {
		if rec.SentAt.Before(since) {
			break
		}
		titles = append(titles, rec.Title)
		if limit > 0 && len(titles) == limit {
			break
		}
	}
	return titles, nil
}

func (fs *FileStore) Scalar(_ context.Context, name string) (string, bool, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	v, ok := fs.scalars[name]
	return v, ok, nil
}

func (fs *FileStore) SetScalar(_ context.Context, name, value string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.scalars[name] = value
	return fs.save()
}

func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.save()
}
