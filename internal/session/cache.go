package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lshigami/safetycert/internal/model"
)

// CacheVersion is bumped whenever the layout of CacheEntry changes. Entries written
// with another version are ignored on load.
const CacheVersion = 2

// CacheEntry is the local fallback copy of unsaved answers for one (test, user).
type CacheEntry struct {
	Version   int             `json:"version"`
	AttemptID string          `json:"attempt_id"`
	Answers   model.AnswerSet `json:"answers"`
	StartedAt time.Time       `json:"started_at"`
	SavedAt   time.Time       `json:"saved_at"`
}

// Cache is advisory storage. The attempt store always wins on conflict.
type Cache interface {
	// Load returns nil without error when there is no usable entry.
	Load(testID, userID string) (*CacheEntry, error)
	Store(testID, userID string, entry CacheEntry) error
	Delete(testID, userID string) error
}

func cacheKey(testID, userID string) string {
	return sanitize(testID) + "__" + sanitize(userID)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]CacheEntry
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]CacheEntry)}
}

func (c *MemoryCache) Load(testID, userID string) (*CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[cacheKey(testID, userID)]
	if !ok || e.Version != CacheVersion {
		return nil, nil
	}
	return &e, nil
}

func (c *MemoryCache) Store(testID, userID string, entry CacheEntry) error {
	if entry.Version == 0 {
		entry.Version = CacheVersion
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(testID, userID)] = entry
	return nil
}

func (c *MemoryCache) Delete(testID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey(testID, userID))
	return nil
}

// FileCache keeps one JSON file per (test, user) under Dir.
type FileCache struct {
	Dir string
	mu  sync.Mutex
}

func NewFileCache(dir string) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &FileCache{Dir: dir}, nil
}

func (c *FileCache) path(testID, userID string) string {
	return filepath.Join(c.Dir, cacheKey(testID, userID)+".json")
}

func (c *FileCache) Load(testID, userID string) (*CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := os.ReadFile(c.path(testID, userID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache entry: %w", err)
	}
	var e CacheEntry
	if err := json.Unmarshal(data, &e); err != nil || e.Version != CacheVersion {
		// unreadable or foreign entries are treated as absent
		return nil, nil
	}
	return &e, nil
}

func (c *FileCache) Store(testID, userID string, entry CacheEntry) error {
	if entry.Version == 0 {
		entry.Version = CacheVersion
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	target := c.path(testID, userID)
	tmp, err := os.CreateTemp(c.Dir, ".entry-*")
	if err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write cache entry: %w", err)
	}
	return os.Rename(tmp.Name(), target)
}

func (c *FileCache) Delete(testID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := os.Remove(c.path(testID, userID))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
