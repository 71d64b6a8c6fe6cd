package space

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileCatalog serves spaces from a directory of JSON files and caches them.
type FileCatalog struct {
	dir    string
	spaces map[string]Space
	mu     sync.RWMutex
}

// NewFileCatalog creates a catalog over dir, which must exist.
func NewFileCatalog(dir string) (*FileCatalog, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("spaces directory does not exist: %s", dir)
		}
		return nil, fmt.Errorf("stat spaces directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("spaces path is not a directory: %s", dir)
	}

	return &FileCatalog{
		dir:    dir,
		spaces: make(map[string]Space),
	}, nil
}

// LookupSpace loads a space by id
func (c *FileCatalog) LookupSpace(ctx context.Context, id string) (Space, error) {
	if !ValidID(id) {
		return Space{}, ErrSpaceNotFound
	}

	c.mu.RLock()
	if s, ok := c.spaces[id]; ok {
		c.mu.RUnlock()
		return s, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock
	if s, ok := c.spaces[id]; ok {
		return s, nil
	}

	s, err := LoadFile(filepath.Join(c.dir, id+".json"))
	if err != nil {
		return Space{}, err
	}
	if s.ID != id {
		return Space{}, fmt.Errorf("%w: file %s.json declares id %q", ErrInvalidSpace, id, s.ID)
	}

	c.spaces[id] = s
	return s, nil
}

// ListSpaces returns every valid space in the directory sorted by id.
// Invalid files are skipped.
func (c *FileCatalog) ListSpaces(ctx context.Context) ([]Space, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("read spaces directory: %w", err)
	}

	var out []Space
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		s, err := c.LookupSpace(ctx, strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Save validates s and writes it to <dir>/<id>.json.
func (c *FileCatalog) Save(s Space) error {
	if err := s.Validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal space: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.WriteFile(filepath.Join(c.dir, s.ID+".json"), data, 0644); err != nil {
		return fmt.Errorf("write space file: %w", err)
	}
	c.spaces[s.ID] = s
	return nil
}

// Refresh drops the cache so the next lookups re-read the directory.
func (c *FileCatalog) Refresh() {
	c.mu.Lock()
	c.spaces = make(map[string]Space)
	c.mu.Unlock()
}

// LoadFile reads and validates a single space file. A missing id is taken
// from the file name.
func LoadFile(path string) (Space, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Space{}, ErrSpaceNotFound
		}
		return Space{}, fmt.Errorf("read space file: %w", err)
	}

	var s Space
	if err := json.Unmarshal(data, &s); err != nil {
		return Space{}, fmt.Errorf("%w: %v", ErrInvalidSpace, err)
	}
	if s.ID == "" {
		s.ID = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	if err := s.Validate(); err != nil {
		return Space{}, err
	}
	return s, nil
}
