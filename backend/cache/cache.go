package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/maypok86/otter"
	"github.com/spf13/afero"
)

const (
	blobExtension = ".blob"
	// DefaultMemoBytes bounds the in-process memo by total response size.
	DefaultMemoBytes = 64 << 20
)

// Digest is the hex encoded SHA-256 of the exact request body bytes.
func Digest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

type Options struct {
	MemoBytes int
	Logger    *slog.Logger
}

type Option func(*Options)

func WithMemoBytes(n int) Option {
	return func(o *Options) {
		o.MemoBytes = n
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// Cache is a content addressed store of provider responses laid out as
// {root}/{task}/{digest}.blob. Entries are never evicted from disk; deleting
// files is the only way to invalidate them. A bounded in-process memo sits in
// front of the filesystem.
type Cache struct {
	fs     afero.Fs
	root   string
	memo   otter.Cache[string, Entry]
	logger *slog.Logger
}

func New(fsys afero.Fs, root string, opts ...Option) (*Cache, error) {
	options := &Options{
		MemoBytes: DefaultMemoBytes,
		Logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	memo, err := otter.MustBuilder[string, Entry](options.MemoBytes).
		Cost(func(key string, entry Entry) uint32 {
			return uint32(len(key) + len(entry.Response) + len(entry.Reason))
		}).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create cache memo: %w", err)
	}

	return &Cache{
		fs:     fsys,
		root:   root,
		memo:   memo,
		logger: options.Logger,
	}, nil
}

func (c *Cache) Root() string {
	return c.root
}

func (c *Cache) Path(task, digest string) string {
	return filepath.Join(c.root, task, digest+blobExtension)
}

func (c *Cache) Lookup(ctx context.Context, task, digest string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	if err := validateTask(task); err != nil {
		return Entry{}, err
	}

	path := c.Path(task, digest)
	if entry, ok := c.memo.Get(path); ok {
		return entry, nil
	}

	data, err := afero.ReadFile(c.fs, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Entry{}, ErrMiss
		}
		return Entry{}, fmt.Errorf("failed to read cache entry %s: %w", path, err)
	}

	entry, err := decodeEntry(data)
	if err != nil {
		return Entry{}, &CorruptionError{Path: path, Err: err}
	}

	c.memo.Set(path, entry)
	return entry, nil
}

// Store writes the entry through a temporary file and a rename so readers
// never observe a partially written blob. Concurrent stores of the same key
// are last-write-wins.
func (c *Cache) Store(ctx context.Context, task, digest string, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateTask(task); err != nil {
		return err
	}

	data, err := encodeEntry(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	dir := filepath.Join(c.root, task)
	if err := c.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory %s: %w", dir, err)
	}

	tmp, err := afero.TempFile(c.fs, dir, ".tmp-"+digest+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary cache file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		c.fs.Remove(tmp.Name())
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		c.fs.Remove(tmp.Name())
		return fmt.Errorf("failed to write cache entry: %w", err)
	}

	path := c.Path(task, digest)
	if err := c.fs.Rename(tmp.Name(), path); err != nil {
		c.fs.Remove(tmp.Name())
		return fmt.Errorf("failed to commit cache entry %s: %w", path, err)
	}

	c.memo.Set(path, entry)
	return nil
}

type ListEntry struct {
	Task      string    `json:"task"`
	Digest    string    `json:"digest"`
	Status    Status    `json:"status"`
	Provider  string    `json:"provider,omitempty"`
	Model     string    `json:"model,omitempty"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
	Corrupt   bool      `json:"corrupt,omitempty"`

	// Entry is the decoded blob; nil when Corrupt.
	Entry *Entry `json:"-"`
}

// Tasks returns the task directories under the cache root.
func (c *Cache) Tasks() ([]string, error) {
	infos, err := afero.ReadDir(c.fs, c.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cache root %s: %w", c.root, err)
	}

	var tasks []string
	for _, info := range infos {
		if info.IsDir() {
			tasks = append(tasks, info.Name())
		}
	}
	sort.Strings(tasks)
	return tasks, nil
}

// List describes the blobs stored for task, or for every task when task is
// empty. Undecodable blobs are reported as corrupt instead of failing.
func (c *Cache) List(task string) ([]ListEntry, error) {
	tasks := []string{task}
	if task == "" {
		var err error
		if tasks, err = c.Tasks(); err != nil {
			return nil, err
		}
	} else if err := validateTask(task); err != nil {
		return nil, err
	}

	var entries []ListEntry
	for _, t := range tasks {
		dir := filepath.Join(c.root, t)
		infos, err := afero.ReadDir(c.fs, dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to read task directory %s: %w", dir, err)
		}

		for _, info := range infos {
			name := info.Name()
			if info.IsDir() || !strings.HasSuffix(name, blobExtension) {
				continue
			}

			item := ListEntry{
				Task:      t,
				Digest:    strings.TrimSuffix(name, blobExtension),
				Size:      info.Size(),
				UpdatedAt: info.ModTime(),
			}

			data, err := afero.ReadFile(c.fs, filepath.Join(dir, name))
			if err != nil {
				return nil, fmt.Errorf("failed to read cache entry %s: %w", name, err)
			}
			if entry, err := decodeEntry(data); err != nil {
				item.Corrupt = true
			} else {
				item.Status = entry.Status
				item.Provider = string(entry.Provider)
				item.Model = entry.Model
				item.Entry = &entry
			}

			entries = append(entries, item)
		}
	}

	return entries, nil
}

// PruneFilter narrows which blobs Prune removes. The zero value removes
// everything.
type PruneFilter struct {
	// FailuresOnly limits pruning to failure and corrupt entries.
	FailuresOnly bool
	// Before, when set, keeps blobs written at or after it.
	Before time.Time
}

func (f PruneFilter) matches(entry ListEntry) bool {
	if f.FailuresOnly && !entry.Corrupt && entry.Status != StatusFailure {
		return false
	}
	if !f.Before.IsZero() && !entry.UpdatedAt.Before(f.Before) {
		return false
	}
	return true
}

// Prune deletes the blobs of task, or of every task when task is empty, that
// match filter.
func (c *Cache) Prune(task string, filter PruneFilter) (int, error) {
	entries, err := c.List(task)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		if !filter.matches(entry) {
			continue
		}

		path := c.Path(entry.Task, entry.Digest)
		if err := c.fs.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("failed to remove cache entry %s: %w", path, err)
		}
		c.memo.Delete(path)
		removed++
		c.logger.Debug("pruned cache entry", "task", entry.Task, "digest", entry.Digest, "status", entry.Status)
	}

	return removed, nil
}

func (c *Cache) Close() {
	c.memo.Close()
}

func validateTask(task string) error {
	if task == "" || task == "." || task == ".." || strings.ContainsAny(task, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidTask, task)
	}
	return nil
}
