package cache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/report"
)

// DefaultTTL bounds how long a cached plan stays valid.
const DefaultTTL = 24 * time.Hour

// Plan is a previously computed transformation plan.
type Plan struct {
	// Actions the run would perform, in canonical order.
	Actions []report.Action `json:"actions"`
	// Errors the run recorded.
	Errors []report.ErrorRecord `json:"errors"`
}

// Cache maps (fingerprint, file content digest) to a [Plan]. Caching is an
// optimization, never a correctness requirement: implementations degrade to
// always-miss on storage failure and their absence must not change engine
// output.
type Cache interface {
	// Get returns the cached plan, or false on miss. An expired or
	// digest-mismatched entry is a miss.
	Get(fingerprint, digest string) (*Plan, bool)

	// Put stores a plan. Failures are swallowed.
	Put(fingerprint, digest string, plan Plan)
}

// Noop is a [Cache] that never hits. Used when caching is disabled.
type Noop struct{}

func (Noop) Get(string, string) (*Plan, bool) { return nil, false }
func (Noop) Put(string, string, Plan)         {}

type entry struct {
	Fingerprint string    `json:"fingerprint"`
	Digest      string    `json:"digest"`
	CreatedAt   time.Time `json:"createdAt"`
	Plan        Plan      `json:"plan"`
}

// FileCache implements [Cache] on the filesystem.
//
// Structure:
//
//	{dir}/
//	  {fingerprint[0:2]}/
//	    {fingerprint}.json
type FileCache struct {
	dir string
	ttl time.Duration
	now func() time.Time
}

// NewFileCache creates a filesystem-backed cache rooted at dir.
func NewFileCache(dir string, opts ...Opt) *FileCache {
	c := &FileCache{
		dir: dir,
		ttl: DefaultTTL,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

type Opt func(c *FileCache)

// WithTTL sets the entry time-to-live.
func WithTTL(ttl time.Duration) Opt {
	return func(c *FileCache) {
		c.ttl = ttl
	}
}

// WithClock overrides the clock, for expiry tests.
func WithClock(now func() time.Time) Opt {
	return func(c *FileCache) {
		c.now = now
	}
}

// DefaultDir returns the user-level cache directory.
func DefaultDir() string {
	if xdgCache, ok := os.LookupEnv("XDG_CACHE_HOME"); ok && xdgCache != "" {
		return filepath.Join(xdgCache, "devtmpl")
	}

	usrCache, err := os.UserCacheDir()
	if err == nil && usrCache != "" {
		return filepath.Join(usrCache, "devtmpl")
	}

	return filepath.Join(os.TempDir(), "devtmpl-cache")
}

func (c *FileCache) Get(fingerprint, digest string) (*Plan, bool) {
	data, err := os.ReadFile(c.entryPath(fingerprint))
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Debug("cache read failed, treating as miss",
				slog.String("fingerprint", fingerprint),
				slog.Any("error", err),
			)
		}

		return nil, false
	}

	var e entry

	err = json.Unmarshal(data, &e)
	if err != nil {
		slog.Debug("cache entry corrupt, treating as miss",
			slog.String("fingerprint", fingerprint),
			slog.Any("error", err),
		)

		return nil, false
	}

	if e.Digest != digest {
		return nil, false
	}

	if c.ttl > 0 && c.now().After(e.CreatedAt.Add(c.ttl)) {
		// Expired entries are misses; Put silently overwrites them.
		return nil, false
	}

	return &e.Plan, true
}

func (c *FileCache) Put(fingerprint, digest string, plan Plan) {
	err := c.put(fingerprint, digest, plan)
	if err != nil {
		// Cache storage failures never escalate.
		slog.Warn("cache write failed",
			slog.String("fingerprint", fingerprint),
			slog.Any("error", err),
		)
	}
}

func (c *FileCache) put(fingerprint, digest string, plan Plan) error {
	e := entry{
		Fingerprint: fingerprint,
		Digest:      digest,
		CreatedAt:   c.now().UTC(),
		Plan:        plan,
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	target := c.entryPath(fingerprint)

	err = os.MkdirAll(filepath.Dir(target), 0o700)
	if err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	// Write a temp file and rename so a crash never leaves a partially
	// written entry at the canonical path.
	tmp, err := os.CreateTemp(filepath.Dir(target), "entry-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp entry: %w", err)
	}

	_, err = tmp.Write(data)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("write temp entry: %w", err)
	}

	err = os.Rename(tmp.Name(), target)
	if err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("commit entry: %w", err)
	}

	return nil
}

// Clear removes every entry. The cache directory itself is kept.
func (c *FileCache) Clear() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("read cache directory: %w", err)
	}

	for _, e := range entries {
		err := os.RemoveAll(filepath.Join(c.dir, e.Name()))
		if err != nil {
			return fmt.Errorf("remove cache entry: %w", err)
		}
	}

	return nil
}

func (c *FileCache) entryPath(fingerprint string) string {
	shard := fingerprint
	if len(shard) > 2 {
		shard = shard[:2]
	}

	return filepath.Join(c.dir, shard, fingerprint+".json")
}
