// Package cache names temporary audio files and decides, per session,
// whether they are kept for inspection or removed.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TempPrefix marks files that may be removed at startup.
const TempPrefix = "RecordTemp_"

// Cache manages temp files under one directory.
type Cache struct {
	dir  string
	keep bool
	log  zerolog.Logger
	now  func() time.Time
}

// New returns a Cache rooted at dir (cwd when empty). Files are only kept when
// keep is set and dir is non-empty.
func New(dir string, keep bool, log zerolog.Logger) *Cache {
	return &Cache{dir: dir, keep: keep && dir != "", log: log, now: time.Now}
}

// Dir is the directory temp files are created in.
func (c *Cache) Dir() string {
	if c.dir != "" {
		return c.dir
	}
	cwd, _ := os.Getwd()
	return cwd
}

// TempPath returns a fresh RecordTemp_ path with the given extension.
func (c *Cache) TempPath(ext string) string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
	return filepath.Join(c.Dir(), fmt.Sprintf("%s%s.%s", TempPrefix, id, strings.TrimPrefix(ext, ".")))
}

// Finish disposes of one session's temp files. With keep enabled they are
// renamed to audio-<timestamp>.<ext> and a successful response body is written
// next to them as JSON; otherwise they are deleted.
func (c *Cache) Finish(files []string, response []byte, ok bool) {
	if !c.keep {
		for _, f := range files {
			if f == "" {
				continue
			}
			if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
				c.log.Debug().Err(err).Str("path", f).Msg("remove temp file failed")
			}
		}
		return
	}
	base := fmt.Sprintf("audio-%s-%s", c.now().Format("2006-01-02-15.04.05"), uuid.NewString()[:4])
	for _, f := range files {
		if f == "" {
			continue
		}
		dst := filepath.Join(c.dir, base+filepath.Ext(f))
		if err := os.Rename(f, dst); err != nil {
			c.log.Warn().Err(err).Str("path", dst).Msg("failed to move file into cache")
			_ = os.Remove(f)
		}
	}
	if ok && len(response) > 0 {
		p := filepath.Join(c.dir, base+".json")
		if err := os.WriteFile(p, response, 0644); err != nil {
			c.log.Warn().Err(err).Str("path", p).Msg("failed to write response json")
		}
	}
}

// CleanupStale removes leftover RecordTemp_ files from earlier runs.
func (c *Cache) CleanupStale() int {
	dir := c.Dir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		c.log.Warn().Err(err).Str("dir", dir).Msg("read cache dir failed")
		return 0
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), TempPrefix) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil {
			c.log.Warn().Err(err).Str("path", path).Msg("failed to remove stale temp file")
			continue
		}
		removed++
		c.log.Debug().Str("path", path).Msg("removed stale temp file")
	}
	return removed
}
