package clip

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Catalog maps a language name to its loaded Clip.
type Catalog struct {
	clips map[string]*Clip
	names []string
}

// LoadDirectory builds a Catalog from every "*.<ext>" file in dir, deriving
// each language name from the file stem. A clip that fails to load (wrong
// channel layout, unreadable) is logged and skipped; it does not fail the
// whole catalog.
func LoadDirectory(dir, ext string, preloadFrames, targetSampleRate int, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading clips directory %s: %w", dir, err)
	}

	c := &Catalog{clips: make(map[string]*Clip)}
	suffix := "." + strings.TrimPrefix(ext, ".")
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), suffix) {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), suffix)
		path := filepath.Join(dir, entry.Name())
		loaded, err := Load(name, path, preloadFrames, targetSampleRate)
		if err != nil {
			logger.Error("skipping clip", "language", name, "path", path, "err", err)
			continue
		}
		c.clips[name] = loaded
		logger.Debug(
			"loaded clip",
			"language", name,
			"sampleRate", loaded.SampleRate,
			"totalFrames", loaded.TotalFrames,
			"preloadedFrames", len(loaded.Preloaded),
		)
	}

	if len(c.clips) == 0 {
		return nil, fmt.Errorf("no loadable clips in %s", dir)
	}

	c.names = make([]string, 0, len(c.clips))
	for name := range c.clips {
		c.names = append(c.names, name)
	}
	sort.Strings(c.names)
	return c, nil
}

// NewCatalog builds a Catalog from already-loaded clips, keyed by clip name.
func NewCatalog(clips ...*Clip) *Catalog {
	c := &Catalog{clips: make(map[string]*Clip, len(clips))}
	for _, cl := range clips {
		c.clips[cl.Name] = cl
		c.names = append(c.names, cl.Name)
	}
	sort.Strings(c.names)
	return c
}

// Get returns the clip for the given language name, or nil if unknown.
func (c *Catalog) Get(name string) *Clip {
	return c.clips[name]
}

// Names returns the language names in sorted order.
func (c *Catalog) Names() []string {
	return c.names
}

func (c *Catalog) Len() int {
	return len(c.clips)
}
