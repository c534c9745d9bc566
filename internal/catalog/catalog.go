// Package catalog discovers editor plugins and model assets on disk and
// persists the active plugin manifest.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kuda/internal/logging"
)

// ManifestFile is the plugin manifest's file name inside the plugins directory.
const ManifestFile = "plugins.json"

// DefaultManifest is written when no plugin list is posted.
const DefaultManifest = `{"plugins":[]}`

// ErrInvalidManifest indicates a posted plugin list that is not JSON.
var ErrInvalidManifest = errors.New("plugin manifest is not valid JSON")

// assetsURLDir prefixes model URLs; they are relative to the web root.
const assetsURLDir = "assets"

// Model is a discovered model asset.
type Model struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Catalog scans the plugins and assets directories. Scan results are
// cached only while a Watcher keeps them fresh.
type Catalog struct {
	pluginsDir string
	assetsDir  string
	logger     *logging.Logger

	mu      sync.RWMutex
	caching bool
	gen     uint64 // bumped on every invalidation
	plugins []string
	models  []Model
}

// New creates a catalog over the given directories.
func New(pluginsDir, assetsDir string, logger *logging.Logger) *Catalog {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Catalog{
		pluginsDir: pluginsDir,
		assetsDir:  assetsDir,
		logger:     logger.Named("catalog"),
	}
}

// PluginsDir returns the plugins directory.
func (c *Catalog) PluginsDir() string { return c.pluginsDir }

// AssetsDir returns the assets directory.
func (c *Catalog) AssetsDir() string { return c.assetsDir }

// Plugins returns the names of subdirectories of the plugins directory that
// contain a file named after the directory (e.g. hud/hud.js).
func (c *Catalog) Plugins(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	if c.caching && c.plugins != nil {
		defer c.mu.RUnlock()
		return c.plugins, nil
	}
	gen := c.gen
	c.mu.RUnlock()

	plugins, err := c.scanPlugins(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.caching && c.gen == gen {
		c.plugins = plugins
	}
	c.mu.Unlock()
	return plugins, nil
}

func (c *Catalog) scanPlugins(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(c.pluginsDir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading plugins directory: %w", err)
	}

	plugins := []string{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(c.pluginsDir, e.Name()))
		if err != nil {
			c.logger.Warn(ctx, "skipping unreadable plugin directory", zap.String("plugin", e.Name()), zap.Error(err))
			continue
		}
		for _, f := range files {
			if strings.Contains(f.Name(), e.Name()) {
				plugins = append(plugins, e.Name())
				break
			}
		}
	}
	sort.Strings(plugins)

	c.logger.Trace(ctx, "scanned plugins", zap.Strings("plugins", plugins))
	return plugins, nil
}

// SavePlugins overwrites the plugin manifest with raw. An empty raw writes
// DefaultManifest.
func (c *Catalog) SavePlugins(ctx context.Context, raw []byte) error {
	if len(raw) == 0 {
		raw = []byte(DefaultManifest)
	}
	if !json.Valid(raw) {
		return ErrInvalidManifest
	}
	if err := os.MkdirAll(c.pluginsDir, 0755); err != nil {
		return fmt.Errorf("creating plugins directory: %w", err)
	}

	target := filepath.Join(c.pluginsDir, ManifestFile)
	f, err := os.CreateTemp(c.pluginsDir, "."+ManifestFile+"-*.tmp")
	if err != nil {
		return fmt.Errorf("writing plugin manifest: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err := f.Write(raw); err != nil {
		f.Close()
		return fmt.Errorf("writing plugin manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("writing plugin manifest: %w", err)
	}
	if err := os.Chmod(tmp, 0644); err != nil {
		return fmt.Errorf("writing plugin manifest: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("writing plugin manifest: %w", err)
	}

	c.logger.Info(ctx, "plugin manifest updated", zap.Int("bytes", len(raw)))
	return nil
}

// Manifest returns the current plugin manifest, or DefaultManifest when
// none was saved yet.
func (c *Catalog) Manifest() ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(c.pluginsDir, ManifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return []byte(DefaultManifest), nil
	}
	return data, err
}

// Models returns the subdirectories of the assets directory holding a
// .json descriptor. The assets directory is created if missing.
func (c *Catalog) Models(ctx context.Context) ([]Model, error) {
	c.mu.RLock()
	if c.caching && c.models != nil {
		defer c.mu.RUnlock()
		return c.models, nil
	}
	gen := c.gen
	c.mu.RUnlock()

	models, err := c.scanModels(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.caching && c.gen == gen {
		c.models = models
	}
	c.mu.Unlock()
	return models, nil
}

func (c *Catalog) scanModels(ctx context.Context) ([]Model, error) {
	if err := os.MkdirAll(c.assetsDir, 0755); err != nil {
		return nil, fmt.Errorf("creating assets directory: %w", err)
	}
	entries, err := os.ReadDir(c.assetsDir)
	if err != nil {
		return nil, fmt.Errorf("reading assets directory: %w", err)
	}

	models := []Model{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(c.assetsDir, e.Name()))
		if err != nil {
			c.logger.Warn(ctx, "skipping unreadable asset directory", zap.String("asset", e.Name()), zap.Error(err))
			continue
		}
		for _, f := range files {
			if !f.IsDir() && strings.HasSuffix(f.Name(), ".json") {
				models = append(models, Model{
					Name: e.Name(),
					URL:  path.Join(assetsURLDir, e.Name(), f.Name()),
				})
				break
			}
		}
	}

	c.logger.Trace(ctx, "scanned models", zap.Int("count", len(models)))
	return models, nil
}

// Invalidate drops cached scan results.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.gen++
	c.plugins = nil
	c.models = nil
	c.mu.Unlock()
}

func (c *Catalog) setCaching(on bool) {
	c.mu.Lock()
	c.caching = on
	c.gen++
	c.plugins = nil
	c.models = nil
	c.mu.Unlock()
}
