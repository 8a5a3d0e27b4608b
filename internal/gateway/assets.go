package gateway

import (
	"bytes"
	"fmt"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"
)

const DefaultAssetCache = "froom-cache-v1"

// DefaultAssets is the app shell kept available offline.
var DefaultAssets = []string{"/", "/index.html", "/styles.css", "/app.js", "/manifest.json"}

type cachedAsset struct {
	body    []byte
	modTime time.Time
}

// AssetCache serves a declared set of assets cache-first and everything else
// straight from the origin file system. Bumping the cache name is how a new
// version of the shell replaces the old one.
type AssetCache struct {
	name   string
	assets []string
	origin fs.FS
	files  http.Handler

	mu      sync.RWMutex
	entries map[string]cachedAsset
}

func NewAssetCache(name string, origin fs.FS, assets []string) *AssetCache {
	if name == "" {
		name = DefaultAssetCache
	}
	if len(assets) == 0 {
		assets = DefaultAssets
	}
	return &AssetCache{
		name:    name,
		assets:  assets,
		origin:  origin,
		files:   http.FileServer(http.FS(origin)),
		entries: make(map[string]cachedAsset),
	}
}

func (c *AssetCache) Name() string {
	return c.name
}

// Install loads every declared asset. It fails as a whole if any asset is
// missing, leaving the previous contents in place.
func (c *AssetCache) Install() error {
	entries := make(map[string]cachedAsset, len(c.assets))
	for _, asset := range c.assets {
		name := originPath(asset)
		body, err := fs.ReadFile(c.origin, name)
		if err != nil {
			return fmt.Errorf("install %s: %s: %w", c.name, asset, err)
		}
		modTime := time.Time{}
		if info, err := fs.Stat(c.origin, name); err == nil {
			modTime = info.ModTime()
		}
		entries[asset] = cachedAsset{body: body, modTime: modTime}
	}

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
	return nil
}

func (c *AssetCache) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	entry, ok := c.entries[r.URL.Path]
	c.mu.RUnlock()
	if !ok {
		c.files.ServeHTTP(w, r)
		return
	}
	w.Header().Set("X-Asset-Cache", c.name)
	http.ServeContent(w, r, originPath(r.URL.Path), entry.modTime, bytes.NewReader(entry.body))
}

func originPath(asset string) string {
	name := strings.TrimPrefix(path.Clean("/"+asset), "/")
	if name == "" {
		return "index.html"
	}
	return name
}
