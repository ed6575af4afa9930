package prompt

import (
	"sync"

	"defgen/internal/logging"
)

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Entries       int    `json:"entries"`
	Hits          int64  `json:"hits"`
	Misses        int64  `json:"misses"`
	Invalidations int64  `json:"invalidations"`
	Version       string `json:"version"`
}

// SectionCache stores module output keyed by module id, catalog version and
// context fingerprint. It holds entries for a single catalog version; seeing
// another version purges everything.
type SectionCache struct {
	mu      sync.RWMutex
	version string
	entries map[string][]Section
	stats   CacheStats
}

// NewSectionCache creates an empty cache.
func NewSectionCache() *SectionCache {
	return &SectionCache{entries: make(map[string][]Section)}
}

func cacheKey(moduleID, version, fingerprint string) string {
	return HashContent(moduleID + "\x00" + version + "\x00" + fingerprint)
}

// Get returns a copy of cached sections.
func (c *SectionCache) Get(moduleID, version, fingerprint string) ([]Section, bool) {
	c.mu.RLock()
	if c.version == version {
		if s, ok := c.entries[cacheKey(moduleID, version, fingerprint)]; ok {
			c.mu.RUnlock()
			c.mu.Lock()
			c.stats.Hits++
			c.mu.Unlock()
			return cloneSections(s), true
		}
	}
	c.mu.RUnlock()

	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
	return nil, false
}

// Put stores sections for a module.
func (c *SectionCache) Put(moduleID, version, fingerprint string, sections []Section) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.version != version {
		c.purgeLocked(version)
	}
	c.entries[cacheKey(moduleID, version, fingerprint)] = cloneSections(sections)
}

// Invalidate drops all entries.
func (c *SectionCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeLocked("")
}

func (c *SectionCache) purgeLocked(version string) {
	if len(c.entries) > 0 {
		logging.AssemblyDebug("Purging %d cached module outputs (version %q -> %q)", len(c.entries), c.version, version)
		c.stats.Invalidations++
	}
	c.entries = make(map[string][]Section)
	c.version = version
}

// Stats returns a snapshot of cache statistics.
func (c *SectionCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.stats
	s.Entries = len(c.entries)
	s.Version = c.version
	return s
}
