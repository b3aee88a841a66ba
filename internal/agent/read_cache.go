package agent

import (
	"crypto/md5"
	"fmt"
	"sync"
)

// ReadCacheEntry stores a cached tool result with its step number.
type ReadCacheEntry struct {
	StepNumber int
	Output     string
}

// ReadCache is a session-level cache for idempotent tool results.
// Caches read_file (by path) and other read-only/idempotent tools (by tool+args hash).
// write_file/move_file/copy_file/delete_file/delete_directory/create_directory
// invalidate the read_file cache for the paths they name (path, src, dst).
type ReadCache struct {
	mu    sync.RWMutex
	cache map[string]ReadCacheEntry // cacheKey → entry
}

// NewReadCache creates a new empty ReadCache.
func NewReadCache() *ReadCache {
	return &ReadCache{cache: make(map[string]ReadCacheEntry)}
}

// Get returns the cached entry for the given key, if any.
func (c *ReadCache) Get(key string) (ReadCacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.cache[key]
	return e, ok
}

// Put stores a tool result in the cache.
func (c *ReadCache) Put(key string, entry ReadCacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = entry
}

// Invalidate removes the cached entry for the given key.
func (c *ReadCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, key)
}

// cacheableTools defines tools whose results can be cached.
// read_file: cached by path, invalidated by write tools.
// Others: cached by tool+args hash, no automatic invalidation (session-scoped).
//
// NOTE: mcp tools are NOT cacheable — results may change after reload, and we
// don't track those invalidations.
var cacheableTools = map[string]bool{
	"read_file":  true,
	"list_files": true,
	"git_status": true,
}

// isCacheable returns true if the tool's results can be cached.
func isCacheable(toolName string) bool {
	return cacheableTools[toolName]
}

// CacheKey builds the cache key for a tool invocation.
// read_file: uses "read_file:<path>" for precise write-invalidation.
// Others: uses "tool:<name>:<md5(args)>" for general dedup.
func CacheKey(toolName, argsJSON string) string {
	if toolName == "read_file" {
		path := extractParam(argsJSON, "path")
		if path != "" {
			return "read_file:" + path
		}
	}
	// #nosec G401 -- MD5 used only for deduplication, not security
	h := md5.Sum([]byte(argsJSON))
	return fmt.Sprintf("tool:%s:%x", toolName, h)
}

// FileReadCacheKey returns the cache key for a read_file of the given path.
// Used by write-tool invalidation in Post.
func FileReadCacheKey(path string) string {
	return "read_file:" + path
}

// isWriteTool returns true for tools that modify files (cache invalidation triggers).
func isWriteTool(toolName string) bool {
	switch toolName {
	case "write_file", "move_file", "copy_file", "delete_file", "delete_directory", "create_directory":
		return true
	}
	return false
}
