package upstream

import (
	"sort"
	"sync"

	"github.com/Sentinel-Gate/toolproxy/internal/domain/tool"
)

const (
	// MaxToolsPerUpstream is the maximum number of tools a single upstream can register.
	// Prevents memory DoS from a malicious upstream advertising excessive tool counts.
	MaxToolsPerUpstream = 1000

	// MaxTotalTools is the maximum total tools across all upstreams.
	MaxTotalTools = 10000
)

// ToolCache provides thread-safe storage for the tool catalogs of connected
// upstreams. Tool names are scoped per upstream: two servers may expose the
// same tool name.
type ToolCache struct {
	byUpstream map[string][]tool.Descriptor
	total      int
	mu         sync.RWMutex
}

// NewToolCache creates a new empty ToolCache.
func NewToolCache() *ToolCache {
	return &ToolCache{
		byUpstream: make(map[string][]tool.Descriptor),
	}
}

// SetToolsForUpstream replaces the catalog of the given upstream.
// Tools are truncated to MaxToolsPerUpstream per upstream and MaxTotalTools
// globally. Returns the number of tools stored.
func (c *ToolCache) SetToolsForUpstream(upstreamID string, tools []tool.Descriptor) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(tools) > MaxToolsPerUpstream {
		tools = tools[:MaxToolsPerUpstream]
	}

	c.total -= len(c.byUpstream[upstreamID])
	if room := MaxTotalTools - c.total; len(tools) > room {
		tools = tools[:room]
	}

	stored := make([]tool.Descriptor, len(tools))
	copy(stored, tools)
	c.byUpstream[upstreamID] = stored
	c.total += len(stored)
	return len(stored)
}

// GetAllTools returns every cached tool, ordered by upstream ID and then by
// catalog order.
func (c *ToolCache) GetAllTools() []tool.Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.byUpstream))
	for id := range c.byUpstream {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	result := make([]tool.Descriptor, 0, c.total)
	for _, id := range ids {
		result = append(result, c.byUpstream[id]...)
	}
	return result
}

// GetToolsByUpstream returns a copy of one upstream's catalog.
// Returns nil if the upstream has no catalog.
func (c *ToolCache) GetToolsByUpstream(upstreamID string) []tool.Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tools, ok := c.byUpstream[upstreamID]
	if !ok {
		return nil
	}
	result := make([]tool.Descriptor, len(tools))
	copy(result, tools)
	return result
}

// RemoveUpstream removes all tools for an upstream from the cache.
func (c *ToolCache) RemoveUpstream(upstreamID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total -= len(c.byUpstream[upstreamID])
	delete(c.byUpstream, upstreamID)
}

// Count returns the total number of cached tools.
func (c *ToolCache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.total
}
