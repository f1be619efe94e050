// Package cache holds the lookup tables the interaction machine rebuilds with each marker set.
package cache

// MarkerIndex maps entity IDs to their marker's position in the current marker set.
// Not safe for concurrent use; it is owned by one interaction.Machine.
type MarkerIndex struct {
	markers map[string]int
}

// NewMarkerIndex creates a new MarkerIndex
func NewMarkerIndex() *MarkerIndex {
	return &MarkerIndex{
		markers: make(map[string]int),
	}
}

// Get retrieves a marker index by entity ID
func (c *MarkerIndex) Get(id string) (int, bool) {
	idx, ok := c.markers[id]
	return idx, ok
}

// Rebuild replaces the whole index with ids, each mapped to its slice position.
// An ID seen twice keeps its first position.
func (c *MarkerIndex) Rebuild(ids []string) {
	markers := make(map[string]int, len(ids))
	for i, id := range ids {
		if _, dup := markers[id]; !dup {
			markers[id] = i
		}
	}
	c.markers = markers
}
