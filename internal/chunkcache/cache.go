package chunkcache

import (
	"math"
	"sync"

	"opengrid/internal/worldgen"
)

const DefaultMaxChunks = 100

// Viewport is a screen-space window over the world: X/Y are the world
// cell coordinates of the top-left corner, Width/Height are in pixels.
type Viewport struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// VisibleChunks returns every chunk coordinate overlapping the viewport,
// x-major ascending. cellSize is the pixel size of one world cell.
func VisibleChunks(view Viewport, cellSize float64, chunkSize int) []worldgen.ChunkCoord {
	size := float64(chunkSize)
	startX := int(math.Floor(view.X / size))
	endX := int(math.Ceil((view.X + view.Width/cellSize) / size))
	startY := int(math.Floor(view.Y / size))
	endY := int(math.Ceil((view.Y + view.Height/cellSize) / size))

	coords := make([]worldgen.ChunkCoord, 0, (endX-startX+1)*(endY-startY+1))
	for cx := startX; cx <= endX; cx++ {
		for cy := startY; cy <= endY; cy++ {
			coords = append(coords, worldgen.ChunkCoord{X: cx, Y: cy})
		}
	}
	return coords
}

// Fetcher produces chunk data for a coordinate on a cache miss.
type Fetcher[T any] func(coord worldgen.ChunkCoord) (T, error)

type entry[T any] struct {
	data     T
	loadedAt int64
}

// Cache is a bounded client-side mirror of generated chunk data. Loads
// memoize through the fetcher; eviction is visibility-driven first, with
// an oldest-load cap as backstop. Safe for use from any goroutine.
type Cache[T any] struct {
	fetch Fetcher[T]
	max   int

	mu      sync.Mutex
	tick    int64
	entries map[worldgen.ChunkCoord]*entry[T]
}

func New[T any](fetch Fetcher[T], maxChunks int) *Cache[T] {
	if maxChunks <= 0 {
		maxChunks = DefaultMaxChunks
	}
	return &Cache[T]{
		fetch:   fetch,
		max:     maxChunks,
		entries: make(map[worldgen.ChunkCoord]*entry[T]),
	}
}

// Load returns the cached data for coord, fetching and storing it on a
// miss. A fetch error is returned to the caller and nothing is cached.
func (c *Cache[T]) Load(coord worldgen.ChunkCoord) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tick++
	if e, ok := c.entries[coord]; ok {
		return e.data, nil
	}
	data, err := c.fetch(coord)
	if err != nil {
		var zero T
		return zero, err
	}
	c.entries[coord] = &entry[T]{data: data, loadedAt: c.tick}
	c.evictIfNeededLocked()
	return data, nil
}

// EvictOutsideView drops every cached chunk further than buffer chunks
// (Chebyshev distance) from all currently visible chunks.
func (c *Cache[T]) EvictOutsideView(visible []worldgen.ChunkCoord, buffer int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for coord := range c.entries {
		if !withinBuffer(coord, visible, buffer) {
			delete(c.entries, coord)
			evicted++
		}
	}
	return evicted
}

func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache[T]) Contains(coord worldgen.ChunkCoord) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[coord]
	return ok
}

// evictIfNeededLocked is the hard-cap backstop: oldest loads go first
// until the cache is back under the limit, visibility notwithstanding.
func (c *Cache[T]) evictIfNeededLocked() {
	for len(c.entries) > c.max {
		var oldest worldgen.ChunkCoord
		oldestAt := int64(math.MaxInt64)
		for coord, e := range c.entries {
			if e.loadedAt < oldestAt {
				oldest = coord
				oldestAt = e.loadedAt
			}
		}
		delete(c.entries, oldest)
	}
}

func withinBuffer(coord worldgen.ChunkCoord, visible []worldgen.ChunkCoord, buffer int) bool {
	for _, v := range visible {
		dx := abs(coord.X - v.X)
		dy := abs(coord.Y - v.Y)
		if max(dx, dy) <= buffer {
			return true
		}
	}
	return false
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
