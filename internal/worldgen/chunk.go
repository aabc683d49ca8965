package worldgen

import "fmt"

const (
	DefaultChunkSize = 64
	DefaultDensity   = 0.02

	mixX = int64(73856093)
	mixY = int64(19349663)
)

type ChunkCoord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Key renders the canonical chunk key, sign preserved: (-5,10) -> "-5,10".
func (c ChunkCoord) Key() string {
	return fmt.Sprintf("%d,%d", c.X, c.Y)
}

type City struct {
	LocalX int   `json:"local_x"`
	LocalY int   `json:"local_y"`
	Seed   int64 `json:"seed"`
}

// GlobalXY returns the world position of a city inside the given chunk.
func (c City) GlobalXY(coord ChunkCoord, chunkSize int) (int, int) {
	return coord.X*chunkSize + c.LocalX, coord.Y*chunkSize + c.LocalY
}

type Chunk struct {
	Coord  ChunkCoord `json:"coord"`
	Cities []City     `json:"cities"`
}

// ChunkSeed mixes the world seed with both chunk axes in 64-bit signed
// arithmetic. Negative coordinates participate via their two's-complement
// bit pattern.
func ChunkSeed(worldSeed int64, cx, cy int) int64 {
	return worldSeed ^ (int64(cx) * mixX) ^ (int64(cy) * mixY)
}

// GenerateChunk regenerates the full city set for one chunk: a fixed
// number of candidate draws, X then Y reduced modulo chunkSize, then one
// further raw draw as the city seed of each accepted candidate. A local
// cell drawn twice keeps only the first hit and consumes no seed draw.
// Output order is draw order.
func GenerateChunk(worldSeed int64, cx, cy, chunkSize int, density float64) []City {
	rng := NewLCG(ChunkSeed(worldSeed, cx, cy))
	draws := int(float64(chunkSize*chunkSize) * density)
	cities := make([]City, 0, draws)
	used := make(map[int]struct{}, draws)
	for i := 0; i < draws; i++ {
		lx := rng.Intn(chunkSize)
		ly := rng.Intn(chunkSize)
		cell := ly*chunkSize + lx
		if _, ok := used[cell]; ok {
			continue
		}
		used[cell] = struct{}{}
		cities = append(cities, City{LocalX: lx, LocalY: ly, Seed: rng.Next()})
	}
	return cities
}

// GlobalToLocal resolves a world position to its chunk and the offset
// inside that chunk. Floor division and a non-negative modulo keep the
// mapping correct on negative axes.
func GlobalToLocal(globalX, globalY, chunkSize int) (cx, cy, lx, ly int) {
	cx = floorDiv(globalX, chunkSize)
	cy = floorDiv(globalY, chunkSize)
	lx = mod(globalX, chunkSize)
	ly = mod(globalY, chunkSize)
	return cx, cy, lx, ly
}

// CityAt reports the city occupying a global cell, if any.
func CityAt(worldSeed int64, globalX, globalY, chunkSize int, density float64) (City, bool) {
	cx, cy, lx, ly := GlobalToLocal(globalX, globalY, chunkSize)
	for _, city := range GenerateChunk(worldSeed, cx, cy, chunkSize, density) {
		if city.LocalX == lx && city.LocalY == ly {
			return city, true
		}
	}
	return City{}, false
}

// CityKey is the canonical solve-record key for a city cell.
func CityKey(cx, cy, lx, ly int) string {
	return fmt.Sprintf("%d,%d:%d,%d", cx, cy, lx, ly)
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func mod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
