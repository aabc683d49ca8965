package tsp

import "opengrid/internal/worldgen"

const (
	MinCities = 5
	MaxCities = 20

	CoordinateSpan = 100.0

	CostTolerance = 0.01

	RewardPerCity = 10
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// GenerateProblem lays out the city points for one solve attempt: per
// city an X then a Y draw, each scaled to [0, CoordinateSpan) in double
// precision. A fresh generator seeded from the city seed keeps problem
// layout independent of chunk-generation state.
func GenerateProblem(citySeed int64, numCities int) []Point {
	n := clampCities(numCities)
	rng := worldgen.NewLCG(citySeed)
	points := make([]Point, 0, n)
	for i := 0; i < n; i++ {
		x := rng.Float64() * CoordinateSpan
		y := rng.Float64() * CoordinateSpan
		points = append(points, Point{X: x, Y: y})
	}
	return points
}

// DifficultyFor maps accumulated experience to problem size. Band edges
// belong to the larger problem: exp 100 already plays 7 cities.
func DifficultyFor(exp int64) int {
	switch {
	case exp < 100:
		return 5
	case exp < 500:
		return 7
	case exp < 2000:
		return 10
	case exp < 10000:
		return 15
	default:
		return 20
	}
}

func clampCities(n int) int {
	if n < MinCities {
		return MinCities
	}
	if n > MaxCities {
		return MaxCities
	}
	return n
}
