// Package solver builds candidate tours on the client side. The server
// never runs it; submissions are verified independently.
package solver

import (
	"math"

	"opengrid/internal/tsp"
)

// Solve constructs a closed tour over points: nearest-neighbour from
// point 0, then 2-opt passes until no swap improves. Returns the tour
// and its cost.
func Solve(points []tsp.Point) ([]int, float64) {
	tour := nearestNeighbor(points)
	tour = twoOpt(points, tour)
	cost, _ := tsp.TourCost(points, tour)
	return tour, cost
}

func nearestNeighbor(points []tsp.Point) []int {
	n := len(points)
	visited := make([]bool, n)
	tour := make([]int, 0, n+1)

	current := 0
	visited[0] = true
	tour = append(tour, 0)
	for len(tour) < n {
		next := -1
		best := math.MaxFloat64
		for i := 0; i < n; i++ {
			if visited[i] {
				continue
			}
			if d := distance(points[current], points[i]); d < best {
				best = d
				next = i
			}
		}
		visited[next] = true
		tour = append(tour, next)
		current = next
	}
	return append(tour, 0)
}

// twoOpt reverses tour segments while any reversal shortens the total.
// The closing index stays pinned at both ends.
func twoOpt(points []tsp.Point, tour []int) []int {
	n := len(tour)
	improved := true
	for improved {
		improved = false
		for i := 1; i < n-2; i++ {
			for j := i + 1; j < n-1; j++ {
				a, b := points[tour[i-1]], points[tour[i]]
				c, d := points[tour[j]], points[tour[j+1]]
				current := distance(a, b) + distance(c, d)
				swapped := distance(a, c) + distance(b, d)
				if swapped < current-1e-12 {
					reverse(tour, i, j)
					improved = true
				}
			}
		}
	}
	return tour
}

func reverse(tour []int, i, j int) {
	for i < j {
		tour[i], tour[j] = tour[j], tour[i]
		i++
		j--
	}
}

func distance(a, b tsp.Point) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}
