package solver

import (
	"testing"

	"opengrid/internal/tsp"
)

func TestSolveProducesVerifiableTours(t *testing.T) {
	seeds := []int64{1, 42, 12345, 987654321}
	sizes := []int{5, 7, 10, 15, 20}
	for _, seed := range seeds {
		for _, n := range sizes {
			points := tsp.GenerateProblem(seed, n)
			tour, cost := Solve(points)
			res := tsp.VerifySolution(points, tour, cost)
			if !res.Valid {
				t.Fatalf("seed=%d n=%d: solver tour rejected: %v", seed, n, res.Reason)
			}
		}
	}
}

func TestSolveNeverWorseThanBaseline(t *testing.T) {
	for _, seed := range []int64{7, 1103515245, 2047} {
		points := tsp.GenerateProblem(seed, 20)
		_, cost := Solve(points)
		baseline, err := tsp.TourCost(points, tsp.SequentialTour(len(points)))
		if err != nil {
			t.Fatalf("baseline cost: %v", err)
		}
		if cost > baseline+1e-9 {
			t.Fatalf("seed=%d: solver cost %.4f exceeds baseline %.4f", seed, cost, baseline)
		}
	}
}

func TestTwoOptNeverWorseThanNearestNeighbor(t *testing.T) {
	for _, seed := range []int64{3, 99, 54321} {
		points := tsp.GenerateProblem(seed, 15)
		nn := nearestNeighbor(points)
		nnCost, err := tsp.TourCost(points, nn)
		if err != nil {
			t.Fatalf("nn cost: %v", err)
		}
		_, cost := Solve(points)
		if cost > nnCost+1e-9 {
			t.Fatalf("seed=%d: 2-opt cost %.4f worse than nearest-neighbour %.4f", seed, cost, nnCost)
		}
	}
}
