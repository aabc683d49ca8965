package tsp

import (
	"errors"
	"math"
)

var (
	ErrTourLengthMismatch = errors.New("tour length must be city count plus closing return")
	ErrNotClosed          = errors.New("tour must start and end on the same city")
	ErrIndexOutOfRange    = errors.New("tour index out of range")
	ErrDuplicateCity      = errors.New("tour visits a city twice")
	ErrCostMismatch       = errors.New("claimed cost does not match recomputed cost")
)

// TourCost sums the Euclidean legs between consecutive tour entries.
func TourCost(points []Point, tour []int) (float64, error) {
	total := 0.0
	for i := 0; i < len(tour)-1; i++ {
		a, b := tour[i], tour[i+1]
		if a < 0 || a >= len(points) || b < 0 || b >= len(points) {
			return 0, ErrIndexOutOfRange
		}
		total += distance(points[a], points[b])
	}
	return total, nil
}

// Result carries the verifier's verdict. Reason is nil exactly when Valid.
type Result struct {
	Valid        bool    `json:"valid"`
	Reason       error   `json:"-"`
	ActualCost   float64 `json:"actual_cost"`
	BaselineCost float64 `json:"baseline_cost"`
	Efficiency   float64 `json:"efficiency"`
	Reward       int64   `json:"reward"`
}

// VerifySolution re-derives the submitted tour's cost and scores it
// against the naive sequential baseline. Checks run cheapest first; the
// first failure wins and later fields stay zero.
func VerifySolution(points []Point, tour []int, claimedCost float64) Result {
	n := len(points)
	if len(tour) != n+1 {
		return Result{Reason: ErrTourLengthMismatch}
	}
	if tour[0] != tour[len(tour)-1] {
		return Result{Reason: ErrNotClosed}
	}
	for _, idx := range tour[:n] {
		if idx < 0 || idx >= n {
			return Result{Reason: ErrIndexOutOfRange}
		}
	}
	seen := make(map[int]struct{}, n)
	for _, idx := range tour[:n] {
		if _, dup := seen[idx]; dup {
			return Result{Reason: ErrDuplicateCity}
		}
		seen[idx] = struct{}{}
	}
	actual, err := TourCost(points, tour)
	if err != nil {
		return Result{Reason: err}
	}
	if math.Abs(actual-claimedCost) > CostTolerance {
		return Result{Reason: ErrCostMismatch, ActualCost: actual}
	}
	baseline := baselineCost(points)
	efficiency := 1.0
	if actual != 0 {
		efficiency = baseline / actual
	}
	return Result{
		Valid:        true,
		ActualCost:   actual,
		BaselineCost: baseline,
		Efficiency:   efficiency,
		Reward:       int64(math.Floor(float64(RewardPerCity*n) * efficiency)),
	}
}

// SequentialTour is the naive 0,1,...,N-1,0 baseline ordering.
func SequentialTour(n int) []int {
	tour := make([]int, n+1)
	for i := 0; i < n; i++ {
		tour[i] = i
	}
	return tour
}

func baselineCost(points []Point) float64 {
	cost, _ := TourCost(points, SequentialTour(len(points)))
	return cost
}

func distance(a, b Point) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}
