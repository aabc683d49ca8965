package tsp

import (
	"math"
	"reflect"
	"testing"
)

func TestDifficultyFor(t *testing.T) {
	tests := []struct {
		exp  int64
		want int
	}{
		{exp: 0, want: 5},
		{exp: 99, want: 5},
		{exp: 100, want: 7},
		{exp: 499, want: 7},
		{exp: 500, want: 10},
		{exp: 1999, want: 10},
		{exp: 2000, want: 15},
		{exp: 9999, want: 15},
		{exp: 10000, want: 20},
		{exp: 1_000_000, want: 20},
	}
	for _, tc := range tests {
		if got := DifficultyFor(tc.exp); got != tc.want {
			t.Fatalf("DifficultyFor(%d)=%d want=%d", tc.exp, got, tc.want)
		}
	}
}

func TestGenerateProblemClamp(t *testing.T) {
	tests := []struct {
		n    int
		want int
	}{
		{n: -3, want: MinCities},
		{n: 0, want: MinCities},
		{n: 4, want: MinCities},
		{n: 7, want: 7},
		{n: 20, want: MaxCities},
		{n: 100, want: MaxCities},
	}
	for _, tc := range tests {
		if got := len(GenerateProblem(555, tc.n)); got != tc.want {
			t.Fatalf("GenerateProblem(555,%d) size=%d want=%d", tc.n, got, tc.want)
		}
	}
}

func TestGenerateProblemGolden(t *testing.T) {
	want := []Point{
		{X: 65.51540484651923, Y: 30.481432331725955},
		{X: 67.4960633739829, Y: 10.6768483761698},
		{X: 51.65744470432401, Y: 48.96663404069841},
		{X: 60.24721972644329, Y: 36.995475785806775},
		{X: 25.666705798357725, Y: 37.418220518156886},
	}
	got := GenerateProblem(12345, 5)
	if len(got) != len(want) {
		t.Fatalf("point count=%d want=%d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(got[i].X-want[i].X) > 1e-9 || math.Abs(got[i].Y-want[i].Y) > 1e-9 {
			t.Fatalf("point[%d]=%+v want=%+v", i, got[i], want[i])
		}
	}
}

func TestGenerateProblemRangeAndDeterminism(t *testing.T) {
	a := GenerateProblem(9_001_002_003, 20)
	b := GenerateProblem(9_001_002_003, 20)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("same seed generated different problems")
	}
	for i, p := range a {
		if p.X < 0 || p.X >= CoordinateSpan || p.Y < 0 || p.Y >= CoordinateSpan {
			t.Fatalf("point[%d] out of range: %+v", i, p)
		}
	}
}
