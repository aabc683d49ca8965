package universe

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"opengrid/internal/tsp"
	"opengrid/internal/worldgen"
)

const testSeed = int64(42)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestUniverse(t *testing.T, clock *testClock, mutate func(*Config)) *Universe {
	t.Helper()
	cfg := Config{
		WorldSeed:         testSeed,
		ChunkSize:         worldgen.DefaultChunkSize,
		Density:           worldgen.DefaultDensity,
		MaxAgents:         10,
		InactivityTimeout: 30 * time.Minute,
	}
	if clock != nil {
		cfg.Now = clock.Now
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg, slog.New(slog.DiscardHandler))
}

// firstCityGlobal returns the world position and seed of the first city
// drawn in chunk (0,0).
func firstCityGlobal(t *testing.T) (int, int, int64) {
	t.Helper()
	cities := worldgen.GenerateChunk(testSeed, 0, 0, worldgen.DefaultChunkSize, worldgen.DefaultDensity)
	if len(cities) == 0 {
		t.Fatalf("chunk 0,0 generated no cities")
	}
	return cities[0].LocalX, cities[0].LocalY, cities[0].Seed
}

// emptyCellGlobal returns a cell in chunk (0,0) with no city on it.
func emptyCellGlobal(t *testing.T) (int, int) {
	t.Helper()
	occupied := make(map[[2]int]bool)
	for _, c := range worldgen.GenerateChunk(testSeed, 0, 0, worldgen.DefaultChunkSize, worldgen.DefaultDensity) {
		occupied[[2]int{c.LocalX, c.LocalY}] = true
	}
	for y := 0; y < worldgen.DefaultChunkSize; y++ {
		for x := 0; x < worldgen.DefaultChunkSize; x++ {
			if !occupied[[2]int{x, y}] {
				return x, y
			}
		}
	}
	t.Fatalf("chunk 0,0 is fully occupied")
	return 0, 0
}

func solveAt(t *testing.T, u *Universe, identity string, citySeed int64, exp int64) (SolveResult, error) {
	t.Helper()
	points := tsp.GenerateProblem(citySeed, tsp.DifficultyFor(exp))
	tour := tsp.SequentialTour(len(points))
	cost, err := tsp.TourCost(points, tour)
	if err != nil {
		t.Fatalf("tour cost: %v", err)
	}
	return u.SolveTSP(SolveInput{Identity: identity, Tour: tour, ClaimedCost: cost})
}

func TestSpawnReportsCityAndRejectsDuplicate(t *testing.T) {
	u := newTestUniverse(t, nil, nil)
	cx, cy, _ := firstCityGlobal(t)

	res, err := u.Spawn(SpawnInput{Identity: "a", X: cx, Y: cy})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if !res.OnCity || res.City == nil {
		t.Fatalf("expected spawn on city at %d,%d", cx, cy)
	}

	if _, err := u.Spawn(SpawnInput{Identity: "a", X: 0, Y: 0}); !errors.Is(err, ErrAlreadySpawned) {
		t.Fatalf("expected ErrAlreadySpawned, got %v", err)
	}
}

func TestMoveRequiresSpawnAndValidDirection(t *testing.T) {
	u := newTestUniverse(t, nil, nil)
	if _, err := u.Move("ghost", "north"); !errors.Is(err, ErrNotSpawned) {
		t.Fatalf("expected ErrNotSpawned, got %v", err)
	}

	if _, err := u.Spawn(SpawnInput{Identity: "a", X: 5, Y: 5}); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if _, err := u.Move("a", "up"); !errors.Is(err, ErrInvalidDirection) {
		t.Fatalf("expected ErrInvalidDirection, got %v", err)
	}
}

func TestMoveStepsAndScreenOrientation(t *testing.T) {
	u := newTestUniverse(t, nil, nil)
	if _, err := u.Spawn(SpawnInput{Identity: "a", X: 0, Y: 0}); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	steps := []struct {
		dir  string
		x, y int
	}{
		{"north", 0, -1},
		{"south", 0, 0},
		{"east", 1, 0},
		{"west", 0, 0},
	}
	for _, s := range steps {
		res, err := u.Move("a", s.dir)
		if err != nil {
			t.Fatalf("move %s: %v", s.dir, err)
		}
		if res.X != s.x || res.Y != s.y {
			t.Fatalf("move %s: got %d,%d want %d,%d", s.dir, res.X, res.Y, s.x, s.y)
		}
	}
}

func TestSpatialIndexExclusivityAcrossChunkBorder(t *testing.T) {
	u := newTestUniverse(t, nil, nil)
	if _, err := u.Spawn(SpawnInput{Identity: "a", X: 63, Y: 0}); err != nil {
		t.Fatalf("spawn: %v", err)
	}

	res, err := u.Move("a", "east")
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if res.ChunkKey != "1,0" {
		t.Fatalf("expected chunk key 1,0 after crossing border, got %q", res.ChunkKey)
	}

	prev := u.GetChunk(0, 0)
	if len(prev.Agents) != 0 {
		t.Fatalf("agent still indexed in previous chunk: %v", prev.Agents)
	}
	next := u.GetChunk(1, 0)
	if len(next.Agents) != 1 || next.Agents[0].Identity != "a" {
		t.Fatalf("agent missing from target chunk index: %v", next.Agents)
	}
}

func TestNegativeChunkIndexing(t *testing.T) {
	u := newTestUniverse(t, nil, nil)
	if _, err := u.Spawn(SpawnInput{Identity: "a", X: -1, Y: -1}); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	view := u.GetChunk(-1, -1)
	if view.Key != "-1,-1" {
		t.Fatalf("expected chunk key -1,-1, got %q", view.Key)
	}
	if len(view.Agents) != 1 {
		t.Fatalf("agent at negative coordinates not indexed: %v", view.Agents)
	}
}

func TestCollisionIsInformational(t *testing.T) {
	u := newTestUniverse(t, nil, nil)
	x, y := emptyCellGlobal(t)
	if _, err := u.Spawn(SpawnInput{Identity: "a", X: x, Y: y}); err != nil {
		t.Fatalf("spawn a: %v", err)
	}
	if _, err := u.Spawn(SpawnInput{Identity: "b", X: x + 1, Y: y}); err != nil {
		t.Fatalf("spawn b: %v", err)
	}

	res, err := u.Move("b", "west")
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if res.X != x || res.Y != y {
		t.Fatalf("collision must not block movement: got %d,%d", res.X, res.Y)
	}
	if res.Collision == nil || res.Collision.Identity != "a" {
		t.Fatalf("expected collision with a, got %+v", res.Collision)
	}
}

func TestSolveFlowAndFirstSolverWins(t *testing.T) {
	u := newTestUniverse(t, nil, nil)
	cx, cy, citySeed := firstCityGlobal(t)
	if _, err := u.Spawn(SpawnInput{Identity: "a", X: cx, Y: cy}); err != nil {
		t.Fatalf("spawn a: %v", err)
	}

	res, err := solveAt(t, u, "a", citySeed, 0)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if !res.Valid {
		t.Fatalf("sequential tour at actual cost rejected: %v", res.Reason)
	}
	// Sequential tour equals the baseline, so efficiency is exactly 1.
	if res.Reward != int64(tsp.RewardPerCity*5) {
		t.Fatalf("expected reward %d, got %d", tsp.RewardPerCity*5, res.Reward)
	}
	if res.Exp != res.Reward {
		t.Fatalf("exp %d should equal first reward %d", res.Exp, res.Reward)
	}
	if res.BalanceMicros != res.Exp*MicrosPerCredit {
		t.Fatalf("balance %d not derived from exp %d", res.BalanceMicros, res.Exp)
	}

	if _, err := u.Spawn(SpawnInput{Identity: "b", X: cx, Y: cy}); err != nil {
		t.Fatalf("spawn b: %v", err)
	}
	second, err := solveAt(t, u, "b", citySeed, 0)
	if !errors.Is(err, ErrAlreadySolved) {
		t.Fatalf("expected ErrAlreadySolved, got %v", err)
	}
	if second.PriorSolver != "a" {
		t.Fatalf("expected prior solver a, got %q", second.PriorSolver)
	}
	view, err := u.Agent("b")
	if err != nil {
		t.Fatalf("agent b: %v", err)
	}
	if view.Exp != 0 {
		t.Fatalf("rejected solve must not change exp, got %d", view.Exp)
	}
}

func TestSolveNotOnCity(t *testing.T) {
	u := newTestUniverse(t, nil, nil)
	x, y := emptyCellGlobal(t)
	if _, err := u.Spawn(SpawnInput{Identity: "a", X: x, Y: y}); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if _, err := u.SolveTSP(SolveInput{Identity: "a", Tour: []int{0, 1, 2, 3, 4, 0}, ClaimedCost: 0}); !errors.Is(err, ErrNotOnCity) {
		t.Fatalf("expected ErrNotOnCity, got %v", err)
	}
}

func TestSolveRejectionLeavesStateUntouched(t *testing.T) {
	u := newTestUniverse(t, nil, nil)
	cx, cy, citySeed := firstCityGlobal(t)
	if _, err := u.Spawn(SpawnInput{Identity: "a", X: cx, Y: cy}); err != nil {
		t.Fatalf("spawn: %v", err)
	}

	points := tsp.GenerateProblem(citySeed, 5)
	tour := tsp.SequentialTour(len(points))
	cost, _ := tsp.TourCost(points, tour)
	res, err := u.SolveTSP(SolveInput{Identity: "a", Tour: tour, ClaimedCost: cost + 0.02})
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if res.Valid || !errors.Is(res.Reason, tsp.ErrCostMismatch) {
		t.Fatalf("expected CostMismatch rejection, got valid=%v reason=%v", res.Valid, res.Reason)
	}

	view := u.GetChunk(0, 0)
	for _, c := range view.Cities {
		if c.Solved {
			t.Fatalf("rejected solve must not create a solve record")
		}
	}
	agent, err := u.Agent("a")
	if err != nil {
		t.Fatalf("agent: %v", err)
	}
	if agent.Exp != 0 {
		t.Fatalf("rejected solve must not grant exp, got %d", agent.Exp)
	}
}

func TestRejectedSolveKeepsActivityClock(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	u := newTestUniverse(t, clock, nil)
	cx, cy, citySeed := firstCityGlobal(t)
	if _, err := u.Spawn(SpawnInput{Identity: "a", X: cx, Y: cy}); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	spawnedAt := clock.Now()

	clock.Advance(5 * time.Minute)
	points := tsp.GenerateProblem(citySeed, 5)
	tour := tsp.SequentialTour(len(points))
	cost, err := tsp.TourCost(points, tour)
	if err != nil {
		t.Fatalf("tour cost: %v", err)
	}
	res, err := u.SolveTSP(SolveInput{Identity: "a", Tour: tour, ClaimedCost: cost + 0.02})
	if err != nil || res.Valid {
		t.Fatalf("expected rejected solve, got valid=%v err=%v", res.Valid, err)
	}
	view, err := u.Agent("a")
	if err != nil {
		t.Fatalf("agent: %v", err)
	}
	if !view.LastActive.Equal(spawnedAt) {
		t.Fatalf("rejected solve refreshed activity clock: got %v want %v", view.LastActive, spawnedAt)
	}

	if res, err := u.SolveTSP(SolveInput{Identity: "a", Tour: tour, ClaimedCost: cost}); err != nil || !res.Valid {
		t.Fatalf("valid solve failed: valid=%v err=%v", res.Valid, err)
	}
	view, err = u.Agent("a")
	if err != nil {
		t.Fatalf("agent: %v", err)
	}
	if !view.LastActive.Equal(clock.Now()) {
		t.Fatalf("accepted solve should refresh activity clock: got %v want %v", view.LastActive, clock.Now())
	}
}

func TestGetChunkAnnotatesSolvedCities(t *testing.T) {
	u := newTestUniverse(t, nil, nil)
	cx, cy, citySeed := firstCityGlobal(t)
	if _, err := u.Spawn(SpawnInput{Identity: "a", X: cx, Y: cy}); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if _, err := solveAt(t, u, "a", citySeed, 0); err != nil {
		t.Fatalf("solve: %v", err)
	}

	view := u.GetChunk(0, 0)
	solved := 0
	for _, c := range view.Cities {
		if c.Solved {
			solved++
			if c.Solver != "a" {
				t.Fatalf("expected solver a, got %q", c.Solver)
			}
		}
	}
	if solved != 1 {
		t.Fatalf("expected exactly 1 solved city, got %d", solved)
	}
}

func TestEvictInactiveThenRespawn(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	u := newTestUniverse(t, clock, nil)
	if _, err := u.Spawn(SpawnInput{Identity: "a", X: 3, Y: 3}); err != nil {
		t.Fatalf("spawn: %v", err)
	}

	clock.Advance(31 * time.Minute)
	if n := u.EvictInactive(); n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}
	if _, err := u.Agent("a"); !errors.Is(err, ErrNotSpawned) {
		t.Fatalf("evicted agent still in registry: %v", err)
	}
	if len(u.GetChunk(0, 0).Agents) != 0 {
		t.Fatalf("evicted agent still in spatial index")
	}

	if _, err := u.Spawn(SpawnInput{Identity: "a", X: 3, Y: 3}); err != nil {
		t.Fatalf("respawn after eviction: %v", err)
	}
}

func TestSpawnAtCapacityRunsEvictionSweep(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	u := newTestUniverse(t, clock, func(cfg *Config) { cfg.MaxAgents = 1 })
	if _, err := u.Spawn(SpawnInput{Identity: "a", X: 0, Y: 0}); err != nil {
		t.Fatalf("spawn a: %v", err)
	}

	// a is still active, so the sweep frees nothing.
	if _, err := u.Spawn(SpawnInput{Identity: "b", X: 1, Y: 1}); !errors.Is(err, ErrAtCapacity) {
		t.Fatalf("expected ErrAtCapacity, got %v", err)
	}

	clock.Advance(31 * time.Minute)
	if _, err := u.Spawn(SpawnInput{Identity: "b", X: 1, Y: 1}); err != nil {
		t.Fatalf("spawn after opportunistic eviction: %v", err)
	}
	if _, err := u.Agent("a"); !errors.Is(err, ErrNotSpawned) {
		t.Fatalf("stale agent should have been evicted")
	}
}

func TestLeaderboardOrdering(t *testing.T) {
	u := newTestUniverse(t, nil, nil)
	cx, cy, citySeed := firstCityGlobal(t)
	if _, err := u.Spawn(SpawnInput{Identity: "poor", X: 0, Y: 1}); err != nil {
		t.Fatalf("spawn poor: %v", err)
	}
	if _, err := u.Spawn(SpawnInput{Identity: "rich", X: cx, Y: cy}); err != nil {
		t.Fatalf("spawn rich: %v", err)
	}
	if _, err := solveAt(t, u, "rich", citySeed, 0); err != nil {
		t.Fatalf("solve: %v", err)
	}

	rows := u.Leaderboard(10)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Identity != "rich" || rows[0].Rank != 1 {
		t.Fatalf("expected rich ranked first, got %+v", rows[0])
	}
	if rows[0].Solves != 1 || rows[1].Solves != 0 {
		t.Fatalf("solve counts wrong: %+v", rows)
	}
}

func TestEventsEmittedAfterMutations(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	var events []Event
	u := newTestUniverse(t, clock, func(cfg *Config) {
		cfg.Sink = func(ev Event) { events = append(events, ev) }
	})

	if _, err := u.Spawn(SpawnInput{Identity: "a", X: 0, Y: 0}); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if _, err := u.Move("a", "east"); err != nil {
		t.Fatalf("move: %v", err)
	}
	clock.Advance(31 * time.Minute)
	u.EvictInactive()

	kinds := []EventKind{EventSpawn, EventMove, EventEvict}
	if len(events) != len(kinds) {
		t.Fatalf("expected %d events, got %d", len(kinds), len(events))
	}
	for i, kind := range kinds {
		if events[i].Kind != kind {
			t.Fatalf("event %d: got kind %q want %q", i, events[i].Kind, kind)
		}
		if events[i].ID == "" {
			t.Fatalf("event %d missing id", i)
		}
	}
}

func TestIdenticallyDrivenUniversesAgree(t *testing.T) {
	drive := func() *Universe {
		u := newTestUniverse(t, nil, nil)
		cx, cy, citySeed := firstCityGlobal(t)
		if _, err := u.Spawn(SpawnInput{Identity: "a", X: cx, Y: cy}); err != nil {
			t.Fatalf("spawn: %v", err)
		}
		if _, err := solveAt(t, u, "a", citySeed, 0); err != nil {
			t.Fatalf("solve: %v", err)
		}
		if _, err := u.Move("a", "south"); err != nil {
			t.Fatalf("move: %v", err)
		}
		return u
	}

	left, right := drive(), drive()
	lv, rv := left.GetChunk(0, 0), right.GetChunk(0, 0)
	if len(lv.Cities) != len(rv.Cities) {
		t.Fatalf("city counts diverge: %d vs %d", len(lv.Cities), len(rv.Cities))
	}
	for i := range lv.Cities {
		if lv.Cities[i] != rv.Cities[i] {
			t.Fatalf("city %d diverges: %+v vs %+v", i, lv.Cities[i], rv.Cities[i])
		}
	}
	la, _ := left.Agent("a")
	ra, _ := right.Agent("a")
	if la.X != ra.X || la.Y != ra.Y || la.Exp != ra.Exp {
		t.Fatalf("agent state diverges: %+v vs %+v", la, ra)
	}
}
