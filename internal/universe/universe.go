package universe

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"opengrid/internal/tsp"
	"opengrid/internal/worldgen"
)

const (
	DefaultMaxAgents         = 500
	DefaultInactivityTimeout = 30 * time.Minute

	MicrosPerCredit = int64(1_000_000)
)

var (
	ErrNotSpawned       = errors.New("agent has not spawned")
	ErrAlreadySpawned   = errors.New("agent already spawned")
	ErrAtCapacity       = errors.New("universe is at agent capacity")
	ErrInvalidDirection = errors.New("direction must be north, south, east or west")
	ErrNotOnCity        = errors.New("agent is not standing on a city")
	ErrAlreadySolved    = errors.New("city already solved")
)

// The world is screen-oriented: y grows southward.
var directionSteps = map[string][2]int{
	"north": {0, -1},
	"south": {0, 1},
	"east":  {1, 0},
	"west":  {-1, 0},
}

type Agent struct {
	Identity   string
	Name       string
	X, Y       int
	Exp        int64
	SpawnedAt  time.Time
	LastActive time.Time
}

func (a *Agent) BalanceMicros() int64 {
	return a.Exp * MicrosPerCredit
}

type SolveRecord struct {
	CityKey    string
	Chunk      worldgen.ChunkCoord
	LocalX     int
	LocalY     int
	Solver     string
	Reward     int64
	ActualCost float64
	SolvedAt   time.Time
}

type Config struct {
	WorldSeed         int64
	ChunkSize         int
	Density           float64
	MaxAgents         int
	InactivityTimeout time.Duration
	Sink              EventSink
	Now               func() time.Time
}

// Universe owns the authoritative world state. Every operation takes the
// single lock and runs to completion, so spatial-index and solve-record
// invariants hold between any two requests. Events are dispatched after
// the lock is released.
type Universe struct {
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	agents  map[string]*Agent
	index   map[string]map[string]struct{} // chunk key -> identities
	solves  map[string]SolveRecord         // city key -> record
	started time.Time
}

func New(cfg Config, log *slog.Logger) *Universe {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = worldgen.DefaultChunkSize
	}
	if cfg.Density <= 0 {
		cfg.Density = worldgen.DefaultDensity
	}
	if cfg.MaxAgents <= 0 {
		cfg.MaxAgents = DefaultMaxAgents
	}
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = DefaultInactivityTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	u := &Universe{
		cfg:    cfg,
		log:    log,
		agents: make(map[string]*Agent),
		index:  make(map[string]map[string]struct{}),
		solves: make(map[string]SolveRecord),
	}
	u.started = cfg.Now()
	return u
}

func (u *Universe) Spawn(in SpawnInput) (SpawnResult, error) {
	u.mu.Lock()
	res, events, err := u.spawnLocked(in)
	u.mu.Unlock()
	for _, ev := range events {
		u.emit(ev)
	}
	return res, err
}

func (u *Universe) spawnLocked(in SpawnInput) (SpawnResult, []Event, error) {
	if _, live := u.agents[in.Identity]; live {
		return SpawnResult{}, nil, ErrAlreadySpawned
	}
	now := u.cfg.Now()
	var events []Event
	if len(u.agents) >= u.cfg.MaxAgents {
		events = u.evictInactiveLocked(now)
		if len(u.agents) >= u.cfg.MaxAgents {
			return SpawnResult{}, events, ErrAtCapacity
		}
	}
	agent := &Agent{
		Identity:   in.Identity,
		Name:       in.Name,
		X:          in.X,
		Y:          in.Y,
		SpawnedAt:  now,
		LastActive: now,
	}
	u.agents[in.Identity] = agent
	u.indexInsertLocked(in.Identity, in.X, in.Y)

	res := SpawnResult{X: in.X, Y: in.Y, ChunkKey: u.chunkKeyAt(in.X, in.Y)}
	if city, ok := u.cityViewAtLocked(in.X, in.Y); ok {
		res.OnCity = true
		res.City = &city
	}
	events = append(events, Event{Kind: EventSpawn, Agent: in.Identity, Name: in.Name, X: in.X, Y: in.Y})
	return res, events, nil
}

func (u *Universe) Move(identity, direction string) (MoveResult, error) {
	u.mu.Lock()
	res, events, err := u.moveLocked(identity, direction)
	u.mu.Unlock()
	for _, ev := range events {
		u.emit(ev)
	}
	return res, err
}

func (u *Universe) moveLocked(identity, direction string) (MoveResult, []Event, error) {
	agent, ok := u.agents[identity]
	if !ok {
		return MoveResult{}, nil, ErrNotSpawned
	}
	step, ok := directionSteps[direction]
	if !ok {
		return MoveResult{}, nil, ErrInvalidDirection
	}
	nx, ny := agent.X+step[0], agent.Y+step[1]

	// Position and index move together inside the same critical section.
	u.indexRemoveLocked(identity, agent.X, agent.Y)
	agent.X, agent.Y = nx, ny
	u.indexInsertLocked(identity, nx, ny)
	agent.LastActive = u.cfg.Now()

	res := MoveResult{X: nx, Y: ny, ChunkKey: u.chunkKeyAt(nx, ny)}
	ev := Event{Kind: EventMove, Agent: identity, Name: agent.Name, X: nx, Y: ny, Exp: agent.Exp}
	if city, onCity := u.cityViewAtLocked(nx, ny); onCity {
		res.City = &city
		cx, cy, lx, ly := worldgen.GlobalToLocal(nx, ny, u.cfg.ChunkSize)
		ev.CityKey = worldgen.CityKey(cx, cy, lx, ly)
	}
	if partner := u.collisionPartnerLocked(identity, nx, ny); partner != nil {
		res.Collision = &CollisionInfo{Identity: partner.Identity, Name: partner.Name, Exp: partner.Exp}
	}
	return res, []Event{ev}, nil
}

func (u *Universe) SolveTSP(in SolveInput) (SolveResult, error) {
	u.mu.Lock()
	res, events, err := u.solveLocked(in)
	u.mu.Unlock()
	for _, ev := range events {
		u.emit(ev)
	}
	if err == nil && res.Valid {
		u.log.Info("city solved",
			slog.String("agent", in.Identity),
			slog.String("city", res.CityKey),
			slog.Int64("reward", res.Reward),
			slog.Int64("exp", res.Exp))
	}
	return res, err
}

func (u *Universe) solveLocked(in SolveInput) (SolveResult, []Event, error) {
	agent, ok := u.agents[in.Identity]
	if !ok {
		return SolveResult{}, nil, ErrNotSpawned
	}
	now := u.cfg.Now()

	city, onCity := worldgen.CityAt(u.cfg.WorldSeed, agent.X, agent.Y, u.cfg.ChunkSize, u.cfg.Density)
	if !onCity {
		return SolveResult{}, nil, ErrNotOnCity
	}
	cx, cy, lx, ly := worldgen.GlobalToLocal(agent.X, agent.Y, u.cfg.ChunkSize)
	key := worldgen.CityKey(cx, cy, lx, ly)
	if rec, taken := u.solves[key]; taken {
		return SolveResult{CityKey: key, PriorSolver: rec.Solver}, nil, ErrAlreadySolved
	}

	difficulty := tsp.DifficultyFor(agent.Exp)
	points := tsp.GenerateProblem(city.Seed, difficulty)
	verdict := tsp.VerifySolution(points, in.Tour, in.ClaimedCost)
	res := SolveResult{
		CityKey:     key,
		Difficulty:  len(points),
		ClaimedCost: in.ClaimedCost,
		ActualCost:  verdict.ActualCost,
		Efficiency:  verdict.Efficiency,
	}
	if !verdict.Valid {
		// A rejected tour is an outcome, not an operation failure: prior
		// state survives untouched and the reason rides in the result.
		res.Reason = verdict.Reason
		return res, nil, nil
	}

	u.solves[key] = SolveRecord{
		CityKey:    key,
		Chunk:      worldgen.ChunkCoord{X: cx, Y: cy},
		LocalX:     lx,
		LocalY:     ly,
		Solver:     in.Identity,
		Reward:     verdict.Reward,
		ActualCost: verdict.ActualCost,
		SolvedAt:   now,
	}
	agent.Exp += verdict.Reward
	agent.LastActive = now
	res.Valid = true
	res.Reward = verdict.Reward
	res.Exp = agent.Exp
	res.BalanceMicros = agent.BalanceMicros()
	ev := Event{Kind: EventSolve, Agent: in.Identity, Name: agent.Name, X: agent.X, Y: agent.Y, CityKey: key, Reward: verdict.Reward, Exp: agent.Exp}
	return res, []Event{ev}, nil
}

// GetChunk regenerates chunk content and annotates it with solve records
// and the agents currently indexed there. Read-only.
func (u *Universe) GetChunk(cx, cy int) ChunkView {
	u.mu.Lock()
	defer u.mu.Unlock()

	coord := worldgen.ChunkCoord{X: cx, Y: cy}
	cities := worldgen.GenerateChunk(u.cfg.WorldSeed, cx, cy, u.cfg.ChunkSize, u.cfg.Density)
	view := ChunkView{
		Coord:  coord,
		Key:    coord.Key(),
		Cities: make([]CityView, 0, len(cities)),
		Agents: []AgentSummary{},
	}
	for _, city := range cities {
		gx, gy := city.GlobalXY(coord, u.cfg.ChunkSize)
		cv := CityView{LocalX: city.LocalX, LocalY: city.LocalY, GlobalX: gx, GlobalY: gy, Seed: city.Seed}
		if rec, solved := u.solves[worldgen.CityKey(cx, cy, city.LocalX, city.LocalY)]; solved {
			cv.Solved = true
			cv.Solver = rec.Solver
			cv.Reward = rec.Reward
		}
		view.Cities = append(view.Cities, cv)
	}
	ids := make([]string, 0, len(u.index[coord.Key()]))
	for id := range u.index[coord.Key()] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		agent := u.agents[id]
		view.Agents = append(view.Agents, AgentSummary{Identity: id, Name: agent.Name, X: agent.X, Y: agent.Y, Exp: agent.Exp})
	}
	return view
}

// EvictInactive removes every agent idle beyond the inactivity timeout
// from both the registry and the spatial index.
func (u *Universe) EvictInactive() int {
	u.mu.Lock()
	events := u.evictInactiveLocked(u.cfg.Now())
	u.mu.Unlock()
	for _, ev := range events {
		u.emit(ev)
	}
	if len(events) > 0 {
		u.log.Info("evicted inactive agents", slog.Int("count", len(events)))
	}
	return len(events)
}

func (u *Universe) evictInactiveLocked(now time.Time) []Event {
	var events []Event
	for id, agent := range u.agents {
		if now.Sub(agent.LastActive) <= u.cfg.InactivityTimeout {
			continue
		}
		u.indexRemoveLocked(id, agent.X, agent.Y)
		delete(u.agents, id)
		events = append(events, Event{Kind: EventEvict, Agent: id, Name: agent.Name, X: agent.X, Y: agent.Y, Exp: agent.Exp})
	}
	return events
}

func (u *Universe) Agent(identity string) (AgentView, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	agent, ok := u.agents[identity]
	if !ok {
		return AgentView{}, ErrNotSpawned
	}
	view := AgentView{
		Identity:      agent.Identity,
		Name:          agent.Name,
		X:             agent.X,
		Y:             agent.Y,
		ChunkKey:      u.chunkKeyAt(agent.X, agent.Y),
		Exp:           agent.Exp,
		BalanceMicros: agent.BalanceMicros(),
		SpawnedAt:     agent.SpawnedAt,
		LastActive:    agent.LastActive,
	}
	for _, rec := range u.solves {
		if rec.Solver == identity {
			view.Solves++
		}
	}
	if city, ok := u.cityViewAtLocked(agent.X, agent.Y); ok {
		view.OnCity = true
		view.City = &city
		cx, cy, lx, ly := worldgen.GlobalToLocal(agent.X, agent.Y, u.cfg.ChunkSize)
		view.CityKey = worldgen.CityKey(cx, cy, lx, ly)
	}
	return view, nil
}

func (u *Universe) Leaderboard(limit int) []LeaderboardRow {
	u.mu.Lock()
	defer u.mu.Unlock()

	counts := make(map[string]int, len(u.agents))
	for _, rec := range u.solves {
		counts[rec.Solver]++
	}
	rows := make([]LeaderboardRow, 0, len(u.agents))
	for _, agent := range u.agents {
		rows = append(rows, LeaderboardRow{
			Identity:      agent.Identity,
			Name:          agent.Name,
			Exp:           agent.Exp,
			BalanceMicros: agent.BalanceMicros(),
			Solves:        counts[agent.Identity],
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Exp != rows[j].Exp {
			return rows[i].Exp > rows[j].Exp
		}
		return rows[i].Identity < rows[j].Identity
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows
}

func (u *Universe) Stats() Stats {
	u.mu.Lock()
	defer u.mu.Unlock()
	return Stats{
		WorldSeed:     u.cfg.WorldSeed,
		ChunkSize:     u.cfg.ChunkSize,
		Density:       u.cfg.Density,
		MaxAgents:     u.cfg.MaxAgents,
		LiveAgents:    len(u.agents),
		IndexedChunks: len(u.index),
		Solves:        len(u.solves),
		UptimeSeconds: int64(u.cfg.Now().Sub(u.started) / time.Second),
	}
}

// RestoreAgent reinstates a live agent from a snapshot without emitting
// events or refreshing its activity clock.
func (u *Universe) RestoreAgent(a Agent) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if prev, ok := u.agents[a.Identity]; ok {
		u.indexRemoveLocked(a.Identity, prev.X, prev.Y)
	}
	agent := a
	u.agents[a.Identity] = &agent
	u.indexInsertLocked(a.Identity, a.X, a.Y)
}

// RestoreSolve reinstates a solve record from a snapshot.
func (u *Universe) RestoreSolve(rec SolveRecord) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.solves[rec.CityKey] = rec
}

// Solve returns the recorded solve for a city key, if any.
func (u *Universe) Solve(cityKey string) (SolveRecord, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	rec, ok := u.solves[cityKey]
	return rec, ok
}

func (u *Universe) cityViewAtLocked(gx, gy int) (CityView, bool) {
	city, ok := worldgen.CityAt(u.cfg.WorldSeed, gx, gy, u.cfg.ChunkSize, u.cfg.Density)
	if !ok {
		return CityView{}, false
	}
	cx, cy, lx, ly := worldgen.GlobalToLocal(gx, gy, u.cfg.ChunkSize)
	view := CityView{LocalX: lx, LocalY: ly, GlobalX: gx, GlobalY: gy, Seed: city.Seed}
	if rec, solved := u.solves[worldgen.CityKey(cx, cy, lx, ly)]; solved {
		view.Solved = true
		view.Solver = rec.Solver
		view.Reward = rec.Reward
	}
	return view, true
}

func (u *Universe) collisionPartnerLocked(identity string, x, y int) *Agent {
	var partner *Agent
	for id := range u.index[u.chunkKeyAt(x, y)] {
		if id == identity {
			continue
		}
		other := u.agents[id]
		if other == nil || other.X != x || other.Y != y {
			continue
		}
		if partner == nil || id < partner.Identity {
			partner = other
		}
	}
	return partner
}

func (u *Universe) indexInsertLocked(identity string, x, y int) {
	key := u.chunkKeyAt(x, y)
	set, ok := u.index[key]
	if !ok {
		set = make(map[string]struct{})
		u.index[key] = set
	}
	set[identity] = struct{}{}
}

func (u *Universe) indexRemoveLocked(identity string, x, y int) {
	key := u.chunkKeyAt(x, y)
	set, ok := u.index[key]
	if !ok {
		return
	}
	delete(set, identity)
	if len(set) == 0 {
		delete(u.index, key)
	}
}

func (u *Universe) chunkKeyAt(x, y int) string {
	cx, cy, _, _ := worldgen.GlobalToLocal(x, y, u.cfg.ChunkSize)
	return worldgen.ChunkCoord{X: cx, Y: cy}.Key()
}
