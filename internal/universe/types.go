package universe

import (
	"time"

	"opengrid/internal/worldgen"
)

type SpawnInput struct {
	Identity string
	Name     string
	X, Y     int
}

type SolveInput struct {
	Identity    string
	Tour        []int
	ClaimedCost float64
}

type SpawnResult struct {
	X        int       `json:"x"`
	Y        int       `json:"y"`
	ChunkKey string    `json:"chunk_key"`
	OnCity   bool      `json:"on_city"`
	City     *CityView `json:"city,omitempty"`
}

type MoveResult struct {
	X         int            `json:"x"`
	Y         int            `json:"y"`
	ChunkKey  string         `json:"chunk_key"`
	City      *CityView      `json:"city,omitempty"`
	Collision *CollisionInfo `json:"collision,omitempty"`
}

type CollisionInfo struct {
	Identity string `json:"identity"`
	Name     string `json:"name,omitempty"`
	Exp      int64  `json:"exp"`
}

type SolveResult struct {
	Valid         bool    `json:"valid"`
	Reason        error   `json:"-"`
	CityKey       string  `json:"city_key"`
	Difficulty    int     `json:"difficulty"`
	Reward        int64   `json:"reward"`
	Exp           int64   `json:"exp"`
	BalanceMicros int64   `json:"balance_micros"`
	ActualCost    float64 `json:"actual_cost"`
	ClaimedCost   float64 `json:"claimed_cost"`
	Efficiency    float64 `json:"efficiency"`
	PriorSolver   string  `json:"prior_solver,omitempty"`
}

type CityView struct {
	LocalX  int    `json:"local_x"`
	LocalY  int    `json:"local_y"`
	GlobalX int    `json:"global_x"`
	GlobalY int    `json:"global_y"`
	Seed    int64  `json:"seed"`
	Solved  bool   `json:"solved"`
	Solver  string `json:"solver,omitempty"`
	Reward  int64  `json:"reward,omitempty"`
}

type ChunkView struct {
	Coord  worldgen.ChunkCoord `json:"coord"`
	Key    string              `json:"key"`
	Cities []CityView          `json:"cities"`
	Agents []AgentSummary      `json:"agents"`
}

type AgentSummary struct {
	Identity string `json:"identity"`
	Name     string `json:"name,omitempty"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Exp      int64  `json:"exp"`
}

type AgentView struct {
	Identity      string    `json:"identity"`
	Name          string    `json:"name,omitempty"`
	X             int       `json:"x"`
	Y             int       `json:"y"`
	ChunkKey      string    `json:"chunk_key"`
	Exp           int64     `json:"exp"`
	BalanceMicros int64     `json:"balance_micros"`
	Solves        int       `json:"solves"`
	OnCity        bool      `json:"on_city"`
	City          *CityView `json:"city,omitempty"`
	CityKey       string    `json:"city_key,omitempty"`
	SpawnedAt     time.Time `json:"spawned_at"`
	LastActive    time.Time `json:"last_active"`
}

type LeaderboardRow struct {
	Rank          int    `json:"rank"`
	Identity      string `json:"identity"`
	Name          string `json:"name,omitempty"`
	Exp           int64  `json:"exp"`
	BalanceMicros int64  `json:"balance_micros"`
	Solves        int    `json:"solves"`
}

type Stats struct {
	WorldSeed     int64   `json:"world_seed"`
	ChunkSize     int     `json:"chunk_size"`
	Density       float64 `json:"density"`
	MaxAgents     int     `json:"max_agents"`
	LiveAgents    int     `json:"live_agents"`
	IndexedChunks int     `json:"indexed_chunks"`
	Solves        int     `json:"solves"`
	UptimeSeconds int64   `json:"uptime_seconds"`
}
