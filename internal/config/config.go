package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// World holds the generation and capacity parameters of one universe.
// Changing seed, chunk size or density re-rolls every chunk, so these
// are deployment constants, not tunables.
type World struct {
	Name              string
	Seed              int64
	ChunkSize         int
	Density           float64
	MaxAgents         int
	InactivityTimeout time.Duration
}

type APIConfig struct {
	Addr        string
	DatabaseURL string
	AdminToken  string
	World       World
}

type WorkerConfig struct {
	APIBaseURL     string
	AdminToken     string
	DatabaseURL    string
	ArchiveDir     string
	TickEvery      time.Duration
	EventRetention time.Duration
	RunOnce        bool
}

type CLIConfig struct {
	APIBaseURL string
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := strings.TrimSpace(os.Getenv("PORT"))
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("OPENGRID_API_ADDR", ":8080")
	}

	world, err := loadWorld()
	if err != nil {
		return APIConfig{}, err
	}
	return APIConfig{
		Addr:        addr,
		DatabaseURL: strings.TrimSpace(os.Getenv("OPENGRID_DATABASE_URL")),
		AdminToken:  strings.TrimSpace(os.Getenv("OPENGRID_ADMIN_TOKEN")),
		World:       world,
	}, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	cfg := WorkerConfig{
		APIBaseURL:     strings.TrimRight(envDefault("OPENGRID_API_BASE_URL", "http://localhost:8080"), "/"),
		AdminToken:     strings.TrimSpace(os.Getenv("OPENGRID_ADMIN_TOKEN")),
		DatabaseURL:    strings.TrimSpace(os.Getenv("OPENGRID_DATABASE_URL")),
		ArchiveDir:     envDefault("OPENGRID_ARCHIVE_DIR", "archive"),
		TickEvery:      envDurationDefault("OPENGRID_WORKER_TICK_EVERY", time.Minute),
		EventRetention: envDurationDefault("OPENGRID_EVENT_RETENTION", 24*time.Hour),
		RunOnce:        envBoolDefault("OPENGRID_WORKER_RUN_ONCE", false),
	}
	if cfg.AdminToken == "" {
		return cfg, fmt.Errorf("OPENGRID_ADMIN_TOKEN is required")
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("OG_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

// loadWorld reads world parameters from OPENGRID_* variables; when
// OPENGRID_WORLD_FILE is set the file is authoritative and the env
// values are ignored.
func loadWorld() (World, error) {
	if path := strings.TrimSpace(os.Getenv("OPENGRID_WORLD_FILE")); path != "" {
		return loadWorldFile(path)
	}
	return World{
		Name:              envDefault("OPENGRID_WORLD_NAME", "opengrid"),
		Seed:              envInt64Default("OPENGRID_WORLD_SEED", 1337),
		ChunkSize:         int(envInt64Default("OPENGRID_CHUNK_SIZE", 64)),
		Density:           envFloatDefault("OPENGRID_DENSITY", 0.02),
		MaxAgents:         int(envInt64Default("OPENGRID_MAX_AGENTS", 500)),
		InactivityTimeout: envDurationDefault("OPENGRID_EVICT_AFTER", 30*time.Minute),
	}, nil
}

type worldFile struct {
	Name              string  `yaml:"name"`
	Seed              int64   `yaml:"seed"`
	ChunkSize         int     `yaml:"chunk_size"`
	Density           float64 `yaml:"density"`
	MaxAgents         int     `yaml:"max_agents"`
	InactivityTimeout string  `yaml:"inactivity_timeout"`
}

func loadWorldFile(path string) (World, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return World{}, fmt.Errorf("read world file: %w", err)
	}
	var wf worldFile
	if err := yaml.Unmarshal(raw, &wf); err != nil {
		return World{}, fmt.Errorf("parse world file %s: %w", path, err)
	}

	world := World{
		Name:              wf.Name,
		Seed:              wf.Seed,
		ChunkSize:         wf.ChunkSize,
		Density:           wf.Density,
		MaxAgents:         wf.MaxAgents,
		InactivityTimeout: 30 * time.Minute,
	}
	if world.Name == "" {
		world.Name = "opengrid"
	}
	if world.ChunkSize <= 0 {
		world.ChunkSize = 64
	}
	if world.Density <= 0 {
		world.Density = 0.02
	}
	if world.MaxAgents <= 0 {
		world.MaxAgents = 500
	}
	if s := strings.TrimSpace(wf.InactivityTimeout); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return World{}, fmt.Errorf("parse world file %s: inactivity_timeout: %w", path, err)
		}
		world.InactivityTimeout = d
	}
	return world, nil
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt64Default(key string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envFloatDefault(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
