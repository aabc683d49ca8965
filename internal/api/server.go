package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"opengrid/internal/config"
	"opengrid/internal/store"
	"opengrid/internal/tsp"
	"opengrid/internal/universe"
)

type contextKey string

const agentContextKey contextKey = "agent"

// Registration ties a bearer token to an agent identity. It exists
// before the agent spawns and survives eviction.
type Registration struct {
	Identity string
	Name     string
	Token    string
}

type Server struct {
	cfg   config.APIConfig
	log   *slog.Logger
	uni   *universe.Universe
	store *store.Store // nil when persistence is disabled
	hub   *Hub
	mux   *chi.Mux

	mu      sync.RWMutex
	byToken map[string]Registration
}

func New(cfg config.APIConfig, logger *slog.Logger, uni *universe.Universe, st *store.Store, hub *Hub) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		log:     logger,
		uni:     uni,
		store:   st,
		hub:     hub,
		mux:     chi.NewRouter(),
		byToken: make(map[string]Registration),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// RestoreRegistration reinstates a token mapping loaded from the store
// at boot.
func (s *Server) RestoreRegistration(reg Registration) {
	s.mu.Lock()
	s.byToken[reg.Token] = reg
	s.mu.Unlock()
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":    true,
			"world": s.cfg.World.Name,
			"seed":  s.cfg.World.Seed,
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/agents/register", s.handleRegister)
		r.Get("/chunks/{cx}/{cy}", s.handleGetChunk)
		r.Get("/leaderboard", s.handleLeaderboard)
		r.Get("/stats", s.handleStats)
		r.Get("/ws", s.hub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Post("/spawn", s.handleSpawn)
			r.Post("/move", s.handleMove)
			r.Post("/solve", s.handleSolve)
			r.Get("/agents/me", s.handleMe)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.adminMiddleware)
			r.Post("/admin/evict", s.handleEvict)
		})
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Unauthorized", "missing bearer token", nil)
			return
		}
		s.mu.RLock()
		reg, ok := s.byToken[token]
		s.mu.RUnlock()
		if !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized", "unknown token", nil)
			return
		}
		ctx := context.WithValue(r.Context(), agentContextKey, reg)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if s.cfg.AdminToken == "" || token != s.cfg.AdminToken {
			writeError(w, http.StatusForbidden, "Forbidden", "admin token required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func agentFromContext(ctx context.Context) (Registration, error) {
	reg, ok := ctx.Value(agentContextKey).(Registration)
	if !ok || reg.Identity == "" {
		return Registration{}, errors.New("missing agent context")
	}
	return reg, nil
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name string `json:"name"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &in); err != nil {
			writeError(w, http.StatusBadRequest, "BadRequest", err.Error(), nil)
			return
		}
	}
	reg := Registration{
		Identity: uuid.NewString(),
		Name:     strings.TrimSpace(in.Name),
		Token:    uuid.NewString(),
	}
	s.mu.Lock()
	s.byToken[reg.Token] = reg
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.SaveAgent(r.Context(), store.AgentRow{
			Identity:   reg.Identity,
			Name:       reg.Name,
			Token:      reg.Token,
			LastActive: time.Now(),
		}); err != nil {
			s.log.Error("persist registration failed", slog.String("agent", reg.Identity), slog.String("err", err.Error()))
		}
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"agent_id": reg.Identity,
		"name":     reg.Name,
		"token":    reg.Token,
	})
}

func (s *Server) handleSpawn(w http.ResponseWriter, r *http.Request) {
	reg, err := agentFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized", err.Error(), nil)
		return
	}
	var in struct {
		X int `json:"x"`
		Y int `json:"y"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error(), nil)
		return
	}
	res, err := s.uni.Spawn(universe.SpawnInput{Identity: reg.Identity, Name: reg.Name, X: in.X, Y: in.Y})
	if err != nil {
		s.writeDomainError(w, err, nil)
		return
	}
	s.persistAgent(r.Context(), reg)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	reg, err := agentFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized", err.Error(), nil)
		return
	}
	var in struct {
		Direction string `json:"direction"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error(), nil)
		return
	}
	res, err := s.uni.Move(reg.Identity, strings.ToLower(strings.TrimSpace(in.Direction)))
	if err != nil {
		s.writeDomainError(w, err, nil)
		return
	}
	s.persistAgent(r.Context(), reg)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSolve(w http.ResponseWriter, r *http.Request) {
	reg, err := agentFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized", err.Error(), nil)
		return
	}
	var in struct {
		Tour        []int   `json:"tour"`
		ClaimedCost float64 `json:"claimed_cost"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error(), nil)
		return
	}
	res, err := s.uni.SolveTSP(universe.SolveInput{
		Identity:    reg.Identity,
		Tour:        in.Tour,
		ClaimedCost: in.ClaimedCost,
	})
	if err != nil {
		var detail map[string]any
		if errors.Is(err, universe.ErrAlreadySolved) {
			detail = map[string]any{"prior_solver": res.PriorSolver, "city_key": res.CityKey}
		}
		s.writeDomainError(w, err, detail)
		return
	}
	if !res.Valid {
		writeError(w, http.StatusBadRequest, errorCode(res.Reason), res.Reason.Error(), map[string]any{
			"actual_cost":  res.ActualCost,
			"claimed_cost": res.ClaimedCost,
		})
		return
	}
	s.persistAgent(r.Context(), reg)
	if s.store != nil {
		if rec, ok := s.uni.Solve(res.CityKey); ok {
			if err := s.store.SaveSolve(r.Context(), rec); err != nil {
				s.log.Error("persist solve failed", slog.String("city", res.CityKey), slog.String("err", err.Error()))
			}
		}
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	reg, err := agentFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized", err.Error(), nil)
		return
	}
	view, err := s.uni.Agent(reg.Identity)
	if err != nil {
		s.writeDomainError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGetChunk(w http.ResponseWriter, r *http.Request) {
	cx, errX := strconv.Atoi(chi.URLParam(r, "cx"))
	cy, errY := strconv.Atoi(chi.URLParam(r, "cy"))
	if errX != nil || errY != nil {
		writeError(w, http.StatusBadRequest, "InvalidChunkRequest", "chunk coordinates must be signed integers", nil)
		return
	}
	writeJSON(w, http.StatusOK, s.uni.GetChunk(cx, cy))
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 25
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": s.uni.Leaderboard(limit)})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.uni.Stats())
}

func (s *Server) handleEvict(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"evicted": s.uni.EvictInactive()})
}

// persistAgent writes the agent's current state through to the store.
// Failures are logged only; memory stays authoritative.
func (s *Server) persistAgent(ctx context.Context, reg Registration) {
	if s.store == nil {
		return
	}
	view, err := s.uni.Agent(reg.Identity)
	if err != nil {
		return
	}
	row := store.AgentRow{
		Identity:   reg.Identity,
		Name:       reg.Name,
		Token:      reg.Token,
		Spawned:    true,
		X:          view.X,
		Y:          view.Y,
		Exp:        view.Exp,
		SpawnedAt:  view.SpawnedAt,
		LastActive: view.LastActive,
	}
	if err := s.store.SaveAgent(ctx, row); err != nil {
		s.log.Error("persist agent failed", slog.String("agent", reg.Identity), slog.String("err", err.Error()))
	}
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error, detail map[string]any) {
	code := errorCode(err)
	switch {
	case errors.Is(err, universe.ErrNotSpawned),
		errors.Is(err, universe.ErrAlreadySpawned),
		errors.Is(err, universe.ErrNotOnCity),
		errors.Is(err, universe.ErrAlreadySolved):
		writeError(w, http.StatusConflict, code, err.Error(), detail)
	case errors.Is(err, universe.ErrAtCapacity):
		writeError(w, http.StatusServiceUnavailable, code, err.Error(), detail)
	case errors.Is(err, universe.ErrInvalidDirection):
		writeError(w, http.StatusBadRequest, code, err.Error(), detail)
	default:
		s.log.Error("request failed", slog.String("err", err.Error()))
		writeError(w, http.StatusInternalServerError, "Internal", err.Error(), detail)
	}
}

// errorCode maps domain sentinels to the wire taxonomy.
func errorCode(err error) string {
	switch {
	case errors.Is(err, universe.ErrNotSpawned):
		return "NotSpawned"
	case errors.Is(err, universe.ErrAlreadySpawned):
		return "AlreadySpawned"
	case errors.Is(err, universe.ErrAtCapacity):
		return "AtCapacity"
	case errors.Is(err, universe.ErrInvalidDirection):
		return "InvalidDirection"
	case errors.Is(err, universe.ErrNotOnCity):
		return "NotOnCity"
	case errors.Is(err, universe.ErrAlreadySolved):
		return "AlreadySolved"
	case errors.Is(err, tsp.ErrTourLengthMismatch):
		return "TourLengthMismatch"
	case errors.Is(err, tsp.ErrNotClosed):
		return "NotClosed"
	case errors.Is(err, tsp.ErrIndexOutOfRange):
		return "IndexOutOfRange"
	case errors.Is(err, tsp.ErrDuplicateCity):
		return "DuplicateCity"
	case errors.Is(err, tsp.ErrCostMismatch):
		return "CostMismatch"
	default:
		return "Internal"
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, detail map[string]any) {
	body := map[string]any{
		"error":   code,
		"message": strings.TrimSpace(message),
	}
	if len(detail) > 0 {
		body["detail"] = detail
	}
	writeJSON(w, status, body)
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
