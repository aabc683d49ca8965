package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	cl "opengrid/internal/cli"
	"opengrid/internal/config"
	"opengrid/internal/solver"
	"opengrid/internal/syncq"
	"opengrid/internal/tsp"
	"opengrid/internal/universe"
	"opengrid/internal/worldgen"
)

func main() {
	root := &cobra.Command{
		Use:          "og",
		Short:        "OpenGrid salesman client",
		SilenceUsage: true,
	}

	root.AddCommand(
		newRegisterCmd(),
		newSpawnCmd(),
		newMoveCmd(),
		newScanCmd(),
		newMapCmd(),
		newSolveCmd(),
		newAutoCmd(),
		newMeCmd(),
		newTopCmd(),
		newStatsCmd(),
		newWatchCmd(),
		newSyncCmd(),
		newLogoutCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func sessionClient() (cl.Session, *cl.Client, error) {
	sess, err := cl.LoadSession()
	if err != nil {
		return cl.Session{}, nil, fmt.Errorf("register first: %w", err)
	}
	return sess, cl.NewClient(sess.BaseURL), nil
}

func newRegisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register [name]",
		Short: "Register a salesman identity with the universe",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) > 0 {
				name = strings.TrimSpace(args[0])
			}
			cfg := config.LoadCLIFromEnv()
			client := cl.NewClient(cfg.APIBaseURL)
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			out, err := client.Register(ctx, name)
			if err != nil {
				return err
			}
			if err := cl.SaveSession(cl.Session{
				BaseURL: cfg.APIBaseURL,
				AgentID: out.AgentID,
				Name:    out.Name,
				Token:   out.Token,
			}); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Registered as %s. Session saved.", shortID(out.AgentID)))
			return nil
		},
	}
}

func newSpawnCmd() *cobra.Command {
	var x, y int
	cmd := &cobra.Command{
		Use:   "spawn",
		Short: "Enter the world at a position",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, client, err := sessionClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			out, err := client.Spawn(ctx, sess.Token, x, y)
			if err != nil {
				return err
			}
			return renderSpawn(out)
		},
	}
	cmd.Flags().IntVar(&x, "x", 0, "spawn x coordinate")
	cmd.Flags().IntVar(&y, "y", 0, "spawn y coordinate")
	return cmd
}

func newMoveCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "move <north|south|east|west>",
		Short: "Walk the grid one cell at a time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			direction := strings.ToLower(strings.TrimSpace(args[0]))
			sess, client, err := sessionClient()
			if err != nil {
				return err
			}
			if steps < 1 {
				steps = 1
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(steps)*30*time.Second)
			defer cancel()

			var last universe.MoveResult
			for i := 0; i < steps; i++ {
				last, err = client.Move(ctx, sess.Token, direction)
				if err != nil {
					return queueOnTransportError(err, syncq.Command{
						Method:   "POST",
						Path:     "/v1/move",
						Body:     map[string]any{"direction": direction},
						QueuedAt: time.Now().UTC(),
					})
				}
			}
			return renderMove(last)
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "number of cells to walk")
	return cmd
}

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "List the cities and agents in your current chunk",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, client, err := sessionClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			me, err := client.Me(ctx, sess.Token)
			if err != nil {
				return err
			}
			stats, err := client.Stats(ctx)
			if err != nil {
				return err
			}
			cx, cy, _, _ := worldgen.GlobalToLocal(me.X, me.Y, stats.ChunkSize)
			chunk, err := client.Chunk(ctx, cx, cy)
			if err != nil {
				return err
			}
			return renderScan(chunk, me)
		},
	}
}

func newMapCmd() *cobra.Command {
	var radius int
	cmd := &cobra.Command{
		Use:   "map",
		Short: "Render an ASCII viewport around your position",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, client, err := sessionClient()
			if err != nil {
				return err
			}
			if radius < 4 {
				radius = 4
			}
			if radius > 48 {
				radius = 48
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			me, err := client.Me(ctx, sess.Token)
			if err != nil {
				return err
			}
			stats, err := client.Stats(ctx)
			if err != nil {
				return err
			}
			return renderMap(ctx, client, me, stats.ChunkSize, radius)
		},
	}
	cmd.Flags().IntVar(&radius, "radius", 16, "viewport radius in cells")
	return cmd
}

func newSolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "solve",
		Short: "Solve the TSP problem of the city you stand on",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, client, err := sessionClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			out, err := solveHere(ctx, client, sess.Token)
			if err != nil {
				return err
			}
			return renderSolve(out)
		},
	}
}

func newAutoCmd() *cobra.Command {
	var solves int
	cmd := &cobra.Command{
		Use:   "auto",
		Short: "Roam to the nearest unsolved cities and solve them",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, client, err := sessionClient()
			if err != nil {
				return err
			}
			if solves < 1 {
				solves = 1
			}
			return runAuto(cmd.Context(), client, sess.Token, solves)
		},
	}
	cmd.Flags().IntVar(&solves, "solves", 1, "number of cities to solve before stopping")
	return cmd
}

func newMeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show your agent state",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, client, err := sessionClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			me, err := client.Me(ctx, sess.Token)
			if err != nil {
				return err
			}
			return renderMe(me)
		},
	}
}

func newTopCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "top",
		Short: "Show the experience leaderboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadCLIFromEnv()
			client := cl.NewClient(baseURLOrDefault(cfg.APIBaseURL))
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			rows, err := client.Leaderboard(ctx, limit)
			if err != nil {
				return err
			}
			return renderLeaderboard(rows)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 25, "number of rows")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show universe statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadCLIFromEnv()
			client := cl.NewClient(baseURLOrDefault(cfg.APIBaseURL))
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			stats, err := client.Stats(ctx)
			if err != nil {
				return err
			}
			return renderStats(stats)
		},
	}
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream live universe events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadCLIFromEnv()
			client := cl.NewClient(baseURLOrDefault(cfg.APIBaseURL))

			conn, err := client.Watch(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()

			printInfo("Watching universe events. Ctrl-C to stop.")
			for {
				var ev universe.Event
				if err := conn.ReadJSON(&ev); err != nil {
					if cmd.Context().Err() != nil {
						return nil
					}
					return fmt.Errorf("event feed closed: %w", err)
				}
				renderEvent(ev)
			}
		},
	}
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay commands queued while offline",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, client, err := sessionClient()
			if err != nil {
				return err
			}
			queue, err := syncq.Default()
			if err != nil {
				return err
			}
			commands, err := queue.Load()
			if err != nil {
				return err
			}
			if len(commands) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			remaining := make([]syncq.Command, 0, len(commands))
			replayed := 0
			for i, q := range commands {
				if len(remaining) > 0 {
					// Replay stays in original order: once one command
					// is stuck, everything behind it waits too.
					remaining = append(remaining, q)
					continue
				}
				if _, err := client.Do(ctx, q.Method, q.Path, sess.Token, q.Body); err != nil {
					var apiErr *cl.APIError
					if errors.As(err, &apiErr) {
						// The server rejected it outright: drop it.
						printWarn(fmt.Sprintf("Dropped %s %s: %v", q.Method, q.Path, err))
						continue
					}
					printError(fmt.Sprintf("Still unreachable at %s %s: %v", q.Method, q.Path, err))
					remaining = append(remaining, commands[i])
					continue
				}
				replayed++
			}
			if err := queue.Save(remaining); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Sync complete: replayed=%d dropped=%d remaining=%d",
				replayed, len(commands)-replayed-len(remaining), len(remaining)))
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the local session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Session cleared.")
			return nil
		},
	}
}

// solveHere regenerates the local city's problem from its seed, runs
// the solver, verifies the tour locally, and submits it.
func solveHere(ctx context.Context, client *cl.Client, token string) (universe.SolveResult, error) {
	me, err := client.Me(ctx, token)
	if err != nil {
		return universe.SolveResult{}, err
	}
	if me.City == nil {
		return universe.SolveResult{}, fmt.Errorf("not standing on a city (position %d,%d)", me.X, me.Y)
	}
	if me.City.Solved {
		return universe.SolveResult{}, fmt.Errorf("city already solved by %s", shortID(me.City.Solver))
	}

	points := tsp.GenerateProblem(me.City.Seed, tsp.DifficultyFor(me.Exp))
	tour, cost := solver.Solve(points)
	if check := tsp.VerifySolution(points, tour, cost); !check.Valid {
		return universe.SolveResult{}, fmt.Errorf("local verification failed: %v", check.Reason)
	}
	return client.Solve(ctx, token, tour, cost)
}

func runAuto(ctx context.Context, client *cl.Client, token string, target int) error {
	stats, err := client.Stats(ctx)
	if err != nil {
		return err
	}

	solved := 0
	for solved < target {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		me, err := client.Me(ctx, token)
		if err != nil {
			return err
		}

		if me.City != nil && !me.City.Solved {
			out, err := solveHere(ctx, client, token)
			if err != nil {
				return err
			}
			if err := renderSolve(out); err != nil {
				return err
			}
			solved++
			continue
		}

		gx, gy, found, err := nearestUnsolvedCity(ctx, client, me.X, me.Y, stats.ChunkSize)
		if err != nil {
			return err
		}
		if !found {
			printWarn("No unsolved city in the surrounding chunks. Wander east and retry.")
			gx, gy = me.X+stats.ChunkSize, me.Y
		}
		printInfo(fmt.Sprintf("Walking from %d,%d to %d,%d.", me.X, me.Y, gx, gy))
		if err := walkTo(ctx, client, token, me.X, me.Y, gx, gy); err != nil {
			return err
		}
	}
	printSuccess(fmt.Sprintf("Auto run complete: %d solved.", solved))
	return nil
}

// nearestUnsolvedCity scans the agent's chunk and its eight neighbours
// for the closest unsolved city by Manhattan distance.
func nearestUnsolvedCity(ctx context.Context, client *cl.Client, x, y, chunkSize int) (int, int, bool, error) {
	cx, cy, _, _ := worldgen.GlobalToLocal(x, y, chunkSize)
	bestX, bestY := 0, 0
	bestDist := -1
	for dcx := -1; dcx <= 1; dcx++ {
		for dcy := -1; dcy <= 1; dcy++ {
			chunk, err := client.Chunk(ctx, cx+dcx, cy+dcy)
			if err != nil {
				return 0, 0, false, err
			}
			for _, city := range chunk.Cities {
				if city.Solved {
					continue
				}
				dist := absInt(city.GlobalX-x) + absInt(city.GlobalY-y)
				if dist == 0 {
					continue
				}
				if bestDist < 0 || dist < bestDist {
					bestDist = dist
					bestX, bestY = city.GlobalX, city.GlobalY
				}
			}
		}
	}
	return bestX, bestY, bestDist >= 0, nil
}

func walkTo(ctx context.Context, client *cl.Client, token string, fromX, fromY, toX, toY int) error {
	step := func(direction string) error {
		_, err := client.Move(ctx, token, direction)
		return err
	}
	for x := fromX; x != toX; {
		if toX > x {
			if err := step("east"); err != nil {
				return err
			}
			x++
		} else {
			if err := step("west"); err != nil {
				return err
			}
			x--
		}
	}
	for y := fromY; y != toY; {
		if toY > y {
			if err := step("south"); err != nil {
				return err
			}
			y++
		} else {
			if err := step("north"); err != nil {
				return err
			}
			y--
		}
	}
	return nil
}

// queueOnTransportError enqueues the command for `og sync` when the
// failure was network-level; structured server rejections pass through.
func queueOnTransportError(err error, cmd syncq.Command) error {
	var apiErr *cl.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	queue, qerr := syncq.Default()
	if qerr != nil {
		return errors.Join(err, qerr)
	}
	if qerr := queue.Push(cmd); qerr != nil {
		return errors.Join(err, qerr)
	}
	printWarn(fmt.Sprintf("Server unreachable, queued %s %s for og sync.", cmd.Method, cmd.Path))
	return nil
}

func baseURLOrDefault(fallback string) string {
	if sess, err := cl.LoadSession(); err == nil && sess.BaseURL != "" {
		return sess.BaseURL
	}
	return fallback
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
