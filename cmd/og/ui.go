package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/fatih/color"

	cl "opengrid/internal/cli"
	"opengrid/internal/chunkcache"
	"opengrid/internal/tsp"
	"opengrid/internal/universe"
	"opengrid/internal/worldgen"
)

var (
	accent  = color.New(color.FgCyan, color.Bold)
	success = color.New(color.FgGreen, color.Bold)
	warn    = color.New(color.FgYellow, color.Bold)
	danger  = color.New(color.FgRed, color.Bold)
	neutral = color.New(color.FgHiWhite)
	dim     = color.New(color.FgHiBlack)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func renderSpawn(out universe.SpawnResult) error {
	accent.Println("\n== SPAWNED ==")
	fmt.Printf("Position: %d,%d (chunk %s)\n", out.X, out.Y, out.ChunkKey)
	if out.OnCity && out.City != nil {
		success.Printf("You landed on a city (seed %d). Run `og solve`.\n", out.City.Seed)
	}
	fmt.Println()
	return nil
}

func renderMove(out universe.MoveResult) error {
	fmt.Printf("Position: %d,%d (chunk %s)\n", out.X, out.Y, out.ChunkKey)
	if out.City != nil {
		if out.City.Solved {
			dim.Printf("City here, already solved by %s.\n", shortID(out.City.Solver))
		} else {
			success.Printf("Unsolved city here (seed %d). Run `og solve`.\n", out.City.Seed)
		}
	}
	if out.Collision != nil {
		warn.Printf("Bumped into %s (exp %d).\n", displayName(out.Collision.Name, out.Collision.Identity), out.Collision.Exp)
	}
	return nil
}

func renderSolve(out universe.SolveResult) error {
	accent.Println("\n== CITY SOLVED ==")
	fmt.Printf("City:       %s\n", out.CityKey)
	fmt.Printf("Cities:     %d\n", out.Difficulty)
	fmt.Printf("Tour cost:  %.4f\n", out.ActualCost)
	fmt.Printf("Efficiency: %.2f%%\n", out.Efficiency*100)
	success.Printf("Reward:     +%d exp\n", out.Reward)
	fmt.Printf("Total exp:  %d\n", out.Exp)
	fmt.Printf("Balance:    %s credits\n", formatCredits(out.BalanceMicros))
	fmt.Println()
	return nil
}

func renderMe(me universe.AgentView) error {
	accent.Println("\n== AGENT ==")
	fmt.Printf("Identity:   %s\n", me.Identity)
	if me.Name != "" {
		fmt.Printf("Name:       %s\n", me.Name)
	}
	fmt.Printf("Position:   %d,%d (chunk %s)\n", me.X, me.Y, me.ChunkKey)
	fmt.Printf("Experience: %d\n", me.Exp)
	fmt.Printf("Balance:    %s credits\n", formatCredits(me.BalanceMicros))
	fmt.Printf("Solves:     %d\n", me.Solves)
	fmt.Printf("Next size:  %d cities\n", tsp.DifficultyFor(me.Exp))
	if me.City != nil {
		if me.City.Solved {
			dim.Printf("Standing on city %s, solved by %s.\n", me.CityKey, shortID(me.City.Solver))
		} else {
			success.Printf("Standing on unsolved city %s.\n", me.CityKey)
		}
	}
	fmt.Printf("Last seen:  %s\n", me.LastActive.Local().Format("2006-01-02 15:04:05"))
	fmt.Println()
	return nil
}

func renderScan(chunk universe.ChunkView, me universe.AgentView) error {
	accent.Printf("\n== CHUNK %s ==\n", chunk.Key)
	if len(chunk.Cities) == 0 {
		printInfo("No cities in this chunk.")
	} else {
		fmt.Printf("%-14s %-10s %-12s %-10s\n", "GLOBAL", "LOCAL", "SEED", "STATUS")
		for _, c := range chunk.Cities {
			status := neutral.Sprint("open")
			if c.Solved {
				status = dim.Sprintf("solved by %s", shortID(c.Solver))
			}
			marker := " "
			if c.GlobalX == me.X && c.GlobalY == me.Y {
				marker = accent.Sprint("@")
			}
			fmt.Printf("%-14s %-10s %-12d %-10s %s\n",
				fmt.Sprintf("%d,%d", c.GlobalX, c.GlobalY),
				fmt.Sprintf("%d,%d", c.LocalX, c.LocalY),
				c.Seed,
				status,
				marker,
			)
		}
	}

	fmt.Println()
	accent.Println("Agents")
	if len(chunk.Agents) == 0 {
		printInfo("Nobody else here.")
	} else {
		for _, a := range chunk.Agents {
			who := displayName(a.Name, a.Identity)
			if a.Identity == me.Identity {
				who = who + " (you)"
			}
			fmt.Printf("%-20s %d,%d exp=%d\n", who, a.X, a.Y, a.Exp)
		}
	}
	fmt.Println()
	return nil
}

// renderMap draws a square viewport of cells around the agent, loading
// the overlapping chunks through the mirror cache.
func renderMap(ctx context.Context, client *cl.Client, me universe.AgentView, chunkSize, radius int) error {
	cache := chunkcache.New(func(coord worldgen.ChunkCoord) (universe.ChunkView, error) {
		return client.Chunk(ctx, coord.X, coord.Y)
	}, chunkcache.DefaultMaxChunks)

	span := float64(2*radius + 1)
	view := chunkcache.Viewport{
		X:      float64(me.X - radius),
		Y:      float64(me.Y - radius),
		Width:  span,
		Height: span,
	}
	visible := chunkcache.VisibleChunks(view, 1, chunkSize)

	type cell struct {
		city   bool
		solved bool
		agent  bool
	}
	cells := make(map[[2]int]cell)
	for _, coord := range visible {
		chunk, err := cache.Load(coord)
		if err != nil {
			return err
		}
		for _, c := range chunk.Cities {
			cells[[2]int{c.GlobalX, c.GlobalY}] = cell{city: true, solved: c.Solved}
		}
		for _, a := range chunk.Agents {
			if a.Identity == me.Identity {
				continue
			}
			entry := cells[[2]int{a.X, a.Y}]
			entry.agent = true
			cells[[2]int{a.X, a.Y}] = entry
		}
	}
	cache.EvictOutsideView(visible, 1)

	accent.Printf("\n== MAP %d,%d r=%d ==\n", me.X, me.Y, radius)
	var row strings.Builder
	for y := me.Y - radius; y <= me.Y+radius; y++ {
		row.Reset()
		for x := me.X - radius; x <= me.X+radius; x++ {
			switch entry := cells[[2]int{x, y}]; {
			case x == me.X && y == me.Y:
				row.WriteString(accent.Sprint("@"))
			case entry.agent:
				row.WriteString(warn.Sprint("A"))
			case entry.city && !entry.solved:
				row.WriteString(success.Sprint("*"))
			case entry.city:
				row.WriteString(dim.Sprint("o"))
			default:
				row.WriteString(dim.Sprint("."))
			}
		}
		fmt.Println(row.String())
	}
	fmt.Printf("%s you  %s agent  %s city  %s solved\n\n",
		accent.Sprint("@"), warn.Sprint("A"), success.Sprint("*"), dim.Sprint("o"))
	return nil
}

func renderLeaderboard(rows []universe.LeaderboardRow) error {
	accent.Println("\n== LEADERBOARD ==")
	if len(rows) == 0 {
		printInfo("No agents in the universe yet.")
		return nil
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Rank < rows[j].Rank })
	fmt.Printf("%-6s %-18s %-10s %10s %8s %16s\n", "RANK", "NAME", "AGENT", "EXP", "SOLVES", "BALANCE")
	for _, row := range rows {
		fmt.Printf("%-6d %-18s %-10s %10d %8d %16s\n",
			row.Rank,
			truncate(displayName(row.Name, row.Identity), 18),
			shortID(row.Identity),
			row.Exp,
			row.Solves,
			formatCredits(row.BalanceMicros),
		)
	}
	fmt.Println()
	return nil
}

func renderStats(stats universe.Stats) error {
	accent.Println("\n== UNIVERSE ==")
	fmt.Printf("World seed:  %d\n", stats.WorldSeed)
	fmt.Printf("Chunk size:  %d\n", stats.ChunkSize)
	fmt.Printf("Density:     %.3f\n", stats.Density)
	fmt.Printf("Agents:      %d / %d\n", stats.LiveAgents, stats.MaxAgents)
	fmt.Printf("Chunks busy: %d\n", stats.IndexedChunks)
	fmt.Printf("Solves:      %d\n", stats.Solves)
	fmt.Printf("Uptime:      %ds\n", stats.UptimeSeconds)
	fmt.Println()
	return nil
}

func renderEvent(ev universe.Event) {
	ts := ev.At.Local().Format("15:04:05")
	who := displayName(ev.Name, ev.Agent)
	switch ev.Kind {
	case universe.EventSpawn:
		fmt.Printf("%s %s %s spawned at %d,%d\n", dim.Sprint(ts), success.Sprint("SPAWN"), who, ev.X, ev.Y)
	case universe.EventMove:
		fmt.Printf("%s %s  %s at %d,%d\n", dim.Sprint(ts), neutral.Sprint("MOVE"), who, ev.X, ev.Y)
	case universe.EventSolve:
		fmt.Printf("%s %s %s solved %s for +%d exp (total %d)\n",
			dim.Sprint(ts), accent.Sprint("SOLVE"), who, ev.CityKey, ev.Reward, ev.Exp)
	case universe.EventEvict:
		fmt.Printf("%s %s %s evicted from %d,%d\n", dim.Sprint(ts), warn.Sprint("EVICT"), who, ev.X, ev.Y)
	default:
		fmt.Printf("%s %s %s\n", dim.Sprint(ts), string(ev.Kind), who)
	}
}

func displayName(name, identity string) string {
	if strings.TrimSpace(name) != "" {
		return name
	}
	return shortID(identity)
}

func formatCredits(micros int64) string {
	sign := ""
	if micros < 0 {
		sign = "-"
		micros = -micros
	}
	whole := micros / universe.MicrosPerCredit
	frac := (micros % universe.MicrosPerCredit) / 10_000
	return fmt.Sprintf("%s%s.%02d", sign, comma(whole), frac)
}

func comma(v int64) string {
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		b.WriteByte(',')
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
