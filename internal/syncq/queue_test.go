package syncq

import (
	"testing"
	"time"
)

func TestQueueRoundTripPreservesOrder(t *testing.T) {
	q, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}

	empty, err := q.Load()
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("fresh queue not empty: %v", empty)
	}

	now := time.Now().UTC().Truncate(time.Second)
	cmds := []Command{
		{Method: "POST", Path: "/v1/move", Body: map[string]any{"direction": "north"}, QueuedAt: now},
		{Method: "POST", Path: "/v1/move", Body: map[string]any{"direction": "east"}, QueuedAt: now.Add(time.Second)},
		{Method: "POST", Path: "/v1/solve", Body: map[string]any{"claimed_cost": 12.5}, QueuedAt: now.Add(2 * time.Second)},
	}
	for _, c := range cmds {
		if err := q.Push(c); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	got, err := q.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != len(cmds) {
		t.Fatalf("got %d commands, want %d", len(got), len(cmds))
	}
	for i := range cmds {
		if got[i].Method != cmds[i].Method || got[i].Path != cmds[i].Path {
			t.Fatalf("command %d out of order: %+v", i, got[i])
		}
	}

	if err := q.Save(got[1:]); err != nil {
		t.Fatalf("save remainder: %v", err)
	}
	rest, err := q.Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(rest) != 2 || rest[0].Path != "/v1/move" || rest[1].Path != "/v1/solve" {
		t.Fatalf("remainder wrong: %+v", rest)
	}
}
