package blackboard_test

import (
	"testing"

	"github.com/quorumforge/aiorch/internal/blackboard"
)

func TestBlackboard_WriteRead(t *testing.T) {
	bb := blackboard.New()
	bb.Write("swarm:t1:analyze", "result-a", "agent-1")

	entry, ok := bb.Read("swarm:t1:analyze")
	if !ok {
		t.Fatal("expected entry to exist")
	}
	if entry.Value != "result-a" || entry.WriterAgent != "agent-1" {
		t.Errorf("entry = %+v, want value=result-a writer=agent-1", entry)
	}
}

func TestBlackboard_LastWriteWins(t *testing.T) {
	bb := blackboard.New()
	bb.Write("k", "first", "a")
	bb.Write("k", "second", "b")

	entry, _ := bb.Read("k")
	if entry.Value != "second" || entry.WriterAgent != "b" {
		t.Errorf("entry = %+v, want last write", entry)
	}
}

func TestBlackboard_ReadMissing(t *testing.T) {
	bb := blackboard.New()
	_, ok := bb.Read("missing")
	if ok {
		t.Fatal("expected missing key to not be found")
	}
}

func TestBlackboard_Snapshot(t *testing.T) {
	bb := blackboard.New()
	bb.Write("a", 1, "w")
	bb.Write("b", 2, "w")

	snap := bb.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("len(snapshot) = %d, want 2", len(snap))
	}

	// Mutating the returned map must not affect the blackboard.
	delete(snap, "a")
	if _, ok := bb.Read("a"); !ok {
		t.Fatal("Snapshot should return a copy, not the live map")
	}
}
