package ingest

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/ddigraph/internal/checkpoint"
	"github.com/yungbote/ddigraph/internal/data/graph"
)

// State is everything a run carries between batches. It is copied into each
// batch transaction and replaced only after the transaction commits.
type State struct {
	ProcessedCount  int
	Stats           checkpoint.Stats
	ReactionMap     map[string]string
	ReactionCounter int
}

func NewState() State {
	return State{ReactionMap: map[string]string{}, ReactionCounter: 1}
}

func StateFromSnapshot(s checkpoint.Snapshot) State {
	c := s.Clone()
	return State{
		ProcessedCount:  c.ProcessedCount,
		Stats:           c.Stats,
		ReactionMap:     c.ReactionMap,
		ReactionCounter: c.ReactionCounter,
	}
}

func (s State) Snapshot() checkpoint.Snapshot {
	return checkpoint.Snapshot{
		ProcessedCount:  s.ProcessedCount,
		Stats:           s.Stats,
		ReactionMap:     s.ReactionMap,
		ReactionCounter: s.ReactionCounter,
		Timestamp:       time.Now().UTC(),
	}.Clone()
}

func (s State) Clone() State {
	out := s
	out.ReactionMap = make(map[string]string, len(s.ReactionMap))
	for k, v := range s.ReactionMap {
		out.ReactionMap[k] = v
	}
	return out
}

// reactionID returns the id for a canonical description, minting the next
// one when the form is new.
func (s *State) reactionID(canonical string) (string, bool) {
	if id, ok := s.ReactionMap[canonical]; ok {
		return id, false
	}
	id := FormatReactionID(s.ReactionCounter)
	s.ReactionCounter++
	s.ReactionMap[canonical] = id
	return id, true
}

func FormatReactionID(n int) string {
	return fmt.Sprintf("R%04d", n)
}

// ParseReactionID returns the sequence number of an R-prefixed id.
func ParseReactionID(id string) (int, bool) {
	rest, ok := strings.CutPrefix(id, "R")
	if !ok || rest == "" {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// seededState rebuilds the reaction map and counter from Reaction nodes
// already in the graph so a fresh run never reuses an id.
func seededState(existing []graph.Reaction) State {
	st := NewState()
	highest := 0
	for _, r := range existing {
		st.ReactionMap[r.NormalizedDescription] = r.ID
		if n, ok := ParseReactionID(r.ID); ok && n > highest {
			highest = n
		}
	}
	if len(st.ReactionMap) > highest {
		highest = len(st.ReactionMap)
	}
	st.ReactionCounter = highest + 1
	return st
}
