// Package graph holds the drug interaction property graph: Drug and Reaction
// nodes joined by INTERACTS_WITH and HAS_REACTION edges. Neo4jStore is the
// production backend, MemoryStore serves tests and dry runs.
package graph

import (
	"context"
	"errors"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	LabelDrug     = "Drug"
	LabelReaction = "Reaction"

	RelInteractsWith = "INTERACTS_WITH"
	RelHasReaction   = "HAS_REACTION"
)

var ErrClosed = errors.New("graph: store closed")

type Drug struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Reaction struct {
	ID                    string `json:"id"`
	NormalizedDescription string `json:"normalized_description"`
	ExampleDescription    string `json:"example_description"`
}

// Edge is one stored relationship between two drugs, oriented as stored.
type Edge struct {
	From        Drug   `json:"from"`
	To          Drug   `json:"to"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

type Counts struct {
	Drugs         int64 `json:"drugs"`
	Reactions     int64 `json:"reactions"`
	Relationships int64 `json:"relationships"`
}

func (c Counts) Empty() bool {
	return c.Drugs == 0 && c.Reactions == 0 && c.Relationships == 0
}

// Match tiers for name resolution, best first.
const (
	TierExactName = iota
	TierExactID
	TierPartial
	tierNone
)

type Candidate struct {
	Drug
	Tier int `json:"tier"`
}

// BatchTx is the write surface inside one atomic batch. Implementations may
// run the batch function more than once; callers keep no side effects
// outside the function until WriteBatch returns nil.
type BatchTx interface {
	// MergeDrug creates the drug or overwrites its name. previous is the
	// stored name before the write, empty when created.
	MergeDrug(ctx context.Context, id, name string) (created bool, previous string, err error)
	// CreateInteractionIfAbsent keeps the first description for an ordered pair.
	CreateInteractionIfAbsent(ctx context.Context, fromID, toID, description string) (bool, error)
	CreateReaction(ctx context.Context, r Reaction) error
	LinkReactionIfAbsent(ctx context.Context, drugID, reactionID string) (bool, error)
}

type Writer interface {
	EnsureSchema(ctx context.Context) error
	Counts(ctx context.Context) (Counts, error)
	// Wipe deletes every node and relationship and returns the node count removed.
	Wipe(ctx context.Context) (int64, error)
	Reactions(ctx context.Context) ([]Reaction, error)
	WriteBatch(ctx context.Context, fn func(ctx context.Context, tx BatchTx) error) error
}

type Reader interface {
	Candidates(ctx context.Context, query string, limit int) ([]Candidate, error)
	// Neighbors returns relationships touching drug id in either direction.
	// An empty relType means every relationship type between drugs.
	Neighbors(ctx context.Context, id, relType string, limit int) ([]Edge, error)
	// EdgesAmong returns directed relationships whose endpoints are both in ids.
	EdgesAmong(ctx context.Context, ids []string, relType string, limit int) ([]Edge, error)
	// SharedReaction returns the Reaction both drugs link to, preferring the
	// one whose normalized description equals preferred, then the lowest id.
	SharedReaction(ctx context.Context, a, b, preferred string) (*Reaction, error)
	RelationshipTypeCounts(ctx context.Context, id string) (map[string]int64, error)
}

type Store interface {
	Writer
	Reader
	Close(ctx context.Context) error
}

// MatchTier classifies how a drug matches a lowercased, trimmed query.
func MatchTier(d Drug, q string) int {
	if q == "" {
		return tierNone
	}
	name := strings.ToLower(d.Name)
	switch {
	case name == q:
		return TierExactName
	case strings.ToLower(d.ID) == q:
		return TierExactID
	case name != "" && (strings.Contains(name, q) || strings.Contains(q, name)):
		return TierPartial
	}
	return tierNone
}

// NormalizeQuery is the form every resolver compares against.
func NormalizeQuery(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

// SortCandidates orders by tier, then shortest name, then name, then id.
func SortCandidates(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.Tier != b.Tier {
			return a.Tier < b.Tier
		}
		if la, lb := utf8.RuneCountInString(a.Name), utf8.RuneCountInString(b.Name); la != lb {
			return la < lb
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
}
