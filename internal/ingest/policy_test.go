package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yungbote/ddigraph/internal/checkpoint"
	"github.com/yungbote/ddigraph/internal/data/graph"
)

func TestPromptPolicy(t *testing.T) {
	snap := checkpoint.Snapshot{ProcessedCount: 15000, Timestamp: time.Date(2025, 7, 1, 22, 16, 30, 0, time.UTC)}
	cases := []struct {
		input string
		want  Decision
	}{
		{"y\n", Resume},
		{"YES\n", Resume},
		{"maybe\nn\n", Restart},
		{"abort\n", Abort},
	}
	for _, tc := range cases {
		var out bytes.Buffer
		got, err := PromptPolicy{In: strings.NewReader(tc.input), Out: &out}.Decide(context.Background(), snap)
		require.NoError(t, err, tc.input)
		require.Equal(t, tc.want, got, tc.input)
		require.Contains(t, out.String(), "15000 records processed")
	}
}

func TestPromptPolicyNoAnswer(t *testing.T) {
	var out bytes.Buffer
	got, err := PromptPolicy{In: strings.NewReader(""), Out: &out}.Decide(context.Background(), checkpoint.Snapshot{})
	require.Error(t, err)
	require.Equal(t, Abort, got)
}

func TestParsePolicy(t *testing.T) {
	for mode, want := range map[string]Decision{"yes": Resume, "no": Restart, "abort": Abort} {
		p, err := ParsePolicy(mode, nil, nil)
		require.NoError(t, err)
		got, err := p.Decide(context.Background(), checkpoint.Snapshot{})
		require.NoError(t, err)
		require.Equal(t, want, got, mode)
	}
	p, err := ParsePolicy("ask", strings.NewReader("y\n"), &bytes.Buffer{})
	require.NoError(t, err)
	require.IsType(t, PromptPolicy{}, p)

	_, err = ParsePolicy("sometimes", nil, nil)
	require.Error(t, err)
}

func TestReactionIDs(t *testing.T) {
	require.Equal(t, "R0001", FormatReactionID(1))
	require.Equal(t, "R12345", FormatReactionID(12345))

	n, ok := ParseReactionID("R0042")
	require.True(t, ok)
	require.Equal(t, 42, n)
	for _, bad := range []string{"", "R", "X0001", "R00x1", "R0000"} {
		_, ok := ParseReactionID(bad)
		require.False(t, ok, bad)
	}
}

func TestSeededState(t *testing.T) {
	st := seededState([]graph.Reaction{
		{ID: "R0003", NormalizedDescription: "c"},
		{ID: "R0001", NormalizedDescription: "a"},
		{ID: "legacy", NormalizedDescription: "b"},
	})
	require.Equal(t, 4, st.ReactionCounter)
	require.Equal(t, "legacy", st.ReactionMap["b"])
	require.NoError(t, st.Snapshot().Validate())

	id, minted := st.reactionID("d")
	require.True(t, minted)
	require.Equal(t, "R0004", id)
	id, minted = st.reactionID("a")
	require.False(t, minted)
	require.Equal(t, "R0001", id)
}

func TestStateCloneIsIndependent(t *testing.T) {
	a := NewState()
	a.ReactionMap["x"] = "R0001"
	a.ReactionCounter = 2
	b := a.Clone()
	b.reactionID("y")
	require.Len(t, a.ReactionMap, 1)
	require.Equal(t, 2, a.ReactionCounter)
}

func TestIsTransient(t *testing.T) {
	require.False(t, IsTransient(nil))
	require.False(t, IsTransient(context.Canceled))
	require.False(t, IsTransient(errors.New("syntax error")))
	require.True(t, IsTransient(fmt.Errorf("batch: %w", context.DeadlineExceeded)))
	require.True(t, IsTransient(timeoutErr{}))
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }
