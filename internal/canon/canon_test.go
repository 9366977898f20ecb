package canon

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	cases := []struct {
		name        string
		description string
		a, b        string
		want        string
	}{
		{
			name:        "both names replaced",
			description: "Apixaban may increase the anticoagulant activities of Lepirudin.",
			a:           "Lepirudin",
			b:           "Apixaban",
			want:        "<drugB> may increase the anticoagulant activities of <drugA>.",
		},
		{
			name:        "case insensitive",
			description: "ASPIRIN reduces the effect of warfarin",
			a:           "aspirin",
			b:           "Warfarin",
			want:        "<drugA> reduces the effect of <drugB>",
		},
		{
			name:        "embedded token untouched",
			description: "aspirin interacts with pirin",
			a:           "pirin",
			b:           "",
			want:        "aspirin interacts with <drugA>",
		},
		{
			name:        "metacharacters matched literally",
			description: "Vitamin C (ascorbic) raises levels of Vitamin.C",
			a:           "Vitamin C",
			b:           "Vitamin.C",
			want:        "<drugA> (ascorbic) raises levels of <drugB>",
		},
		{
			name:        "empty names are no-ops",
			description: "  nothing to see  ",
			want:        "nothing to see",
		},
		{
			name:        "accented names replaced",
			description: "Éphédrine may increase the effect of Ácido fólico.",
			a:           "Éphédrine",
			b:           "Ácido fólico",
			want:        "<drugA> may increase the effect of <drugB>.",
		},
		{
			name:        "accented neighbour blocks match",
			description: "Ébastine and bastine",
			a:           "bastine",
			b:           "",
			want:        "Ébastine and <drugA>",
		},
		{
			name:        "a replaced before b",
			description: "Heparin and heparin sodium",
			a:           "heparin",
			b:           "heparin sodium",
			want:        "<drugA> and <drugA> sodium",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Canonicalize(tc.description, tc.a, tc.b))
		})
	}
}

func TestCanonicalizeNameSwapCollapses(t *testing.T) {
	first := Canonicalize("Apixaban may increase the anticoagulant activities of Lepirudin.", "Lepirudin", "Apixaban")
	second := Canonicalize("Lepirudin may increase the anticoagulant activities of Apixaban.", "Apixaban", "Lepirudin")
	require.Equal(t, first, second)
}

func TestCanonicalizeIsDeterministic(t *testing.T) {
	in := "The risk of bleeding rises when Warfarin is combined with Aspirin"
	require.Equal(t, Canonicalize(in, "Warfarin", "Aspirin"), Canonicalize(in, "Warfarin", "Aspirin"))
}
