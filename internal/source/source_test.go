package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleTSV = "drug_a_id\tdrug_a_name\tdrug_b_id\tdrug_b_name\tdescription\n" +
	"DB00001\tLepirudin\tDB06605\tApixaban\tApixaban may increase the anticoagulant activities of Lepirudin.\n" +
	"broken\tline\n" +
	"\n" +
	"DB06605\tApixaban\tDB00001\tLepirudin\tLepirudin may increase the anticoagulant activities of Apixaban.\textra\n"

func TestReadTSV(t *testing.T) {
	res, err := ReadTSV(context.Background(), nil, strings.NewReader(sampleTSV), TSVOptions{})
	require.NoError(t, err)
	require.Len(t, res.Header, 5)
	require.Equal(t, 1, res.Malformed)
	require.Len(t, res.Records, 3)

	first := res.Records[0]
	require.Equal(t, 2, first.Line)
	require.Equal(t, []string{"DB00001", "Lepirudin", "DB06605", "Apixaban", "Apixaban may increase the anticoagulant activities of Lepirudin."}, first.Fields)

	short := res.Records[1]
	require.Equal(t, 3, short.Line)
	require.Equal(t, []string{"broken", "line"}, short.Fields, "short rows are kept for error reporting")

	second := res.Records[2]
	require.Equal(t, 5, second.Line)
	require.Len(t, second.Fields, RecordFields, "extra columns are dropped")
}

func TestReadTSVLimit(t *testing.T) {
	res, err := ReadTSV(context.Background(), nil, strings.NewReader(sampleTSV), TSVOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
}

func TestReadTSVKeepsQuotes(t *testing.T) {
	in := "h1\th2\th3\th4\th5\n" + `a` + "\t" + `"A"` + "\tb\tB\t" + `The "risk", or severity, rises` + "\n"
	res, err := ReadTSV(context.Background(), nil, strings.NewReader(in), TSVOptions{})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	require.Equal(t, `"A"`, res.Records[0].Fields[1])
	require.Equal(t, `The "risk", or severity, rises`, res.Records[0].Fields[4])
}

func TestReadTSVEmptyInput(t *testing.T) {
	_, err := ReadTSV(context.Background(), nil, strings.NewReader(""), TSVOptions{})
	require.Error(t, err)
}

func TestReadTSVFileMissing(t *testing.T) {
	_, err := ReadTSVFile(context.Background(), nil, filepath.Join(t.TempDir(), "nope.tsv"), TSVOptions{})
	require.Error(t, err)
}

func TestLoadEmbeddingsColumnar(t *testing.T) {
	in := `{"drug_names": ["Lepirudin", "Apixaban"], "embeddings": [[0.1, 0.2, 0.3], [0.3, 0.2, 0.1]]}`
	set, err := LoadEmbeddings(strings.NewReader(in))
	require.NoError(t, err)
	require.Equal(t, 2, set.Len())
	require.Equal(t, 3, set.Dim)
	require.Equal(t, "Apixaban", set.Names[1])
	require.InDelta(t, 0.3, set.Vectors[1][0], 1e-6)
}

func TestLoadEmbeddingsJSONLines(t *testing.T) {
	in := `{"drug_name": "Lepirudin", "vector": [1, 0]}
{"drug_name": "Apixaban", "vector": [0, 1]}
`
	path := filepath.Join(t.TempDir(), "emb.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(in), 0o644))

	set, err := LoadEmbeddingsFile(path)
	require.NoError(t, err)
	require.Equal(t, []string{"Lepirudin", "Apixaban"}, set.Names)
	require.Equal(t, 2, set.Dim)
}

func TestLoadEmbeddingsFoldsRepeatedNames(t *testing.T) {
	in := `{"drug_name": "Aspirin", "vector": [1, 0]}
{"drug_name": "Warfarin", "vector": [0, 1]}
{"drug_name": " aspirin ", "vector": [0.6, 0.8]}
`
	set, err := LoadEmbeddings(strings.NewReader(in))
	require.NoError(t, err)
	require.Equal(t, []string{"Aspirin", "Warfarin"}, set.Names)
	require.Equal(t, 1, set.Duplicates)
	require.Equal(t, []float32{0.6, 0.8}, set.Vectors[0], "last vector for a name wins")

	columnar := `{"drug_names": ["Heparin", "HEPARIN"], "embeddings": [[1, 2], [3, 4]]}`
	set, err = LoadEmbeddings(strings.NewReader(columnar))
	require.NoError(t, err)
	require.Equal(t, 1, set.Len())
	require.Equal(t, []float32{3, 4}, set.Vectors[0])
}

func TestLoadEmbeddingsRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"length mismatch":    `{"drug_names": ["a", "b"], "embeddings": [[1, 2]]}`,
		"dimension mismatch": `{"drug_name": "a", "vector": [1, 2]}` + "\n" + `{"drug_name": "b", "vector": [1]}`,
		"empty vector":       `{"drug_name": "a", "vector": []}`,
		"unknown shape":      `{"name": "a"}`,
		"empty":              ``,
		"mixed layouts":      `{"drug_name": "a", "vector": [1]}` + "\n" + `{"drug_names": ["b"], "embeddings": [[1]]}`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadEmbeddings(strings.NewReader(in))
			require.Error(t, err)
		})
	}
}
