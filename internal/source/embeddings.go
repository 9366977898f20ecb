package source

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// EmbeddingSet is a fully loaded embedding dump. Names[i] labels Vectors[i];
// the position doubles as the vector id. Names are unique ignoring case and
// surrounding space.
type EmbeddingSet struct {
	Names   []string
	Vectors [][]float32
	Dim     int
	// Duplicates counts entries folded into an earlier name.
	Duplicates int
}

func (s *EmbeddingSet) Len() int { return len(s.Names) }

// embeddingDoc covers both accepted layouts: the columnar object
// {"drug_names": [...], "embeddings": [[...]]} and one
// {"drug_name": ..., "vector": [...]} object per line.
type embeddingDoc struct {
	DrugNames  []string    `json:"drug_names"`
	Embeddings [][]float32 `json:"embeddings"`
	DrugName   *string     `json:"drug_name"`
	Vector     []float32   `json:"vector"`
}

func LoadEmbeddingsFile(path string) (*EmbeddingSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source: open %s: %w", path, err)
	}
	defer f.Close()
	set, err := LoadEmbeddings(f)
	if err != nil {
		return nil, fmt.Errorf("source: %s: %w", path, err)
	}
	return set, nil
}

func LoadEmbeddings(r io.Reader) (*EmbeddingSet, error) {
	dec := json.NewDecoder(bufio.NewReaderSize(r, 1<<20))
	set := &EmbeddingSet{}
	n := 0
	perLine := false
	for {
		var doc embeddingDoc
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode embeddings object %d: %w", n, err)
		}
		n++
		switch {
		case doc.DrugNames != nil || doc.Embeddings != nil:
			if n > 1 {
				return nil, errors.New("columnar embeddings object must be the only document")
			}
			if len(doc.DrugNames) != len(doc.Embeddings) {
				return nil, fmt.Errorf("drug_names has %d entries but embeddings has %d", len(doc.DrugNames), len(doc.Embeddings))
			}
			set.Names = doc.DrugNames
			set.Vectors = doc.Embeddings
		case doc.DrugName != nil:
			if n > 1 && !perLine {
				return nil, errors.New("cannot mix columnar and per-line embeddings")
			}
			perLine = true
			set.Names = append(set.Names, *doc.DrugName)
			set.Vectors = append(set.Vectors, doc.Vector)
		default:
			return nil, fmt.Errorf("embeddings object %d has neither drug_names nor drug_name", n-1)
		}
	}
	if len(set.Names) == 0 {
		return nil, errors.New("no embeddings found")
	}
	set.dedupe()
	if err := set.validate(); err != nil {
		return nil, err
	}
	return set, nil
}

// dedupe keeps one entry per normalized name. The first occurrence keeps its
// position and the last occurrence's vector wins.
func (s *EmbeddingSet) dedupe() {
	seen := make(map[string]int, len(s.Names))
	names := s.Names[:0:0]
	vectors := make([][]float32, 0, len(s.Vectors))
	for i, name := range s.Names {
		key := strings.ToLower(strings.TrimSpace(name))
		if at, ok := seen[key]; ok {
			vectors[at] = s.Vectors[i]
			s.Duplicates++
			continue
		}
		seen[key] = len(names)
		names = append(names, name)
		vectors = append(vectors, s.Vectors[i])
	}
	s.Names, s.Vectors = names, vectors
}

func (s *EmbeddingSet) validate() error {
	for i, v := range s.Vectors {
		if len(v) == 0 {
			return fmt.Errorf("embedding %d (%q) is empty", i, s.Names[i])
		}
		if i == 0 {
			s.Dim = len(v)
			continue
		}
		if len(v) != s.Dim {
			return fmt.Errorf("embedding %d (%q) has dimension %d, expected %d", i, s.Names[i], len(v), s.Dim)
		}
	}
	return nil
}
