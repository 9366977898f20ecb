package vectorindex

import (
	"context"
	"errors"
)

// Payload is the metadata stored next to every drug embedding.
type Payload struct {
	DrugName        string `json:"drug_name"`
	DrugID          string `json:"drug_id"`
	UploadTimestamp string `json:"upload_timestamp,omitempty"`
}

type Point struct {
	ID      uint64    `json:"id"`
	Vector  []float32 `json:"vector,omitempty"`
	Payload Payload   `json:"payload"`
}

type Match struct {
	ID      uint64  `json:"id"`
	Score   float64 `json:"score"`
	Payload Payload `json:"payload"`
}

type SearchRequest struct {
	Vector []float32
	Limit  int
	// ScoreThreshold drops matches scoring below it. Nil disables the cut.
	ScoreThreshold *float64
}

type ScrollRequest struct {
	// Offset is the first point id to return. Nil starts from the beginning.
	Offset     *uint64
	Limit      int
	WithVector bool
}

type ScrollPage struct {
	Points []Point
	// NextOffset is nil once the last page has been returned.
	NextOffset *uint64
}

// Index is a single named collection of fixed-dimension vectors searched by
// cosine similarity.
type Index interface {
	// EnsureCollection creates the collection when missing (or drops and
	// recreates it when recreate is set) and reports whether it was created.
	EnsureCollection(ctx context.Context, dim int, recreate bool) (bool, error)
	Upsert(ctx context.Context, points []Point) error
	Search(ctx context.Context, req SearchRequest) ([]Match, error)
	Scroll(ctx context.Context, req ScrollRequest) (ScrollPage, error)
	Count(ctx context.Context) (int64, error)
}

var (
	ErrDimensionMismatch = errors.New("vectorindex: dimension mismatch")
	ErrNoCollection      = errors.New("vectorindex: collection not initialized")
)

const DefaultScrollPageSize = 256

// ScanAll walks every point page by page. fn returning false stops the walk.
func ScanAll(ctx context.Context, idx Index, pageSize int, withVector bool, fn func(Point) bool) error {
	if pageSize <= 0 {
		pageSize = DefaultScrollPageSize
	}
	var offset *uint64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := idx.Scroll(ctx, ScrollRequest{Offset: offset, Limit: pageSize, WithVector: withVector})
		if err != nil {
			return err
		}
		for _, p := range page.Points {
			if !fn(p) {
				return nil
			}
		}
		if page.NextOffset == nil || len(page.Points) == 0 {
			return nil
		}
		next := *page.NextOffset
		offset = &next
	}
}
