package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/ddigraph/internal/platform/ctxutil"
	"github.com/yungbote/ddigraph/internal/platform/logger"
	"github.com/yungbote/ddigraph/internal/vectorindex"
)

const (
	maxErrorBodyBytes = 1024
	maxResponseBytes  = 64 << 20
	distanceCosine    = "Cosine"
)

type index struct {
	log     *logger.Logger
	cfg     Config
	baseURL string
	http    *http.Client

	mu  sync.RWMutex
	dim int
}

type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

type qdrantPoint struct {
	ID      json.RawMessage     `json:"id"`
	Score   float64             `json:"score"`
	Payload vectorindex.Payload `json:"payload"`
	Vector  json.RawMessage     `json:"vector"`
}

type collectionInfo struct {
	PointsCount int64 `json:"points_count"`
	Config      struct {
		Params struct {
			Vectors struct {
				Size     int    `json:"size"`
				Distance string `json:"distance"`
			} `json:"vectors"`
		} `json:"params"`
	} `json:"config"`
}

// NewIndex returns a vectorindex.Index backed by one Qdrant collection over
// the REST API. The collection itself may not exist yet.
func NewIndex(log *logger.Logger, cfg Config) (vectorindex.Index, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	s := newIndex(log, cfg, &http.Client{Timeout: timeoutOrDefault(cfg.Timeout)})
	if err := s.verifyReady(context.Background()); err != nil {
		return nil, err
	}
	log.Info(
		"Qdrant vector index selected",
		"provider", "qdrant",
		"url", s.baseURL,
		"collection", cfg.Collection,
		"vector_dim", cfg.VectorDim,
	)
	return s, nil
}

func newIndex(log *logger.Logger, cfg Config, client *http.Client) *index {
	return &index{
		log:     log.With("service", "QdrantIndex"),
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    client,
		dim:     cfg.VectorDim,
	}
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}

func (s *index) EnsureCollection(ctx context.Context, dim int, recreate bool) (bool, error) {
	const op = "ensure_collection"
	if dim <= 0 {
		return false, opErr(op, OperationErrorValidation, fmt.Sprintf("dimension must be positive, got %d", dim), nil)
	}

	info, exists, err := s.describe(ctx)
	if err != nil {
		return false, err
	}
	if exists && recreate {
		s.log.Warn("Dropping existing collection", "collection", s.cfg.Collection, "points", info.PointsCount)
		if err := s.doJSON(ctx, op, http.MethodDelete, s.collectionPath(""), nil, nil); err != nil {
			return false, err
		}
		exists = false
	}
	if exists {
		size := info.Config.Params.Vectors.Size
		if size != 0 && size != dim {
			return false, fmt.Errorf("%w: collection %q size=%d requested=%d", vectorindex.ErrDimensionMismatch, s.cfg.Collection, size, dim)
		}
		s.setDim(dim)
		s.log.Info("Using existing collection", "collection", s.cfg.Collection, "points", info.PointsCount)
		return false, nil
	}

	req := map[string]any{
		"vectors": map[string]any{
			"size":     dim,
			"distance": distanceCosine,
		},
	}
	if err := s.doJSON(ctx, op, http.MethodPut, s.collectionPath(""), req, nil); err != nil {
		return false, err
	}
	s.setDim(dim)
	s.log.Info("Created collection", "collection", s.cfg.Collection, "vector_dim", dim, "distance", distanceCosine)
	return true, nil
}

func (s *index) Upsert(ctx context.Context, points []vectorindex.Point) error {
	const op = "upsert"
	if len(points) == 0 {
		return nil
	}
	dim := s.currentDim()
	body := make([]map[string]any, 0, len(points))
	for _, p := range points {
		if len(p.Vector) == 0 {
			return opErr(op, OperationErrorValidation, fmt.Sprintf("point %d has empty vector", p.ID), nil)
		}
		if dim > 0 && len(p.Vector) != dim {
			return fmt.Errorf("%w: point %d expected=%d got=%d", vectorindex.ErrDimensionMismatch, p.ID, dim, len(p.Vector))
		}
		body = append(body, map[string]any{
			"id":      p.ID,
			"vector":  p.Vector,
			"payload": p.Payload,
		})
	}
	req := map[string]any{"points": body}
	return s.doJSON(ctx, op, http.MethodPut, s.collectionPath("/points?wait=true"), req, nil)
}

func (s *index) Search(ctx context.Context, req vectorindex.SearchRequest) ([]vectorindex.Match, error) {
	const op = "search"
	if len(req.Vector) == 0 {
		return nil, opErr(op, OperationErrorValidation, "query vector required", nil)
	}
	if dim := s.currentDim(); dim > 0 && len(req.Vector) != dim {
		return nil, fmt.Errorf("%w: query expected=%d got=%d", vectorindex.ErrDimensionMismatch, dim, len(req.Vector))
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	body := map[string]any{
		"vector":       req.Vector,
		"limit":        limit,
		"with_payload": true,
		"with_vector":  false,
	}
	if req.ScoreThreshold != nil {
		body["score_threshold"] = *req.ScoreThreshold
	}

	var raw []qdrantPoint
	if err := s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/search"), body, &raw); err != nil {
		return nil, err
	}
	out := make([]vectorindex.Match, 0, len(raw))
	for _, item := range raw {
		id, ok := decodePointID(item.ID)
		if !ok {
			s.log.Debug("Skipping point with non-integer id", "id", string(item.ID))
			continue
		}
		out = append(out, vectorindex.Match{ID: id, Score: item.Score, Payload: item.Payload})
	}
	return out, nil
}

func (s *index) Scroll(ctx context.Context, req vectorindex.ScrollRequest) (vectorindex.ScrollPage, error) {
	const op = "scroll"
	limit := req.Limit
	if limit <= 0 {
		limit = vectorindex.DefaultScrollPageSize
	}
	body := map[string]any{
		"limit":        limit,
		"with_payload": true,
		"with_vector":  req.WithVector,
	}
	if req.Offset != nil {
		body["offset"] = *req.Offset
	}

	var result struct {
		Points         []qdrantPoint   `json:"points"`
		NextPageOffset json.RawMessage `json:"next_page_offset"`
	}
	if err := s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/scroll"), body, &result); err != nil {
		return vectorindex.ScrollPage{}, err
	}

	page := vectorindex.ScrollPage{Points: make([]vectorindex.Point, 0, len(result.Points))}
	for _, item := range result.Points {
		id, ok := decodePointID(item.ID)
		if !ok {
			continue
		}
		p := vectorindex.Point{ID: id, Payload: item.Payload}
		if req.WithVector {
			vec, err := decodeVector(item.Vector)
			if err != nil {
				return vectorindex.ScrollPage{}, opErr(op, OperationErrorDecodeFailed, fmt.Sprintf("decode vector of point %d", id), err)
			}
			p.Vector = vec
		}
		page.Points = append(page.Points, p)
	}
	if next, ok := decodePointID(result.NextPageOffset); ok {
		page.NextOffset = &next
	}
	return page, nil
}

func (s *index) Count(ctx context.Context) (int64, error) {
	var result struct {
		Count int64 `json:"count"`
	}
	if err := s.doJSON(ctx, "count", http.MethodPost, s.collectionPath("/points/count"), map[string]any{"exact": true}, &result); err != nil {
		return 0, err
	}
	return result.Count, nil
}

func (s *index) describe(ctx context.Context) (collectionInfo, bool, error) {
	var info collectionInfo
	err := s.doJSON(ctx, "describe_collection", http.MethodGet, s.collectionPath(""), nil, &info)
	if err != nil {
		var oe *OperationError
		if errors.As(err, &oe) && oe.StatusCode == http.StatusNotFound {
			return collectionInfo{}, false, nil
		}
		return collectionInfo{}, false, err
	}
	return info, true, nil
}

func (s *index) verifyReady(ctx context.Context) error {
	const op = "bootstrap_verify"
	readyReq, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodGet, s.baseURL+"/readyz", nil)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build ready request failed", err)
	}
	readyResp, err := s.http.Do(readyReq)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant ready check failed", err)
	}
	_ = readyResp.Body.Close()
	if readyResp.StatusCode < 200 || readyResp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: readyResp.StatusCode,
			Message:    fmt.Sprintf("qdrant ready check returned status=%d", readyResp.StatusCode),
		}
	}

	info, exists, err := s.describe(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	size := info.Config.Params.Vectors.Size
	if s.cfg.VectorDim > 0 && size != 0 && size != s.cfg.VectorDim {
		return &OperationError{
			Code:      OperationErrorValidation,
			Operation: op,
			Message:   fmt.Sprintf("qdrant collection %q vector size mismatch: expected=%d actual=%d", s.cfg.Collection, s.cfg.VectorDim, size),
		}
	}
	if size > 0 {
		s.setDim(size)
	}
	if d := strings.TrimSpace(info.Config.Params.Vectors.Distance); d != "" && !strings.EqualFold(d, distanceCosine) {
		s.log.Warn("Collection does not use cosine distance; scores are not cosine similarities", "collection", s.cfg.Collection, "distance", d)
	}
	return nil
}

func (s *index) doJSON(ctx context.Context, op, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return opErr(op, OperationErrorEncodeFailed, "encode request failed", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), method, s.baseURL+path, body)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant request failed", err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if readErr != nil {
		return classifyHTTPCallError(op, "read response failed", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		code := OperationErrorQueryFailed
		if resp.StatusCode == http.StatusNotFound {
			code = OperationErrorNotFound
		}
		return &OperationError{
			Code:       code,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("qdrant http status=%d body=%q", resp.StatusCode, truncateBody(raw)),
		}
	}

	var envelope qdrantEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant envelope failed", err)
	}
	if statusErr := parseEnvelopeStatus(envelope.Status); statusErr != "" {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    statusErr,
		}
	}
	if out == nil || len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant result failed", err)
	}
	return nil
}

func classifyHTTPCallError(op, message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	return opErr(op, OperationErrorTransportFailed, message, err)
}

func parseEnvelopeStatus(raw json.RawMessage) string {
	status := strings.TrimSpace(string(raw))
	if status == "" || status == "null" {
		return ""
	}
	var statusString string
	if err := json.Unmarshal(raw, &statusString); err == nil {
		if strings.EqualFold(statusString, "ok") {
			return ""
		}
		return fmt.Sprintf("qdrant status=%q", statusString)
	}
	var statusObject struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &statusObject); err == nil && strings.TrimSpace(statusObject.Error) != "" {
		return strings.TrimSpace(statusObject.Error)
	}
	return fmt.Sprintf("qdrant status=%s", status)
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}

// decodePointID accepts the integer ids this adapter writes. UUID ids written
// by other tools are reported as not ok.
func decodePointID(raw json.RawMessage) (uint64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var id uint64
	if err := json.Unmarshal(raw, &id); err != nil {
		return 0, false
	}
	return id, true
}

// decodeVector handles both the plain array form and the single named
// vector map form Qdrant returns for named-vector collections.
func decodeVector(raw json.RawMessage) ([]float32, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err == nil {
		return vec, nil
	}
	var named map[string][]float32
	if err := json.Unmarshal(raw, &named); err != nil {
		return nil, err
	}
	if len(named) != 1 {
		return nil, fmt.Errorf("expected a single vector, got %d named vectors", len(named))
	}
	for _, v := range named {
		return v, nil
	}
	return nil, nil
}

func (s *index) collectionPath(suffix string) string {
	return "/collections/" + s.cfg.Collection + suffix
}

func (s *index) currentDim() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

func (s *index) setDim(dim int) {
	s.mu.Lock()
	s.dim = dim
	s.mu.Unlock()
}
