package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
)

// VectorNames are the named vectors of the hybrid collection.
type VectorNames struct {
	Dense  string
	Sparse string
	Late   string
}

type Client struct {
	baseURL    string
	apiKey     string
	collection string
	vectors    VectorNames
	httpClient *http.Client
}

func New(baseURL, apiKey, collection string, vectors VectorNames) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		collection: collection,
		vectors:    vectors,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type queryRequest struct {
	Prefetch    []prefetch     `json:"prefetch,omitempty"`
	Query       any            `json:"query"`
	Using       string         `json:"using,omitempty"`
	Limit       int            `json:"limit"`
	Filter      *filter        `json:"filter,omitempty"`
	WithPayload bool           `json:"with_payload"`
	Params      map[string]any `json:"params,omitempty"`
}

type prefetch struct {
	Query  any     `json:"query"`
	Using  string  `json:"using"`
	Limit  int     `json:"limit"`
	Filter *filter `json:"filter,omitempty"`
}

type filter struct {
	Must []fieldCondition `json:"must"`
}

type fieldCondition struct {
	Key   string         `json:"key"`
	Match map[string]any `json:"match"`
}

type queryResponse struct {
	Result struct {
		Points []scoredPoint `json:"points"`
	} `json:"result"`
}

type scoredPoint struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

// Retrieve runs one hybrid query: dense and sparse prefetches of k candidates each,
// rescored by late interaction when query token vectors are present, otherwise fused
// with reciprocal rank fusion. Results are sorted by score desc, then id asc.
func (c *Client) Retrieve(
	ctx context.Context,
	vectors domain.QueryVectors,
	k int,
	fileFilter domain.FileFilter,
) ([]domain.Candidate, error) {
	if k <= 0 {
		return []domain.Candidate{}, nil
	}

	reqBody := c.buildQuery(vectors, k, fileFilter)
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal query body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/query", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, wrapTemporaryIfNeeded("qdrant.query", fmt.Errorf("qdrant query request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, wrapTemporaryIfNeeded("qdrant.query", newHTTPStatusError("query", resp))
	}

	var queryResp queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&queryResp); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}
	return toCandidates(queryResp.Result.Points), nil
}

func (c *Client) buildQuery(vectors domain.QueryVectors, k int, fileFilter domain.FileFilter) queryRequest {
	var f *filter
	if !fileFilter.IsEmpty() {
		f = &filter{Must: []fieldCondition{{
			Key:   "filename",
			Match: map[string]any{"any": fileFilter.Files},
		}}}
	}

	req := queryRequest{
		Limit:       k,
		Filter:      f,
		WithPayload: true,
	}
	if len(vectors.Dense) > 0 {
		req.Prefetch = append(req.Prefetch, prefetch{
			Query:  vectors.Dense,
			Using:  c.vectors.Dense,
			Limit:  k,
			Filter: f,
		})
	}
	if len(vectors.Sparse.Indices) > 0 {
		req.Prefetch = append(req.Prefetch, prefetch{
			Query:  vectors.Sparse,
			Using:  c.vectors.Sparse,
			Limit:  k,
			Filter: f,
		})
	}

	switch {
	case len(vectors.LateInteraction) > 0 && c.vectors.Late != "":
		req.Query = vectors.LateInteraction
		req.Using = c.vectors.Late
	case len(req.Prefetch) > 1:
		req.Query = map[string]string{"fusion": "rrf"}
	case len(req.Prefetch) == 1:
		single := req.Prefetch[0]
		req.Prefetch = nil
		req.Query = single.Query
		req.Using = single.Using
	default:
		req.Query = map[string]string{"fusion": "rrf"}
	}
	return req
}

// Ready reports whether the collection exists and answers.
func (c *Client) Ready(ctx context.Context) error {
	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create collection info request: %w", err)
	}
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant collection info request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 300 {
		return newHTTPStatusError("collection info", resp)
	}
	return nil
}

func (c *Client) setAuth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}
}

// toCandidates sorts by score desc, then id asc, and keeps the best-scoring copy of a
// repeated id.
func toCandidates(points []scoredPoint) []domain.Candidate {
	all := make([]domain.Candidate, 0, len(points))
	for _, p := range points {
		all = append(all, domain.Candidate{
			ID:      pointID(p.ID),
			File:    getStringPayload(p.Payload, "filename"),
			Score:   p.Score,
			Excerpt: getStringPayload(p.Payload, "text"),
		})
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		return all[i].ID < all[j].ID
	})

	seen := make(map[string]struct{}, len(all))
	out := all[:0]
	for _, c := range all {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out
}

// pointID renders uuid and numeric point ids as plain strings.
func pointID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
