// Package qdrant is a minimal REST client for the Qdrant vector search
// service, scoped to the single search operation this system needs.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"legal-agent/internal/domain"
)

// Config contains connection details for a Qdrant collection.
type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// Client searches one Qdrant collection of case documents.
type Client struct {
	url        string
	apiKey     string
	collection string
	httpClient *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("qdrant: url must not be empty")
	}
	if strings.TrimSpace(cfg.Collection) == "" {
		return nil, errors.New("qdrant: collection must not be empty")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// searchRequest is the points/search request body.
type searchRequest struct {
	Vector      []float64 `json:"vector"`
	Limit       int       `json:"limit"`
	WithPayload bool      `json:"with_payload"`
	Filter      *filter   `json:"filter,omitempty"`
}

type filter struct {
	Must []condition `json:"must"`
}

type condition struct {
	Key   string `json:"key"`
	Match match  `json:"match"`
}

type match struct {
	Value string `json:"value"`
}

// hitPayload is the fixed payload shape of indexed case documents. Unknown
// keys the index may carry are dropped here rather than passed through.
type hitPayload struct {
	Text         string `json:"text"`
	CaseID       string `json:"case_id"`
	CaseNumber   string `json:"case_number"`
	Court        string `json:"court"`
	DecisionDate string `json:"decision_date"`
	Judge        string `json:"judge"`
	URL          string `json:"url"`
	ChunkIndex   int    `json:"chunk_index"`
	DocumentType string `json:"document_type"`
}

type searchResponse struct {
	Result []struct {
		Score   float64    `json:"score"`
		Payload hitPayload `json:"payload"`
	} `json:"result"`
}

// Search runs a similarity search, optionally restricted by the filter,
// and decodes each hit's payload into typed case metadata.
func (c *Client) Search(ctx context.Context, vector []float64, f *domain.SearchFilter, limit int) ([]domain.SearchHit, error) {
	if len(vector) == 0 {
		return nil, errors.New("qdrant: query vector must not be empty")
	}
	if limit <= 0 {
		limit = 5
	}

	reqBody := searchRequest{
		Vector:      vector,
		Limit:       limit,
		WithPayload: true,
		Filter:      buildFilter(f),
	}

	var resp searchResponse
	url := fmt.Sprintf("%s/collections/%s/points/search", c.url, c.collection)
	if err := c.postJSON(ctx, url, reqBody, &resp); err != nil {
		return nil, err
	}

	hits := make([]domain.SearchHit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, domain.SearchHit{
			Content: r.Payload.Text,
			Score:   r.Score,
			Metadata: domain.CaseMetadata{
				CaseID:       r.Payload.CaseID,
				CaseNumber:   r.Payload.CaseNumber,
				Court:        r.Payload.Court,
				DecisionDate: r.Payload.DecisionDate,
				Judge:        r.Payload.Judge,
				URL:          r.Payload.URL,
				ChunkIndex:   r.Payload.ChunkIndex,
				DocumentType: domain.DocumentType(r.Payload.DocumentType),
			},
		})
	}
	return hits, nil
}

func buildFilter(f *domain.SearchFilter) *filter {
	if f == nil {
		return nil
	}
	var must []condition
	if f.DocumentType != "" {
		must = append(must, condition{Key: "document_type", Match: match{Value: string(f.DocumentType)}})
	}
	if f.CaseID != "" {
		must = append(must, condition{Key: "case_id", Match: match{Value: f.CaseID}})
	}
	if len(must) == 0 {
		return nil
	}
	return &filter{Must: must}
}

func (c *Client) postJSON(ctx context.Context, url string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("qdrant: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("qdrant: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("qdrant: POST %s: status %d: %s", url, res.StatusCode, string(buf))
	}
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return fmt.Errorf("qdrant: decode response: %w", err)
		}
	}
	return nil
}
