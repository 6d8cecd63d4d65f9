package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"legal-agent/internal/domain"
)

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{Collection: "cases"})
	require.Error(t, err)

	_, err = NewClient(Config{URL: "http://localhost:6333"})
	require.Error(t, err)

	c, err := NewClient(Config{URL: "http://localhost:6333/", Collection: "cases"})
	require.NoError(t, err)
	require.Equal(t, "http://localhost:6333", c.url)
}

func TestSearchDecodesHits(t *testing.T) {
	var gotPath string
	var gotReq searchRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_, _ = w.Write([]byte(`{
			"result": [
				{
					"score": 0.91,
					"payload": {
						"text": "summary of the ruling",
						"case_id": "c-1",
						"case_number": "II K 123/20",
						"court": "District Court",
						"decision_date": "2020-05-01",
						"judge": "J. Nowak",
						"url": "https://example.com/c-1",
						"chunk_index": 0,
						"document_type": "summary"
					}
				},
				{
					"score": 0.74,
					"payload": {
						"text": "second chunk",
						"case_id": "c-2",
						"chunk_index": 2,
						"document_type": "content"
					}
				}
			]
		}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{URL: srv.URL, Collection: "cases", APIKey: "secret"})
	require.NoError(t, err)

	hits, err := c.Search(context.Background(), []float64{0.1, 0.2}, &domain.SearchFilter{DocumentType: domain.DocumentSummary}, 3)
	require.NoError(t, err)

	require.Equal(t, "/collections/cases/points/search", gotPath)
	require.Equal(t, 3, gotReq.Limit)
	require.True(t, gotReq.WithPayload)
	require.NotNil(t, gotReq.Filter)
	require.Len(t, gotReq.Filter.Must, 1)
	require.Equal(t, "document_type", gotReq.Filter.Must[0].Key)
	require.Equal(t, "summary", gotReq.Filter.Must[0].Match.Value)

	require.Len(t, hits, 2)
	require.Equal(t, "summary of the ruling", hits[0].Content)
	require.Equal(t, 0.91, hits[0].Score)
	require.Equal(t, "c-1", hits[0].Metadata.CaseID)
	require.Equal(t, "II K 123/20", hits[0].Metadata.CaseNumber)
	require.Equal(t, domain.DocumentSummary, hits[0].Metadata.DocumentType)
	require.Equal(t, 2, hits[1].Metadata.ChunkIndex)
	require.Equal(t, domain.DocumentContent, hits[1].Metadata.DocumentType)
}

func TestSearchSendsAPIKey(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("api-key")
		_, _ = w.Write([]byte(`{"result": []}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{URL: srv.URL, Collection: "cases", APIKey: "secret"})
	require.NoError(t, err)

	_, err = c.Search(context.Background(), []float64{0.5}, nil, 1)
	require.NoError(t, err)
	require.Equal(t, "secret", gotKey)
}

func TestSearchNilFilterOmitted(t *testing.T) {
	var raw map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, _ = w.Write([]byte(`{"result": []}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{URL: srv.URL, Collection: "cases"})
	require.NoError(t, err)

	_, err = c.Search(context.Background(), []float64{0.5}, nil, 1)
	require.NoError(t, err)
	_, present := raw["filter"]
	require.False(t, present)
}

func TestSearchCaseFilter(t *testing.T) {
	f := buildFilter(&domain.SearchFilter{DocumentType: domain.DocumentContent, CaseID: "c-9"})
	require.NotNil(t, f)
	require.Len(t, f.Must, 2)
	require.Equal(t, "case_id", f.Must[1].Key)
	require.Equal(t, "c-9", f.Must[1].Match.Value)
}

func TestSearchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "collection not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := NewClient(Config{URL: srv.URL, Collection: "missing"})
	require.NoError(t, err)

	_, err = c.Search(context.Background(), []float64{0.5}, nil, 1)
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 404")
}

func TestSearchEmptyVector(t *testing.T) {
	c, err := NewClient(Config{URL: "http://localhost:6333", Collection: "cases"})
	require.NoError(t, err)

	_, err = c.Search(context.Background(), nil, nil, 1)
	require.Error(t, err)
}
