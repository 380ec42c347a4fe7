// Package qdrant is the dense vector backend adapter, speaking the Qdrant
// REST search API.
package qdrant

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/retrieval-engine/internal/core/domain"
	"github.com/kirillkom/retrieval-engine/internal/infrastructure/transport"
)

type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
}

func New(baseURL, collection string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type searchRequest struct {
	Vector      []float32      `json:"vector"`
	Limit       int            `json:"limit"`
	WithPayload bool           `json:"with_payload"`
	Filter      map[string]any `json:"filter,omitempty"`
}

type searchResponse struct {
	Result []struct {
		ID      any            `json:"id"`
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
	} `json:"result"`
}

// Search runs a filtered nearest-neighbor query against the collection.
func (c *Client) Search(ctx context.Context, embedding []float32, topK int, filters map[string]string) ([]domain.BackendCandidate, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("empty query embedding")
	}
	if topK <= 0 {
		topK = 10
	}

	req := searchRequest{
		Vector:      embedding,
		Limit:       topK,
		WithPayload: true,
		Filter:      buildFilter(filters),
	}

	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	var resp searchResponse
	if err := transport.PostJSON(ctx, c.httpClient, "qdrant", "search", url, req, &resp); err != nil {
		return nil, err
	}

	out := make([]domain.BackendCandidate, 0, len(resp.Result))
	for _, hit := range resp.Result {
		cand := domain.BackendCandidate{
			DocID: fmt.Sprintf("%v", hit.ID),
			Score: hit.Score,
		}
		if docID, ok := hit.Payload["doc_id"].(string); ok && docID != "" {
			cand.DocID = docID
		}
		if text, ok := hit.Payload["text"].(string); ok {
			cand.Content = text
		}
		out = append(out, cand)
	}
	return out, nil
}

func buildFilter(filters map[string]string) map[string]any {
	if len(filters) == 0 {
		return nil
	}
	must := make([]map[string]any, 0, len(filters))
	for key, value := range filters {
		must = append(must, map[string]any{
			"key":   key,
			"match": map[string]any{"value": value},
		})
	}
	return map[string]any{"must": must}
}
