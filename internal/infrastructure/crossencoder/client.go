// Package crossencoder is the pairwise relevance scoring adapter, speaking
// the text-embeddings-inference rerank API.
package crossencoder

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/retrieval-engine/internal/infrastructure/transport"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type rerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

type rerankResponse []struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Score returns one relevance score per passage, in passage order. The
// reranker upstream enforces its own deadline via ctx; this client does not
// retry, a slow or failing model simply falls back to fusion order.
func (c *Client) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	if len(passages) == 0 {
		return nil, nil
	}

	req := rerankRequest{
		Query: query,
		Texts: passages,
	}

	var resp rerankResponse
	if err := transport.PostJSON(ctx, c.httpClient, "crossencoder", "rerank", c.baseURL+"/rerank", req, &resp); err != nil {
		return nil, err
	}

	out := make([]float64, len(passages))
	for _, item := range resp {
		if item.Index < 0 || item.Index >= len(out) {
			return nil, fmt.Errorf("crossencoder rerank: index %d out of range", item.Index)
		}
		out[item.Index] = item.Score
	}
	return out, nil
}
