// Package kb provides retrieval of clinical reference snippets, either from
// a remote search service or from a local on-disk index.
package kb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/MaxMed21M/Teletriagem-MVP/internal/triage"
)

// Client implements triage.Retriever against a remote knowledge-base search
// endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a retriever for the given search endpoint.
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		// Deadlines come from the caller's context.
		httpClient: &http.Client{},
	}
}

type searchResult struct {
	ID     string  `json:"id"`
	Source string  `json:"source"`
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

// Search queries the remote index and returns ranked snippets.
func (c *Client) Search(ctx context.Context, query string, topK int) ([]triage.Snippet, error) {
	u := c.endpoint + "/search?q=" + url.QueryEscape(query) + "&k=" + strconv.Itoa(topK)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", triage.ErrRetrievalTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", triage.ErrRetrievalUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", triage.ErrRetrievalUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: search status %d", triage.ErrRetrievalUnavailable, resp.StatusCode)
	}

	var out searchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: unmarshal response: %v", triage.ErrRetrievalUnavailable, err)
	}

	snippets := make([]triage.Snippet, 0, len(out.Results))
	for i, r := range out.Results {
		if i >= topK {
			break
		}
		snippets = append(snippets, triage.Snippet{
			ID:     r.ID,
			Source: r.Source,
			Text:   r.Text,
			Score:  r.Score,
			Rank:   i + 1,
		})
	}
	return snippets, nil
}
