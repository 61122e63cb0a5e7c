package tmdb

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/alimane/tmdb-pipeline/pkg/record"
)

// DefaultBaseURL is the TMDB v3 API root.
const DefaultBaseURL = "https://api.themoviedb.org/3"

// RemoteError reports a non-success HTTP status or an unparseable payload
// from the TMDB API.
type RemoteError struct {
	Endpoint   string
	StatusCode int
	Body       string
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("tmdb: %s: status code %d: %s", e.Endpoint, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("tmdb: %s: %v", e.Endpoint, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Fetcher is the read-only TMDB surface the pipeline consumes.
type Fetcher interface {
	LatestMovieID(ctx context.Context) (int64, error)
	MovieDetails(ctx context.Context, id int64) (record.Record, error)
	MovieKeywords(ctx context.Context, id int64) ([]string, error)
}

// Client calls the TMDB API with a bearer token. Each call either returns
// a parsed payload or fails immediately; there are no retries.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a TMDB API client. An empty baseURL selects the
// public API.
func NewClient(token, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		token:   token,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// LatestMovieID returns the id of the most recently added movie.
func (c *Client) LatestMovieID(ctx context.Context) (int64, error) {
	var out latestResponse
	if err := c.get(ctx, "/movie/latest", &out); err != nil {
		return 0, err
	}
	return out.ID, nil
}

// MovieDetails fetches the detail payload for one movie and normalizes it
// into a record.
func (c *Client) MovieDetails(ctx context.Context, id int64) (record.Record, error) {
	endpoint := fmt.Sprintf("/movie/%d?language=en-US", id)
	var raw map[string]any
	if err := c.get(ctx, endpoint, &raw); err != nil {
		return record.Record{}, err
	}
	rec, err := record.Normalize(raw)
	if err != nil {
		return record.Record{}, &RemoteError{Endpoint: endpoint, Err: err}
	}
	return rec, nil
}

// MovieKeywords fetches the keyword names attached to one movie.
func (c *Client) MovieKeywords(ctx context.Context, id int64) ([]string, error) {
	var out keywordsResponse
	if err := c.get(ctx, fmt.Sprintf("/movie/%d/keywords", id), &out); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(out.Keywords))
	for _, k := range out.Keywords {
		names = append(names, k.Name)
	}
	return names, nil
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return &RemoteError{Endpoint: endpoint, Err: err}
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &RemoteError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &RemoteError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &RemoteError{Endpoint: endpoint, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}
