package risk

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

	"golang.org/x/time/rate"
)

// ErrUnavailable marks a risk check that produced no verdict because the
// collaborator could not be reached or answered with an error.
var ErrUnavailable = errors.New("risk assessment unavailable")

// Report is the collaborator's structured answer, passed through untouched.
type Report json.RawMessage

func (r Report) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return []byte(r), nil
}

// Checker evaluates one pending transaction.
type Checker interface {
	Check(ctx context.Context, tx map[string]any) (Report, error)
}

type checkRequest struct {
	IncludeEvents    bool           `json:"includeEvents"`
	IncludeContracts bool           `json:"includeContracts"`
	Transaction      map[string]any `json:"transaction"`
}

// Client posts transactions to the risk assessment endpoint.
type Client struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

// NewClient builds a client paced at rps requests per second.
func NewClient(url string, timeout time.Duration, rps float64) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Client{
		url:     strings.TrimSpace(url),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (c *Client) Check(ctx context.Context, tx map[string]any) (Report, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	payload, err := json.Marshal(checkRequest{
		IncludeEvents:    true,
		IncludeContracts: true,
		Transaction:      tx,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: send request: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, fmt.Errorf("%w: http status %d: %s", ErrUnavailable, res.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: response is not json", ErrUnavailable)
	}
	return Report(body), nil
}
