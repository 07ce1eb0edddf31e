package gas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"
)

var (
	ErrNoEstimate = errors.New("no gas estimate in response")
	gweiInWei     = big.NewRat(1_000_000_000, 1)
)

// statusError carries the upstream status so callers can decide on retries.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("gas estimate http status %d: %s", e.Code, e.Body)
}

// Client fetches block price estimates from a Blocknative-compatible endpoint.
type Client struct {
	url    string
	apiKey string
	client *http.Client
}

func NewClient(url, apiKey string) *Client {
	return &Client{
		url:    strings.TrimSpace(url),
		apiKey: strings.TrimSpace(apiKey),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type blockPricesResponse struct {
	BlockPrices []struct {
		EstimatedPrices []struct {
			Confidence   json.Number `json:"confidence"`
			MaxFeePerGas json.Number `json:"maxFeePerGas"`
		} `json:"estimatedPrices"`
	} `json:"blockPrices"`
}

// Estimate returns the top-confidence max fee per gas as a 0x-prefixed wei
// quantity.
func (c *Client) Estimate(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", &statusError{Code: res.StatusCode, Body: string(bytes.TrimSpace(body))}
	}

	dec := json.NewDecoder(res.Body)
	dec.UseNumber()
	var payload blockPricesResponse
	if err := dec.Decode(&payload); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(payload.BlockPrices) == 0 || len(payload.BlockPrices[0].EstimatedPrices) == 0 {
		return "", ErrNoEstimate
	}
	raw := payload.BlockPrices[0].EstimatedPrices[0].MaxFeePerGas
	if raw == "" {
		return "", ErrNoEstimate
	}
	return GweiToHexWei(raw.String())
}

// GweiToHexWei converts a decimal gwei amount to a hex wei quantity. Digits
// beyond wei precision are truncated.
func GweiToHexWei(gwei string) (string, error) {
	r, ok := new(big.Rat).SetString(strings.TrimSpace(gwei))
	if !ok {
		return "", fmt.Errorf("invalid gwei amount %q", gwei)
	}
	if r.Sign() < 0 {
		return "", fmt.Errorf("negative gwei amount %q", gwei)
	}
	r.Mul(r, gweiInWei)
	wei := new(big.Int).Quo(r.Num(), r.Denom())
	return "0x" + wei.Text(16), nil
}
