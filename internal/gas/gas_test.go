package gas

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestGweiToHexWei(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "1", want: "0x3b9aca00"},
		{in: "24.5", want: "0x5b4505500"},
		{in: "0", want: "0x0"},
		{in: "0.0000000019", want: "0x1"},
	}
	for _, tc := range cases {
		got, err := GweiToHexWei(tc.in)
		if err != nil {
			t.Fatalf("GweiToHexWei(%q) error = %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("GweiToHexWei(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
	for _, bad := range []string{"", "abc", "-1"} {
		if _, err := GweiToHexWei(bad); err == nil {
			t.Fatalf("GweiToHexWei(%q) expected error", bad)
		}
	}
}

func TestClientEstimate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "key-1" {
			t.Errorf("Authorization = %q, want key-1", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"blockPrices":[{"estimatedPrices":[{"confidence":99,"maxFeePerGas":24.5},{"confidence":70,"maxFeePerGas":12}]}]}`))
	}))
	defer srv.Close()

	got, err := NewClient(srv.URL, "key-1").Estimate(context.Background())
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	if got != "0x5b4505500" {
		t.Fatalf("Estimate() = %q, want %q", got, "0x5b4505500")
	}
}

func TestClientEstimateEmptyPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"blockPrices":[]}`))
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, "").Estimate(context.Background()); err != ErrNoEstimate {
		t.Fatalf("Estimate() error = %v, want ErrNoEstimate", err)
	}
}

func TestCachePrimeRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"blockPrices":[{"estimatedPrices":[{"maxFeePerGas":1}]}]}`))
	}))
	defer srv.Close()

	c := NewCache(NewClient(srv.URL, ""), nil)
	c.backoff = time.Millisecond
	if err := c.Prime(context.Background()); err != nil {
		t.Fatalf("Prime() error = %v", err)
	}
	if got := c.MaxFeePerGas(); got != "0x3b9aca00" {
		t.Fatalf("MaxFeePerGas() = %q, want 0x3b9aca00", got)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestCachePrimeStopsOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewCache(NewClient(srv.URL, ""), nil)
	c.backoff = time.Millisecond
	if err := c.Prime(context.Background()); err == nil {
		t.Fatalf("Prime() expected error")
	}
	if c.MaxFeePerGas() != "" {
		t.Fatalf("MaxFeePerGas() should stay empty after failure")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}
