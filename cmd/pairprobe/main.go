package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/txlens/internal/protocol"
)

// pairprobe replays pair/approve/disconnect cycles against a running txlens
// (normally PAIRING_MODE=mock) over /v1/events and reports step latencies.

type options struct {
	baseURL     string
	uri         string
	account     string
	network     string
	cycles      int
	stepTimeout time.Duration
	interCycle  time.Duration
	verbose     bool
}

type wsEnvelope struct {
	Type   string             `json:"type"`
	Phase  string             `json:"phase,omitempty"`
	Peer   *protocol.PeerInfo `json:"peer,omitempty"`
	Code   string             `json:"code,omitempty"`
	Detail string             `json:"detail,omitempty"`
}

const (
	stepPair       = "pair"
	stepApprove    = "approve"
	stepDisconnect = "disconnect"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "pairprobe: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "pairprobe: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var cfg options
	var stepTimeoutMS, interCycleMS int

	fs := flag.NewFlagSet("pairprobe", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "txlens base URL")
	fs.StringVar(&cfg.uri, "uri", "wc:pairprobe@1?bridge=https%3A%2F%2Fbridge.invalid&key=00", "pairing URI sent on every cycle")
	fs.StringVar(&cfg.account, "account", "0x000000000000000000000000000000000000dEaD", "account approved on every cycle")
	fs.StringVar(&cfg.network, "network", "ethereum", "network label used for approval")
	fs.IntVar(&cfg.cycles, "cycles", 10, "number of pair/approve/disconnect cycles")
	fs.IntVar(&stepTimeoutMS, "step-timeout-ms", 5000, "timeout waiting for each phase change")
	fs.IntVar(&interCycleMS, "inter-cycle-ms", 100, "delay between cycles")
	fs.BoolVar(&cfg.verbose, "verbose", true, "print progress")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(cfg.uri)), "wc:") {
		return options{}, fmt.Errorf("uri must start with wc:")
	}
	if strings.TrimSpace(cfg.account) == "" {
		return options{}, fmt.Errorf("account is required")
	}
	if cfg.cycles <= 0 {
		return options{}, fmt.Errorf("cycles must be > 0")
	}
	if stepTimeoutMS < 100 {
		stepTimeoutMS = 100
	}
	if interCycleMS < 0 {
		interCycleMS = 0
	}
	cfg.stepTimeout = time.Duration(stepTimeoutMS) * time.Millisecond
	cfg.interCycle = time.Duration(interCycleMS) * time.Millisecond
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()

	wsURL, err := eventsURL(cfg.baseURL)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	states := make(chan wsEnvelope, 64)
	readErrCh := make(chan error, 1)
	go readLoop(conn, states, readErrCh, cfg.verbose)

	samples := map[string][]time.Duration{}
	for i := 0; i < cfg.cycles; i++ {
		if cfg.verbose {
			fmt.Printf("pairprobe: cycle %d/%d\n", i+1, cfg.cycles)
		}

		steps := []struct {
			name  string
			msg   any
			phase string
		}{
			{stepPair, protocol.ClientPair{Type: protocol.TypeClientPair, URI: cfg.uri}, "pending_approval"},
			{stepApprove, protocol.ClientControl{Type: protocol.TypeClientControl, Action: protocol.ActionApprove, Accounts: []string{cfg.account}, Network: cfg.network}, "connected"},
			{stepDisconnect, protocol.ClientControl{Type: protocol.TypeClientControl, Action: protocol.ActionDisconnect}, "idle"},
		}
		for _, step := range steps {
			start := time.Now()
			if err := conn.WriteJSON(step.msg); err != nil {
				return fmt.Errorf("cycle %d %s: %w", i+1, step.name, err)
			}
			if err := awaitPhase(states, readErrCh, step.phase, step.name == stepPair, cfg.stepTimeout); err != nil {
				return fmt.Errorf("cycle %d await %s: %w", i+1, step.phase, err)
			}
			samples[step.name] = append(samples[step.name], time.Since(start))
		}

		if cfg.interCycle > 0 && i < cfg.cycles-1 {
			time.Sleep(cfg.interCycle)
		}
	}

	for _, name := range []string{stepPair, stepApprove, stepDisconnect} {
		fmt.Println(summarize(name, samples[name]))
	}
	return nil
}

func eventsURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/events"
	return u.String(), nil
}

func readLoop(conn *websocket.Conn, states chan<- wsEnvelope, readErrCh chan<- error, verbose bool) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErrCh <- err:
			default:
			}
			return
		}

		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case string(protocol.TypeSessionState):
			select {
			case states <- env:
			default:
			}
		case string(protocol.TypeErrorEvent), string(protocol.TypeChannelError):
			if verbose {
				fmt.Fprintf(os.Stderr, "pairprobe: %s code=%s detail=%s\n", env.Type, env.Code, env.Detail)
			}
		}
	}
}

// awaitPhase waits for a session_state in the wanted phase. withPeer also
// requires the peer to have announced itself.
func awaitPhase(states <-chan wsEnvelope, readErrCh <-chan error, phase string, withPeer bool, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case env := <-states:
			if env.Phase == phase && (!withPeer || env.Peer != nil) {
				return nil
			}
		case err := <-readErrCh:
			return err
		case <-timer.C:
			return fmt.Errorf("timeout after %s", timeout)
		}
	}
}

func summarize(name string, samples []time.Duration) string {
	if len(samples) == 0 {
		return fmt.Sprintf("%-10s samples=0", name)
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return fmt.Sprintf("%-10s samples=%d p50=%s p95=%s max=%s",
		name, len(sorted), percentile(sorted, 0.50), percentile(sorted, 0.95), sorted[len(sorted)-1])
}

func percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q*float64(len(sorted)-1) + 0.5)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
