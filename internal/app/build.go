package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ent0n29/txlens/internal/config"
	"github.com/ent0n29/txlens/internal/feed"
	"github.com/ent0n29/txlens/internal/gas"
	"github.com/ent0n29/txlens/internal/httpapi"
	"github.com/ent0n29/txlens/internal/networks"
	"github.com/ent0n29/txlens/internal/observability"
	"github.com/ent0n29/txlens/internal/pairing"
	"github.com/ent0n29/txlens/internal/protocol"
	"github.com/ent0n29/txlens/internal/risk"
	"github.com/ent0n29/txlens/internal/router"
	"github.com/ent0n29/txlens/internal/session"
	"github.com/ent0n29/txlens/internal/sessionstore"
)

type BuildResult struct {
	Config    config.Config
	API       *httpapi.Server
	Sessions  *session.Manager
	Router    *router.Router
	Feed      *feed.Hub
	Metrics   *observability.Metrics
	StoreMode string

	// Cleanup should be called on shutdown after the session loop has stopped.
	Cleanup func() error
}

// Build wires the service. The caller runs Sessions.Run and then Restore.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	table, err := networks.LoadFile(cfg.NetworksFile)
	if err != nil {
		return nil, fmt.Errorf("networks init failed: %w", err)
	}
	if _, err := table.Lookup(cfg.DefaultNetwork); err != nil {
		return nil, fmt.Errorf("default network: %w", err)
	}

	store, storeMode, err := sessionstore.Open(ctx, cfg.DatabaseURL, cfg.SessionStoreDir)
	if err != nil {
		return nil, fmt.Errorf("session store init failed: %w", err)
	}
	logger.Info("session store ready", "mode", storeMode)

	factory, err := newFactory(cfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	fees := gas.NewCache(gas.NewClient(cfg.GasEstimateURL, cfg.GasAPIKey), logger)
	start := time.Now()
	if err := fees.Prime(ctx); err != nil {
		// Transactions still go out for assessment, with a null fee.
		logger.Warn("gas estimate unavailable", "error", err)
		metrics.Latency.Count("gas_estimate_failed")
	}
	metrics.Latency.Observe(observability.StageGasEstimate, time.Since(start))

	hub := feed.NewHub(64)
	hub.SetDropHook(func(t protocol.MessageType) {
		metrics.FeedDrops.WithLabelValues(string(t)).Inc()
	})

	checker := risk.NewClient(cfg.RiskCheckURL, cfg.RiskCheckTimeout, cfg.RiskCheckRPS)
	requests := router.New(checker, fees, hub, metrics, logger)

	sessions := session.NewManager(session.Options{
		Factory:        factory,
		Store:          store,
		Router:         requests,
		Publisher:      hub,
		Networks:       table,
		DefaultNetwork: cfg.DefaultNetwork,
		KillTimeout:    cfg.PairingKillTimeout,
		Metrics:        metrics,
		Logger:         logger,
	})

	api := httpapi.New(cfg, sessions, hub, table, metrics, logger, storeMode)

	cleanup := func() error {
		var errs []string
		requests.Wait()
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:    cfg,
		API:       api,
		Sessions:  sessions,
		Router:    requests,
		Feed:      hub,
		Metrics:   metrics,
		StoreMode: storeMode,
		Cleanup:   cleanup,
	}, nil
}

func newFactory(cfg config.Config, logger *slog.Logger) (pairing.Factory, error) {
	switch cfg.PairingMode {
	case "mock":
		logger.Warn("pairing mode: mock; no real peer can connect")
		f := pairing.NewMockFactory()
		f.Peer = &pairing.Peer{Name: "txlens mock peer", URL: "http://localhost", Description: "in-process pairing mock"}
		return f, nil
	default:
		f, err := pairing.NewBridgeFactory(cfg.PairingBridgeURL, logger)
		if err != nil {
			return nil, fmt.Errorf("pairing bridge init failed: %w", err)
		}
		logger.Info("pairing mode: bridge", "url", cfg.PairingBridgeURL)
		return f, nil
	}
}
