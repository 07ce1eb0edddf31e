package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ent0n29/txlens/internal/observability"
	"github.com/ent0n29/txlens/internal/pairing"
	"github.com/ent0n29/txlens/internal/protocol"
	"github.com/ent0n29/txlens/internal/risk"
)

// Kind is the closed set of request categories. Methods not listed in
// methodKinds are KindUnhandled and go nowhere.
type Kind int

const (
	KindUnhandled Kind = iota
	KindTransaction
	KindMessage
	KindTypedData
)

func (k Kind) String() string {
	switch k {
	case KindTransaction:
		return "transaction"
	case KindMessage:
		return "message"
	case KindTypedData:
		return "typed_data"
	default:
		return "unhandled"
	}
}

// methodKinds lists the handled methods. eth_sign is transaction-class, but
// its params are [address, data] rather than a transaction object, so it is
// answered with request_rejected invalid_params and never reaches the risk
// collaborator.
var methodKinds = map[string]Kind{
	"eth_sendTransaction": KindTransaction,
	"eth_sign":            KindTransaction,
	"personal_sign":       KindMessage,
	"eth_signTypedData":   KindTypedData,
}

// Classify maps an RPC method name to its category.
func Classify(method string) Kind {
	return methodKinds[method]
}

var errMissingParams = errors.New("request has no params")

// Publisher receives presentation events.
type Publisher interface {
	Publish(msg any)
}

// FeeSource supplies the cached max fee per gas, "" when unknown.
type FeeSource interface {
	MaxFeePerGas() string
}

// Router reacts to peer requests. It never blocks the caller on the risk
// collaborator and never touches session state.
type Router struct {
	checker risk.Checker
	fees    FeeSource
	out     Publisher
	metrics *observability.Metrics
	logger  *slog.Logger

	wg sync.WaitGroup
}

func New(checker risk.Checker, fees FeeSource, out Publisher, metrics *observability.Metrics, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NewUnregisteredMetrics()
	}
	return &Router{
		checker: checker,
		fees:    fees,
		out:     out,
		metrics: metrics,
		logger:  logger.With("component", "router"),
	}
}

// Route classifies req and dispatches it. ctx bounds any risk call started
// for the request.
func (r *Router) Route(ctx context.Context, req pairing.PeerRequest) Kind {
	kind := Classify(req.Method)
	switch kind {
	case KindTransaction:
		r.routeTransaction(ctx, req)
	case KindMessage, KindTypedData:
		r.routeUnsupported(req, kind)
	default:
		r.logger.Debug("ignoring unhandled method", "method", req.Method, "request_id", req.ID)
		r.metrics.PeerRequests.WithLabelValues(kind.String(), "ignored").Inc()
	}
	return kind
}

// Wait blocks until in-flight risk checks finish.
func (r *Router) Wait() {
	r.wg.Wait()
}

func (r *Router) routeTransaction(ctx context.Context, req pairing.PeerRequest) {
	tx, err := transactionBody(req)
	if err != nil {
		r.logger.Warn("rejecting malformed transaction request", "method", req.Method, "request_id", req.ID, "error", err)
		r.metrics.PeerRequests.WithLabelValues(KindTransaction.String(), "invalid").Inc()
		r.out.Publish(protocol.RequestRejected{
			Type:      protocol.TypeRequestRejected,
			RequestID: req.ID,
			Method:    req.Method,
			Code:      "invalid_params",
			Detail:    err.Error(),
		})
		return
	}

	if fee := r.fees.MaxFeePerGas(); fee != "" {
		tx["maxFeePerGas"] = fee
	} else {
		tx["maxFeePerGas"] = nil
	}
	r.metrics.PeerRequests.WithLabelValues(KindTransaction.String(), "dispatched").Inc()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.check(ctx, req, tx)
	}()
}

func (r *Router) check(ctx context.Context, req pairing.PeerRequest, tx map[string]any) {
	start := time.Now()
	report, err := r.checker.Check(ctx, tx)
	if err != nil {
		outcome := "error"
		if errors.Is(err, risk.ErrUnavailable) {
			outcome = "unavailable"
		}
		r.metrics.ObserveRiskCheck(time.Since(start), outcome)
		r.logger.Warn("risk check failed", "method", req.Method, "request_id", req.ID, "error", err)
		r.out.Publish(protocol.RiskUnavailable{
			Type:      protocol.TypeRiskUnavailable,
			RequestID: req.ID,
			Method:    req.Method,
			Retryable: true,
			Detail:    err.Error(),
		})
		return
	}
	r.metrics.ObserveRiskCheck(time.Since(start), "ok")
	r.out.Publish(protocol.RiskVerdict{
		Type:        protocol.TypeRiskVerdict,
		RequestID:   req.ID,
		Method:      req.Method,
		Transaction: tx,
		Report:      json.RawMessage(report),
	})
}

func (r *Router) routeUnsupported(req pairing.PeerRequest, kind Kind) {
	var payload json.RawMessage
	if len(req.Params) > 0 {
		payload = req.Params[0]
	}
	r.logger.Info("signing request has no approval path", "method", req.Method, "category", kind.String(), "request_id", req.ID)
	r.metrics.PeerRequests.WithLabelValues(kind.String(), "unsupported").Inc()
	r.out.Publish(protocol.RequestUnsupported{
		Type:      protocol.TypeRequestUnsupported,
		RequestID: req.ID,
		Method:    req.Method,
		Category:  kind.String(),
		Payload:   payload,
		Detail:    kind.String() + " signing is not supported yet; the request was not forwarded",
	})
}

// transactionBody decodes the first param as a JSON object.
func transactionBody(req pairing.PeerRequest) (map[string]any, error) {
	if len(req.Params) == 0 {
		return nil, errMissingParams
	}
	var tx map[string]any
	if err := json.Unmarshal(req.Params[0], &tx); err != nil {
		return nil, errors.New("first param is not a transaction object")
	}
	if tx == nil {
		return nil, errors.New("first param is null")
	}
	return tx, nil
}
