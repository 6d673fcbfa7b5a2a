// Package ledger consumes the on-chain anchor contract through its
// signing gateway. Calls are signed with the acting party's wallet and
// block until on-chain confirmation; the contract's internals are not
// ours, only its call/confirm surface.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/medledger/rxtrack/internal/domain/prescription"
	"github.com/medledger/rxtrack/internal/observability/metrics"
	"github.com/medledger/rxtrack/pkg/circuitbreaker"
)

// Config holds gateway client configuration.
type Config struct {
	// BaseURL is the signing gateway endpoint.
	BaseURL string
	// Wallet is the acting party's signing wallet address.
	Wallet string
	// ConfirmTimeout bounds one call including on-chain confirmation.
	// Zero means wait indefinitely.
	ConfirmTimeout time.Duration
}

// Client calls the anchor contract's accept and confirmDelivery
// operations. It implements prescription.Anchor.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	metrics *metrics.Metrics
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewClient creates a gateway client. The circuit breaker guards the
// gateway; an open circuit surfaces as ErrNetwork.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("ledger gateway base url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	breaker, err := circuitbreaker.New(circuitbreaker.DefaultConfig("ledger-gateway"), logger)
	if err != nil {
		return nil, fmt.Errorf("create breaker: %w", err)
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{},
		breaker: breaker,
		logger:  logger,
		tracer:  otel.Tracer("ledger-client"),
	}, nil
}

// WithMetrics attaches call counters and latency tracking.
func (c *Client) WithMetrics(m *metrics.Metrics) *Client {
	c.metrics = m
	return c
}

// Accept anchors the logistics acceptance for the given on-chain id.
func (c *Client) Accept(ctx context.Context, onchainID int64) (prescription.Receipt, error) {
	return c.submit(ctx, "accept", onchainID)
}

// ConfirmDelivery anchors the delivery confirmation for the given
// on-chain id. The contract enforces accept-before-confirm ordering.
func (c *Client) ConfirmDelivery(ctx context.Context, onchainID int64) (prescription.Receipt, error) {
	return c.submit(ctx, "confirmDelivery", onchainID)
}

type submitRequest struct {
	Method    string `json:"method"`
	OnchainID int64  `json:"onchain_id"`
	Wallet    string `json:"wallet"`
}

type submitResponse struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber int64  `json:"block_number"`
	Error       string `json:"error,omitempty"`
	ErrorCode   string `json:"error_code,omitempty"`
}

func (c *Client) submit(ctx context.Context, method string, onchainID int64) (prescription.Receipt, error) {
	ctx, span := c.tracer.Start(ctx, "ledger_"+method,
		trace.WithAttributes(
			attribute.Int64("onchain_id", onchainID),
			attribute.String("method", method),
		))
	defer span.End()

	if c.cfg.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
		defer cancel()
	}

	start := time.Now()
	result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		return c.doSubmit(ctx, method, onchainID)
	})
	if c.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		c.metrics.LedgerCallsTotal.WithLabelValues(method, outcome).Inc()
		c.metrics.LedgerCallDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		span.RecordError(err)
		if c.breaker.IsOpen() {
			return prescription.Receipt{}, fmt.Errorf("%w: circuit open: %v", ErrNetwork, err)
		}
		return prescription.Receipt{}, err
	}

	receipt := result.(prescription.Receipt)
	span.SetAttributes(
		attribute.String("tx_hash", receipt.TxHash),
		attribute.Int64("block_number", receipt.BlockNumber),
	)
	c.logger.Info("ledger call confirmed",
		zap.String("method", method),
		zap.Int64("onchain_id", onchainID),
		zap.String("tx_hash", receipt.TxHash),
		zap.Int64("block", receipt.BlockNumber),
		zap.Duration("duration", time.Since(start)))
	return receipt, nil
}

func (c *Client) doSubmit(ctx context.Context, method string, onchainID int64) (prescription.Receipt, error) {
	body, err := json.Marshal(submitRequest{
		Method:    method,
		OnchainID: onchainID,
		Wallet:    c.cfg.Wallet,
	})
	if err != nil {
		return prescription.Receipt{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/transactions", bytes.NewReader(body))
	if err != nil {
		return prescription.Receipt{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return prescription.Receipt{}, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return prescription.Receipt{}, fmt.Errorf("%w: decode response: %v", ErrNetwork, err)
	}

	if resp.StatusCode != http.StatusOK {
		return prescription.Receipt{}, classify(resp.StatusCode, out)
	}
	if out.TxHash == "" {
		return prescription.Receipt{}, fmt.Errorf("%w: gateway returned no transaction hash", ErrNetwork)
	}

	return prescription.Receipt{TxHash: out.TxHash, BlockNumber: out.BlockNumber}, nil
}

// classify maps gateway error responses to the client's typed failures.
func classify(status int, out submitResponse) error {
	switch out.ErrorCode {
	case "SIGNATURE_REJECTED", "USER_REJECTED":
		return fmt.Errorf("%w: %s", ErrSignatureRejected, out.Error)
	case "INSUFFICIENT_FUNDS", "OUT_OF_GAS":
		return fmt.Errorf("%w: %s", ErrInsufficientFunds, out.Error)
	}
	if status >= 500 {
		return fmt.Errorf("%w: gateway returned %d: %s", ErrNetwork, status, out.Error)
	}
	return fmt.Errorf("%w: gateway returned %d: %s", ErrSignatureRejected, status, out.Error)
}
