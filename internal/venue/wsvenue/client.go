// Package wsvenue is a venue adapter for exchanges exposing a JSON ticker
// over websocket and an HMAC-signed JSON REST order API.
package wsvenue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbengine/internal/crypto"
	"github.com/alanyoungcy/arbengine/internal/domain"
)

const (
	ordersPath   = "/api/v1/orders"
	balancesPath = "/api/v1/balances"
)

// Config configures a websocket venue.
type Config struct {
	Name    string
	WSURL   string
	RESTURL string
	Auth    *crypto.HMACAuth
	// PriceDecimals and SizeDecimals round outgoing order fields.
	PriceDecimals int32
	SizeDecimals  int32
	HTTPTimeout   time.Duration
}

// Venue implements domain.VenueAdapter over websocket + REST.
type Venue struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger

	mu      sync.Mutex
	streams []*stream
	closed  bool
}

var _ domain.VenueAdapter = (*Venue)(nil)

// New creates a Venue.
func New(cfg Config, logger *slog.Logger) *Venue {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.PriceDecimals <= 0 {
		cfg.PriceDecimals = 8
	}
	if cfg.SizeDecimals <= 0 {
		cfg.SizeDecimals = 8
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.RESTURL = strings.TrimRight(cfg.RESTURL, "/")
	return &Venue{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.HTTPTimeout},
		logger: logger.With(slog.String("component", "wsvenue"), slog.String("venue", cfg.Name)),
	}
}

// Name returns the venue name.
func (v *Venue) Name() string { return v.cfg.Name }

// SubmitOrder places an IOC limit order. Network failures, 5xx and 429
// responses wrap domain.ErrTransient; other 4xx responses wrap
// domain.ErrRejected.
func (v *Venue) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.LegResult, error) {
	body := orderRequest{
		ClientOrderID: req.ClientID,
		Symbol:        req.Symbol,
		Side:          string(req.Side),
		Type:          "limit",
		TimeInForce:   "IOC",
		Price:         decimal.NewFromFloat(req.LimitPrice).Round(v.cfg.PriceDecimals).String(),
		Quantity:      decimal.NewFromFloat(req.Size).RoundDown(v.cfg.SizeDecimals).String(),
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	raw, err := v.do(ctx, http.MethodPost, ordersPath, body)
	if err != nil {
		return domain.LegResult{}, fmt.Errorf("wsvenue: %s: submit order: %w", v.cfg.Name, err)
	}
	var resp orderResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return domain.LegResult{}, fmt.Errorf("wsvenue: %s: decode order: %w", v.cfg.Name, err)
	}
	res := resp.toLegResult()
	if res.Status == domain.LegFailed {
		return res, fmt.Errorf("wsvenue: %s: %s: %w", v.cfg.Name, resp.Message, domain.ErrRejected)
	}
	return res, nil
}

func (r orderResponse) toLegResult() domain.LegResult {
	price, _ := r.AvgPrice.Float64()
	size, _ := r.FilledQty.Float64()
	fee, _ := r.Fee.Float64()
	res := domain.LegResult{
		OrderID:     r.OrderID,
		FilledPrice: price,
		FilledSize:  size,
		Fee:         fee,
		Message:     r.Message,
	}
	switch strings.ToLower(r.Status) {
	case "filled":
		res.Status = domain.LegFilled
	case "partially_filled":
		res.Status = domain.LegPartiallyFilled
	case "cancelled", "canceled", "expired":
		res.Status = domain.LegCancelled
		if size > 0 {
			res.Status = domain.LegPartiallyFilled
		}
	case "rejected":
		res.Status = domain.LegFailed
	default:
		res.Status = domain.LegSubmitted
	}
	return res
}

// CancelOrder cancels by venue order id or client order id.
func (v *Venue) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if _, err := v.do(ctx, http.MethodDelete, ordersPath, cancelRequest{Symbol: symbol, ID: orderID}); err != nil {
		return fmt.Errorf("wsvenue: %s: cancel %s: %w", v.cfg.Name, orderID, err)
	}
	return nil
}

// GetBalance returns free balances keyed by upper-case asset.
func (v *Venue) GetBalance(ctx context.Context) (map[string]float64, error) {
	raw, err := v.do(ctx, http.MethodGet, balancesPath, nil)
	if err != nil {
		return nil, fmt.Errorf("wsvenue: %s: balances: %w", v.cfg.Name, err)
	}
	var entries []balanceEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("wsvenue: %s: decode balances: %w", v.cfg.Name, err)
	}
	out := make(map[string]float64, len(entries))
	for _, e := range entries {
		out[strings.ToUpper(e.Asset)], _ = e.Free.Float64()
	}
	return out, nil
}

// Close stops every stream started by StreamQuotes.
func (v *Venue) Close() error {
	v.mu.Lock()
	streams := v.streams
	v.streams = nil
	v.closed = true
	v.mu.Unlock()

	for _, s := range streams {
		s.close()
	}
	return nil
}

// do sends a signed JSON request and returns the response body.
func (v *Venue) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var (
		reader  io.Reader
		payload string
	)
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		payload = string(data)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, v.cfg.RESTURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if v.cfg.Auth != nil {
		for k, val := range v.cfg.Auth.Headers(method, path, payload) {
			req.Header.Set(k, val)
		}
	}

	resp, err := v.http.Do(req)
	if err != nil {
		return nil, classifyNetErr(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w: %w", domain.ErrTransient, err)
	}
	if err := checkHTTPStatus(resp.StatusCode, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func classifyNetErr(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrTransient, err)
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	msg := strings.TrimSpace(string(body))
	switch {
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, msg)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w: %s", domain.ErrTransient, domain.ErrRateLimited, msg)
	case statusCode >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrTransient, statusCode, msg)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrRejected, statusCode, msg)
	}
}
