package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	headerAPIKey    = "X-CH-APIKEY"
	headerTimestamp = "X-CH-TS"
	headerSignature = "X-CH-SIGN"

	statusCanceled = "CANCELED"
)

type Paths struct {
	Ticker       string
	Account      string
	Order        string
	OpenOrders   string
	Cancel       string
	CancelMethod string
}

type Options struct {
	BaseURL           string
	Timeout           time.Duration
	Scheme            Scheme
	APIKey            string
	APISecret         string
	Symbol            string
	PriceField        string
	Paths             Paths
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Now               func() time.Time
}

type Client struct {
	baseURL    string
	http       *http.Client
	scheme     Scheme
	apiKey     string
	signer     *Signer
	symbol     string
	priceField string
	paths      Paths
	limiter    *rate.Limiter
	now        func() time.Time
	log        *zap.Logger
}

func NewClient(opts Options, log *zap.Logger) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, errors.New("base url is required")
	}
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("api key is required")
	}
	if strings.TrimSpace(opts.Symbol) == "" {
		return nil, errors.New("symbol is required")
	}
	scheme, err := ParseScheme(string(opts.Scheme))
	if err != nil {
		return nil, err
	}
	signer, err := NewSigner(opts.APISecret)
	if err != nil {
		return nil, err
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	priceField := opts.PriceField
	if priceField == "" {
		priceField = "price"
	}
	paths := opts.Paths
	if paths.CancelMethod == "" {
		paths.CancelMethod = http.MethodPost
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		http:       httpClient,
		scheme:     scheme,
		apiKey:     opts.APIKey,
		signer:     signer,
		symbol:     opts.Symbol,
		priceField: priceField,
		paths:      paths,
		limiter:    rate.NewLimiter(limit, 1),
		now:        now,
		log:        log,
	}, nil
}

func (c *Client) Symbol() string {
	return c.symbol
}

// Price returns the last traded price from the public ticker.
func (c *Client) Price(ctx context.Context) (float64, error) {
	query := url.Values{"symbol": {c.symbol}}
	payload, err := c.do(ctx, http.MethodGet, c.paths.Ticker+"?"+query.Encode(), nil, nil)
	if err != nil {
		return 0, err
	}
	m, ok := payload.(map[string]any)
	if !ok {
		return 0, fmt.Errorf("%w: ticker is %T", ErrMalformedResponse, payload)
	}
	raw, ok := m[c.priceField]
	if !ok {
		if err := rejection(m); err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %s", ErrFieldMissing, c.priceField)
	}
	price, ok := floatFromAny(raw)
	if !ok || price <= 0 {
		return 0, fmt.Errorf("%w: %s=%v", ErrMalformedResponse, c.priceField, raw)
	}
	return price, nil
}

// FetchPrice returns the market price, or fallback when the price cannot be
// read. live reports whether the value came from the exchange.
func (c *Client) FetchPrice(ctx context.Context, fallback float64) (price float64, live bool) {
	price, err := c.Price(ctx)
	if err != nil {
		c.log.Warn("price fetch failed, using fallback",
			zap.String("symbol", c.symbol),
			zap.Float64("fallback", fallback),
			zap.Error(err),
		)
		return fallback, false
	}
	return price, true
}

func (c *Client) Balances(ctx context.Context) ([]Balance, error) {
	payload, err := c.doSigned(ctx, http.MethodGet, c.paths.Account, nil, nil)
	if err != nil {
		return nil, err
	}
	m, ok := payload.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: account is %T", ErrMalformedResponse, payload)
	}
	return parseBalances(m)
}

func (c *Client) Balance(ctx context.Context, asset string) (Balance, error) {
	balances, err := c.Balances(ctx)
	if err != nil {
		return Balance{}, err
	}
	asset = strings.ToUpper(asset)
	for _, b := range balances {
		if b.Asset == asset {
			return b, nil
		}
	}
	return Balance{}, fmt.Errorf("%w: %s", ErrAssetNotFound, asset)
}

// FetchBalance returns the free balance of asset, or 0 when it cannot be
// determined.
func (c *Client) FetchBalance(ctx context.Context, asset string) float64 {
	b, err := c.Balance(ctx, asset)
	if err != nil {
		c.log.Warn("balance fetch failed, assuming zero", zap.String("asset", asset), zap.Error(err))
		return 0
	}
	return b.Free
}

// PlaceOrder submits a GTC limit order. Price and size are rendered before the
// request is signed.
func (c *Client) PlaceOrder(ctx context.Context, side Side, price, size float64) (OrderResult, error) {
	if side != SideBuy && side != SideSell {
		return OrderResult{}, fmt.Errorf("invalid side %q", side)
	}
	priceStr, err := FormatPrice(price)
	if err != nil {
		return OrderResult{}, err
	}
	sizeStr, err := FormatSize(size)
	if err != nil {
		return OrderResult{}, err
	}
	result := OrderResult{Side: side, Price: priceStr, Size: sizeStr}
	var payload any
	switch c.scheme {
	case SchemeHeader:
		body := orderRequest{
			Symbol:      c.symbol,
			Side:        side,
			Type:        "LIMIT",
			TimeInForce: "GTC",
			Quantity:    json.Number(sizeStr),
			Price:       priceStr,
		}
		payload, err = c.doSigned(ctx, http.MethodPost, c.paths.Order, nil, body)
	default:
		params := map[string]string{
			"symbol":      c.symbol,
			"side":        string(side),
			"type":        "LIMIT",
			"timeInForce": "GTC",
			"quantity":    sizeStr,
			"price":       priceStr,
		}
		payload, err = c.doSigned(ctx, http.MethodPost, c.paths.Order, params, nil)
	}
	if err != nil {
		return result, err
	}
	m, ok := payload.(map[string]any)
	if !ok {
		return result, fmt.Errorf("%w: order is %T", ErrMalformedResponse, payload)
	}
	if err := rejection(m); err != nil {
		return result, err
	}
	result.OrderID = orderIDFromMap(m)
	if result.OrderID == "" {
		return result, fmt.Errorf("%w: missing order id in %v", ErrExchangeRejected, m)
	}
	return result, nil
}

func (c *Client) OpenOrders(ctx context.Context) ([]OpenOrder, error) {
	payload, err := c.doSigned(ctx, http.MethodGet, c.paths.OpenOrders, map[string]string{"symbol": c.symbol}, nil)
	if err != nil {
		return nil, err
	}
	return parseOpenOrders(payload)
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if strings.TrimSpace(orderID) == "" {
		return errors.New("order id is required")
	}
	method := c.paths.CancelMethod
	var (
		payload any
		err     error
	)
	switch c.scheme {
	case SchemeHeader:
		body := cancelRequest{Symbol: c.symbol, OrderID: orderIDValue(orderID)}
		payload, err = c.doSigned(ctx, method, c.paths.Cancel, nil, body)
	default:
		params := map[string]string{"symbol": c.symbol, "orderId": orderID}
		payload, err = c.doSigned(ctx, method, c.paths.Cancel, params, nil)
	}
	if err != nil {
		return err
	}
	m, ok := payload.(map[string]any)
	if !ok {
		return fmt.Errorf("%w: cancel is %T", ErrMalformedResponse, payload)
	}
	if err := rejection(m); err != nil {
		return err
	}
	if status, ok := m["status"]; ok && !strings.EqualFold(stringFromAny(status), statusCanceled) {
		return fmt.Errorf("%w: cancel status %v", ErrExchangeRejected, status)
	}
	return nil
}

// CancelAllOpenOrders lists the resting orders for the symbol and cancels
// each one. A failed cancel does not stop the remaining cancels.
func (c *Client) CancelAllOpenOrders(ctx context.Context) CancelReport {
	orders, err := c.OpenOrders(ctx)
	if err != nil {
		c.log.Warn("open orders fetch failed, skipping cancel", zap.String("symbol", c.symbol), zap.Error(err))
		return CancelReport{Err: err}
	}
	report := CancelReport{Listed: len(orders)}
	for _, order := range orders {
		if order.OrderID == "" {
			report.Failed++
			c.log.Warn("open order missing id", zap.String("symbol", c.symbol))
			continue
		}
		if err := c.CancelOrder(ctx, order.OrderID); err != nil {
			report.Failed++
			c.log.Warn("cancel failed",
				zap.String("order_id", order.OrderID),
				zap.String("side", string(order.Side)),
				zap.Error(err),
			)
			continue
		}
		report.Cancelled++
		c.log.Info("cancelled order", zap.String("order_id", order.OrderID), zap.String("side", string(order.Side)))
	}
	return report
}

func (c *Client) timestamp() string {
	return strconv.FormatInt(c.now().UnixMilli(), 10)
}

// doSigned signs and sends one authenticated request. The timestamp is taken
// here so that every call, including repeats, is signed afresh.
func (c *Client) doSigned(ctx context.Context, method, path string, params map[string]string, body any) (any, error) {
	req := &SignedRequest{
		Timestamp: c.timestamp(),
		Method:    method,
		Path:      path,
		Params:    copyParams(params),
	}
	var bodyBytes []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyBytes = encoded
		req.Body = string(encoded)
	}
	if err := c.signer.SignRequest(c.scheme, req); err != nil {
		return nil, err
	}
	headers := http.Header{}
	headers.Set(headerAPIKey, c.apiKey)
	target := path
	switch c.scheme {
	case SchemeHeader:
		headers.Set(headerTimestamp, req.Timestamp)
		headers.Set(headerSignature, req.Signature)
		if len(req.Params) > 0 {
			target += "?" + encodeSorted(req.Params)
		}
	case SchemeQuery:
		target += "?" + encodeSorted(req.Params) + "&signature=" + req.Signature
	}
	return c.do(ctx, method, target, headers, bodyBytes)
}

func (c *Client) do(ctx context.Context, method, target string, headers http.Header, body []byte) (any, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+target, reader)
	if err != nil {
		return nil, err
	}
	for key, values := range headers {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	var data any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return data, nil
}

// encodeSorted escapes values in the same key order CanonicalQuery signs.
func encodeSorted(params map[string]string) string {
	keys := sortedKeys(params)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, url.QueryEscape(key)+"="+url.QueryEscape(params[key]))
	}
	return strings.Join(parts, "&")
}

func copyParams(params map[string]string) map[string]string {
	if params == nil {
		return nil
	}
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
