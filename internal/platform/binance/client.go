// Package binance implements domain.Venue against the Binance spot REST API.
package binance

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/sentibot/internal/crypto"
	"github.com/alanyoungcy/sentibot/internal/domain"
)

const (
	defaultBaseURL = "https://api.binance.com"
	testnetBaseURL = "https://testnet.binance.vision"

	// rateLimitKey is the shared limiter bucket for all Binance requests.
	rateLimitKey = "binance:rest"
)

// Binance error codes mapped to domain errors.
const (
	codeInvalidSymbol = -1121
	codeOrderRejected = -2010
	codeUnknownOrder  = -2011
	codeInvalidQty    = -1013
)

// Config holds the REST client settings.
type Config struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	RecvWindow time.Duration
	Testnet    bool
	Timeout    time.Duration
}

// Client is a thin resty wrapper over the endpoints the bot needs.
type Client struct {
	http    *resty.Client
	signer  *crypto.Signer
	limiter domain.RateLimiter
}

var _ domain.Venue = (*Client)(nil)

// New builds a client. limiter may be nil.
func New(cfg Config, limiter domain.RateLimiter) *Client {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
		if cfg.Testnet {
			base = testnetBaseURL
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	hc := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetHeader("X-MBX-APIKEY", cfg.APIKey).
		SetHeader("Accept", "application/json")

	return &Client{
		http: hc,
		signer: &crypto.Signer{
			APIKey:     cfg.APIKey,
			Secret:     cfg.APISecret,
			RecvWindow: cfg.RecvWindow,
		},
		limiter: limiter,
	}
}

// Name identifies the venue in logs and status.
func (c *Client) Name() string { return "binance" }

// apiError is the Binance error body.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *apiError) toDomain(op string) error {
	var sentinel error
	switch {
	case e.Code == codeInvalidSymbol:
		sentinel = domain.ErrUnknownSymbol
	case e.Code == codeOrderRejected && strings.Contains(strings.ToLower(e.Msg), "insufficient"):
		sentinel = domain.ErrInsufficientBalance
	case e.Code == codeOrderRejected, e.Code == codeUnknownOrder, e.Code == codeInvalidQty:
		sentinel = domain.ErrRejectedOrder
	default:
		return fmt.Errorf("binance: %s: code %d: %s", op, e.Code, e.Msg)
	}
	return fmt.Errorf("binance: %s: %s: %w", op, e.Msg, sentinel)
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx, rateLimitKey)
}

// do executes req and maps HTTP and API errors.
func (c *Client) do(ctx context.Context, op, method, path string, req *resty.Request) error {
	if err := c.wait(ctx); err != nil {
		return fmt.Errorf("binance: %s: %w", op, err)
	}
	apiErr := &apiError{}
	req.SetContext(ctx).SetError(apiErr)

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("binance: %s: %w", op, err)
	}
	if resp.IsError() {
		if apiErr.Code != 0 {
			return apiErr.toDomain(op)
		}
		return fmt.Errorf("binance: %s: http %d: %s", op, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}

// signedPath puts the signed query on the path verbatim. Query params set on
// the request would be re-encoded in sorted order and move the signature.
func signedPath(path, signedQuery string) string {
	return path + "?" + signedQuery
}

type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// Quote returns the last traded price for symbol.
func (c *Client) Quote(ctx context.Context, symbol string) (float64, error) {
	var out tickerPrice
	req := c.http.R().
		SetQueryParam("symbol", strings.ToUpper(symbol)).
		SetResult(&out)
	if err := c.do(ctx, "quote "+symbol, resty.MethodGet, "/api/v3/ticker/price", req); err != nil {
		return 0, err
	}
	price, err := strconv.ParseFloat(out.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("binance: quote %s: parse price %q: %w", symbol, out.Price, err)
	}
	return price, nil
}

type orderResponse struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	Status              string `json:"status"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Fills               []struct {
		Price string `json:"price"`
		Qty   string `json:"qty"`
	} `json:"fills"`
}

// MarketOrder submits a MARKET order with a FULL response and reports the
// volume-weighted executed price.
func (c *Client) MarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity float64) (domain.ExecutionReport, error) {
	symbol = strings.ToUpper(symbol)
	op := fmt.Sprintf("market %s %s", side, symbol)
	if quantity <= 0 {
		return domain.ExecutionReport{}, fmt.Errorf("binance: %s: quantity %v: %w", op, quantity, domain.ErrRejectedOrder)
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", strings.ToUpper(string(side)))
	params.Set("type", "MARKET")
	params.Set("quantity", decimal.NewFromFloat(quantity).String())
	params.Set("newOrderRespType", "FULL")

	var out orderResponse
	req := c.http.R().SetResult(&out)
	if err := c.do(ctx, op, resty.MethodPost, signedPath("/api/v3/order", c.signer.Sign(params)), req); err != nil {
		return domain.ExecutionReport{}, err
	}

	execQty, err := decimal.NewFromString(out.ExecutedQty)
	if err != nil {
		return domain.ExecutionReport{}, fmt.Errorf("binance: %s: parse executedQty %q: %w", op, out.ExecutedQty, err)
	}
	status, err := fillStatus(out.Status, execQty)
	if err != nil {
		return domain.ExecutionReport{}, fmt.Errorf("binance: %s: %w", op, err)
	}
	quoteQty, err := decimal.NewFromString(out.CummulativeQuoteQty)
	if err != nil {
		return domain.ExecutionReport{}, fmt.Errorf("binance: %s: parse cummulativeQuoteQty %q: %w", op, out.CummulativeQuoteQty, err)
	}

	var price decimal.Decimal
	if execQty.IsPositive() {
		price = quoteQty.Div(execQty)
	} else if len(out.Fills) > 0 {
		price, _ = decimal.NewFromString(out.Fills[0].Price)
	}

	return domain.ExecutionReport{
		VenueOrderID:     strconv.FormatInt(out.OrderID, 10),
		Symbol:           out.Symbol,
		Side:             side,
		Status:           status,
		ExecutedQuantity: execQty.InexactFloat64(),
		ExecutedPrice:    price.InexactFloat64(),
	}, nil
}

// fillStatus normalises a market order outcome. Anything that executed
// nothing is a rejection whatever the reported status. A non-FILLED status
// with some execution (EXPIRED, EXPIRED_IN_MATCH, CANCELED) is a partial fill.
func fillStatus(status string, executed decimal.Decimal) (domain.OrderStatus, error) {
	if !executed.IsPositive() {
		return "", fmt.Errorf("status %s, nothing executed: %w", status, domain.ErrRejectedOrder)
	}
	if domain.OrderStatus(status) == domain.OrderStatusFilled {
		return domain.OrderStatusFilled, nil
	}
	return domain.OrderStatusPartiallyFilled, nil
}

type accountResponse struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

// Balances returns free balances for every asset with a non-zero amount.
func (c *Client) Balances(ctx context.Context) (map[string]float64, error) {
	var out accountResponse
	req := c.http.R().SetResult(&out)
	if err := c.do(ctx, "account", resty.MethodGet, signedPath("/api/v3/account", c.signer.Sign(url.Values{})), req); err != nil {
		return nil, err
	}

	balances := make(map[string]float64, len(out.Balances))
	for _, b := range out.Balances {
		free, err := strconv.ParseFloat(b.Free, 64)
		if err != nil {
			return nil, fmt.Errorf("binance: account: parse %s free %q: %w", b.Asset, b.Free, err)
		}
		if free != 0 {
			balances[b.Asset] = free
		}
	}
	return balances, nil
}

// Balance returns the free balance of asset (0 when absent).
func (c *Client) Balance(ctx context.Context, asset string) (float64, error) {
	balances, err := c.Balances(ctx)
	if err != nil {
		return 0, err
	}
	return balances[strings.ToUpper(asset)], nil
}
