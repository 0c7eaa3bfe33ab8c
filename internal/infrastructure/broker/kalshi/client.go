package kalshi

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"pmexec/internal/application/port"
	"pmexec/internal/domain/model"
)

const (
	minRequestInterval = 100 * time.Millisecond
	maxAttempts        = 3
	initialBackoff     = 2 * time.Second
	maxBackoff         = 10 * time.Second
)

// Client is the authenticated Kalshi REST client. Every request carries
// an RSA-PSS signature over timestamp+method+path+body; calls are spaced
// at least 100ms apart and transient failures retry with exponential
// backoff.
type Client struct {
	baseURL string
	keyID   string
	key     *rsa.PrivateKey
	http    *http.Client

	mu          sync.Mutex
	lastRequest time.Time
}

var _ port.Broker = (*Client)(nil)

// NewClient builds a client from the key id and a PEM private key file.
func NewClient(baseURL, keyID, privateKeyPath string) (*Client, error) {
	key, err := loadPrivateKey(privateKeyPath)
	if err != nil {
		return nil, err
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		keyID:   keyID,
		key:     key,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	log.Info().Str("base_url", c.baseURL).Msg("kalshi client initialized")
	return c, nil
}

// rateLimit spaces consecutive requests by at least minRequestInterval.
func (c *Client) rateLimit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if wait := minRequestInterval - time.Since(c.lastRequest); wait > 0 {
		time.Sleep(wait)
	}
	c.lastRequest = time.Now()
}

func (c *Client) headers(method, path, body string) (http.Header, error) {
	timestampMs := time.Now().UnixMilli()
	sig, err := signRequest(c.key, timestampMs, method, path, body)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("KALSHI-ACCESS-KEY", c.keyID)
	h.Set("KALSHI-ACCESS-TIMESTAMP", strconv.FormatInt(timestampMs, 10))
	h.Set("KALSHI-ACCESS-SIGNATURE", sig)
	h.Set("Content-Type", "application/json")
	return h, nil
}

// do issues one signed request with retry. Only network errors, 429 and
// 5xx responses retry; client errors surface immediately.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	var body string
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		body = string(b)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	backoff := initialBackoff
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
		}

		c.rateLimit()

		headers, err := c.headers(method, path, body)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader([]byte(body)))
		if err != nil {
			return nil, err
		}
		req.Header = headers

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%s %s: %w", method, path, err)
			log.Warn().Err(err).Int("attempt", attempt).Str("path", path).Msg("kalshi request failed")
			continue
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("%s %s: read body: %w", method, path, err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, truncate(data))
			log.Warn().Int("status", resp.StatusCode).Int("attempt", attempt).Str("path", path).Msg("kalshi transient error")
			continue
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, truncate(data))
		}
		return data, nil
	}
	return nil, lastErr
}

func truncate(b []byte) string {
	const n = 256
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

func (c *Client) GetMarkets(ctx context.Context, filter port.MarketFilter) ([]model.Market, error) {
	q := url.Values{}
	status := filter.Status
	if status == "" {
		status = model.MarketOpen
	}
	q.Set("status", string(status))
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	q.Set("limit", strconv.Itoa(limit))
	if filter.Category != "" {
		q.Set("category", filter.Category)
	}

	data, err := c.do(ctx, http.MethodGet, "/markets", q, nil)
	if err != nil {
		return nil, err
	}
	var resp marketsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode markets: %w", err)
	}

	markets := make([]model.Market, 0, len(resp.Markets))
	for i := range resp.Markets {
		m, err := resp.Markets[i].toModel()
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	log.Debug().Int("count", len(markets)).Msg("fetched markets")
	return markets, nil
}

func (c *Client) GetMarket(ctx context.Context, ticker string) (*model.Market, error) {
	data, err := c.do(ctx, http.MethodGet, "/markets/"+ticker, nil, nil)
	if err != nil {
		return nil, err
	}
	var resp marketResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode market: %w", err)
	}
	if resp.Market == nil {
		return nil, &ParseError{Entity: "market", Field: "market"}
	}
	return resp.Market.toModel()
}

func (c *Client) GetOrderBook(ctx context.Context, ticker string, depth int) (*model.OrderBook, error) {
	if depth <= 0 {
		depth = 5
	}
	q := url.Values{"depth": {strconv.Itoa(depth)}}
	data, err := c.do(ctx, http.MethodGet, "/markets/"+ticker+"/orderbook", q, nil)
	if err != nil {
		return nil, err
	}
	var resp orderbookResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode orderbook: %w", err)
	}
	return resp.toModel(), nil
}

func (c *Client) GetPositions(ctx context.Context) ([]model.BrokerPosition, error) {
	data, err := c.do(ctx, http.MethodGet, "/portfolio/positions", nil, nil)
	if err != nil {
		return nil, err
	}
	var resp positionsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	positions := make([]model.BrokerPosition, 0, len(resp.Positions))
	for _, p := range resp.Positions {
		positions = append(positions, model.BrokerPosition{
			Ticker:    p.Ticker,
			Quantity:  p.Position,
			TotalCost: p.TotalTraded,
		})
	}
	return positions, nil
}

func (c *Client) GetBalance(ctx context.Context) (*model.Balance, error) {
	data, err := c.do(ctx, http.MethodGet, "/portfolio/balance", nil, nil)
	if err != nil {
		return nil, err
	}
	var resp balanceResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode balance: %w", err)
	}
	return &model.Balance{
		Available: float64(resp.Balance) / 100,
		Exposure:  float64(resp.Payout) / 100,
	}, nil
}

func (c *Client) PlaceOrder(ctx context.Context, req port.OrderRequest) (*model.Order, error) {
	if !req.Side.Valid() {
		return nil, fmt.Errorf("invalid side %q", req.Side)
	}
	if req.LimitPrice < 1 || req.LimitPrice > 99 {
		return nil, fmt.Errorf("invalid price %d, must be 1-99 cents", req.LimitPrice)
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("invalid quantity %d", req.Quantity)
	}

	orderType := req.OrderType
	if orderType == "" {
		orderType = "limit"
	}
	payload := orderPayload{
		Ticker: req.Ticker,
		Action: "buy", // buying yes or no, never selling
		Side:   string(req.Side),
		Count:  req.Quantity,
		Type:   orderType,
	}
	if orderType == "limit" {
		price := req.LimitPrice
		if req.Side == model.SideYes {
			payload.YesPrice = &price
		} else {
			payload.NoPrice = &price
		}
	}

	log.Info().
		Str("ticker", req.Ticker).
		Str("side", string(req.Side)).
		Int("quantity", req.Quantity).
		Int("price", req.LimitPrice).
		Msg("placing kalshi order")

	data, err := c.do(ctx, http.MethodPost, "/portfolio/orders", nil, payload)
	if err != nil {
		return nil, err
	}
	var resp orderResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	if resp.Order == nil {
		return nil, &ParseError{Entity: "order", Field: "order"}
	}
	return resp.Order.toModel()
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if _, err := c.do(ctx, http.MethodDelete, "/portfolio/orders/"+orderID, nil, nil); err != nil {
		return err
	}
	log.Info().Str("order_id", orderID).Msg("order cancelled")
	return nil
}

// GetFills returns executed fills, optionally filtered by ticker.
func (c *Client) GetFills(ctx context.Context, ticker string) ([]model.Fill, error) {
	q := url.Values{}
	if ticker != "" {
		q.Set("ticker", ticker)
	}
	data, err := c.do(ctx, http.MethodGet, "/portfolio/fills", q, nil)
	if err != nil {
		return nil, err
	}
	var resp fillsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode fills: %w", err)
	}
	fills := make([]model.Fill, 0, len(resp.Fills))
	for _, f := range resp.Fills {
		fill := model.Fill{
			TradeID:  f.TradeID,
			Ticker:   f.Ticker,
			Side:     model.Side(f.Side),
			Quantity: f.Count,
			Price:    f.Price,
		}
		if f.CreatedTime != "" {
			if t, err := time.Parse(time.RFC3339, f.CreatedTime); err == nil {
				fill.CreatedAt = t
			}
		}
		fills = append(fills, fill)
	}
	return fills, nil
}

// GetMarketHistory returns recent traded prices for a market, newest last.
func (c *Client) GetMarketHistory(ctx context.Context, ticker string, limit int) ([]model.PricePoint, error) {
	if limit <= 0 {
		limit = 100
	}
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	data, err := c.do(ctx, http.MethodGet, "/markets/"+ticker+"/history", q, nil)
	if err != nil {
		return nil, err
	}
	var resp historyResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	points := make([]model.PricePoint, 0, len(resp.History))
	for _, h := range resp.History {
		points = append(points, model.PricePoint{
			Ts:    time.Unix(h.Ts, 0),
			Price: h.LastPrice,
		})
	}
	return points, nil
}
