package kalshi

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"pmexec/internal/application/port"
	"pmexec/internal/domain/model"
)

// TickerFeed streams ticker updates from the Kalshi websocket API. The
// connection is authenticated with the same signed headers as REST and
// reconnects with backoff until the context is cancelled.
type TickerFeed struct {
	wsURL string
	keyID string
	key   *rsa.PrivateKey
}

var _ port.PriceFeed = (*TickerFeed)(nil)

func NewTickerFeed(wsURL, keyID, privateKeyPath string) (*TickerFeed, error) {
	key, err := loadPrivateKey(privateKeyPath)
	if err != nil {
		return nil, err
	}
	return &TickerFeed{wsURL: wsURL, keyID: keyID, key: key}, nil
}

func (f *TickerFeed) Name() string { return "kalshi" }

type subscribeCmd struct {
	ID     int    `json:"id"`
	Cmd    string `json:"cmd"`
	Params struct {
		Channels      []string `json:"channels"`
		MarketTickers []string `json:"market_tickers"`
	} `json:"params"`
}

type wsMessage struct {
	Type string `json:"type"`
	Msg  struct {
		MarketTicker string `json:"market_ticker"`
		Price        int    `json:"price"`
		YesBid       int    `json:"yes_bid"`
		Ts           int64  `json:"ts"`
	} `json:"msg"`
}

// Run streams ticks for the given tickers into out until ctx is
// cancelled. out is closed on return.
func (f *TickerFeed) Run(ctx context.Context, tickers []string, out chan<- model.PriceTick) error {
	defer close(out)

	if len(tickers) == 0 {
		return errors.New("no tickers to subscribe")
	}

	backoff := 500 * time.Millisecond
	const maxReconnectBackoff = 10 * time.Second

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := f.runOnce(ctx, tickers, out); err != nil && ctx.Err() == nil {
			log.Warn().Str("feed", f.Name()).Err(err).Msg("ws disconnected, reconnecting")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		time.Sleep(backoff)
		backoff = min(backoff*2, maxReconnectBackoff)
	}
}

func (f *TickerFeed) runOnce(ctx context.Context, tickers []string, out chan<- model.PriceTick) error {
	u, err := url.Parse(f.wsURL)
	if err != nil {
		return err
	}

	timestampMs := time.Now().UnixMilli()
	sig, err := signRequest(f.key, timestampMs, http.MethodGet, u.Path, "")
	if err != nil {
		return err
	}
	header := http.Header{}
	header.Set("KALSHI-ACCESS-KEY", f.keyID)
	header.Set("KALSHI-ACCESS-TIMESTAMP", strconv.FormatInt(timestampMs, 10))
	header.Set("KALSHI-ACCESS-SIGNATURE", sig)

	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dctx, f.wsURL, header)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := subscribeCmd{ID: 1, Cmd: "subscribe"}
	sub.Params.Channels = []string{"ticker"}
	sub.Params.MarketTickers = tickers
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	log.Info().Str("feed", f.Name()).Int("tickers", len(tickers)).Msg("ws connected")

	return readLoop(ctx, conn, func(b []byte) {
		var msg wsMessage
		if err := json.Unmarshal(b, &msg); err != nil {
			log.Error().Str("feed", f.Name()).Err(err).Msg("json unmarshal failed")
			return
		}
		if msg.Type != "ticker" || msg.Msg.MarketTicker == "" {
			return
		}
		price := msg.Msg.Price
		if price == 0 {
			price = msg.Msg.YesBid
		}
		if price < 1 || price > 99 {
			return
		}
		select {
		case out <- model.PriceTick{Ticker: msg.Msg.MarketTicker, Price: price, Ts: msg.Msg.Ts}:
		default:
			// slow consumer, drop the tick
		}
	})
}

func readLoop(ctx context.Context, conn *websocket.Conn, onMsg func([]byte)) error {
	const readTimeout = 60 * time.Second

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	pingTicker := time.NewTicker(25 * time.Second)
	defer pingTicker.Stop()

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			onMsg(b)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-pingTicker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return err
			}
		}
	}
}
