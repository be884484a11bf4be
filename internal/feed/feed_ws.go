package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Joe-Swanson828/prediction-bot/internal/metrics"
	"github.com/Joe-Swanson828/prediction-bot/internal/signal"
)

type wsEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type wsMarket struct {
	ID       string  `json:"id"`
	Exchange string  `json:"exchange"`
	Ticker   string  `json:"ticker"`
	Title    string  `json:"title"`
	Category string  `json:"category"`
	YesPrice float64 `json:"yes_price"`
	NoPrice  float64 `json:"no_price"`
	Volume   float64 `json:"volume"`
	Status   string  `json:"status"`
	Ts       int64   `json:"ts"`
}

type wsCandle struct {
	Market string  `json:"market"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
	Ts     int64   `json:"ts"`
}

type wsBook struct {
	Market string  `json:"market"`
	YesBid float64 `json:"yes_bid_volume"`
	NoBid  float64 `json:"no_bid_volume"`
	Ts     int64   `json:"ts"`
}

type wsNews struct {
	Market string `json:"market"`
	Text   string `json:"text"`
	Ts     int64  `json:"ts"`
}

type wsReading struct {
	Market      string  `json:"market"`
	Probability float64 `json:"probability"`
	Direction   string  `json:"direction"`
	SourceCount int     `json:"source_count"`
	Health      string  `json:"health"`
	Ts          int64   `json:"ts"`
}

func (f *Feed) runWebsocket(ctx context.Context, out Events) error {
	if f.wsURL == "" {
		return fmt.Errorf("websocket feed requires a stream URL")
	}

	limiter := rate.NewLimiter(rate.Limit(f.msgRate), f.msgBurst)
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := f.consumeStream(ctx, limiter, out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.log.Warn().Err(err).Msg("market feed disconnected, retrying")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
			continue
		}
		return nil
	}
}

func (f *Feed) consumeStream(ctx context.Context, limiter *rate.Limiter, out Events) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	f.log.Info().Str("provider", ProviderWebsocket).Str("url", f.wsURL).Msg("connected market data feed")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					f.log.Warn().Err(err).Msg("feed ping failed")
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		if err := f.dispatch(ctx, message, out); err != nil {
			return err
		}
	}
}

// dispatch decodes one envelope and forwards it. Malformed messages are
// logged and skipped; a canceled context aborts.
func (f *Feed) dispatch(ctx context.Context, message []byte, out Events) error {
	var env wsEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		f.log.Warn().Err(err).Msg("failed to decode feed message")
		return nil
	}

	delivered := true
	switch env.Type {
	case "market":
		var m wsMarket
		if err := json.Unmarshal(env.Data, &m); err != nil {
			f.log.Warn().Err(err).Msg("invalid market payload")
			return nil
		}
		delivered = send(ctx, out.Markets, signal.Market{
			ID:       m.ID,
			Exchange: m.Exchange,
			Ticker:   m.Ticker,
			Title:    m.Title,
			Category: signal.Category(m.Category),
			YesPrice: m.YesPrice,
			NoPrice:  m.NoPrice,
			Volume:   m.Volume,
			Status:   signal.MarketStatus(m.Status),
			Updated:  time.UnixMilli(m.Ts),
		})
	case "candle":
		var c wsCandle
		if err := json.Unmarshal(env.Data, &c); err != nil {
			f.log.Warn().Err(err).Msg("invalid candle payload")
			return nil
		}
		delivered = send(ctx, out.Candles, signal.Candle{
			Market: c.Market,
			Ts:     time.UnixMilli(c.Ts),
			Open:   c.Open,
			High:   c.High,
			Low:    c.Low,
			Close:  c.Close,
			Volume: c.Volume,
		})
	case "book":
		var b wsBook
		if err := json.Unmarshal(env.Data, &b); err != nil {
			f.log.Warn().Err(err).Msg("invalid book payload")
			return nil
		}
		delivered = send(ctx, out.Books, signal.OrderbookSnapshot{
			Market:       b.Market,
			YesBidVolume: b.YesBid,
			NoBidVolume:  b.NoBid,
			Ts:           time.UnixMilli(b.Ts),
		})
	case "news":
		var n wsNews
		if err := json.Unmarshal(env.Data, &n); err != nil {
			f.log.Warn().Err(err).Msg("invalid news payload")
			return nil
		}
		delivered = send(ctx, out.News, MarketNews{
			Market: n.Market,
			Items:  []signal.NewsItem{{Text: n.Text, Ts: time.UnixMilli(n.Ts)}},
		})
	case "reading":
		var r wsReading
		if err := json.Unmarshal(env.Data, &r); err != nil {
			f.log.Warn().Err(err).Msg("invalid reading payload")
			return nil
		}
		delivered = send(ctx, out.Readings, signal.ExternalReading{
			Market:      r.Market,
			Probability: r.Probability,
			Direction:   signal.Direction(r.Direction),
			SourceCount: r.SourceCount,
			Health:      signal.SourceHealth(r.Health),
			Ts:          time.UnixMilli(r.Ts),
		})
	default:
		f.log.Debug().Str("type", env.Type).Msg("ignoring unknown feed message")
		return nil
	}

	if !delivered {
		return ctx.Err()
	}
	metrics.FeedEventsTotal.WithLabelValues(ProviderWebsocket, env.Type).Inc()
	return nil
}
