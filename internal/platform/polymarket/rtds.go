package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

const (
	// rtdsPongWait is the time allowed to read the next message or control
	// pong from the RTDS peer.
	rtdsPongWait = 20 * time.Second

	// rtdsPingPeriod sends control pings at this interval. Must be less than
	// rtdsPongWait.
	rtdsPingPeriod = 6 * time.Second

	// ChainlinkTopic is the RTDS topic carrying Chainlink crypto prices.
	ChainlinkTopic = "crypto_prices_chainlink"
)

// PriceTick is one reference price observation.
type PriceTick struct {
	Symbol string
	Value  float64
	At     time.Time
}

// RTDSSubscription is one entry of an RTDS subscribe request.
type RTDSSubscription struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Filters string `json:"filters,omitempty"`
}

// RTDSCommand is the JSON payload sent to RTDS to (un)subscribe.
type RTDSCommand struct {
	Action        string             `json:"action"`
	Subscriptions []RTDSSubscription `json:"subscriptions"`
}

// NewChainlinkSubscribe builds the subscribe command for the given symbols,
// e.g. "btc/usd".
func NewChainlinkSubscribe(symbols []string) RTDSCommand {
	cmd := RTDSCommand{Action: "subscribe"}
	for _, s := range symbols {
		filter, _ := json.Marshal(map[string]string{"symbol": strings.ToLower(s)})
		cmd.Subscriptions = append(cmd.Subscriptions, RTDSSubscription{
			Topic:   ChainlinkTopic,
			Type:    "*",
			Filters: string(filter),
		})
	}
	return cmd
}

// RTDSMessage is the envelope of every RTDS push.
type RTDSMessage struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Payload struct {
		Symbol    string          `json:"symbol"`
		Value     decimal.Decimal `json:"value"`
		Timestamp int64           `json:"timestamp"`
	} `json:"payload"`
}

// DecodeRTDS parses an RTDS frame. ok is false for frames that carry no
// Chainlink price.
func DecodeRTDS(raw []byte, now time.Time) (PriceTick, bool, error) {
	raw = []byte(strings.TrimSpace(string(raw)))
	if len(raw) == 0 || raw[0] != '{' {
		return PriceTick{}, false, nil
	}
	var msg RTDSMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return PriceTick{}, false, fmt.Errorf("polymarket/rtds: %w: %v", domain.ErrMalformedFrame, err)
	}
	if msg.Topic != ChainlinkTopic || msg.Payload.Symbol == "" {
		return PriceTick{}, false, nil
	}
	v := msg.Payload.Value.InexactFloat64()
	if v <= 0 {
		return PriceTick{}, false, nil
	}
	at := now
	if msg.Payload.Timestamp > 0 {
		at = time.UnixMilli(msg.Payload.Timestamp)
	}
	return PriceTick{Symbol: strings.ToLower(msg.Payload.Symbol), Value: v, At: at}, true, nil
}

// RTDSClient is a single-connection client for the Polymarket real-time data
// service. Keepalive uses websocket control pings.
type RTDSClient struct {
	url string

	mu   sync.Mutex // serializes writes
	conn *websocket.Conn
}

// NewRTDSClient creates a client for the RTDS endpoint, e.g.
// "wss://ws-live-data.polymarket.com".
func NewRTDSClient(url string) *RTDSClient {
	return &RTDSClient{url: url}
}

// Connect dials RTDS. A 429 handshake is reported as domain.ErrRateLimited.
func (r *RTDSClient) Connect(ctx context.Context) error {
	conn, err := dial(ctx, r.url)
	if err != nil {
		return fmt.Errorf("polymarket/rtds: connect: %w", err)
	}
	conn.SetReadDeadline(time.Now().Add(rtdsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(rtdsPongWait))
		return nil
	})
	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()
	return nil
}

// Subscribe requests Chainlink prices for symbols.
func (r *RTDSClient) Subscribe(symbols []string) error {
	data, err := json.Marshal(NewChainlinkSubscribe(symbols))
	if err != nil {
		return fmt.Errorf("polymarket/rtds: marshal subscription: %w", err)
	}
	if err := r.write(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("polymarket/rtds: subscribe: %w", err)
	}
	return nil
}

// Run reads price ticks and passes them to onTick until the connection
// fails or ctx is cancelled. It always returns a non-nil error.
func (r *RTDSClient) Run(ctx context.Context, onTick func(PriceTick)) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("polymarket/rtds: not connected")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go r.pingLoop(ctx, conn)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("polymarket/rtds: read: %w: %v", domain.ErrWSDisconnect, err)
		}
		conn.SetReadDeadline(time.Now().Add(rtdsPongWait))

		tick, ok, err := DecodeRTDS(message, time.Now())
		if err != nil || !ok {
			continue
		}
		onTick(tick)
	}
}

// pingLoop sends periodic control pings and closes the connection when ctx
// ends so the reader unblocks.
func (r *RTDSClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(rtdsPingPeriod)
	defer ticker.Stop()
	defer conn.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (r *RTDSClient) write(messageType int, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return fmt.Errorf("not connected")
	}
	r.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return r.conn.WriteMessage(messageType, data)
}

// Close shuts down the connection.
func (r *RTDSClient) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	conn := r.conn
	r.conn = nil
	return conn.Close()
}
