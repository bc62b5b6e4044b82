package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// handshakeTimeout bounds the websocket dial.
	handshakeTimeout = 15 * time.Second

	// DefaultPingInterval is how often the text keepalive is sent.
	DefaultPingInterval = 10 * time.Second

	// DefaultPongTimeout is how long to wait for "PONG" after a "PING".
	DefaultPongTimeout = 10 * time.Second
)

var (
	// ErrQueueFull is returned by Run when the consumer fell behind and an
	// event had to be dropped. The book must be re-snapshotted.
	ErrQueueFull = errors.New("polymarket/ws: event queue full")

	// ErrPongTimeout is returned by Run when a keepalive went unanswered.
	ErrPongTimeout = errors.New("polymarket/ws: pong timeout")
)

// EventKind classifies a decoded market channel message.
type EventKind int

const (
	EventBook EventKind = iota + 1
	EventPriceChange
	EventPong
)

func (k EventKind) String() string {
	switch k {
	case EventBook:
		return "book"
	case EventPriceChange:
		return "price_change"
	case EventPong:
		return "pong"
	default:
		return "unknown"
	}
}

// Event is one decoded market channel update for a single token.
type Event struct {
	Kind    EventKind
	TokenID string
	// Bids and Asks are set for EventBook.
	Bids []domain.PriceLevel
	Asks []domain.PriceLevel
	// Changes is set for EventPriceChange.
	Changes []domain.LevelChange
	At      time.Time
	Hash    string
}

// DecodeFrame parses a raw market channel frame. A frame may hold a single
// message or a JSON array of messages. Message types other than book and
// price_change are ignored.
func DecodeFrame(raw []byte, now time.Time) ([]Event, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	if bytes.Equal(raw, []byte("PONG")) {
		return []Event{{Kind: EventPong, At: now}}, nil
	}

	var msgs []json.RawMessage
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &msgs); err != nil {
			return nil, fmt.Errorf("polymarket/ws: %w: %v", domain.ErrMalformedFrame, err)
		}
	} else {
		msgs = []json.RawMessage{raw}
	}

	var out []Event
	for _, m := range msgs {
		var envelope struct {
			Event string `json:"event_type"`
		}
		if err := json.Unmarshal(m, &envelope); err != nil {
			return nil, fmt.Errorf("polymarket/ws: %w: %v", domain.ErrMalformedFrame, err)
		}

		switch envelope.Event {
		case "book":
			var book BookMessage
			if err := json.Unmarshal(m, &book); err != nil {
				return nil, fmt.Errorf("polymarket/ws: book: %w: %v", domain.ErrMalformedFrame, err)
			}
			if book.AssetID == "" {
				continue
			}
			out = append(out, book.ToEvent(now))

		case "price_change":
			var pc PriceChangeMessage
			if err := json.Unmarshal(m, &pc); err != nil {
				return nil, fmt.Errorf("polymarket/ws: price_change: %w: %v", domain.ErrMalformedFrame, err)
			}
			out = append(out, pc.ToEvents(now)...)
		}
	}
	return out, nil
}

// WSClient is a single-connection client for the Polymarket CLOB market
// channel. Reconnection is left to the caller: when Run returns, the
// connection is finished and a new client should be dialled.
type WSClient struct {
	wsURL        string
	pingInterval time.Duration
	pongTimeout  time.Duration

	mu   sync.Mutex // serializes writes
	conn *websocket.Conn

	lastPong atomic.Int64
	closed   atomic.Bool
}

// NewWSClient creates a new WebSocket client for the given WebSocket URL.
//
// wsURL is the CLOB WebSocket endpoint, e.g. "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewWSClient(wsURL string, pingInterval, pongTimeout time.Duration) *WSClient {
	if pingInterval <= 0 {
		pingInterval = DefaultPingInterval
	}
	if pongTimeout <= 0 {
		pongTimeout = DefaultPongTimeout
	}
	return &WSClient{
		wsURL:        wsURL,
		pingInterval: pingInterval,
		pongTimeout:  pongTimeout,
	}
}

// Connect establishes the WebSocket connection.
func (w *WSClient) Connect(ctx context.Context) error {
	if w.closed.Load() {
		return fmt.Errorf("polymarket/ws: %w", domain.ErrWSDisconnect)
	}
	conn, err := dial(ctx, w.wsURL)
	if err != nil {
		return fmt.Errorf("polymarket/ws: connect: %w", err)
	}
	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	return nil
}

// dial opens a websocket and maps a 429 handshake to ErrRateLimited.
func dial(ctx context.Context, url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: %v", domain.ErrRateLimited, err)
		}
		return nil, err
	}
	return conn, nil
}

// Subscribe subscribes the market channel to the given token ids.
func (w *WSClient) Subscribe(assetIDs []string) error {
	data, err := json.Marshal(NewMarketSubscription(assetIDs))
	if err != nil {
		return fmt.Errorf("polymarket/ws: marshal subscription: %w", err)
	}
	if err := w.write(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("polymarket/ws: subscribe: %w", err)
	}
	return nil
}

// Run reads frames until the connection fails, ctx is cancelled, a keepalive
// goes unanswered, or out is full. Decoded events are offered to out without
// blocking. Run always returns a non-nil error.
func (w *WSClient) Run(ctx context.Context, out chan<- Event) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("polymarket/ws: not connected")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hbErr := make(chan error, 1)
	go func() {
		if err := w.heartbeat(ctx); err != nil {
			hbErr <- err
		}
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case herr := <-hbErr:
				return herr
			default:
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("polymarket/ws: read: %w: %v", domain.ErrWSDisconnect, err)
		}

		now := time.Now()
		events, err := DecodeFrame(message, now)
		if err != nil {
			return err
		}
		for _, ev := range events {
			if ev.Kind == EventPong {
				w.lastPong.Store(now.UnixNano())
				continue
			}
			select {
			case out <- ev:
			default:
				return ErrQueueFull
			}
		}
	}
}

// heartbeat sends a text "PING" every pingInterval and fails when the
// matching "PONG" does not arrive within pongTimeout.
func (w *WSClient) heartbeat(ctx context.Context) error {
	ticker := time.NewTicker(w.pingInterval)
	defer ticker.Stop()

	var (
		deadline *time.Timer
		sentAt   time.Time
	)
	defer func() {
		if deadline != nil {
			deadline.Stop()
		}
	}()

	for {
		var expired <-chan time.Time
		if deadline != nil {
			expired = deadline.C
		}
		select {
		case <-ctx.Done():
			return nil
		case <-expired:
			if w.lastPong.Load() < sentAt.UnixNano() {
				return ErrPongTimeout
			}
			deadline = nil
		case <-ticker.C:
			if deadline != nil {
				continue
			}
			sentAt = time.Now()
			if err := w.write(websocket.TextMessage, []byte("PING")); err != nil {
				return fmt.Errorf("polymarket/ws: ping: %w: %v", domain.ErrWSDisconnect, err)
			}
			deadline = time.NewTimer(w.pongTimeout)
		}
	}
}

func (w *WSClient) write(messageType int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return fmt.Errorf("not connected")
	}
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(messageType, data)
}

// Close shuts down the WebSocket connection.
func (w *WSClient) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return nil
	}
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = w.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	return w.conn.Close()
}
