// Package ws streams executor and settlement events to websocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 512
	sendBufferSize = 64

	defaultBackfill = 100
)

// Bus is the part of the signal bus the stream reads from.
type Bus interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// Config selects what is streamed.
type Config struct {
	// Channels are the pub/sub channels forwarded live.
	Channels []string
	// Stream is replayed from the client's ?after= entry id before live
	// events start. Empty disables replay.
	Stream   string
	Backfill int
}

// Event is one frame sent to a client.
type Event struct {
	Channel string          `json:"channel"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Streamer serves the event stream. Each connection holds its own bus
// subscriptions for as long as the client stays connected.
type Streamer struct {
	bus      Bus
	cfg      Config
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewStreamer creates a Streamer.
func NewStreamer(bus Bus, cfg Config, logger *slog.Logger) *Streamer {
	if cfg.Backfill <= 0 {
		cfg.Backfill = defaultBackfill
	}
	return &Streamer{
		bus: bus,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The API key middleware guards the route; any origin may connect.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.With(slog.String("component", "ws")),
	}
}

// HandleWS upgrades the request and streams events until either side goes
// away. A client that reconnects passes the id of the last stream entry it
// saw to replay what it missed.
// GET /ws?after=<stream id>
func (s *Streamer) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Subscribe before the replay so nothing published in between is lost.
	send := make(chan Event, sendBufferSize)
	for _, ch := range s.cfg.Channels {
		msgs, err := s.bus.Subscribe(ctx, ch)
		if err != nil {
			s.logger.Error("subscribe failed", slog.String("channel", ch), slog.String("error", err.Error()))
			closeWith(conn, websocket.CloseInternalServerErr, "subscribe failed")
			return
		}
		go s.forward(ctx, ch, msgs, send)
	}
	go s.readPump(conn, cancel)

	s.logger.Info("client connected", slog.String("remote_addr", r.RemoteAddr))
	defer s.logger.Info("client disconnected", slog.String("remote_addr", r.RemoteAddr))

	if after := r.URL.Query().Get("after"); after != "" && s.cfg.Stream != "" {
		msgs, err := s.bus.StreamRead(ctx, s.cfg.Stream, after, s.cfg.Backfill)
		if err != nil {
			s.logger.Warn("stream replay failed", slog.String("stream", s.cfg.Stream), slog.String("error", err.Error()))
		}
		for _, m := range msgs {
			if err := write(conn, Event{Channel: s.cfg.Stream, ID: m.ID, Payload: rawPayload(m.Payload)}); err != nil {
				return
			}
		}
	}

	s.writePump(ctx, conn, send)
}

// forward copies bus messages to the connection's send buffer, dropping them
// when the client falls behind.
func (s *Streamer) forward(ctx context.Context, channel string, msgs <-chan []byte, send chan<- Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				return
			}
			select {
			case send <- Event{Channel: channel, Payload: rawPayload(data)}:
			default:
				s.logger.Warn("dropping event for slow client", slog.String("channel", channel))
			}
		}
	}
}

// readPump discards client frames and cancels the stream once the
// connection fails or stops answering pings.
func (s *Streamer) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
	}
}

func (s *Streamer) writePump(ctx context.Context, conn *websocket.Conn, send <-chan Event) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			closeWith(conn, websocket.CloseNormalClosure, "")
			return
		case ev := <-send:
			if err := write(conn, ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func write(conn *websocket.Conn, ev Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(ev)
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
}

// rawPayload passes JSON payloads through and quotes anything else.
func rawPayload(b []byte) json.RawMessage {
	if json.Valid(b) {
		return b
	}
	q, _ := json.Marshal(string(b))
	return q
}
