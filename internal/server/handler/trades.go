package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/service"
)

// TradeLister lists recent paper trades.
type TradeLister interface {
	ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.PaperTrade, error)
}

// TradeHandler serves paper trades.
type TradeHandler struct {
	trades TradeLister
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(trades TradeLister, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, logger: logger.With(slog.String("handler", "trades"))}
}

type tradeView struct {
	ID        string  `json:"id"`
	Slug      string  `json:"slug"`
	Asset     string  `json:"asset"`
	Cadence   string  `json:"cadence"`
	Direction string  `json:"direction"`
	Price     float64 `json:"price"`
	Size      float64 `json:"size"`
	Reason    string  `json:"reason"`
	Status    string  `json:"status"`
	PnL       float64 `json:"pnl"`
	CreatedAt string  `json:"created_at"`
	SettledAt string  `json:"settled_at,omitempty"`
}

func toTradeView(t domain.PaperTrade) tradeView {
	v := tradeView{
		ID:        t.ID,
		Slug:      t.Slug,
		Asset:     t.Asset,
		Cadence:   string(t.Cadence),
		Direction: t.Direction.String(),
		Price:     t.Price,
		Size:      t.Size,
		Reason:    t.Reason,
		Status:    string(t.Status),
		PnL:       t.PnL,
		CreatedAt: t.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
	if t.SettledAt != nil {
		v.SettledAt = t.SettledAt.UTC().Format("2006-01-02T15:04:05Z")
	}
	return v
}

// ListTrades returns recent paper trades and a summary of them.
// GET /api/trades?limit=&offset=&since=&until=
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "since/until must be RFC 3339 timestamps")
		return
	}
	trades, err := h.trades.ListRecent(r.Context(), opts)
	if err != nil {
		h.logger.Error("list trades failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	views := make([]tradeView, 0, len(trades))
	for _, t := range trades {
		views = append(views, toTradeView(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trades":  views,
		"summary": service.Summarize(trades),
	})
}
