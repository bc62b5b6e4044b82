package service

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// TradeSummary aggregates paper trade results.
type TradeSummary struct {
	Total    int     `json:"total"`
	Open     int     `json:"open"`
	Won      int     `json:"won"`
	Lost     int     `json:"lost"`
	WinRate  float64 `json:"win_rate"`
	TotalPnL float64 `json:"total_pnl"`
}

// TradeService answers paper trade queries for the API.
type TradeService struct {
	trades domain.TradeStore
}

// NewTradeService creates a TradeService.
func NewTradeService(trades domain.TradeStore) *TradeService {
	return &TradeService{trades: trades}
}

// ListRecent returns recent paper trades, newest first.
func (s *TradeService) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.PaperTrade, error) {
	if opts.Limit <= 0 || opts.Limit > 500 {
		opts.Limit = 100
	}
	trades, err := s.trades.ListRecent(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("trade_service: list recent: %w", err)
	}
	return trades, nil
}

// Summarize aggregates trades.
func Summarize(trades []domain.PaperTrade) TradeSummary {
	var sum TradeSummary
	for _, t := range trades {
		sum.Total++
		switch t.Status {
		case domain.TradeStatusOpen:
			sum.Open++
		case domain.TradeStatusWon:
			sum.Won++
		case domain.TradeStatusLost:
			sum.Lost++
		}
		sum.TotalPnL += t.PnL
	}
	if settled := sum.Won + sum.Lost; settled > 0 {
		sum.WinRate = float64(sum.Won) / float64(settled)
	}
	return sum
}
