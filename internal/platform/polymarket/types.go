package polymarket

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "closed" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexStrings unmarshals a list that Gamma sends either as a JSON array or
// as a string holding a JSON array (`"[\"Yes\",\"No\"]"`) or a comma list.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(data []byte) error {
	var arr []any
	if err := json.Unmarshal(data, &arr); err == nil {
		*f = stringsOf(arr)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*f = nil
		return nil
	}
	if strings.HasPrefix(s, "[") {
		if err := json.Unmarshal([]byte(s), &arr); err == nil {
			*f = stringsOf(arr)
			return nil
		}
		s = strings.Trim(s, "[]")
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.Trim(strings.TrimSpace(p), `"`))
	}
	*f = out
	return nil
}

func stringsOf(arr []any) []string {
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		switch x := v.(type) {
		case string:
			out = append(out, strings.TrimSpace(x))
		case float64:
			out = append(out, strconv.FormatFloat(x, 'f', -1, 64))
		default:
			out = append(out, fmt.Sprint(x))
		}
	}
	return out
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIEvent represents an event as returned by the Polymarket Gamma API.
// Each up/down window is an event holding a single binary market.
type APIEvent struct {
	ID               string      `json:"id"`
	Title            string      `json:"title"`
	Slug             string      `json:"slug"`
	Closed           flexBool    `json:"closed"`
	ResolutionSource string      `json:"resolutionSource"`
	Markets          []APIMarket `json:"markets"`
}

// APIMarket represents a market as returned by the Polymarket Gamma API.
type APIMarket struct {
	ID               string      `json:"id"`
	Question         string      `json:"question"`
	ConditionID      string      `json:"conditionId"`
	Slug             string      `json:"slug"`
	Active           flexBool    `json:"active"`
	Closed           flexBool    `json:"closed"`
	EndDateISO       string      `json:"endDateIso"`
	EndDate          string      `json:"endDate"`
	Outcomes         flexStrings `json:"outcomes"`
	OutcomePrices    flexStrings `json:"outcomePrices"`
	ClobTokenIDs     flexStrings `json:"clobTokenIds"`
	ResolutionSource string      `json:"resolutionSource"`
}

// Prices returns the parsed outcome prices (YES first).
func (m *APIMarket) Prices() []float64 {
	out := make([]float64, 0, len(m.OutcomePrices))
	for _, s := range m.OutcomePrices {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil
		}
		out = append(out, d.InexactFloat64())
	}
	return out
}

// EndTime resolves the market end. Gamma sometimes returns a date-only
// endDateIso (midnight) or a stale value; fallback is used in that case.
func (m *APIMarket) EndTime(now, fallback time.Time) time.Time {
	raw := m.EndDateISO
	if raw == "" {
		raw = m.EndDate
	}
	t, ok := parseGammaTime(raw)
	if !ok || !t.After(now) || (t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0) {
		return fallback
	}
	return t
}

func parseGammaTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// ToDomainWindow converts the market into a MarketWindow. The first clob
// token is the YES ("Up") outcome, the second the NO ("Down") outcome.
func (m *APIMarket) ToDomainWindow(asset string, cadence domain.Cadence, start, now time.Time) (domain.MarketWindow, error) {
	if len(m.ClobTokenIDs) < 2 || m.ClobTokenIDs[0] == "" || m.ClobTokenIDs[1] == "" {
		return domain.MarketWindow{}, fmt.Errorf("market %s: missing clob token ids", m.Slug)
	}
	end := m.EndTime(now, start.Add(cadence.Duration()))
	return domain.MarketWindow{
		Slug:        domain.WindowSlug(asset, cadence, start),
		ConditionID: m.ConditionID,
		Asset:       strings.ToLower(asset),
		Cadence:     cadence,
		Start:       start,
		End:         end,
		Yes:         domain.OutcomeToken{ID: m.ClobTokenIDs[0], Role: domain.RoleYes},
		No:          domain.OutcomeToken{ID: m.ClobTokenIDs[1], Role: domain.RoleNo},
	}, nil
}

// --------------------------------------------------------------------------
// CLOB WebSocket DTOs
// --------------------------------------------------------------------------

// WSPriceLevel is a single bid/ask level in the WebSocket orderbook data.
type WSPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// BookMessage represents a full orderbook snapshot delivered over WebSocket.
// Older payloads carry "buys"/"sells" instead of "bids"/"asks".
type BookMessage struct {
	EventType string         `json:"event_type"`
	AssetID   string         `json:"asset_id"`
	Market    string         `json:"market"`
	Bids      []WSPriceLevel `json:"bids"`
	Asks      []WSPriceLevel `json:"asks"`
	Buys      []WSPriceLevel `json:"buys"`
	Sells     []WSPriceLevel `json:"sells"`
	Timestamp string         `json:"timestamp"`
	Hash      string         `json:"hash"`
}

// PriceChange is one level update inside a price_change message.
type PriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Size    string `json:"size"` // "0" means level removed
	Side    string `json:"side"` // "BUY" or "SELL"
	Hash    string `json:"hash"`
}

// PriceChangeMessage represents an incremental orderbook update. Current
// payloads list per-asset entries under "price_changes"; legacy payloads set
// asset_id once and list entries under "changes".
type PriceChangeMessage struct {
	EventType    string        `json:"event_type"`
	AssetID      string        `json:"asset_id"`
	Market       string        `json:"market"`
	PriceChanges []PriceChange `json:"price_changes"`
	Changes      []PriceChange `json:"changes"`
	Timestamp    string        `json:"timestamp"`
	Hash         string        `json:"hash"`
}

// MarketSubscription is the JSON payload that subscribes the market channel
// to a set of asset ids.
type MarketSubscription struct {
	AssetIDs []string `json:"assets_ids"`
	Type     string   `json:"type"`
}

// NewMarketSubscription builds the market channel subscription for ids.
func NewMarketSubscription(ids []string) MarketSubscription {
	return MarketSubscription{AssetIDs: ids, Type: "market"}
}

// --------------------------------------------------------------------------
// Conversion helpers: wire types -> domain types
// --------------------------------------------------------------------------

var scale = decimal.NewFromInt(domain.PriceScale)

// parseTicks converts a decimal price string into fixed-point ticks.
func parseTicks(s string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return d.Mul(scale).Round(0).IntPart(), nil
}

func parseSize(s string) (float64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return d.InexactFloat64(), nil
}

// parseLevels keeps levels with a positive price and size and drops the
// rest, including unparseable entries.
func parseLevels(raw []WSPriceLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		p, err := parseTicks(lvl.Price)
		if err != nil || p <= 0 {
			continue
		}
		s, err := parseSize(lvl.Size)
		if err != nil || s <= 0 {
			continue
		}
		out = append(out, domain.PriceLevel{PriceTicks: p, Size: s})
	}
	return out
}

// parseTimestamp reads the millisecond epoch string the CLOB stamps on
// messages, falling back to now.
func parseTimestamp(s string, now time.Time) time.Time {
	ms, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || ms <= 0 {
		return now
	}
	return time.UnixMilli(ms)
}

// ToEvent converts a book message into a snapshot event.
func (b *BookMessage) ToEvent(now time.Time) Event {
	bids, asks := b.Bids, b.Asks
	if len(bids) == 0 {
		bids = b.Buys
	}
	if len(asks) == 0 {
		asks = b.Sells
	}
	return Event{
		Kind:    EventBook,
		TokenID: b.AssetID,
		Bids:    parseLevels(bids),
		Asks:    parseLevels(asks),
		At:      parseTimestamp(b.Timestamp, now),
		Hash:    b.Hash,
	}
}

// ToEvents converts a price change message into one delta event per asset,
// in first-seen asset order.
func (p *PriceChangeMessage) ToEvents(now time.Time) []Event {
	entries := p.PriceChanges
	if len(entries) == 0 {
		entries = p.Changes
	}
	at := parseTimestamp(p.Timestamp, now)

	var out []Event
	idx := make(map[string]int)
	for _, c := range entries {
		asset := c.AssetID
		if asset == "" {
			asset = p.AssetID
		}
		if asset == "" {
			continue
		}
		side, ok := parseSide(c.Side)
		if !ok {
			continue
		}
		ticks, err := parseTicks(c.Price)
		if err != nil || ticks <= 0 {
			continue
		}
		size, err := parseSize(c.Size)
		if err != nil {
			continue
		}
		i, seen := idx[asset]
		if !seen {
			i = len(out)
			idx[asset] = i
			out = append(out, Event{Kind: EventPriceChange, TokenID: asset, At: at, Hash: p.Hash})
		}
		if c.Hash != "" {
			out[i].Hash = c.Hash
		}
		out[i].Changes = append(out[i].Changes, domain.LevelChange{Side: side, PriceTicks: ticks, Size: size})
	}
	return out
}

func parseSide(s string) (domain.Side, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "BID":
		return domain.SideBid, true
	case "SELL", "ASK":
		return domain.SideAsk, true
	default:
		return "", false
	}
}
