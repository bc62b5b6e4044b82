package strategy

import (
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

func lv(price, size float64) domain.PriceLevel {
	return domain.PriceLevel{PriceTicks: domain.TicksFromPrice(price), Size: size}
}

func view(yesBids, yesAsks, noBids, noAsks []domain.PriceLevel) domain.BookView {
	return domain.BookView{
		Yes: domain.OrderBook{Token: domain.OutcomeToken{ID: "y", Role: domain.RoleYes}, Bids: yesBids, Asks: yesAsks},
		No:  domain.OrderBook{Token: domain.OutcomeToken{ID: "n", Role: domain.RoleNo}, Bids: noBids, Asks: noAsks},
	}
}

var testStart = time.Unix(1767225600, 0)

func testWindow() domain.MarketWindow {
	return domain.MarketWindow{
		Slug:    domain.WindowSlug("btc", domain.Cadence5m, testStart),
		Asset:   "btc",
		Cadence: domain.Cadence5m,
		Start:   testStart,
		End:     testStart.Add(5 * time.Minute),
		Yes:     domain.OutcomeToken{ID: "y", Role: domain.RoleYes},
		No:      domain.OutcomeToken{ID: "n", Role: domain.RoleNo},
	}
}

type staticHistory []domain.SettlementOutcome

func (h staticHistory) Recent(asset string, cadence domain.Cadence, before time.Time, n int) []domain.SettlementOutcome {
	var out []domain.SettlementOutcome
	for _, o := range h {
		if o.Asset == asset && o.Cadence == cadence && o.WindowStart.Before(before) {
			out = append(out, o)
		}
		if len(out) == n {
			break
		}
	}
	return out
}
