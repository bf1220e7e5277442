package tick

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wallstreetsim/engine/internal/domain"
)

// evolvePrices implements §4.7 step 4: advance every symbol's price for
// this tick, preferring the last matched trade price over the
// synthesized GBM candidate when a trade actually occurred, updating each
// Company's high/low/open/previousClose with day-boundary rotation at
// TICKS_PER_TRADING_DAY.
func (p *Pipeline) evolvePrices(ctx context.Context, tick uint64, fills []domain.Trade) ([]domain.PriceUpdate, error) {
	lastTradePrice := make(map[string]decimal.Decimal)
	volume := make(map[string]int64)
	for _, f := range fills {
		lastTradePrice[f.Symbol] = f.Price
		volume[f.Symbol] += f.Quantity
	}

	p.World.GenerateSectorShocks()

	isNewDay := p.Config.TicksPerTradingDay > 0 && tick > 1 &&
		(tick-1)%uint64(p.Config.TicksPerTradingDay) == 0

	updates := make([]domain.PriceUpdate, 0, len(p.Symbols))
	var firstErr error
	for _, symbol := range p.Symbols {
		simPrice := p.World.Tick(symbol)

		newPrice := simPrice
		if tp, ok := lastTradePrice[symbol]; ok {
			newPrice = tp
			p.World.SetPrice(symbol, newPrice)
		}

		company, err := p.Gateway.GetCompany(ctx, symbol)
		if err != nil {
			if p.Log != nil {
				p.Log.Warn("tick: missing company record", zap.String("symbol", symbol), zap.Error(err))
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		oldPrice := company.CurrentPrice

		if isNewDay {
			company.PreviousClose = oldPrice
			company.Open = newPrice
			company.High = newPrice
			company.Low = newPrice
		} else {
			if company.High.IsZero() || newPrice.GreaterThan(company.High) {
				company.High = newPrice
			}
			if company.Low.IsZero() || newPrice.LessThan(company.Low) {
				company.Low = newPrice
			}
		}
		company.CurrentPrice = newPrice
		company.MarketCap = newPrice.Mul(decimal.NewFromInt(company.SharesOutstanding))
		company.LastTickUpdatedAt = tick

		if err := p.Gateway.UpdateCompany(ctx, company); err != nil {
			if p.Log != nil {
				p.Log.Warn("tick: failed to persist company", zap.String("symbol", symbol), zap.Error(err))
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		change := newPrice.Sub(oldPrice)
		changePercent := 0.0
		if !oldPrice.IsZero() {
			cp, _ := change.Div(oldPrice).Float64()
			changePercent = cp * 100
		}
		updates = append(updates, domain.PriceUpdate{
			Symbol:        symbol,
			OldPrice:      oldPrice,
			NewPrice:      newPrice,
			Change:        change,
			ChangePercent: changePercent,
			Volume:        volume[symbol],
		})
	}
	return updates, firstErr
}
