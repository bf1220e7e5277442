package orderbook

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wallstreetsim/engine/internal/domain"
)

// AffectedRestingOrder reports a resting order touched by a single
// submitOrder call: its new cumulative filled quantity, its total order
// quantity, and the volume-weighted average fill price across this call.
type AffectedRestingOrder struct {
	OrderID                string
	AgentID                string
	FilledQuantityDelta    int64
	CumulativeFilledQty    int64
	TotalQuantity          int64
	AvgFillPrice           decimal.Decimal
}

// SubmitResult is the return value of Engine.SubmitOrder.
type SubmitResult struct {
	Fills               []domain.Trade
	AffectedRestingOrders []AffectedRestingOrder
	RemainingQuantity   int64
}

// Engine owns one Book per symbol and performs price-time priority
// matching. Each symbol is matched under its own book lock, so two
// different symbols can be processed concurrently, but a single symbol is
// always a synchronous critical section — matching never interleaves two
// orders against the same book (Design Notes: "promise-chained matching"
// re-expressed as one synchronous routine with no I/O inside it).
//
// Grounded on rishavpaul-system-design/internal/matching/engine.go's
// ProcessOrder/matchOrder shape, adapted to decimal pricing and to
// unbounded string order IDs instead of atomic uint64 refs.
type Engine struct {
	mu      sync.RWMutex
	books   map[string]*Book
	tradeID uint64
	tick    uint64
}

// NewEngine creates an empty matching engine.
func NewEngine() *Engine {
	return &Engine{books: make(map[string]*Book)}
}

// Initialize allocates an empty book per symbol; idempotent — existing
// books for symbols already present are left untouched.
func (e *Engine) Initialize(symbols []string, tickSize decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range symbols {
		if _, ok := e.books[s]; !ok {
			e.books[s] = NewBook(s, tickSize)
		}
	}
}

// SetTick sets the tick stamped on subsequent trades.
func (e *Engine) SetTick(tick uint64) {
	e.mu.Lock()
	e.tick = tick
	e.mu.Unlock()
}

func (e *Engine) bookFor(symbol string) *Book {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.books[symbol]
}

func (e *Engine) nextTradeID() string {
	n := atomic.AddUint64(&e.tradeID, 1)
	return fmt.Sprintf("trd_%d", n)
}

func (e *Engine) currentTick() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tick
}

// SubmitOrder runs a new order through the book for order.Symbol,
// mutating order.FilledQuantity/Status in place. Unknown symbol is a
// no-op success (empty result) per §4.5 failure semantics; the engine
// assumes quantity/price preconditions were already validated upstream.
func (e *Engine) SubmitOrder(o *domain.Order) SubmitResult {
	book := e.bookFor(o.Symbol)
	if book == nil {
		return SubmitResult{RemainingQuantity: o.Quantity - o.FilledQuantity}
	}

	book.mu.Lock()
	defer book.mu.Unlock()

	now := time.Now().UTC()
	tick := e.currentTick()

	var result SubmitResult
	affected := make(map[string]*AffectedRestingOrder)

	opposing := func() []PriceLevel {
		if o.Side == domain.Buy {
			return book.Asks
		}
		return book.Bids
	}
	crosses := func(levelPrice decimal.Decimal) bool {
		if o.Type == domain.OrderMarket {
			return true
		}
		if o.Side == domain.Buy {
			return o.Price.GreaterThanOrEqual(levelPrice)
		}
		return o.Price.LessThanOrEqual(levelPrice)
	}

	remaining := o.Quantity - o.FilledQuantity
	for remaining > 0 {
		levels := opposing()
		if len(levels) == 0 || !crosses(levels[0].Price) {
			break
		}
		levelPrice := levels[0].Price
		level := &levels[0]

		for len(level.Orders) > 0 && remaining > 0 {
			maker := level.Orders[0]
			fillQty := remaining
			if maker.Remaining < fillQty {
				fillQty = maker.Remaining
			}

			trade := domain.Trade{
				ID:         e.nextTradeID(),
				Symbol:     o.Symbol,
				Price:      levelPrice,
				Quantity:   fillQty,
				Tick:       tick,
				ExecutedAt: now,
			}
			if o.Side == domain.Buy {
				trade.BuyerID, trade.BuyerOrderID = o.AgentID, o.ID
				trade.SellerID, trade.SellerOrderID = maker.AgentID, maker.OrderID
			} else {
				trade.SellerID, trade.SellerOrderID = o.AgentID, o.ID
				trade.BuyerID, trade.BuyerOrderID = maker.AgentID, maker.OrderID
			}
			result.Fills = append(result.Fills, trade)

			ar, ok := affected[maker.OrderID]
			if !ok {
				ar = &AffectedRestingOrder{
					OrderID:       maker.OrderID,
					AgentID:       maker.AgentID,
					TotalQuantity: maker.Quantity,
				}
				affected[maker.OrderID] = ar
			}
			prevNotional := ar.AvgFillPrice.Mul(decimal.NewFromInt(ar.FilledQuantityDelta))
			ar.FilledQuantityDelta += fillQty
			ar.AvgFillPrice = prevNotional.Add(levelPrice.Mul(decimal.NewFromInt(fillQty))).Div(decimal.NewFromInt(ar.FilledQuantityDelta))

			book.reduceLocked(maker, fillQty)
			ar.CumulativeFilledQty = ar.TotalQuantity - maker.Remaining

			remaining -= fillQty
			o.FilledQuantity += fillQty

			if o.Side == domain.Buy {
				level = findLevel(book.Asks, levelPrice)
			} else {
				level = findLevel(book.Bids, levelPrice)
			}
			if level == nil {
				break
			}
		}
	}

	for _, ar := range affected {
		result.AffectedRestingOrders = append(result.AffectedRestingOrders, *ar)
	}
	result.RemainingQuantity = remaining

	switch o.Type {
	case domain.OrderMarket:
		// unfilled remainder of a market order is dropped, not rested
		switch {
		case o.FilledQuantity == o.Quantity:
			o.Status = domain.OrderFilled
		case o.FilledQuantity > 0:
			o.Status = domain.OrderPartial
		default:
			o.Status = domain.OrderCancelled
		}
	default: // LIMIT, STOP (a STOP is matched as a limit at its price; no trigger check is made)
		if o.FilledQuantity == o.Quantity {
			o.Status = domain.OrderFilled
		} else {
			if o.FilledQuantity > 0 {
				o.Status = domain.OrderPartial
			} else {
				o.Status = domain.OrderOpen
			}
			resting := &RestingOrder{
				OrderID:       o.ID,
				AgentID:       o.AgentID,
				Side:          o.Side,
				Type:          o.Type,
				Price:         o.Price,
				Quantity:      o.Quantity,
				Remaining:     o.Quantity - o.FilledQuantity,
				Sequence:      NextSequence(),
				TickSubmitted: o.TickSubmitted,
			}
			book.orderMap[resting.OrderID] = resting
			if resting.Side == domain.Buy {
				book.Bids = addToSide(book.Bids, resting, true)
			} else {
				book.Asks = addToSide(book.Asks, resting, false)
			}
		}
	}
	o.UpdatedAt = now

	return result
}

// CancelOrder removes a resting order from its symbol's book. Returns
// true if an order was removed, false if it was not found (idempotent:
// cancelling the same id twice returns true then false).
func (e *Engine) CancelOrder(symbol, orderID string) bool {
	book := e.bookFor(symbol)
	if book == nil {
		return false
	}
	book.mu.Lock()
	defer book.mu.Unlock()

	o, ok := book.orderMap[orderID]
	if !ok {
		return false
	}
	delete(book.orderMap, orderID)
	if o.Side == domain.Buy {
		book.Bids = removeFromSide(book.Bids, orderID)
	} else {
		book.Asks = removeFromSide(book.Asks, orderID)
	}
	return true
}

// GetBestBidAsk returns the best bid and ask for a symbol.
func (e *Engine) GetBestBidAsk(symbol string) (bid, ask decimal.Decimal, haveBid, haveAsk bool) {
	book := e.bookFor(symbol)
	if book == nil {
		return decimal.Zero, decimal.Zero, false, false
	}
	bid, haveBid = book.BestBid()
	ask, haveAsk = book.BestAsk()
	return
}

// GetMidPrice returns the book's mid price, or fallback when either side
// is empty.
func (e *Engine) GetMidPrice(symbol string, fallback decimal.Decimal) decimal.Decimal {
	book := e.bookFor(symbol)
	if book == nil {
		return fallback
	}
	mid, ok := book.MidPrice()
	if !ok {
		return fallback
	}
	return mid
}

// DepthTotals is the sum of price×quantity per side.
type DepthTotals struct {
	BidDepth decimal.Decimal
	AskDepth decimal.Decimal
}

// GetDepth returns ∑price×quantity per side for a symbol.
func (e *Engine) GetDepth(symbol string) DepthTotals {
	book := e.bookFor(symbol)
	if book == nil {
		return DepthTotals{}
	}
	snap := book.Depth(0)
	var totals DepthTotals
	for _, lvl := range snap.Bids {
		totals.BidDepth = totals.BidDepth.Add(lvl.Price.Mul(decimal.NewFromInt(lvl.TotalShares)))
	}
	for _, lvl := range snap.Asks {
		totals.AskDepth = totals.AskDepth.Add(lvl.Price.Mul(decimal.NewFromInt(lvl.TotalShares)))
	}
	return totals
}

// GetOrderBook returns a depth snapshot for a symbol (a copy of the bids
// and asks arrays), or a zero-value snapshot if the symbol is unknown.
func (e *Engine) GetOrderBook(symbol string) DepthSnapshot {
	book := e.bookFor(symbol)
	if book == nil {
		return DepthSnapshot{}
	}
	return book.Depth(0)
}

// Book returns the raw book for a symbol for internal callers (persistence
// snapshotting, replay) that need resting-order detail beyond depth
// aggregates. Returns nil if the symbol is unknown.
func (e *Engine) Book(symbol string) *Book {
	return e.bookFor(symbol)
}

// ClearAll empties every book.
func (e *Engine) ClearAll() {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, b := range e.books {
		b.Clear()
	}
}

func findLevel(levels []PriceLevel, price decimal.Decimal) *PriceLevel {
	for i := range levels {
		if levels[i].Price.Equal(price) {
			return &levels[i]
		}
	}
	return nil
}
