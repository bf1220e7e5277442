package orderbook

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/wallstreetsim/engine/internal/domain"
)

// PriceLevel holds the resting orders at a single price point, in arrival
// (FIFO) order.
type PriceLevel struct {
	Price  decimal.Decimal
	Orders []*RestingOrder
}

// Book is a price-time priority limit order book for a single symbol. Bids
// are sorted descending by price, asks ascending; within a level, orders
// are FIFO by arrival sequence. Depth is unbounded — it grows and shrinks
// with real order flow instead of being seeded to a fixed number of levels.
type Book struct {
	mu       sync.RWMutex
	Symbol   string
	TickSize decimal.Decimal
	Bids     []PriceLevel
	Asks     []PriceLevel
	orderMap map[string]*RestingOrder
}

// NewBook creates an empty order book for a symbol.
func NewBook(symbol string, tickSize decimal.Decimal) *Book {
	return &Book{
		Symbol:   symbol,
		TickSize: tickSize,
		orderMap: make(map[string]*RestingOrder),
	}
}

// MidPrice returns the midpoint between best bid and best ask, or the zero
// value if either side is empty.
func (b *Book) MidPrice() (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return decimal.Zero, false
	}
	return b.Bids[0].Price.Add(b.Asks[0].Price).Div(decimal.NewFromInt(2)), true
}

// BestBid returns the best bid price and whether one exists.
func (b *Book) BestBid() (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.Bids) == 0 {
		return decimal.Zero, false
	}
	return b.Bids[0].Price, true
}

// BestAsk returns the best ask price and whether one exists.
func (b *Book) BestAsk() (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.Asks) == 0 {
		return decimal.Zero, false
	}
	return b.Asks[0].Price, true
}

// Insert adds a resting order to the book at its price level. It takes the
// book's own lock, the same non-reentrant lock the matching engine holds
// per symbol; the engine's submit path rests orders without calling Insert.
func (b *Book) Insert(o *RestingOrder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orderMap[o.OrderID] = o
	if o.Side == domain.Buy {
		b.Bids = addToSide(b.Bids, o, true)
	} else {
		b.Asks = addToSide(b.Asks, o, false)
	}
}

// Remove deletes an order by ID and returns it, or nil if not found.
func (b *Book) Remove(orderID string) *RestingOrder {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orderMap[orderID]
	if !ok {
		return nil
	}
	delete(b.orderMap, orderID)
	if o.Side == domain.Buy {
		b.Bids = removeFromSide(b.Bids, orderID)
	} else {
		b.Asks = removeFromSide(b.Asks, orderID)
	}
	return o
}

// Get returns an order by ID, or nil.
func (b *Book) Get(orderID string) *RestingOrder {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.orderMap[orderID]
}

// reduceLocked shrinks an order's remaining quantity by qty and removes it
// from the book once it reaches zero. Caller must hold b.mu.
func (b *Book) reduceLocked(o *RestingOrder, qty int64) {
	o.Remaining -= qty
	if o.Remaining <= 0 {
		delete(b.orderMap, o.OrderID)
		if o.Side == domain.Buy {
			b.Bids = removeFromSide(b.Bids, o.OrderID)
		} else {
			b.Asks = removeFromSide(b.Asks, o.OrderID)
		}
	}
}

// AllOrders returns every resting order in the book, for persistence.
func (b *Book) AllOrders() []*RestingOrder {
	b.mu.RLock()
	defer b.mu.RUnlock()
	orders := make([]*RestingOrder, 0, len(b.orderMap))
	for _, o := range b.orderMap {
		orders = append(orders, o)
	}
	return orders
}

// OrderCount returns the number of resting orders.
func (b *Book) OrderCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.orderMap)
}

// Clear empties the book entirely (used by clearAll / market reset).
func (b *Book) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Bids = nil
	b.Asks = nil
	b.orderMap = make(map[string]*RestingOrder)
}

// DepthLevel is an aggregated view of one price level.
type DepthLevel struct {
	Price       decimal.Decimal `json:"price"`
	Orders      int             `json:"orders"`
	TotalShares int64           `json:"totalShares"`
}

// DepthSnapshot is a point-in-time view of the book, bounded to maxLevels
// per side (0 means unbounded).
type DepthSnapshot struct {
	Bids     []DepthLevel    `json:"bids"`
	Asks     []DepthLevel    `json:"asks"`
	BestBid  decimal.Decimal `json:"bestBid"`
	BestAsk  decimal.Decimal `json:"bestAsk"`
	MidPrice decimal.Decimal `json:"midPrice"`
	Spread   decimal.Decimal `json:"spread"`
}

// Depth returns a thread-safe snapshot of the book, truncated to maxLevels
// price levels per side when maxLevels > 0.
func (b *Book) Depth(maxLevels int) DepthSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap := DepthSnapshot{}

	bids := b.Bids
	if maxLevels > 0 && len(bids) > maxLevels {
		bids = bids[:maxLevels]
	}
	asks := b.Asks
	if maxLevels > 0 && len(asks) > maxLevels {
		asks = asks[:maxLevels]
	}

	for _, lvl := range bids {
		var total int64
		for _, o := range lvl.Orders {
			total += o.Remaining
		}
		snap.Bids = append(snap.Bids, DepthLevel{Price: lvl.Price, Orders: len(lvl.Orders), TotalShares: total})
	}
	for _, lvl := range asks {
		var total int64
		for _, o := range lvl.Orders {
			total += o.Remaining
		}
		snap.Asks = append(snap.Asks, DepthLevel{Price: lvl.Price, Orders: len(lvl.Orders), TotalShares: total})
	}

	if len(b.Bids) > 0 {
		snap.BestBid = b.Bids[0].Price
	}
	if len(b.Asks) > 0 {
		snap.BestAsk = b.Asks[0].Price
	}
	if !snap.BestBid.IsZero() && !snap.BestAsk.IsZero() {
		snap.MidPrice = snap.BestBid.Add(snap.BestAsk).Div(decimal.NewFromInt(2))
		snap.Spread = snap.BestAsk.Sub(snap.BestBid)
	}
	return snap
}

// --- helpers ---

func addToSide(levels []PriceLevel, o *RestingOrder, descending bool) []PriceLevel {
	for i := range levels {
		if levels[i].Price.Equal(o.Price) {
			levels[i].Orders = append(levels[i].Orders, o)
			return levels
		}
	}

	levels = append(levels, PriceLevel{Price: o.Price, Orders: []*RestingOrder{o}})

	if descending {
		sort.Slice(levels, func(i, j int) bool { return levels[i].Price.GreaterThan(levels[j].Price) })
	} else {
		sort.Slice(levels, func(i, j int) bool { return levels[i].Price.LessThan(levels[j].Price) })
	}
	return levels
}

func removeFromSide(levels []PriceLevel, orderID string) []PriceLevel {
	for i := range levels {
		for j := range levels[i].Orders {
			if levels[i].Orders[j].OrderID == orderID {
				levels[i].Orders = append(levels[i].Orders[:j], levels[i].Orders[j+1:]...)
				if len(levels[i].Orders) == 0 {
					levels = append(levels[:i], levels[i+1:]...)
				}
				return levels
			}
		}
	}
	return levels
}
