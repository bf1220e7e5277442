package orderbook

import (
	"sync/atomic"

	"github.com/shopspring/decimal"
	"github.com/wallstreetsim/engine/internal/domain"
)

// RestingOrder is the book's internal representation of a live order. It
// mirrors the fields of domain.Order needed for matching and carries a
// monotonic sequence number that breaks price ties in arrival order.
type RestingOrder struct {
	OrderID       string
	AgentID       string
	Side          domain.Side
	Type          domain.OrderType
	Price         decimal.Decimal
	Quantity      int64 // original order quantity, constant across fills
	Remaining     int64
	Sequence      uint64
	TickSubmitted uint64
}

// global arrival-sequence counter, shared by every book in the process so
// cross-symbol trade ordering in a tick's event log is also well defined.
var sequenceCounter uint64

// NextSequence returns a process-wide monotonic arrival sequence number.
func NextSequence() uint64 {
	return atomic.AddUint64(&sequenceCounter, 1)
}

// SetSequenceCounter restores the counter from a persisted snapshot.
func SetSequenceCounter(val uint64) {
	atomic.StoreUint64(&sequenceCounter, val)
}

// GetSequenceCounter returns the current counter value for persistence.
func GetSequenceCounter() uint64 {
	return atomic.LoadUint64(&sequenceCounter)
}
