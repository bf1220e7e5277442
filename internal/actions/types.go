// Package actions implements the action processor (C6): validating and
// applying each agent-submitted action, producing an ActionResult, and
// logging every call — success or failure — to the audit trail.
//
// Actions are a sealed interface with one concrete type per action kind,
// dispatched with a Go type switch in Process. This is the idiomatic
// replacement for a dynamically-dispatched action map: the compiler
// enforces that every case is handled, and each action's fields are typed
// instead of living in a grab-bag of optional wire fields.
package actions

import (
	"github.com/shopspring/decimal"
	"github.com/wallstreetsim/engine/internal/domain"
)

// Action is implemented by every concrete action kind.
type Action interface {
	actionType() string
}

// Buy, Sell, Short, and Cover share a shape: a symbol, an order type, a
// quantity, and an optional limit price. SHORT is a sell that doesn't
// require long inventory; COVER is a buy that reduces a short position —
// the distinction only matters downstream, in settlement (§4.7), not here.
type Buy struct {
	Symbol    string
	OrderType string // MARKET, LIMIT, STOP
	Quantity  int64
	Price     *decimal.Decimal
}

func (Buy) actionType() string { return "BUY" }

type Sell struct {
	Symbol    string
	OrderType string
	Quantity  int64
	Price     *decimal.Decimal
}

func (Sell) actionType() string { return "SELL" }

type Short struct {
	Symbol    string
	OrderType string
	Quantity  int64
	Price     *decimal.Decimal
}

func (Short) actionType() string { return "SHORT" }

type Cover struct {
	Symbol    string
	OrderType string
	Quantity  int64
	Price     *decimal.Decimal
}

func (Cover) actionType() string { return "COVER" }

// CancelOrder requests that a resting order be pulled from the book.
type CancelOrder struct {
	OrderID string
}

func (CancelOrder) actionType() string { return "CANCEL_ORDER" }

// Rumor publishes agent-originated news, gated on reputation.
type Rumor struct {
	TargetSymbol string
	Content      string
}

func (Rumor) actionType() string { return "RUMOR" }

// Message sends a direct communication to another agent.
type Message struct {
	RecipientID string
	Content     string
}

func (Message) actionType() string { return "MESSAGE" }

// Ally proposes an alliance with another agent.
type Ally struct {
	TargetAgentID string
}

func (Ally) actionType() string { return "ALLY" }

// AllyAccept accepts a pending alliance proposal addressed to this agent.
type AllyAccept struct {
	AllianceID string
}

func (AllyAccept) actionType() string { return "ALLY_ACCEPT" }

// AllyReject rejects a pending alliance proposal, with an optional reason.
type AllyReject struct {
	AllianceID string
	Reason     string
}

func (AllyReject) actionType() string { return "ALLY_REJECT" }

// AllyDissolve dissolves an active alliance the agent is party to.
type AllyDissolve struct {
	AllianceID string
}

func (AllyDissolve) actionType() string { return "ALLY_DISSOLVE" }

// Bribe transfers cash to a target agent, probabilistically triggering an
// investigation.
type Bribe struct {
	TargetAgentID string
	Amount        decimal.Decimal
}

func (Bribe) actionType() string { return "BRIBE" }

// Whistleblow opens an investigation against a target agent, crediting the
// whistleblower's reputation. CrimeType is supplied by the caller since the
// spec leaves the offense category to the ingress surface, not C6.
type Whistleblow struct {
	TargetAgentID string
	Evidence      string
	CrimeType     domain.CrimeType
}

func (Whistleblow) actionType() string { return "WHISTLEBLOW" }

// Flee attempts to escape an open investigation by paying a flight cost
// and transitioning to AgentFled.
type Flee struct {
	Destination string
}

func (Flee) actionType() string { return "FLEE" }

// Unknown wraps any action type the processor doesn't recognize, so
// Process can still log it and return the spec's required failure message
// instead of the caller needing a separate decode-error path.
type Unknown struct {
	RawType string
}

func (Unknown) actionType() string { return "UNKNOWN" }
