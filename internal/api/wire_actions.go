package api

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/wallstreetsim/engine/internal/actions"
	"github.com/wallstreetsim/engine/internal/domain"
)

// actionEnvelope is the wire shape for one entry in a POST /actions body:
// a type discriminator plus every field any action kind might carry, all
// optional. There is no existing (de)serialization for the sealed
// actions.Action interface — internal callers construct concrete structs
// directly — so this envelope is the one place that bridges untyped JSON
// to the typed action set, the same way a protocol's outer frame carries
// a message-type tag ahead of its payload.
type actionEnvelope struct {
	Type string `json:"type"`

	Symbol    string           `json:"symbol,omitempty"`
	OrderType string           `json:"orderType,omitempty"`
	Quantity  int64            `json:"quantity,omitempty"`
	Price     *decimal.Decimal `json:"price,omitempty"`

	OrderID string `json:"orderId,omitempty"`

	TargetSymbol string `json:"targetSymbol,omitempty"`
	Content      string `json:"content,omitempty"`

	RecipientID   string `json:"recipientId,omitempty"`
	TargetAgentID string `json:"targetAgentId,omitempty"`

	AllianceID string `json:"allianceId,omitempty"`
	Reason     string `json:"reason,omitempty"`

	Amount *decimal.Decimal `json:"amount,omitempty"`

	Evidence  string `json:"evidence,omitempty"`
	CrimeType string `json:"crimeType,omitempty"`

	Destination string `json:"destination,omitempty"`
}

// toAction converts an envelope to the concrete action it names.
// Unrecognized types decode to actions.Unknown instead of erroring, so a
// malformed single entry in a batch still produces a per-entry
// ActionResult rather than failing the whole request.
func (e actionEnvelope) toAction() actions.Action {
	switch e.Type {
	case "BUY":
		return actions.Buy{Symbol: e.Symbol, OrderType: e.OrderType, Quantity: e.Quantity, Price: e.Price}
	case "SELL":
		return actions.Sell{Symbol: e.Symbol, OrderType: e.OrderType, Quantity: e.Quantity, Price: e.Price}
	case "SHORT":
		return actions.Short{Symbol: e.Symbol, OrderType: e.OrderType, Quantity: e.Quantity, Price: e.Price}
	case "COVER":
		return actions.Cover{Symbol: e.Symbol, OrderType: e.OrderType, Quantity: e.Quantity, Price: e.Price}
	case "CANCEL_ORDER":
		return actions.CancelOrder{OrderID: e.OrderID}
	case "RUMOR":
		return actions.Rumor{TargetSymbol: e.TargetSymbol, Content: e.Content}
	case "MESSAGE":
		return actions.Message{RecipientID: e.RecipientID, Content: e.Content}
	case "ALLY":
		return actions.Ally{TargetAgentID: e.TargetAgentID}
	case "ALLY_ACCEPT":
		return actions.AllyAccept{AllianceID: e.AllianceID}
	case "ALLY_REJECT":
		return actions.AllyReject{AllianceID: e.AllianceID, Reason: e.Reason}
	case "ALLY_DISSOLVE":
		return actions.AllyDissolve{AllianceID: e.AllianceID}
	case "BRIBE":
		amount := decimal.Zero
		if e.Amount != nil {
			amount = *e.Amount
		}
		return actions.Bribe{TargetAgentID: e.TargetAgentID, Amount: amount}
	case "WHISTLEBLOW":
		return actions.Whistleblow{TargetAgentID: e.TargetAgentID, Evidence: e.Evidence, CrimeType: domain.CrimeType(e.CrimeType)}
	case "FLEE":
		return actions.Flee{Destination: e.Destination}
	default:
		return actions.Unknown{RawType: e.Type}
	}
}

// actionsRequest is the POST /actions body.
type actionsRequest struct {
	Actions []actionEnvelope `json:"actions"`
}

// maxActionsPerRequest bounds a single POST /actions call (§6).
const maxActionsPerRequest = 10

func decodeActionsRequest(data []byte) (actionsRequest, error) {
	var req actionsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return actionsRequest{}, fmt.Errorf("decode actions request: %w", err)
	}
	return req, nil
}
