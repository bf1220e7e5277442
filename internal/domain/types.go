// Package domain holds the entities shared across the simulation: agents,
// orders, trades, instruments, world state, and the social/enforcement
// entities (news, messages, alliances, investigations). All monetary
// fields use shopspring/decimal and render as strings at the persistence
// and wire boundary.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AgentStatus is the lifecycle state of an Agent.
type AgentStatus string

const (
	AgentActive    AgentStatus = "active"
	AgentBankrupt  AgentStatus = "bankrupt"
	AgentImprisoned AgentStatus = "imprisoned"
	AgentFled      AgentStatus = "fled"
)

// Terminal reports whether the status forbids trading.
func (s AgentStatus) Terminal() bool {
	return s == AgentBankrupt || s == AgentImprisoned || s == AgentFled
}

// Agent is an external autonomous participant.
type Agent struct {
	ID          string      `json:"id" bson:"_id"`
	DisplayName string      `json:"displayName" bson:"display_name"`
	Role        string      `json:"role" bson:"role"`
	Status      AgentStatus `json:"status" bson:"status"`

	Cash        decimal.Decimal `json:"cash" bson:"cash"`
	MarginUsed  decimal.Decimal `json:"marginUsed" bson:"margin_used"`
	MarginLimit decimal.Decimal `json:"marginLimit" bson:"margin_limit"`
	Reputation  int             `json:"reputation" bson:"reputation"`

	AllianceID *string `json:"allianceId,omitempty" bson:"alliance_id,omitempty"`

	WebhookEndpoint      *string    `json:"webhookEndpoint,omitempty" bson:"webhook_endpoint,omitempty"`
	WebhookSecret        *string    `json:"-" bson:"webhook_secret,omitempty"`
	WebhookFailures      int        `json:"webhookFailures" bson:"webhook_failures"`
	LastWebhookError     *string    `json:"lastWebhookError,omitempty" bson:"last_webhook_error,omitempty"`
	LastWebhookSuccessAt *time.Time `json:"lastWebhookSuccessAt,omitempty" bson:"last_webhook_success_at,omitempty"`
	LastResponseTimeMs   *int64     `json:"lastResponseTimeMs,omitempty" bson:"last_response_time_ms,omitempty"`
	AvgResponseTimeMs    *int64     `json:"avgResponseTimeMs,omitempty" bson:"avg_response_time_ms,omitempty"`
	WebhookSuccessCount  int64      `json:"webhookSuccessCount" bson:"webhook_success_count"`

	// APIKeyHash is the SHA-256 hash of the agent's issued API key; the raw
	// key is never stored (see internal/auth).
	APIKeyHash string `json:"-" bson:"api_key_hash"`

	CreatedAt time.Time `json:"createdAt" bson:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updated_at"`
}

// CanTrade reports whether the agent is allowed to submit trading actions.
func (a *Agent) CanTrade() bool {
	return a.Status == AgentActive
}

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// OrderType distinguishes market, limit, and stop orders.
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
	OrderStop   OrderType = "STOP"
)

// OrderStatus tracks an order's lifecycle.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderOpen      OrderStatus = "open"
	OrderPartial   OrderStatus = "partial"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
)

// Order is a single resting or fully-processed order.
type Order struct {
	ID              string          `json:"id" bson:"_id"`
	AgentID         string          `json:"agentId" bson:"agent_id"`
	Symbol          string          `json:"symbol" bson:"symbol"`
	Side            Side            `json:"side" bson:"side"`
	Type            OrderType       `json:"type" bson:"type"`
	Quantity        int64           `json:"quantity" bson:"quantity"`
	FilledQuantity  int64           `json:"filledQuantity" bson:"filled_quantity"`
	Price           decimal.Decimal `json:"price,omitzero" bson:"price,omitempty"`
	Status          OrderStatus     `json:"status" bson:"status"`
	TickSubmitted   uint64          `json:"tickSubmitted" bson:"tick_submitted"`
	CreatedAt       time.Time       `json:"createdAt" bson:"created_at"`
	UpdatedAt       time.Time       `json:"updatedAt" bson:"updated_at"`
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() int64 {
	return o.Quantity - o.FilledQuantity
}

// Trade is an immutable fill record.
type Trade struct {
	ID            string          `json:"id" bson:"_id"`
	Symbol        string          `json:"symbol" bson:"symbol"`
	BuyerID       string          `json:"buyerId" bson:"buyer_id"`
	SellerID      string          `json:"sellerId" bson:"seller_id"`
	BuyerOrderID  string          `json:"buyerOrderId" bson:"buyer_order_id"`
	SellerOrderID string          `json:"sellerOrderId" bson:"seller_order_id"`
	Price         decimal.Decimal `json:"price" bson:"price"`
	Quantity      int64           `json:"quantity" bson:"quantity"`
	Tick          uint64          `json:"tick" bson:"tick"`
	ExecutedAt    time.Time       `json:"executedAt" bson:"executed_at"`
}

// Holding is an agent's position in a symbol, including short positions
// represented by a negative quantity.
type Holding struct {
	AgentID  string          `json:"agentId" bson:"agent_id"`
	Symbol   string          `json:"symbol" bson:"symbol"`
	Quantity int64           `json:"quantity" bson:"quantity"`
	AvgCost  decimal.Decimal `json:"avgCost" bson:"avg_cost"`
}

// Company is a tradable instrument.
type Company struct {
	Symbol             string          `json:"symbol" bson:"_id"`
	Name               string          `json:"name" bson:"name"`
	Sector             string          `json:"sector" bson:"sector"`
	CurrentPrice       decimal.Decimal `json:"currentPrice" bson:"current_price"`
	PreviousClose      decimal.Decimal `json:"previousClose" bson:"previous_close"`
	Open               decimal.Decimal `json:"open" bson:"open"`
	High               decimal.Decimal `json:"high" bson:"high"`
	Low                decimal.Decimal `json:"low" bson:"low"`
	MarketCap          decimal.Decimal `json:"marketCap" bson:"market_cap"`
	SharesOutstanding  int64           `json:"sharesOutstanding" bson:"shares_outstanding"`
	Volatility         float64         `json:"volatility" bson:"volatility"`
	Beta               float64         `json:"beta" bson:"beta"`
	Sentiment          float64         `json:"sentiment" bson:"sentiment"`
	IsPublic           bool            `json:"isPublic" bson:"is_public"`
	LastTickUpdatedAt  uint64          `json:"-" bson:"last_tick_updated_at"`
}

// Regime is the market-wide sentiment state.
type Regime string

const (
	RegimeNormal Regime = "normal"
	RegimeBull   Regime = "bull"
	RegimeBear   Regime = "bear"
	RegimeCrash  Regime = "crash"
	RegimeBubble Regime = "bubble"
)

// WorldState is the singleton simulation clock and macro state.
type WorldState struct {
	Tick         uint64    `json:"tick" bson:"tick"`
	MarketOpen   bool      `json:"marketOpen" bson:"market_open"`
	Regime       Regime    `json:"regime" bson:"regime"`
	InterestRate float64   `json:"interestRate" bson:"interest_rate"`
	InflationRate float64  `json:"inflationRate" bson:"inflation_rate"`
	GDPGrowth    float64   `json:"gdpGrowth" bson:"gdp_growth"`
	LastTickAt   time.Time `json:"lastTickAt" bson:"last_tick_at"`
}

// MarketEvent is a transient shock applied to a symbol or sector.
type MarketEvent struct {
	ID               string    `json:"id" bson:"_id"`
	Type             string    `json:"type" bson:"type"`
	Symbol           *string   `json:"symbol,omitempty" bson:"symbol,omitempty"`
	Sector           *string   `json:"sector,omitempty" bson:"sector,omitempty"`
	Impact           float64   `json:"impact" bson:"impact"`
	Duration         int       `json:"duration" bson:"duration"`
	RemainingDuration int      `json:"remainingDuration" bson:"remaining_duration"`
	TickIssued       uint64    `json:"tickIssued" bson:"tick_issued"`
	Headline         string    `json:"headline" bson:"headline"`
	CreatedAt        time.Time `json:"createdAt" bson:"created_at"`
}

// Active reports whether the event still has effect.
func (e *MarketEvent) Active() bool {
	return e.RemainingDuration > 0
}

// NewsArticle is a published news item, possibly agent-originated (rumor).
type NewsArticle struct {
	ID        string    `json:"id" bson:"_id"`
	Tick      uint64    `json:"tick" bson:"tick"`
	Headline  string    `json:"headline" bson:"headline"`
	Content   string    `json:"content" bson:"content"`
	Category  string    `json:"category" bson:"category"`
	Sentiment float64   `json:"sentiment" bson:"sentiment"`
	Symbols   []string  `json:"symbols" bson:"symbols"`
	AgentIDs  []string  `json:"agentIds" bson:"agent_ids"`
	IsBreaking bool     `json:"isBreaking" bson:"is_breaking"`
	CreatedAt time.Time `json:"createdAt" bson:"created_at"`
}

// Message is a direct or alliance-channel communication between agents.
type Message struct {
	ID          string     `json:"id" bson:"_id"`
	Tick        uint64     `json:"tick" bson:"tick"`
	SenderID    string     `json:"senderId" bson:"sender_id"`
	RecipientID *string    `json:"recipientId,omitempty" bson:"recipient_id,omitempty"`
	Channel     string     `json:"channel" bson:"channel"`
	Subject     *string    `json:"subject,omitempty" bson:"subject,omitempty"`
	Content     string     `json:"content" bson:"content"`
	IsRead      bool       `json:"isRead" bson:"is_read"`
	IsDeleted   bool       `json:"isDeleted" bson:"is_deleted"`
	ReadAt      *time.Time `json:"readAt,omitempty" bson:"read_at,omitempty"`
	CreatedAt   time.Time  `json:"createdAt" bson:"created_at"`
}

// AllianceStatus tracks an alliance proposal's lifecycle.
type AllianceStatus string

const (
	AlliancePending   AllianceStatus = "pending"
	AllianceActive    AllianceStatus = "active"
	AllianceDissolved AllianceStatus = "dissolved"
)

// Alliance is a bilateral pact between two agents.
type Alliance struct {
	ID                 string         `json:"id" bson:"_id"`
	ProposerID         string         `json:"proposerId" bson:"proposer_id"`
	PartnerID          string         `json:"partnerId" bson:"partner_id"`
	Status             AllianceStatus `json:"status" bson:"status"`
	DissolutionReason  *string        `json:"dissolutionReason,omitempty" bson:"dissolution_reason,omitempty"`
	CreatedAt          time.Time      `json:"createdAt" bson:"created_at"`
	UpdatedAt          time.Time      `json:"updatedAt" bson:"updated_at"`
}

// CrimeType enumerates the investigable offenses.
type CrimeType string

const (
	CrimeInsiderTrading    CrimeType = "insider_trading"
	CrimeMarketManipulation CrimeType = "market_manipulation"
	CrimeSpoofing          CrimeType = "spoofing"
	CrimeWashTrading       CrimeType = "wash_trading"
	CrimePumpAndDump       CrimeType = "pump_and_dump"
	CrimeCoordination      CrimeType = "coordination"
	CrimeAccountingFraud   CrimeType = "accounting_fraud"
	CrimeBribery           CrimeType = "bribery"
	CrimeTaxEvasion        CrimeType = "tax_evasion"
	CrimeObstruction       CrimeType = "obstruction"
)

// InvestigationStatus tracks the legal process against an agent.
type InvestigationStatus string

const (
	InvestigationOpen      InvestigationStatus = "open"
	InvestigationCharged   InvestigationStatus = "charged"
	InvestigationTrial     InvestigationStatus = "trial"
	InvestigationConvicted InvestigationStatus = "convicted"
	InvestigationAcquitted InvestigationStatus = "acquitted"
	InvestigationSettled   InvestigationStatus = "settled"
)

// Investigation is an open or resolved enforcement action against an agent.
type Investigation struct {
	ID                  string              `json:"id" bson:"_id"`
	TargetAgentID       string              `json:"targetAgentId" bson:"target_agent_id"`
	CrimeType           CrimeType           `json:"crimeType" bson:"crime_type"`
	Status              InvestigationStatus `json:"status" bson:"status"`
	Evidence            string              `json:"evidence,omitempty" bson:"evidence,omitempty"`
	TickOpened          uint64              `json:"tickOpened" bson:"tick_opened"`
	TickCharged         *uint64             `json:"tickCharged,omitempty" bson:"tick_charged,omitempty"`
	FineAmount          *decimal.Decimal    `json:"fineAmount,omitempty" bson:"fine_amount,omitempty"`
	SentenceYears       *int                `json:"sentenceYears,omitempty" bson:"sentence_years,omitempty"`
	ImprisonedUntilTick *uint64             `json:"imprisonedUntilTick,omitempty" bson:"imprisoned_until_tick,omitempty"`
	CreatedAt           time.Time           `json:"createdAt" bson:"created_at"`
}

// PriceUpdate summarizes one symbol's movement within a tick.
type PriceUpdate struct {
	Symbol        string          `json:"symbol" bson:"symbol"`
	OldPrice      decimal.Decimal `json:"oldPrice" bson:"old_price"`
	NewPrice      decimal.Decimal `json:"newPrice" bson:"new_price"`
	Change        decimal.Decimal `json:"change" bson:"change"`
	ChangePercent float64         `json:"changePercent" bson:"change_percent"`
	Volume        int64           `json:"volume" bson:"volume"`
}

// TickEventRecord is the durable, replayable summary of a single tick.
type TickEventRecord struct {
	Tick         uint64        `json:"tick" bson:"_id"`
	Timestamp    time.Time     `json:"timestamp" bson:"timestamp"`
	Trades       []Trade       `json:"trades" bson:"trades"`
	News         []NewsArticle `json:"news" bson:"news"`
	PriceUpdates []PriceUpdate `json:"priceUpdates" bson:"price_updates"`
}

// Action is a single audit-logged agent action row (§4.6 logAction).
type Action struct {
	ID           string         `json:"id" bson:"_id"`
	Tick         uint64         `json:"tick" bson:"tick"`
	AgentID      string         `json:"agentId" bson:"agent_id"`
	ActionType   string         `json:"actionType" bson:"action_type"`
	TargetSymbol *string        `json:"targetSymbol,omitempty" bson:"target_symbol,omitempty"`
	TargetAgentID *string       `json:"targetAgentId,omitempty" bson:"target_agent_id,omitempty"`
	Payload      map[string]any `json:"payload,omitempty" bson:"payload,omitempty"`
	Success      bool           `json:"success" bson:"success"`
	Message      string         `json:"message,omitempty" bson:"message,omitempty"`
	CreatedAt    time.Time      `json:"createdAt" bson:"created_at"`
}
