// Package persist is the durable storage boundary (C4). Gateway exposes
// only the transactions spec.md §6 enumerates; callers never see a
// *mongo.Client directly, so tests exercise the in-memory fake instead of
// mocking the driver (Design Notes: "mock-heavy DB access").
package persist

import (
	"context"
	"time"

	"github.com/wallstreetsim/engine/internal/domain"
)

// Gateway is the full persistence surface used by the action processor,
// the tick pipeline, the reconnection/replay path, and the read-only
// ingress HTTP handlers.
type Gateway interface {
	// Agents
	CreateAgent(ctx context.Context, a *domain.Agent) error
	GetAgent(ctx context.Context, agentID string) (*domain.Agent, error)
	GetAgentByAPIKeyHash(ctx context.Context, hash string) (*domain.Agent, error)
	UpdateAgent(ctx context.Context, a *domain.Agent) error
	ListAgentsByStatus(ctx context.Context, status domain.AgentStatus, limit int) ([]domain.Agent, error)
	ListLeaderboard(ctx context.Context, limit int) ([]domain.Agent, error)

	// Orders
	CreateOrder(ctx context.Context, o *domain.Order) error
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	UpdateOrder(ctx context.Context, o *domain.Order) error
	ListOpenOrdersForAgent(ctx context.Context, agentID string) ([]domain.Order, error)

	// Trades
	InsertTrades(ctx context.Context, trades []domain.Trade) error
	ListTradesForSymbol(ctx context.Context, symbol string, limit int) ([]domain.Trade, error)

	// Holdings
	GetHolding(ctx context.Context, agentID, symbol string) (*domain.Holding, error)
	UpsertHolding(ctx context.Context, h *domain.Holding) error
	ListHoldingsForAgent(ctx context.Context, agentID string) ([]domain.Holding, error)

	// Companies
	GetCompany(ctx context.Context, symbol string) (*domain.Company, error)
	ListCompanies(ctx context.Context) ([]domain.Company, error)
	UpdateCompany(ctx context.Context, c *domain.Company) error
	SeedCompaniesIfEmpty(ctx context.Context, seed []domain.Company) error

	// News
	CreateNews(ctx context.Context, n *domain.NewsArticle) error
	ListNews(ctx context.Context, limit int) ([]domain.NewsArticle, error)

	// Messages
	CreateMessage(ctx context.Context, m *domain.Message) error
	FindAllianceProposalMessage(ctx context.Context, allianceID, recipientID string) (*domain.Message, error)

	// Alliances
	CreateAlliance(ctx context.Context, a *domain.Alliance) error
	GetAlliance(ctx context.Context, allianceID string) (*domain.Alliance, error)
	UpdateAlliance(ctx context.Context, a *domain.Alliance) error

	// Investigations
	CreateInvestigation(ctx context.Context, inv *domain.Investigation) error
	GetOpenInvestigationForAgent(ctx context.Context, agentID string) (*domain.Investigation, error)
	ListMostWanted(ctx context.Context, limit int) ([]domain.Investigation, error)
	ListImprisoned(ctx context.Context, limit int) ([]domain.Agent, error)

	// Actions (audit log)
	LogAction(ctx context.Context, a *domain.Action) error

	// World state
	GetWorldState(ctx context.Context) (*domain.WorldState, error)
	SaveWorldState(ctx context.Context, w *domain.WorldState) error

	// Tick events
	SaveTickEventRecord(ctx context.Context, r *domain.TickEventRecord) error
	GetTickEventRecords(ctx context.Context, fromTick, toTick uint64) ([]domain.TickEventRecord, error)
	OldestTickEventRecord(ctx context.Context) (uint64, bool, error)
	DeleteTickEventRecordsBefore(ctx context.Context, tick uint64) error

	// Settlement: applies a batch of fills transactionally — debiting
	// buyer cash and crediting seller cash; holdings are not touched
	// here. Grounded on
	// teacher's Snapshotter.Save use of mongo.Client.StartSession().
	// WithTransaction.
	SettleFills(ctx context.Context, fills []Settlement) error

	Close(ctx context.Context) error
}

// Settlement is one fill's cash/holding delta, computed by the tick
// pipeline and applied atomically by the gateway.
type Settlement struct {
	Trade       domain.Trade
	BuyerDebit  string // decimal string, notional owed by buyer
	SellerCredit string // decimal string, notional owed to seller
}

// ErrNotFound is returned by single-entity Get* methods when no row
// matches.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "persist: not found" }

// Now is a seam for tests; production code always uses time.Now.
var Now = time.Now
