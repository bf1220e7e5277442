package persist

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/wallstreetsim/engine/internal/domain"
)

// MemoryGateway is an in-memory Gateway implementation used by unit tests
// for the action processor and tick pipeline, so neither needs a live
// Mongo instance or a hand-mocked driver (Design Notes: "mock-heavy DB
// access").
type MemoryGateway struct {
	mu sync.Mutex

	agents         map[string]domain.Agent
	agentsByAPIKey map[string]string // hash -> agentID
	orders         map[string]domain.Order
	trades         []domain.Trade
	holdings       map[string]domain.Holding // agentID|symbol
	companies      map[string]domain.Company
	news           []domain.NewsArticle
	messages       []domain.Message
	alliances      map[string]domain.Alliance
	investigations map[string]domain.Investigation
	actions        []domain.Action
	world          domain.WorldState
	tickEvents     map[uint64]domain.TickEventRecord
}

// NewMemoryGateway creates an empty in-memory gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		agents:         make(map[string]domain.Agent),
		agentsByAPIKey: make(map[string]string),
		orders:         make(map[string]domain.Order),
		holdings:       make(map[string]domain.Holding),
		companies:      make(map[string]domain.Company),
		alliances:      make(map[string]domain.Alliance),
		investigations: make(map[string]domain.Investigation),
		tickEvents:     make(map[uint64]domain.TickEventRecord),
		world:          domain.WorldState{Regime: domain.RegimeNormal, MarketOpen: true},
	}
}

func holdingKey(agentID, symbol string) string { return agentID + "|" + symbol }

func (g *MemoryGateway) CreateAgent(_ context.Context, a *domain.Agent) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.agents[a.ID] = *a
	g.agentsByAPIKey[a.APIKeyHash] = a.ID
	return nil
}

func (g *MemoryGateway) GetAgent(_ context.Context, agentID string) (*domain.Agent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	a, ok := g.agents[agentID]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (g *MemoryGateway) GetAgentByAPIKeyHash(_ context.Context, hash string) (*domain.Agent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.agentsByAPIKey[hash]
	if !ok {
		return nil, ErrNotFound
	}
	a := g.agents[id]
	return &a, nil
}

func (g *MemoryGateway) UpdateAgent(_ context.Context, a *domain.Agent) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.agents[a.ID]; !ok {
		return ErrNotFound
	}
	g.agents[a.ID] = *a
	return nil
}

func (g *MemoryGateway) ListAgentsByStatus(_ context.Context, status domain.AgentStatus, limit int) ([]domain.Agent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []domain.Agent
	for _, a := range g.agents {
		if a.Status == status {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return truncateAgents(out, limit), nil
}

func (g *MemoryGateway) ListLeaderboard(_ context.Context, limit int) ([]domain.Agent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]domain.Agent, 0, len(g.agents))
	for _, a := range g.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cash.GreaterThan(out[j].Cash) })
	return truncateAgents(out, limit), nil
}

func truncateAgents(a []domain.Agent, limit int) []domain.Agent {
	if limit > 0 && len(a) > limit {
		return a[:limit]
	}
	return a
}

func (g *MemoryGateway) CreateOrder(_ context.Context, o *domain.Order) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders[o.ID] = *o
	return nil
}

func (g *MemoryGateway) GetOrder(_ context.Context, orderID string) (*domain.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (g *MemoryGateway) UpdateOrder(_ context.Context, o *domain.Order) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.orders[o.ID]; !ok {
		return ErrNotFound
	}
	g.orders[o.ID] = *o
	return nil
}

func (g *MemoryGateway) ListOpenOrdersForAgent(_ context.Context, agentID string) ([]domain.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []domain.Order
	for _, o := range g.orders {
		if o.AgentID == agentID && (o.Status == domain.OrderOpen || o.Status == domain.OrderPartial || o.Status == domain.OrderPending) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (g *MemoryGateway) InsertTrades(_ context.Context, trades []domain.Trade) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.trades = append(g.trades, trades...)
	return nil
}

func (g *MemoryGateway) ListTradesForSymbol(_ context.Context, symbol string, limit int) ([]domain.Trade, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []domain.Trade
	for i := len(g.trades) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if g.trades[i].Symbol == symbol {
			out = append(out, g.trades[i])
		}
	}
	return out, nil
}

func (g *MemoryGateway) GetHolding(_ context.Context, agentID, symbol string) (*domain.Holding, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.holdings[holdingKey(agentID, symbol)]
	if !ok {
		return nil, ErrNotFound
	}
	return &h, nil
}

func (g *MemoryGateway) UpsertHolding(_ context.Context, h *domain.Holding) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.holdings[holdingKey(h.AgentID, h.Symbol)] = *h
	return nil
}

func (g *MemoryGateway) ListHoldingsForAgent(_ context.Context, agentID string) ([]domain.Holding, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []domain.Holding
	for _, h := range g.holdings {
		if h.AgentID == agentID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (g *MemoryGateway) GetCompany(_ context.Context, symbol string) (*domain.Company, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.companies[symbol]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (g *MemoryGateway) ListCompanies(_ context.Context) ([]domain.Company, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]domain.Company, 0, len(g.companies))
	for _, c := range g.companies {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (g *MemoryGateway) UpdateCompany(_ context.Context, c *domain.Company) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.companies[c.Symbol] = *c
	return nil
}

func (g *MemoryGateway) SeedCompaniesIfEmpty(_ context.Context, seed []domain.Company) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.companies) > 0 {
		return nil
	}
	for _, c := range seed {
		g.companies[c.Symbol] = c
	}
	return nil
}

func (g *MemoryGateway) CreateNews(_ context.Context, n *domain.NewsArticle) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.news = append(g.news, *n)
	return nil
}

func (g *MemoryGateway) ListNews(_ context.Context, limit int) ([]domain.NewsArticle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []domain.NewsArticle
	for i := len(g.news) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, g.news[i])
	}
	return out, nil
}

func (g *MemoryGateway) CreateMessage(_ context.Context, m *domain.Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.messages = append(g.messages, *m)
	return nil
}

func (g *MemoryGateway) FindAllianceProposalMessage(_ context.Context, allianceID, recipientID string) (*domain.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.messages {
		m := g.messages[i]
		if m.Channel != "alliance" || m.RecipientID == nil || *m.RecipientID != recipientID {
			continue
		}
		if m.Subject != nil && containsAllianceID(*m.Subject, allianceID) {
			return &m, nil
		}
	}
	return nil, ErrNotFound
}

func containsAllianceID(subject, allianceID string) bool {
	return len(subject) > 0 && indexOf(subject, allianceID) >= 0
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

func (g *MemoryGateway) CreateAlliance(_ context.Context, a *domain.Alliance) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.alliances[a.ID] = *a
	return nil
}

func (g *MemoryGateway) GetAlliance(_ context.Context, allianceID string) (*domain.Alliance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	a, ok := g.alliances[allianceID]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (g *MemoryGateway) UpdateAlliance(_ context.Context, a *domain.Alliance) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.alliances[a.ID]; !ok {
		return ErrNotFound
	}
	g.alliances[a.ID] = *a
	return nil
}

func (g *MemoryGateway) CreateInvestigation(_ context.Context, inv *domain.Investigation) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.investigations[inv.ID] = *inv
	return nil
}

func (g *MemoryGateway) GetOpenInvestigationForAgent(_ context.Context, agentID string) (*domain.Investigation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, inv := range g.investigations {
		if inv.TargetAgentID == agentID && inv.Status == domain.InvestigationOpen {
			v := inv
			return &v, nil
		}
	}
	return nil, ErrNotFound
}

func (g *MemoryGateway) ListMostWanted(_ context.Context, limit int) ([]domain.Investigation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []domain.Investigation
	for _, inv := range g.investigations {
		if inv.Status == domain.InvestigationOpen || inv.Status == domain.InvestigationCharged {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TickOpened < out[j].TickOpened })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (g *MemoryGateway) ListImprisoned(_ context.Context, limit int) ([]domain.Agent, error) {
	return g.ListAgentsByStatus(nil, domain.AgentImprisoned, limit)
}

func (g *MemoryGateway) LogAction(_ context.Context, a *domain.Action) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.actions = append(g.actions, *a)
	return nil
}

func (g *MemoryGateway) GetWorldState(_ context.Context) (*domain.WorldState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	w := g.world
	return &w, nil
}

func (g *MemoryGateway) SaveWorldState(_ context.Context, w *domain.WorldState) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.world = *w
	return nil
}

func (g *MemoryGateway) SaveTickEventRecord(_ context.Context, r *domain.TickEventRecord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tickEvents[r.Tick] = *r
	return nil
}

func (g *MemoryGateway) GetTickEventRecords(_ context.Context, fromTick, toTick uint64) ([]domain.TickEventRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []domain.TickEventRecord
	for t := fromTick + 1; t <= toTick; t++ {
		if r, ok := g.tickEvents[t]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (g *MemoryGateway) OldestTickEventRecord(_ context.Context) (uint64, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.tickEvents) == 0 {
		return 0, false, nil
	}
	var min uint64
	first := true
	for t := range g.tickEvents {
		if first || t < min {
			min = t
			first = false
		}
	}
	return min, true, nil
}

func (g *MemoryGateway) DeleteTickEventRecordsBefore(_ context.Context, tick uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for t := range g.tickEvents {
		if t < tick {
			delete(g.tickEvents, t)
		}
	}
	return nil
}

func (g *MemoryGateway) SettleFills(_ context.Context, fills []Settlement) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range fills {
		buyer, buyerOK := g.agents[s.Trade.BuyerID]
		seller, sellerOK := g.agents[s.Trade.SellerID]
		notional := s.Trade.Price.Mul(decimal.NewFromInt(s.Trade.Quantity))
		if buyerOK {
			buyer.Cash = buyer.Cash.Sub(notional)
			g.agents[buyer.ID] = buyer
		}
		if sellerOK {
			seller.Cash = seller.Cash.Add(notional)
			g.agents[seller.ID] = seller
		}
	}
	return nil
}

func (g *MemoryGateway) Close(_ context.Context) error { return nil }

// AllNews, AllOrders, and AllActions give tests direct access to the
// in-memory rows without needing a query method for every assertion shape.
func (g *MemoryGateway) AllNews() []domain.NewsArticle {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]domain.NewsArticle, len(g.news))
	copy(out, g.news)
	return out
}

func (g *MemoryGateway) AllOrders() []domain.Order {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]domain.Order, 0, len(g.orders))
	for _, o := range g.orders {
		out = append(out, o)
	}
	return out
}

func (g *MemoryGateway) AllActions() []domain.Action {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]domain.Action, len(g.actions))
	copy(out, g.actions)
	return out
}
