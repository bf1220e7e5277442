// MongoDB-backed Gateway implementation. Grounded on teacher's
// internal/persist/snapshot.go, which builds explicit bson.M documents and
// decodes into small anonymous structs rather than relying on driver
// reflection over the domain structs directly — the same approach is used
// here, with decimal.Decimal fields carried as BSON strings (via
// decimal.Decimal.String()/NewFromString) so exact precision survives the
// wire instead of drifting through a float64 intermediate.
package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/wallstreetsim/engine/internal/domain"
	"github.com/wallstreetsim/engine/internal/rng"
	"github.com/wallstreetsim/engine/internal/retry"
)

// MongoGateway implements Gateway against a Store.
type MongoGateway struct {
	store *Store
	rng   *rng.RNG
}

// NewMongoGateway wraps a connected Store as a Gateway. r seeds the jitter
// for the database retry profile (retry.DatabaseProfile); a nil r falls
// back to an unseeded RNG, which is fine since retry jitter doesn't need
// to be reproducible the way tick-pipeline randomness does.
func NewMongoGateway(store *Store, r *rng.RNG) *MongoGateway {
	if r == nil {
		r = rng.NewRNG(0)
	}
	return &MongoGateway{store: store, rng: r}
}

// withRetry runs op, retrying transient Mongo errors under
// retry.DatabaseProfile. It's applied to the write paths most exposed to
// replica-set failover: tick settlement and the per-tick world-state save.
func (g *MongoGateway) withRetry(ctx context.Context, op func() error) error {
	profile := retry.DatabaseProfile
	var err error
	for attempt := 0; attempt <= profile.MaxRetries; attempt++ {
		err = op()
		if err == nil || !mongo.IsNetworkError(err) && !mongo.IsTimeout(err) {
			return err
		}
		if attempt == profile.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(profile.Delay(attempt, g.rng)):
		}
	}
	return err
}

func (g *MongoGateway) col(name string) *mongo.Collection {
	return g.store.db.Collection(name)
}

func parseDec(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isNotFound(err error) bool {
	return err == mongo.ErrNoDocuments
}

// --- Agents ---

func agentDoc(a *domain.Agent) bson.M {
	doc := bson.M{
		"_id":                 a.ID,
		"display_name":        a.DisplayName,
		"role":                a.Role,
		"status":              string(a.Status),
		"cash":                a.Cash.String(),
		"margin_used":         a.MarginUsed.String(),
		"margin_limit":        a.MarginLimit.String(),
		"reputation":          a.Reputation,
		"webhook_failures":    a.WebhookFailures,
		"webhook_success_count": a.WebhookSuccessCount,
		"api_key_hash":        a.APIKeyHash,
		"created_at":          a.CreatedAt,
		"updated_at":          a.UpdatedAt,
	}
	if a.AllianceID != nil {
		doc["alliance_id"] = *a.AllianceID
	}
	if a.WebhookEndpoint != nil {
		doc["webhook_endpoint"] = *a.WebhookEndpoint
	}
	if a.WebhookSecret != nil {
		doc["webhook_secret"] = *a.WebhookSecret
	}
	if a.LastWebhookError != nil {
		doc["last_webhook_error"] = *a.LastWebhookError
	}
	if a.LastWebhookSuccessAt != nil {
		doc["last_webhook_success_at"] = *a.LastWebhookSuccessAt
	}
	if a.LastResponseTimeMs != nil {
		doc["last_response_time_ms"] = *a.LastResponseTimeMs
	}
	if a.AvgResponseTimeMs != nil {
		doc["avg_response_time_ms"] = *a.AvgResponseTimeMs
	}
	return doc
}

type agentRow struct {
	ID                   string     `bson:"_id"`
	DisplayName          string     `bson:"display_name"`
	Role                 string     `bson:"role"`
	Status               string     `bson:"status"`
	Cash                 string     `bson:"cash"`
	MarginUsed           string     `bson:"margin_used"`
	MarginLimit          string     `bson:"margin_limit"`
	Reputation           int        `bson:"reputation"`
	AllianceID           *string    `bson:"alliance_id,omitempty"`
	WebhookEndpoint      *string    `bson:"webhook_endpoint,omitempty"`
	WebhookSecret        *string    `bson:"webhook_secret,omitempty"`
	WebhookFailures      int        `bson:"webhook_failures"`
	LastWebhookError     *string    `bson:"last_webhook_error,omitempty"`
	LastWebhookSuccessAt *time.Time `bson:"last_webhook_success_at,omitempty"`
	LastResponseTimeMs   *int64     `bson:"last_response_time_ms,omitempty"`
	AvgResponseTimeMs    *int64     `bson:"avg_response_time_ms,omitempty"`
	WebhookSuccessCount  int64      `bson:"webhook_success_count"`
	APIKeyHash           string     `bson:"api_key_hash"`
	CreatedAt            time.Time  `bson:"created_at"`
	UpdatedAt            time.Time  `bson:"updated_at"`
}

func (r agentRow) toDomain() domain.Agent {
	return domain.Agent{
		ID:                   r.ID,
		DisplayName:          r.DisplayName,
		Role:                 r.Role,
		Status:               domain.AgentStatus(r.Status),
		Cash:                 parseDec(r.Cash),
		MarginUsed:           parseDec(r.MarginUsed),
		MarginLimit:          parseDec(r.MarginLimit),
		Reputation:           r.Reputation,
		AllianceID:           r.AllianceID,
		WebhookEndpoint:      r.WebhookEndpoint,
		WebhookSecret:        r.WebhookSecret,
		WebhookFailures:      r.WebhookFailures,
		LastWebhookError:     r.LastWebhookError,
		LastWebhookSuccessAt: r.LastWebhookSuccessAt,
		LastResponseTimeMs:   r.LastResponseTimeMs,
		AvgResponseTimeMs:    r.AvgResponseTimeMs,
		WebhookSuccessCount:  r.WebhookSuccessCount,
		APIKeyHash:           r.APIKeyHash,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}

func (g *MongoGateway) CreateAgent(ctx context.Context, a *domain.Agent) error {
	_, err := g.col("agents").InsertOne(ctx, agentDoc(a))
	return err
}

func (g *MongoGateway) GetAgent(ctx context.Context, agentID string) (*domain.Agent, error) {
	var row agentRow
	err := g.col("agents").FindOne(ctx, bson.M{"_id": agentID}).Decode(&row)
	if isNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	a := row.toDomain()
	return &a, nil
}

func (g *MongoGateway) GetAgentByAPIKeyHash(ctx context.Context, hash string) (*domain.Agent, error) {
	var row agentRow
	err := g.col("agents").FindOne(ctx, bson.M{"api_key_hash": hash}).Decode(&row)
	if isNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent by api key: %w", err)
	}
	a := row.toDomain()
	return &a, nil
}

func (g *MongoGateway) UpdateAgent(ctx context.Context, a *domain.Agent) error {
	res, err := g.col("agents").ReplaceOne(ctx, bson.M{"_id": a.ID}, agentDoc(a))
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *MongoGateway) ListAgentsByStatus(ctx context.Context, status domain.AgentStatus, limit int) ([]domain.Agent, error) {
	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := g.col("agents").Find(ctx, bson.M{"status": string(status)}, opts)
	if err != nil {
		return nil, fmt.Errorf("list agents by status: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []agentRow
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode agents: %w", err)
	}
	out := make([]domain.Agent, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (g *MongoGateway) ListLeaderboard(ctx context.Context, limit int) ([]domain.Agent, error) {
	opts := options.Find().SetSort(bson.D{{Key: "cash", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := g.col("agents").Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list leaderboard: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []agentRow
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode leaderboard: %w", err)
	}
	out := make([]domain.Agent, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	// cash sort above is lexicographic on the string; re-sort numerically
	// so deep-pocketed agents aren't misranked by string comparison.
	sortAgentsByCashDesc(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortAgentsByCashDesc(agents []domain.Agent) {
	for i := 1; i < len(agents); i++ {
		j := i
		for j > 0 && agents[j].Cash.GreaterThan(agents[j-1].Cash) {
			agents[j], agents[j-1] = agents[j-1], agents[j]
			j--
		}
	}
}

// --- Orders ---

func orderDoc(o *domain.Order) bson.M {
	return bson.M{
		"_id":             o.ID,
		"agent_id":        o.AgentID,
		"symbol":          o.Symbol,
		"side":            string(o.Side),
		"type":            string(o.Type),
		"quantity":        o.Quantity,
		"filled_quantity": o.FilledQuantity,
		"price":           o.Price.String(),
		"status":          string(o.Status),
		"tick_submitted":  o.TickSubmitted,
		"created_at":      o.CreatedAt,
		"updated_at":      o.UpdatedAt,
	}
}

type orderRow struct {
	ID             string    `bson:"_id"`
	AgentID        string    `bson:"agent_id"`
	Symbol         string    `bson:"symbol"`
	Side           string    `bson:"side"`
	Type           string    `bson:"type"`
	Quantity       int64     `bson:"quantity"`
	FilledQuantity int64     `bson:"filled_quantity"`
	Price          string    `bson:"price"`
	Status         string    `bson:"status"`
	TickSubmitted  uint64    `bson:"tick_submitted"`
	CreatedAt      time.Time `bson:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at"`
}

func (r orderRow) toDomain() domain.Order {
	return domain.Order{
		ID:             r.ID,
		AgentID:        r.AgentID,
		Symbol:         r.Symbol,
		Side:           domain.Side(r.Side),
		Type:           domain.OrderType(r.Type),
		Quantity:       r.Quantity,
		FilledQuantity: r.FilledQuantity,
		Price:          parseDec(r.Price),
		Status:         domain.OrderStatus(r.Status),
		TickSubmitted:  r.TickSubmitted,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func (g *MongoGateway) CreateOrder(ctx context.Context, o *domain.Order) error {
	_, err := g.col("orders").InsertOne(ctx, orderDoc(o))
	return err
}

func (g *MongoGateway) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	var row orderRow
	err := g.col("orders").FindOne(ctx, bson.M{"_id": orderID}).Decode(&row)
	if isNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	o := row.toDomain()
	return &o, nil
}

func (g *MongoGateway) UpdateOrder(ctx context.Context, o *domain.Order) error {
	res, err := g.col("orders").ReplaceOne(ctx, bson.M{"_id": o.ID}, orderDoc(o))
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *MongoGateway) ListOpenOrdersForAgent(ctx context.Context, agentID string) ([]domain.Order, error) {
	filter := bson.M{
		"agent_id": agentID,
		"status":   bson.M{"$in": []string{string(domain.OrderPending), string(domain.OrderOpen), string(domain.OrderPartial)}},
	}
	cursor, err := g.col("orders").Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list open orders: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []orderRow
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode orders: %w", err)
	}
	out := make([]domain.Order, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// --- Trades ---

func tradeDoc(t domain.Trade) bson.M {
	return bson.M{
		"_id":             t.ID,
		"symbol":          t.Symbol,
		"buyer_id":        t.BuyerID,
		"seller_id":       t.SellerID,
		"buyer_order_id":  t.BuyerOrderID,
		"seller_order_id": t.SellerOrderID,
		"price":           t.Price.String(),
		"quantity":        t.Quantity,
		"tick":            t.Tick,
		"executed_at":     t.ExecutedAt,
	}
}

type tradeRow struct {
	ID            string    `bson:"_id"`
	Symbol        string    `bson:"symbol"`
	BuyerID       string    `bson:"buyer_id"`
	SellerID      string    `bson:"seller_id"`
	BuyerOrderID  string    `bson:"buyer_order_id"`
	SellerOrderID string    `bson:"seller_order_id"`
	Price         string    `bson:"price"`
	Quantity      int64     `bson:"quantity"`
	Tick          uint64    `bson:"tick"`
	ExecutedAt    time.Time `bson:"executed_at"`
}

func (r tradeRow) toDomain() domain.Trade {
	return domain.Trade{
		ID:            r.ID,
		Symbol:        r.Symbol,
		BuyerID:       r.BuyerID,
		SellerID:      r.SellerID,
		BuyerOrderID:  r.BuyerOrderID,
		SellerOrderID: r.SellerOrderID,
		Price:         parseDec(r.Price),
		Quantity:      r.Quantity,
		Tick:          r.Tick,
		ExecutedAt:    r.ExecutedAt,
	}
}

func (g *MongoGateway) InsertTrades(ctx context.Context, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	docs := make([]any, len(trades))
	for i, t := range trades {
		docs[i] = tradeDoc(t)
	}
	_, err := g.col("trades").InsertMany(ctx, docs)
	return err
}

func (g *MongoGateway) ListTradesForSymbol(ctx context.Context, symbol string, limit int) ([]domain.Trade, error) {
	opts := options.Find().SetSort(bson.D{{Key: "executed_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := g.col("trades").Find(ctx, bson.M{"symbol": symbol}, opts)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []tradeRow
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode trades: %w", err)
	}
	out := make([]domain.Trade, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// --- Holdings ---

func holdingDoc(h *domain.Holding) bson.M {
	return bson.M{
		"agent_id": h.AgentID,
		"symbol":   h.Symbol,
		"quantity": h.Quantity,
		"avg_cost": h.AvgCost.String(),
	}
}

type holdingRow struct {
	AgentID  string `bson:"agent_id"`
	Symbol   string `bson:"symbol"`
	Quantity int64  `bson:"quantity"`
	AvgCost  string `bson:"avg_cost"`
}

func (r holdingRow) toDomain() domain.Holding {
	return domain.Holding{
		AgentID:  r.AgentID,
		Symbol:   r.Symbol,
		Quantity: r.Quantity,
		AvgCost:  parseDec(r.AvgCost),
	}
}

func (g *MongoGateway) GetHolding(ctx context.Context, agentID, symbol string) (*domain.Holding, error) {
	var row holdingRow
	err := g.col("holdings").FindOne(ctx, bson.M{"agent_id": agentID, "symbol": symbol}).Decode(&row)
	if isNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get holding: %w", err)
	}
	h := row.toDomain()
	return &h, nil
}

func (g *MongoGateway) UpsertHolding(ctx context.Context, h *domain.Holding) error {
	_, err := g.col("holdings").UpdateOne(ctx,
		bson.M{"agent_id": h.AgentID, "symbol": h.Symbol},
		bson.M{"$set": holdingDoc(h)},
		options.UpdateOne().SetUpsert(true),
	)
	return err
}

func (g *MongoGateway) ListHoldingsForAgent(ctx context.Context, agentID string) ([]domain.Holding, error) {
	cursor, err := g.col("holdings").Find(ctx, bson.M{"agent_id": agentID})
	if err != nil {
		return nil, fmt.Errorf("list holdings: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []holdingRow
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode holdings: %w", err)
	}
	out := make([]domain.Holding, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// --- Companies ---

func companyDoc(c *domain.Company) bson.M {
	return bson.M{
		"_id":                  c.Symbol,
		"name":                 c.Name,
		"sector":               c.Sector,
		"current_price":        c.CurrentPrice.String(),
		"previous_close":       c.PreviousClose.String(),
		"open":                 c.Open.String(),
		"high":                 c.High.String(),
		"low":                  c.Low.String(),
		"market_cap":           c.MarketCap.String(),
		"shares_outstanding":   c.SharesOutstanding,
		"volatility":           c.Volatility,
		"beta":                 c.Beta,
		"sentiment":            c.Sentiment,
		"is_public":            c.IsPublic,
		"last_tick_updated_at": c.LastTickUpdatedAt,
	}
}

type companyRow struct {
	Symbol            string  `bson:"_id"`
	Name              string  `bson:"name"`
	Sector            string  `bson:"sector"`
	CurrentPrice      string  `bson:"current_price"`
	PreviousClose     string  `bson:"previous_close"`
	Open              string  `bson:"open"`
	High              string  `bson:"high"`
	Low               string  `bson:"low"`
	MarketCap         string  `bson:"market_cap"`
	SharesOutstanding int64   `bson:"shares_outstanding"`
	Volatility        float64 `bson:"volatility"`
	Beta              float64 `bson:"beta"`
	Sentiment         float64 `bson:"sentiment"`
	IsPublic          bool    `bson:"is_public"`
	LastTickUpdatedAt uint64  `bson:"last_tick_updated_at"`
}

func (r companyRow) toDomain() domain.Company {
	return domain.Company{
		Symbol:            r.Symbol,
		Name:              r.Name,
		Sector:            r.Sector,
		CurrentPrice:      parseDec(r.CurrentPrice),
		PreviousClose:     parseDec(r.PreviousClose),
		Open:              parseDec(r.Open),
		High:              parseDec(r.High),
		Low:               parseDec(r.Low),
		MarketCap:         parseDec(r.MarketCap),
		SharesOutstanding: r.SharesOutstanding,
		Volatility:        r.Volatility,
		Beta:              r.Beta,
		Sentiment:         r.Sentiment,
		IsPublic:          r.IsPublic,
		LastTickUpdatedAt: r.LastTickUpdatedAt,
	}
}

func (g *MongoGateway) GetCompany(ctx context.Context, symbol string) (*domain.Company, error) {
	var row companyRow
	err := g.col("companies").FindOne(ctx, bson.M{"_id": symbol}).Decode(&row)
	if isNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get company: %w", err)
	}
	c := row.toDomain()
	return &c, nil
}

func (g *MongoGateway) ListCompanies(ctx context.Context) ([]domain.Company, error) {
	cursor, err := g.col("companies").Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []companyRow
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode companies: %w", err)
	}
	out := make([]domain.Company, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (g *MongoGateway) UpdateCompany(ctx context.Context, c *domain.Company) error {
	_, err := g.col("companies").UpdateOne(ctx,
		bson.M{"_id": c.Symbol},
		bson.M{"$set": companyDoc(c)},
		options.UpdateOne().SetUpsert(true),
	)
	return err
}

func (g *MongoGateway) SeedCompaniesIfEmpty(ctx context.Context, seed []domain.Company) error {
	count, err := g.col("companies").CountDocuments(ctx, bson.M{})
	if err != nil {
		return fmt.Errorf("count companies: %w", err)
	}
	if count > 0 {
		return nil
	}
	docs := make([]any, len(seed))
	for i := range seed {
		docs[i] = companyDoc(&seed[i])
	}
	if len(docs) == 0 {
		return nil
	}
	_, err = g.col("companies").InsertMany(ctx, docs)
	return err
}

// --- News ---

func newsDoc(n *domain.NewsArticle) bson.M {
	return bson.M{
		"_id":         n.ID,
		"tick":        n.Tick,
		"headline":    n.Headline,
		"content":     n.Content,
		"category":    n.Category,
		"sentiment":   n.Sentiment,
		"symbols":     n.Symbols,
		"agent_ids":   n.AgentIDs,
		"is_breaking": n.IsBreaking,
		"created_at":  n.CreatedAt,
	}
}

func (g *MongoGateway) CreateNews(ctx context.Context, n *domain.NewsArticle) error {
	_, err := g.col("news").InsertOne(ctx, newsDoc(n))
	return err
}

func (g *MongoGateway) ListNews(ctx context.Context, limit int) ([]domain.NewsArticle, error) {
	opts := options.Find().SetSort(bson.D{{Key: "tick", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := g.col("news").Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list news: %w", err)
	}
	defer cursor.Close(ctx)

	var out []domain.NewsArticle
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode news: %w", err)
	}
	return out, nil
}

// --- Messages ---

func (g *MongoGateway) CreateMessage(ctx context.Context, m *domain.Message) error {
	_, err := g.col("messages").InsertOne(ctx, m)
	return err
}

func (g *MongoGateway) FindAllianceProposalMessage(ctx context.Context, allianceID, recipientID string) (*domain.Message, error) {
	filter := bson.M{
		"channel":      "alliance",
		"recipient_id": recipientID,
		"subject":      bson.M{"$regex": allianceID},
	}
	var m domain.Message
	err := g.col("messages").FindOne(ctx, filter, options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})).Decode(&m)
	if isNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find alliance proposal message: %w", err)
	}
	return &m, nil
}

// --- Alliances ---

func allianceDoc(a *domain.Alliance) bson.M {
	doc := bson.M{
		"_id":         a.ID,
		"proposer_id": a.ProposerID,
		"partner_id":  a.PartnerID,
		"status":      string(a.Status),
		"created_at":  a.CreatedAt,
		"updated_at":  a.UpdatedAt,
	}
	if a.DissolutionReason != nil {
		doc["dissolution_reason"] = *a.DissolutionReason
	}
	return doc
}

func (g *MongoGateway) CreateAlliance(ctx context.Context, a *domain.Alliance) error {
	_, err := g.col("alliances").InsertOne(ctx, allianceDoc(a))
	return err
}

func (g *MongoGateway) GetAlliance(ctx context.Context, allianceID string) (*domain.Alliance, error) {
	var a domain.Alliance
	err := g.col("alliances").FindOne(ctx, bson.M{"_id": allianceID}).Decode(&a)
	if isNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get alliance: %w", err)
	}
	return &a, nil
}

func (g *MongoGateway) UpdateAlliance(ctx context.Context, a *domain.Alliance) error {
	res, err := g.col("alliances").ReplaceOne(ctx, bson.M{"_id": a.ID}, allianceDoc(a))
	if err != nil {
		return fmt.Errorf("update alliance: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Investigations ---

func investigationDoc(inv *domain.Investigation) bson.M {
	doc := bson.M{
		"_id":             inv.ID,
		"target_agent_id": inv.TargetAgentID,
		"crime_type":      string(inv.CrimeType),
		"status":          string(inv.Status),
		"evidence":        inv.Evidence,
		"tick_opened":     inv.TickOpened,
		"created_at":      inv.CreatedAt,
	}
	if inv.TickCharged != nil {
		doc["tick_charged"] = *inv.TickCharged
	}
	if inv.FineAmount != nil {
		doc["fine_amount"] = inv.FineAmount.String()
	}
	if inv.SentenceYears != nil {
		doc["sentence_years"] = *inv.SentenceYears
	}
	if inv.ImprisonedUntilTick != nil {
		doc["imprisoned_until_tick"] = *inv.ImprisonedUntilTick
	}
	return doc
}

type investigationRow struct {
	ID                  string    `bson:"_id"`
	TargetAgentID       string    `bson:"target_agent_id"`
	CrimeType           string    `bson:"crime_type"`
	Status              string    `bson:"status"`
	Evidence            string    `bson:"evidence"`
	TickOpened          uint64    `bson:"tick_opened"`
	TickCharged         *uint64   `bson:"tick_charged,omitempty"`
	FineAmount          *string   `bson:"fine_amount,omitempty"`
	SentenceYears       *int      `bson:"sentence_years,omitempty"`
	ImprisonedUntilTick *uint64   `bson:"imprisoned_until_tick,omitempty"`
	CreatedAt           time.Time `bson:"created_at"`
}

func (r investigationRow) toDomain() domain.Investigation {
	inv := domain.Investigation{
		ID:                  r.ID,
		TargetAgentID:       r.TargetAgentID,
		CrimeType:           domain.CrimeType(r.CrimeType),
		Status:              domain.InvestigationStatus(r.Status),
		Evidence:            r.Evidence,
		TickOpened:          r.TickOpened,
		TickCharged:         r.TickCharged,
		SentenceYears:       r.SentenceYears,
		ImprisonedUntilTick: r.ImprisonedUntilTick,
		CreatedAt:           r.CreatedAt,
	}
	if r.FineAmount != nil {
		d := parseDec(*r.FineAmount)
		inv.FineAmount = &d
	}
	return inv
}

func (g *MongoGateway) CreateInvestigation(ctx context.Context, inv *domain.Investigation) error {
	_, err := g.col("investigations").InsertOne(ctx, investigationDoc(inv))
	return err
}

func (g *MongoGateway) GetOpenInvestigationForAgent(ctx context.Context, agentID string) (*domain.Investigation, error) {
	var row investigationRow
	err := g.col("investigations").FindOne(ctx, bson.M{
		"target_agent_id": agentID,
		"status":          string(domain.InvestigationOpen),
	}).Decode(&row)
	if isNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get open investigation: %w", err)
	}
	inv := row.toDomain()
	return &inv, nil
}

func (g *MongoGateway) ListMostWanted(ctx context.Context, limit int) ([]domain.Investigation, error) {
	filter := bson.M{"status": bson.M{"$in": []string{string(domain.InvestigationOpen), string(domain.InvestigationCharged)}}}
	opts := options.Find().SetSort(bson.D{{Key: "tick_opened", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := g.col("investigations").Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list most wanted: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []investigationRow
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode investigations: %w", err)
	}
	out := make([]domain.Investigation, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (g *MongoGateway) ListImprisoned(ctx context.Context, limit int) ([]domain.Agent, error) {
	return g.ListAgentsByStatus(ctx, domain.AgentImprisoned, limit)
}

// --- Actions (audit log) ---

func (g *MongoGateway) LogAction(ctx context.Context, a *domain.Action) error {
	_, err := g.col("actions").InsertOne(ctx, a)
	return err
}

// --- World state ---

type worldStateRow struct {
	ID            string    `bson:"_id"`
	Tick          uint64    `bson:"tick"`
	MarketOpen    bool      `bson:"market_open"`
	Regime        string    `bson:"regime"`
	InterestRate  float64   `bson:"interest_rate"`
	InflationRate float64   `bson:"inflation_rate"`
	GDPGrowth     float64   `bson:"gdp_growth"`
	LastTickAt    time.Time `bson:"last_tick_at"`
}

const worldStateSingletonID = "singleton"

func (g *MongoGateway) GetWorldState(ctx context.Context) (*domain.WorldState, error) {
	var row worldStateRow
	err := g.col("world_state").FindOne(ctx, bson.M{"_id": worldStateSingletonID}).Decode(&row)
	if isNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get world state: %w", err)
	}
	return &domain.WorldState{
		Tick:          row.Tick,
		MarketOpen:    row.MarketOpen,
		Regime:        domain.Regime(row.Regime),
		InterestRate:  row.InterestRate,
		InflationRate: row.InflationRate,
		GDPGrowth:     row.GDPGrowth,
		LastTickAt:    row.LastTickAt,
	}, nil
}

func (g *MongoGateway) SaveWorldState(ctx context.Context, w *domain.WorldState) error {
	doc := bson.M{
		"_id":            worldStateSingletonID,
		"tick":           w.Tick,
		"market_open":    w.MarketOpen,
		"regime":         string(w.Regime),
		"interest_rate":  w.InterestRate,
		"inflation_rate": w.InflationRate,
		"gdp_growth":     w.GDPGrowth,
		"last_tick_at":   w.LastTickAt,
	}
	return g.withRetry(ctx, func() error {
		_, err := g.col("world_state").UpdateOne(ctx,
			bson.M{"_id": worldStateSingletonID},
			bson.M{"$set": doc},
			options.UpdateOne().SetUpsert(true),
		)
		return err
	})
}

// --- Tick events ---

// priceUpdateDoc/tickEventDoc carry decimal fields as strings explicitly;
// Trade and PriceUpdate both hold decimal.Decimal, which the default
// struct codec cannot marshal (its fields are unexported), so
// TickEventRecord is never passed to the driver as a bare struct.
func priceUpdateDoc(p domain.PriceUpdate) bson.M {
	return bson.M{
		"symbol":        p.Symbol,
		"old_price":     p.OldPrice.String(),
		"new_price":     p.NewPrice.String(),
		"change":        p.Change.String(),
		"change_percent": p.ChangePercent,
		"volume":        p.Volume,
	}
}

type priceUpdateRow struct {
	Symbol        string `bson:"symbol"`
	OldPrice      string `bson:"old_price"`
	NewPrice      string `bson:"new_price"`
	Change        string `bson:"change"`
	ChangePercent float64 `bson:"change_percent"`
	Volume        int64  `bson:"volume"`
}

func (r priceUpdateRow) toDomain() domain.PriceUpdate {
	return domain.PriceUpdate{
		Symbol:        r.Symbol,
		OldPrice:      parseDec(r.OldPrice),
		NewPrice:      parseDec(r.NewPrice),
		Change:        parseDec(r.Change),
		ChangePercent: r.ChangePercent,
		Volume:        r.Volume,
	}
}

func tickEventDoc(r *domain.TickEventRecord) bson.M {
	trades := make([]bson.M, len(r.Trades))
	for i, t := range r.Trades {
		trades[i] = tradeDoc(t)
	}
	prices := make([]bson.M, len(r.PriceUpdates))
	for i, p := range r.PriceUpdates {
		prices[i] = priceUpdateDoc(p)
	}
	return bson.M{
		"_id":           r.Tick,
		"timestamp":     r.Timestamp,
		"trades":        trades,
		"news":          r.News,
		"price_updates": prices,
	}
}

type tickEventRow struct {
	Tick         uint64               `bson:"_id"`
	Timestamp    time.Time            `bson:"timestamp"`
	Trades       []tradeRow           `bson:"trades"`
	News         []domain.NewsArticle `bson:"news"`
	PriceUpdates []priceUpdateRow     `bson:"price_updates"`
}

func (r tickEventRow) toDomain() domain.TickEventRecord {
	trades := make([]domain.Trade, len(r.Trades))
	for i, t := range r.Trades {
		trades[i] = t.toDomain()
	}
	prices := make([]domain.PriceUpdate, len(r.PriceUpdates))
	for i, p := range r.PriceUpdates {
		prices[i] = p.toDomain()
	}
	return domain.TickEventRecord{
		Tick:         r.Tick,
		Timestamp:    r.Timestamp,
		Trades:       trades,
		News:         r.News,
		PriceUpdates: prices,
	}
}

func (g *MongoGateway) SaveTickEventRecord(ctx context.Context, r *domain.TickEventRecord) error {
	_, err := g.col("tick_events").UpdateOne(ctx,
		bson.M{"_id": r.Tick},
		bson.M{"$set": tickEventDoc(r)},
		options.UpdateOne().SetUpsert(true),
	)
	return err
}

func (g *MongoGateway) GetTickEventRecords(ctx context.Context, fromTick, toTick uint64) ([]domain.TickEventRecord, error) {
	filter := bson.M{"_id": bson.M{"$gt": fromTick, "$lte": toTick}}
	cursor, err := g.col("tick_events").Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("get tick event records: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []tickEventRow
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode tick event records: %w", err)
	}
	out := make([]domain.TickEventRecord, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

func (g *MongoGateway) OldestTickEventRecord(ctx context.Context) (uint64, bool, error) {
	var row struct {
		Tick uint64 `bson:"_id"`
	}
	err := g.col("tick_events").FindOne(ctx, bson.M{}, options.FindOne().SetSort(bson.D{{Key: "_id", Value: 1}})).Decode(&row)
	if isNotFound(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("oldest tick event record: %w", err)
	}
	return row.Tick, true, nil
}

func (g *MongoGateway) DeleteTickEventRecordsBefore(ctx context.Context, tick uint64) error {
	_, err := g.col("tick_events").DeleteMany(ctx, bson.M{"_id": bson.M{"$lt": tick}})
	return err
}

// --- Settlement ---

// SettleFills applies a batch of fills' cash movements transactionally:
// each fill debits the buyer and credits the seller by the trade notional.
// Grounded on teacher's Snapshotter.Save's use of
// mongo.Client.StartSession().WithTransaction for atomic multi-document
// writes.
func (g *MongoGateway) SettleFills(ctx context.Context, fills []Settlement) error {
	if len(fills) == 0 {
		return nil
	}
	return g.withRetry(ctx, func() error {
		session, err := g.store.client.StartSession()
		if err != nil {
			return fmt.Errorf("start session: %w", err)
		}
		defer session.EndSession(ctx)

		_, err = session.WithTransaction(ctx, func(sc context.Context) (any, error) {
			for _, f := range fills {
				debit := parseDec(f.BuyerDebit)
				credit := parseDec(f.SellerCredit)

				if err := g.adjustCash(sc, f.Trade.BuyerID, debit.Neg()); err != nil {
					return nil, fmt.Errorf("debit buyer %s: %w", f.Trade.BuyerID, err)
				}
				if err := g.adjustCash(sc, f.Trade.SellerID, credit); err != nil {
					return nil, fmt.Errorf("credit seller %s: %w", f.Trade.SellerID, err)
				}
			}
			docs := make([]any, len(fills))
			for i, f := range fills {
				docs[i] = tradeDoc(f.Trade)
			}
			if _, err := g.col("trades").InsertMany(sc, docs); err != nil {
				return nil, fmt.Errorf("insert settled trades: %w", err)
			}
			return nil, nil
		})
		if err != nil {
			return fmt.Errorf("settle fills transaction: %w", err)
		}
		return nil
	})
}

// adjustCash reads-then-writes an agent's cash inside the active session
// context sc, since the decimal-as-string encoding can't use $inc.
func (g *MongoGateway) adjustCash(sc context.Context, agentID string, delta decimal.Decimal) error {
	var row agentRow
	if err := g.col("agents").FindOne(sc, bson.M{"_id": agentID}).Decode(&row); err != nil {
		if isNotFound(err) {
			return nil // agent may have left the simulation; settlement still records the trade
		}
		return err
	}
	newCash := parseDec(row.Cash).Add(delta)
	_, err := g.col("agents").UpdateOne(sc,
		bson.M{"_id": agentID},
		bson.M{"$set": bson.M{"cash": newCash.String(), "updated_at": Now()}},
	)
	return err
}

func (g *MongoGateway) Close(ctx context.Context) error {
	return g.store.Close(ctx)
}
