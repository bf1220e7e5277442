// Package symbol holds the static seed data for the simulation's tradable
// universe: 30 fictional companies across 7 sectors. Adapted from the
// teacher's internal/symbol/symbol.go, which described a read-only feed's
// fixed instrument list; here the same roster seeds the companies
// collection and internal/world's price engine for a market that agents
// actually trade in.
package symbol

import (
	"github.com/shopspring/decimal"
	"github.com/wallstreetsim/engine/internal/domain"
)

// seed is one row of static company seed data.
type seed struct {
	ticker     string
	name       string
	sector     string
	basePrice  float64
	volatility float64
	shares     int64
}

var seeds = []seed{
	// Tech — mid-high volatility
	{"NEXO", "Nexo Dynamics Inc", "Tech", 185.00, 1.4, 120_000_000},
	{"QBIT", "Qbit Quantum Corp", "Tech", 92.50, 1.6, 80_000_000},
	{"FLUX", "Flux Systems Ltd", "Tech", 310.00, 1.3, 45_000_000},
	{"SYNK", "Synk Networks Inc", "Tech", 67.25, 1.5, 200_000_000},
	{"PULS", "Puls Digital Corp", "Tech", 145.00, 1.2, 95_000_000},
	{"CYRA", "Cyra Robotics Inc", "Tech", 220.00, 1.7, 60_000_000},

	// Finance — low-mid volatility
	{"LEDG", "Ledger Capital Group", "Finance", 78.50, 0.8, 150_000_000},
	{"VALT", "Vault Securities Inc", "Finance", 125.00, 0.7, 110_000_000},
	{"CRDT", "Credt Financial Corp", "Finance", 52.00, 0.9, 220_000_000},
	{"MNTX", "Mintex Banking Corp", "Finance", 165.00, 0.6, 90_000_000},
	{"FNDX", "Fundex Asset Mgmt", "Finance", 88.75, 0.8, 130_000_000},

	// Healthcare — low volatility
	{"HELX", "Helix Biomedical Inc", "Healthcare", 195.00, 0.5, 70_000_000},
	{"CURA", "Cura Therapeutics", "Healthcare", 72.00, 0.6, 160_000_000},
	{"GENX", "GenX Genomics Corp", "Healthcare", 148.50, 0.7, 85_000_000},
	{"BIOS", "Bios Pharma Ltd", "Healthcare", 55.25, 0.5, 180_000_000},

	// Energy — mid volatility
	{"VOLT", "Volt Energy Corp", "Energy", 98.00, 1.1, 175_000_000},
	{"SOLR", "Solaris Power Inc", "Energy", 42.50, 1.0, 260_000_000},
	{"FUSE", "Fuse Petroleum Ltd", "Energy", 175.00, 1.2, 65_000_000},
	{"WATT", "Watt Grid Systems", "Energy", 63.00, 1.0, 190_000_000},

	// Consumer — low-mid volatility
	{"BRND", "Brand Global Inc", "Consumer", 112.00, 0.8, 140_000_000},
	{"LUXE", "Luxe Retail Corp", "Consumer", 285.00, 0.7, 55_000_000},
	{"DLVR", "Deliver Express Inc", "Consumer", 78.00, 0.9, 165_000_000},
	{"RSTK", "Restock Supply Corp", "Consumer", 45.50, 0.8, 210_000_000},

	// Industrial — mid volatility
	{"FORG", "Forge Manufacturing", "Industrial", 132.00, 1.0, 100_000_000},
	{"BLDR", "Builder Heavy Ind", "Industrial", 88.00, 1.1, 145_000_000},
	{"MACH", "Mach Precision Corp", "Industrial", 205.00, 1.0, 70_000_000},
	{"ALOY", "Aloy Materials Inc", "Industrial", 56.75, 1.2, 195_000_000},

	// High-beta growth name — always the most active book
	{"BLITZ", "Blitz Trading Corp", "Tech", 125.00, 2.0, 300_000_000},

	// ETFs — low volatility
	{"MKTS", "Markets Broad ETF", "ETF", 350.00, 0.4, 500_000_000},
	{"GRWT", "Growth Select ETF", "ETF", 180.00, 0.5, 400_000_000},
}

// Seed returns the initial Company rows for a fresh simulation.
func Seed() []domain.Company {
	out := make([]domain.Company, 0, len(seeds))
	for _, s := range seeds {
		price := toDecimal(s.basePrice)
		out = append(out, domain.Company{
			Symbol:            s.ticker,
			Name:              s.name,
			Sector:            s.sector,
			CurrentPrice:      price,
			PreviousClose:     price,
			Open:              price,
			High:              price,
			Low:               price,
			MarketCap:         price.Mul(toDecimalInt(s.shares)),
			SharesOutstanding: s.shares,
			Volatility:        s.volatility,
			Beta:              s.volatility,
			IsPublic:          true,
		})
	}
	return out
}

func toDecimal(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func toDecimalInt(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

// Sectors returns the unique sector names in seed order.
func Sectors() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range seeds {
		if !seen[s.sector] {
			seen[s.sector] = true
			out = append(out, s.sector)
		}
	}
	return out
}
