// Package universe defines the tradable instrument set a season starts from
// and the fixed order in which instruments are priced each tick.
package universe

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atmx/score-verifier/internal/market"
	"github.com/atmx/score-verifier/internal/pricing"
)

var (
	ErrDuplicateID       = errors.New("universe: duplicate instrument id")
	ErrUnknownUnderlying = errors.New("universe: derived instrument references unknown base")
	ErrDerivedUnderlying = errors.New("universe: derived instrument references another derived instrument")
	ErrInvalidSpec       = errors.New("universe: invalid instrument spec")
)

// Spec is the serializable description of one instrument at tick 0.
type Spec struct {
	ID           uint32                `json:"id"`
	Symbol       string                `json:"symbol"`
	Class        pricing.AssetClass    `json:"class"`
	Price        decimal.Decimal       `json:"price"`
	Sector       market.Sector         `json:"sector,omitempty"`
	Fundamentals *pricing.Fundamentals `json:"fundamentals,omitempty"`
	Yield        float64               `json:"yield,omitempty"`
	Underlying   uint32                `json:"underlying,omitempty"`
	Leverage     float64               `json:"leverage,omitempty"`
}

func (s Spec) derived() bool { return s.Class == pricing.ClassETF && s.Underlying != 0 }

// Snapshot is a validated universe with its pricing order fixed.
type Snapshot struct {
	specs []Spec
}

// New validates specs and orders them: independent instruments by id, then
// derived funds by id.
func New(specs []Spec) (*Snapshot, error) {
	byID := make(map[uint32]Spec, len(specs))
	for _, s := range specs {
		if s.ID == 0 || s.Symbol == "" {
			return nil, fmt.Errorf("%w: id %d symbol %q", ErrInvalidSpec, s.ID, s.Symbol)
		}
		p, err := pricing.Params(s.Class)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
		}
		if s.Price.LessThan(p.MinPrice) || !p.OnTick(s.Price) {
			return nil, fmt.Errorf("%w: %s price %s off tick or below minimum", ErrInvalidSpec, s.Symbol, s.Price)
		}
		if _, dup := byID[s.ID]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateID, s.ID)
		}
		byID[s.ID] = s
	}
	for _, s := range specs {
		if !s.derived() {
			continue
		}
		base, ok := byID[s.Underlying]
		if !ok {
			return nil, fmt.Errorf("%w: %s -> %d", ErrUnknownUnderlying, s.Symbol, s.Underlying)
		}
		if base.derived() {
			return nil, fmt.Errorf("%w: %s -> %s", ErrDerivedUnderlying, s.Symbol, base.Symbol)
		}
	}

	ordered := append([]Spec(nil), specs...)
	sort.SliceStable(ordered, func(i, j int) bool {
		di, dj := ordered[i].derived(), ordered[j].derived()
		if di != dj {
			return !di
		}
		return ordered[i].ID < ordered[j].ID
	})
	return &Snapshot{specs: ordered}, nil
}

// Specs returns the instruments in pricing order.
func (s *Snapshot) Specs() []Spec {
	return append([]Spec(nil), s.specs...)
}

// IDs returns instrument ids in pricing order.
func (s *Snapshot) IDs() []uint32 {
	ids := make([]uint32, len(s.specs))
	for i, sp := range s.specs {
		ids[i] = sp.ID
	}
	return ids
}

// Build returns fresh tick-0 instruments in pricing order. Each call returns
// independent values.
func (s *Snapshot) Build() []pricing.Instrument {
	out := make([]pricing.Instrument, 0, len(s.specs))
	for _, sp := range s.specs {
		c := pricing.NewQuote(sp.ID, sp.Symbol, sp.Price)
		switch sp.Class {
		case pricing.ClassStock:
			st := &pricing.Stock{Quote: c, Sector: sp.Sector}
			if sp.Fundamentals != nil {
				st.Fundamentals = *sp.Fundamentals
			}
			out = append(out, st)
		case pricing.ClassETF:
			out = append(out, &pricing.ETF{Quote: c, Sector: sp.Sector, Underlying: sp.Underlying, Leverage: sp.Leverage})
		case pricing.ClassBond:
			out = append(out, &pricing.Bond{Quote: c, Yield: sp.Yield})
		case pricing.ClassCrypto:
			out = append(out, &pricing.Crypto{Quote: c})
		case pricing.ClassCommodity:
			out = append(out, &pricing.Commodity{Quote: c, Sector: sp.Sector})
		}
	}
	return out
}

func px(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// Default is the standard season universe.
func Default() *Snapshot {
	snap, err := New([]Spec{
		{ID: 1, Symbol: "NEXO", Class: pricing.ClassStock, Price: px("152.35"), Sector: market.SectorTech,
			Fundamentals: &pricing.Fundamentals{PE: 32, MarketCap: 850e9, DebtRatio: 0.25, Yield: 0.005}},
		{ID: 2, Symbol: "HELX", Class: pricing.ClassStock, Price: px("48.72"), Sector: market.SectorBio,
			Fundamentals: &pricing.Fundamentals{PE: 45, MarketCap: 1.5e9, DebtRatio: 0.4}},
		{ID: 3, Symbol: "VALT", Class: pricing.ClassStock, Price: px("87.10"), Sector: market.SectorFinance,
			Fundamentals: &pricing.Fundamentals{PE: 11, MarketCap: 120e9, DebtRatio: 0.7, Yield: 0.038}},
		{ID: 4, Symbol: "VOLT", Class: pricing.ClassStock, Price: px("63.40"), Sector: market.SectorEnergy,
			Fundamentals: &pricing.Fundamentals{PE: 9, MarketCap: 45e9, DebtRatio: 0.55, Yield: 0.062}},
		{ID: 5, Symbol: "FORG", Class: pricing.ClassStock, Price: px("24.15"), Sector: market.SectorSteel,
			Fundamentals: &pricing.Fundamentals{PE: 7, MarketCap: 800e6, DebtRatio: 0.82, Yield: 0.041}},
		{ID: 6, Symbol: "BRND", Class: pricing.ClassStock, Price: px("118.55"), Sector: market.SectorConsumer,
			Fundamentals: &pricing.Fundamentals{PE: 24, MarketCap: 210e9, DebtRatio: 0.35, Yield: 0.021}},
		{ID: 7, Symbol: "IDXM", Class: pricing.ClassETF, Price: px("412.80")},
		{ID: 8, Symbol: "TQQ3", Class: pricing.ClassETF, Price: px("61.25"), Sector: market.SectorTech,
			Underlying: 1, Leverage: 3},
		{ID: 9, Symbol: "SQQ1", Class: pricing.ClassETF, Price: px("33.90"), Sector: market.SectorTech,
			Underlying: 1, Leverage: -1},
		{ID: 10, Symbol: "GOVB", Class: pricing.ClassBond, Price: px("98.50"), Yield: 0.042},
		{ID: 11, Symbol: "BTCX", Class: pricing.ClassCrypto, Price: px("42000")},
		{ID: 12, Symbol: "GOLD", Class: pricing.ClassCommodity, Price: px("1950.0")},
	})
	if err != nil {
		panic(err)
	}
	return snap
}
