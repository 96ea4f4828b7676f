// Package pricing computes per-tick instrument prices.
//
// Instruments are a closed set of variants keyed by asset class. Prices are
// decimal multiples of the class's banded tick size; intermediate moves are
// float64 with every product wrapped in an explicit conversion so that no
// platform fuses it into a multiply-add.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/score-verifier/internal/market"
)

// Quote is the state shared by every instrument variant.
type Quote struct {
	ID        uint32          `json:"id"`
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	BasePrice decimal.Decimal `json:"basePrice"`
	DailyOpen decimal.Decimal `json:"dailyOpen"`
	DailyHigh decimal.Decimal `json:"dailyHigh"`
	DailyLow  decimal.Decimal `json:"dailyLow"`
	Momentum  float64         `json:"momentum"`
}

// Instrument is implemented only by the variants in this package.
type Instrument interface {
	Class() AssetClass
	Common() *Quote
	clone() Instrument
}

// Fundamentals drive the stock volatility multiplier.
type Fundamentals struct {
	PE        float64 `json:"pe"`
	MarketCap float64 `json:"marketCap"`
	DebtRatio float64 `json:"debtRatio"`
	Yield     float64 `json:"yield"`
}

type Stock struct {
	Quote
	Sector       market.Sector
	Fundamentals Fundamentals
}

// ETF tracks a basket. When Underlying is non-zero the fund is derived: its
// move is the underlying's move this tick times Leverage plus tracking error.
type ETF struct {
	Quote
	Sector     market.Sector
	Underlying uint32
	Leverage   float64
}

// Derived reports whether the fund is priced from another instrument.
func (e *ETF) Derived() bool { return e.Underlying != 0 }

type Bond struct {
	Quote
	Yield float64
}

type Crypto struct {
	Quote
}

type Commodity struct {
	Quote
	Sector market.Sector
}

func (s *Stock) Class() AssetClass     { return ClassStock }
func (e *ETF) Class() AssetClass       { return ClassETF }
func (b *Bond) Class() AssetClass      { return ClassBond }
func (c *Crypto) Class() AssetClass    { return ClassCrypto }
func (c *Commodity) Class() AssetClass { return ClassCommodity }

func (s *Stock) Common() *Quote     { return &s.Quote }
func (e *ETF) Common() *Quote       { return &e.Quote }
func (b *Bond) Common() *Quote      { return &b.Quote }
func (c *Crypto) Common() *Quote    { return &c.Quote }
func (c *Commodity) Common() *Quote { return &c.Quote }

func (s *Stock) clone() Instrument     { cp := *s; return &cp }
func (e *ETF) clone() Instrument       { cp := *e; return &cp }
func (b *Bond) clone() Instrument      { cp := *b; return &cp }
func (c *Crypto) clone() Instrument    { cp := *c; return &cp }
func (c *Commodity) clone() Instrument { cp := *c; return &cp }

// Clone deep-copies an instrument. All variant fields are values.
func Clone(inst Instrument) Instrument {
	return inst.clone()
}

// SectorOf returns the instrument's sector, empty if it has none.
func SectorOf(inst Instrument) market.Sector {
	switch v := inst.(type) {
	case *Stock:
		return v.Sector
	case *ETF:
		return v.Sector
	case *Commodity:
		return v.Sector
	default:
		return ""
	}
}

// NewQuote opens a fresh day at price.
func NewQuote(id uint32, symbol string, price decimal.Decimal) Quote {
	return Quote{
		ID:        id,
		Symbol:    symbol,
		Price:     price,
		BasePrice: price,
		DailyOpen: price,
		DailyHigh: price,
		DailyLow:  price,
	}
}
