package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// AssetClass discriminates instrument variants.
type AssetClass string

const (
	ClassStock     AssetClass = "stock"
	ClassETF       AssetClass = "etf"
	ClassBond      AssetClass = "bond"
	ClassCrypto    AssetClass = "crypto"
	ClassCommodity AssetClass = "commodity"
)

// Classes lists every asset class in table order.
var Classes = []AssetClass{ClassStock, ClassETF, ClassBond, ClassCrypto, ClassCommodity}

// Band applies Tick to prices strictly below Below. A zero Below is the
// open-ended top band.
type Band struct {
	Below decimal.Decimal `json:"below"`
	Tick  decimal.Decimal `json:"tick"`
}

// ClassParams are the per-class pricing and fee constants.
type ClassParams struct {
	BaseVolatility float64         `json:"baseVolatility"`
	MaxDaily       float64         `json:"maxDaily"`
	StuckChance    float64         `json:"stuckChance"`
	MinPrice       decimal.Decimal `json:"minPrice"`
	FeeRate        decimal.Decimal `json:"feeRate"`
	Bands          []Band          `json:"bands"`
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var (
	equityBands = []Band{
		{Below: dec("1"), Tick: dec("0.001")},
		{Below: dec("100"), Tick: dec("0.01")},
		{Below: dec("1000"), Tick: dec("0.05")},
		{Tick: dec("0.10")},
	}
	bondBands = []Band{
		{Below: dec("50"), Tick: dec("0.001")},
		{Tick: dec("0.01")},
	}
	cryptoBands = []Band{
		{Below: dec("1"), Tick: dec("0.0001")},
		{Below: dec("100"), Tick: dec("0.01")},
		{Below: dec("10000"), Tick: dec("0.1")},
		{Tick: dec("1")},
	}
	commodityBands = []Band{
		{Below: dec("10"), Tick: dec("0.001")},
		{Below: dec("1000"), Tick: dec("0.01")},
		{Tick: dec("0.1")},
	}
)

// Params returns the constants for class. Unknown classes are an error;
// callers validate universes before pricing, so reaching it is a bug.
func Params(class AssetClass) (ClassParams, error) {
	switch class {
	case ClassStock:
		return ClassParams{BaseVolatility: 0.0012, MaxDaily: 0.30, StuckChance: 0.30,
			MinPrice: dec("0.01"), FeeRate: dec("0.0015"), Bands: equityBands}, nil
	case ClassETF:
		return ClassParams{BaseVolatility: 0.0008, MaxDaily: 0.30, StuckChance: 0.30,
			MinPrice: dec("0.01"), FeeRate: dec("0.001"), Bands: equityBands}, nil
	case ClassBond:
		return ClassParams{BaseVolatility: 0.0002, MaxDaily: 0.05, StuckChance: 0.10,
			MinPrice: dec("1"), FeeRate: dec("0.0005"), Bands: bondBands}, nil
	case ClassCrypto:
		return ClassParams{BaseVolatility: 0.0030, MaxDaily: 0.50, StuckChance: 0.50,
			MinPrice: dec("0.0001"), FeeRate: dec("0.0025"), Bands: cryptoBands}, nil
	case ClassCommodity:
		return ClassParams{BaseVolatility: 0.0010, MaxDaily: 0.20, StuckChance: 0.25,
			MinPrice: dec("0.01"), FeeRate: dec("0.002"), Bands: commodityBands}, nil
	}
	return ClassParams{}, fmt.Errorf("pricing: unknown asset class %q", class)
}

// MustParams is Params for classes known to be valid.
func MustParams(class AssetClass) ClassParams {
	p, err := Params(class)
	if err != nil {
		panic(err)
	}
	return p
}

// TickSize returns the tick that applies at price.
func (p ClassParams) TickSize(price decimal.Decimal) decimal.Decimal {
	for _, b := range p.Bands {
		if b.Below.IsZero() || price.LessThan(b.Below) {
			return b.Tick
		}
	}
	return p.Bands[len(p.Bands)-1].Tick
}

// Quantize rounds price half away from zero to a multiple of its band's tick.
func (p ClassParams) Quantize(price decimal.Decimal) decimal.Decimal {
	tick := p.TickSize(price)
	q := price.DivRound(tick, 0).Mul(tick)
	// Rounding up can land on the next band's lower edge; edges are
	// multiples of both neighbouring ticks, so one more pass is stable.
	if t := p.TickSize(q); !t.Equal(tick) {
		q = q.DivRound(t, 0).Mul(t)
	}
	return q
}

// OnTick reports whether price is an exact multiple of its band's tick.
func (p ClassParams) OnTick(price decimal.Decimal) bool {
	return price.Mod(p.TickSize(price)).IsZero()
}
