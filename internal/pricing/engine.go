package pricing

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/atmx/score-verifier/internal/market"
	"github.com/atmx/score-verifier/internal/prng"
)

// Config holds the pricing constants that are not per-class.
type Config struct {
	TrendWeight        float64   `json:"trendWeight"`
	SectorWeight       float64   `json:"sectorWeight"`
	MomentumCoeff      float64   `json:"momentumCoeff"`
	MomentumDecay      float64   `json:"momentumDecay"`
	TrackingError      float64   `json:"trackingError"`
	YieldSpreadFloor   float64   `json:"yieldSpreadFloor"`
	YieldSpreadCap     float64   `json:"yieldSpreadCap"`
	YieldDriftScale    float64   `json:"yieldDriftScale"`
	DebtRatioLimit     float64   `json:"debtRatioLimit"`
	ReferencePE        float64   `json:"referencePE"`
	MinPEFactor        float64   `json:"minPEFactor"`
	MaxPEFactor        float64   `json:"maxPEFactor"`
	MarketCapBands     []CapBand `json:"marketCapBands"`
	SmallCapMultiplier float64   `json:"smallCapMultiplier"`
}

// CapBand applies Multiplier to market caps strictly above Above.
type CapBand struct {
	Above      float64 `json:"above"`
	Multiplier float64 `json:"multiplier"`
}

// DefaultConfig returns the production pricing constants.
func DefaultConfig() Config {
	return Config{
		TrendWeight:      0.5,
		SectorWeight:     0.8,
		MomentumCoeff:    0.15,
		MomentumDecay:    0.9,
		TrackingError:    0.1,
		YieldSpreadFloor: 0.02,
		YieldSpreadCap:   0.05,
		YieldDriftScale:  0.05,
		DebtRatioLimit:   0.6,
		ReferencePE:      20,
		MinPEFactor:      0.8,
		MaxPEFactor:      1.5,
		MarketCapBands: []CapBand{
			{Above: 200e9, Multiplier: 0.8},
			{Above: 10e9, Multiplier: 0.9},
			{Above: 2e9, Multiplier: 1.0},
			{Above: 300e6, Multiplier: 1.2},
		},
		SmallCapMultiplier: 1.4,
	}
}

// Context is what NextPrice reads besides the instrument itself.
type Context struct {
	Market market.State
	// Moves holds this tick's fractional moves of instruments already priced.
	Moves map[uint32]float64
}

// Engine prices instruments. It holds no per-replay state.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

func (e *Engine) Config() Config { return e.cfg }

// NextPrice computes the instrument's price for this tick without modifying
// it. The result is always on-tick and at least the class minimum.
func (e *Engine) NextPrice(inst Instrument, ctx Context, rng *prng.Generator) decimal.Decimal {
	p := MustParams(inst.Class())
	c := inst.Common()
	price := c.Price.InexactFloat64()
	baseVol := p.BaseVolatility

	var change float64
	if etf, ok := inst.(*ETF); ok && etf.Derived() {
		tracking := float64(float64((rng.Float()-0.5)*e.cfg.TrackingError) * baseVol)
		change = float64(ctx.Moves[etf.Underlying]*etf.Leverage) + tracking
	} else {
		change = e.independentChange(inst, ctx.Market, baseVol, rng)
	}

	candidate := float64(price * (1 + change))
	if candidate <= 0 || math.IsNaN(candidate) || math.IsInf(candidate, 0) {
		return c.Price
	}

	open := c.DailyOpen.InexactFloat64()
	limit := float64(p.MaxDaily * ctx.Market.DailyLimitMultiplier())
	if outsideBand(candidate, open, limit) {
		return c.Price
	}

	next := p.Quantize(decimal.NewFromFloat(candidate))
	if next.Equal(c.Price) && change != 0 {
		if rng.Bool(p.StuckChance) {
			tick := p.TickSize(c.Price)
			stepped := c.Price.Add(tick)
			if change < 0 {
				stepped = c.Price.Sub(tick)
			}
			stepped = p.Quantize(stepped)
			if !outsideBand(stepped.InexactFloat64(), open, limit) && stepped.GreaterThanOrEqual(p.MinPrice) {
				next = stepped
			}
		}
	}
	if outsideBand(next.InexactFloat64(), open, limit) {
		next = c.Price
	}
	if next.LessThan(p.MinPrice) {
		next = p.MinPrice
	}
	return next
}

func (e *Engine) independentChange(inst Instrument, st market.State, baseVol float64, rng *prng.Generator) float64 {
	c := inst.Common()
	r1 := rng.Float()
	r2 := rng.Float()
	r3 := rng.Float()
	random := (r1 + r2 + r3 - 1.5) / 1.5

	change := float64(float64(float64(random*baseVol)*st.Volatility) * e.volatilityMultiplier(inst))
	change += float64((float64(st.Trend*e.cfg.TrendWeight) + float64(st.SectorTrend(SectorOf(inst))*e.cfg.SectorWeight)) * baseVol)
	change += e.yieldDrift(inst, st.Macro.InterestRate, baseVol)
	change += float64(float64(c.Momentum*e.cfg.MomentumCoeff) * baseVol)
	change += float64(st.NewsDrift(c.ID) * baseVol)
	return change
}

// volatilityMultiplier scales the random factor from stock fundamentals.
func (e *Engine) volatilityMultiplier(inst Instrument) float64 {
	s, ok := inst.(*Stock)
	if !ok {
		return 1
	}
	f := s.Fundamentals
	mult := 1.0
	if f.PE > 0 {
		mult = clamp(f.PE/e.cfg.ReferencePE, e.cfg.MinPEFactor, e.cfg.MaxPEFactor)
	}
	if f.MarketCap > 0 {
		capMult := e.cfg.SmallCapMultiplier
		for _, b := range e.cfg.MarketCapBands {
			if f.MarketCap > b.Above {
				capMult = b.Multiplier
				break
			}
		}
		mult = float64(mult * capMult)
	}
	if f.DebtRatio > e.cfg.DebtRatioLimit {
		mult = float64(mult * (1 + (f.DebtRatio - e.cfg.DebtRatioLimit)))
	}
	return mult
}

// yieldDrift adds a small positive drift when the instrument's yield
// comfortably exceeds the policy rate.
func (e *Engine) yieldDrift(inst Instrument, rate, baseVol float64) float64 {
	var yield float64
	switch v := inst.(type) {
	case *Stock:
		yield = v.Fundamentals.Yield
	case *Bond:
		yield = v.Yield
	default:
		return 0
	}
	spread := yield - rate
	if spread <= e.cfg.YieldSpreadFloor {
		return 0
	}
	excess := math.Min(spread-e.cfg.YieldSpreadFloor, e.cfg.YieldSpreadCap)
	return float64(float64(excess*e.cfg.YieldDriftScale) * baseVol)
}

// Apply moves inst to price and returns the fractional move. Daily extremes
// and momentum are updated.
func (e *Engine) Apply(inst Instrument, price decimal.Decimal) float64 {
	c := inst.Common()
	p := MustParams(inst.Class())

	var move float64
	if old := c.Price.InexactFloat64(); old > 0 {
		move = (price.InexactFloat64() - old) / old
	}
	c.Price = price
	if price.GreaterThan(c.DailyHigh) {
		c.DailyHigh = price
	}
	if price.LessThan(c.DailyLow) {
		c.DailyLow = price
	}
	norm := clamp(move/p.BaseVolatility, -1, 1)
	c.Momentum = float64(c.Momentum*e.cfg.MomentumDecay) + float64(norm*(1-e.cfg.MomentumDecay))
	return move
}

// RollDay opens a new trading day at the current price.
func RollDay(inst Instrument) {
	c := inst.Common()
	c.DailyOpen = c.Price
	c.DailyHigh = c.Price
	c.DailyLow = c.Price
}

func outsideBand(price, open, limit float64) bool {
	if open <= 0 {
		return false
	}
	return math.Abs(price-open)/open > limit
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
