package pricing

import (
	"fmt"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"github.com/atmx/score-verifier/internal/market"
	"github.com/atmx/score-verifier/internal/prng"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newInstrument(class AssetClass, price decimal.Decimal) Instrument {
	c := NewQuote(1, "TEST", price)
	switch class {
	case ClassStock:
		return &Stock{Quote: c, Sector: market.SectorTech,
			Fundamentals: Fundamentals{PE: 35, MarketCap: 1e9, DebtRatio: 0.8}}
	case ClassETF:
		return &ETF{Quote: c}
	case ClassBond:
		return &Bond{Quote: c, Yield: 0.07}
	case ClassCrypto:
		return &Crypto{Quote: c}
	default:
		return &Commodity{Quote: c}
	}
}

func TestTickSize_Bands(t *testing.T) {
	tests := []struct {
		class AssetClass
		price string
		want  string
	}{
		{ClassStock, "0.5", "0.001"},
		{ClassStock, "1", "0.01"},
		{ClassStock, "99.99", "0.01"},
		{ClassStock, "100", "0.05"},
		{ClassStock, "1000", "0.10"},
		{ClassETF, "250", "0.05"},
		{ClassBond, "49.999", "0.001"},
		{ClassBond, "98.5", "0.01"},
		{ClassCrypto, "0.5", "0.0001"},
		{ClassCrypto, "42000", "1"},
		{ClassCommodity, "9.5", "0.001"},
		{ClassCommodity, "1950", "0.1"},
	}
	for _, tt := range tests {
		got := MustParams(tt.class).TickSize(d(tt.price))
		if !got.Equal(d(tt.want)) {
			t.Errorf("%s @ %s: expected tick %s, got %s", tt.class, tt.price, tt.want, got)
		}
	}
}

func TestQuantize_CrossesBandEdge(t *testing.T) {
	p := MustParams(ClassStock)
	got := p.Quantize(d("99.996"))
	if !got.Equal(d("100")) {
		t.Errorf("expected 100, got %s", got)
	}
	if !p.OnTick(got) {
		t.Errorf("%s not on tick", got)
	}
}

func TestParams_UnknownClass(t *testing.T) {
	if _, err := Params("option"); err == nil {
		t.Error("expected error for unknown class")
	}
}

func TestNextPrice_AlwaysOnTick(t *testing.T) {
	eng := NewEngine(DefaultConfig())
	rapid.Check(t, func(t *rapid.T) {
		class := rapid.SampledFrom(Classes).Draw(t, "class")
		p := MustParams(class)
		raw := rapid.Float64Range(p.MinPrice.InexactFloat64(), 50000).Draw(t, "price")
		start := p.Quantize(decimal.NewFromFloat(raw))
		if start.LessThan(p.MinPrice) {
			start = p.MinPrice
		}
		inst := newInstrument(class, start)

		st := market.Initial(market.DefaultConfig())
		st.Trend = rapid.Float64Range(-0.5, 0.5).Draw(t, "trend")
		st.Volatility = rapid.Float64Range(0.5, 2.5).Draw(t, "vol")
		rng := prng.New(rapid.String().Draw(t, "seed"))

		for i := 0; i < 200; i++ {
			next := eng.NextPrice(inst, Context{Market: st}, rng)
			if !p.OnTick(next) {
				t.Fatalf("tick %d: %s not a multiple of %s", i, next, p.TickSize(next))
			}
			if next.LessThan(p.MinPrice) {
				t.Fatalf("tick %d: %s below minimum %s", i, next, p.MinPrice)
			}
			eng.Apply(inst, next)
		}
	})
}

func TestNextPrice_DailyClampWithoutCrisis(t *testing.T) {
	eng := NewEngine(DefaultConfig())
	rapid.Check(t, func(t *rapid.T) {
		class := rapid.SampledFrom(Classes).Draw(t, "class")
		p := MustParams(class)
		inst := newInstrument(class, p.Quantize(d("57.3")))
		st := market.Initial(market.DefaultConfig())
		st.Volatility = 2.5
		st.Trend = rapid.SampledFrom([]float64{-0.5, 0.5}).Draw(t, "trend")
		rng := prng.New(rapid.String().Draw(t, "seed"))

		open := inst.Common().DailyOpen.InexactFloat64()
		for i := 0; i < 300; i++ {
			next := eng.NextPrice(inst, Context{Market: st}, rng)
			eng.Apply(inst, next)
			if dev := math.Abs(next.InexactFloat64()-open) / open; dev > p.MaxDaily {
				t.Fatalf("tick %d: deviation %v exceeds %v", i, dev, p.MaxDaily)
			}
		}
	})
}

func TestNextPrice_DerivedETFFollowsBase(t *testing.T) {
	eng := NewEngine(DefaultConfig())
	inverse := &ETF{Quote: NewQuote(9, "SQQ1", d("50")), Underlying: 1, Leverage: -1}
	st := market.Initial(market.DefaultConfig())
	rng := prng.New("derived")

	next := eng.NextPrice(inverse, Context{Market: st, Moves: map[uint32]float64{1: 0.01}}, rng)
	if !next.LessThan(d("50")) {
		t.Errorf("inverse fund should fall when base rises, got %s", next)
	}
	if rng.Calls() != 1 {
		t.Errorf("derived pricing should use a single tracking draw, got %d", rng.Calls())
	}
}

func TestNextPrice_DoesNotMutateInstrument(t *testing.T) {
	eng := NewEngine(DefaultConfig())
	inst := newInstrument(ClassCrypto, d("42000"))
	before := *inst.Common()
	eng.NextPrice(inst, Context{Market: market.Initial(market.DefaultConfig())}, prng.New("x"))
	if *inst.Common() != before {
		t.Errorf("instrument mutated: %+v", inst.Common())
	}
}

func TestVolatilityMultiplier_Fundamentals(t *testing.T) {
	eng := NewEngine(DefaultConfig())
	tests := []struct {
		name string
		f    Fundamentals
		want float64
	}{
		{"neutral mid cap", Fundamentals{PE: 20, MarketCap: 5e9}, 1.0},
		{"mega cap low pe", Fundamentals{PE: 10, MarketCap: 300e9}, 0.8 * 0.8},
		{"micro cap", Fundamentals{PE: 20, MarketCap: 100e6}, 1.4},
		{"high pe leveraged", Fundamentals{PE: 60, MarketCap: 5e9, DebtRatio: 0.9}, 1.5 * 1.3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := eng.volatilityMultiplier(&Stock{Fundamentals: tt.f})
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestApply_TracksExtremesAndRollDay(t *testing.T) {
	eng := NewEngine(DefaultConfig())
	inst := newInstrument(ClassStock, d("10"))
	eng.Apply(inst, d("10.50"))
	eng.Apply(inst, d("9.80"))

	c := inst.Common()
	if !c.DailyHigh.Equal(d("10.50")) || !c.DailyLow.Equal(d("9.80")) {
		t.Errorf("unexpected extremes high=%s low=%s", c.DailyHigh, c.DailyLow)
	}
	if c.Momentum >= 0 {
		t.Errorf("momentum should be negative after a drop, got %v", c.Momentum)
	}

	RollDay(inst)
	if !c.DailyOpen.Equal(d("9.80")) || !c.DailyHigh.Equal(d("9.80")) {
		t.Errorf("roll day should reset to close, got open=%s high=%s", c.DailyOpen, c.DailyHigh)
	}
}

// stuckSeed returns a seed whose fourth draw does (or does not) pass
// Bool(chance), matching the three-draw independent move that precedes it.
func stuckSeed(t *testing.T, chance float64, fire bool) string {
	t.Helper()
	for i := 0; i < 1000; i++ {
		seed := fmt.Sprintf("stuck-%d", i)
		g := prng.New(seed)
		g.Float()
		g.Float()
		g.Float()
		if g.Bool(chance) == fire {
			return seed
		}
	}
	t.Fatalf("no seed with fire=%v", fire)
	return ""
}

func TestNextPrice_StuckPriceStepsOneTick(t *testing.T) {
	eng := NewEngine(DefaultConfig())
	p := MustParams(ClassBond)

	tests := []struct {
		name  string
		price string
		open  string
		trend float64
		fire  bool
		want  string
	}{
		{"up", "98.5", "98.5", 0.01, true, "98.51"},
		{"down", "98.5", "98.5", -0.01, true, "98.49"},
		{"not fired", "98.5", "98.5", 0.01, false, "98.5"},
		{"step would leave daily band", "98.5", "93.815", 0.01, true, "98.5"},
		{"step would go below minimum", "1", "1", -0.01, true, "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewQuote(3, "BND", d(tt.price))
			q.DailyOpen = d(tt.open)
			bond := &Bond{Quote: q}

			st := market.Initial(market.DefaultConfig())
			st.Volatility = 0
			st.Trend = tt.trend

			rng := prng.New(stuckSeed(t, p.StuckChance, tt.fire))
			got := eng.NextPrice(bond, Context{Market: st}, rng)
			if !got.Equal(d(tt.want)) {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
			if rng.Calls() != 4 {
				t.Errorf("expected three move draws plus one stuck draw, got %d", rng.Calls())
			}
		})
	}
}

func TestNextPrice_NoStuckDrawWithoutChange(t *testing.T) {
	eng := NewEngine(DefaultConfig())
	bond := &Bond{Quote: NewQuote(3, "BND", d("98.5"))}
	st := market.Initial(market.DefaultConfig())
	st.Volatility = 0

	rng := prng.New("flat")
	got := eng.NextPrice(bond, Context{Market: st}, rng)
	if !got.Equal(d("98.5")) {
		t.Errorf("expected unchanged price, got %s", got)
	}
	if rng.Calls() != 3 {
		t.Errorf("a zero move must not draw the stuck coin, got %d draws", rng.Calls())
	}
}
