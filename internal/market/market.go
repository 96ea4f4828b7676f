// Package market evolves the global simulation state one tick at a time:
// macro indicators, the market-wide trend and volatility, per-sector trends,
// the active crisis event and per-instrument news drifts.
//
// Update is a pure function of the previous state and the generator. The
// number and order of draws it makes is fixed, because the game client must
// consume the identical stream to stay in parity with a server replay.
package market

import (
	"github.com/atmx/score-verifier/internal/prng"
)

// Sector groups instruments that share a trend component.
type Sector string

const (
	SectorTech     Sector = "tech"
	SectorBio      Sector = "bio"
	SectorFinance  Sector = "finance"
	SectorEnergy   Sector = "energy"
	SectorSteel    Sector = "steel"
	SectorConsumer Sector = "consumer"
)

// Sectors is the iteration order used by Update. Never range over the
// SectorTrends map itself.
var Sectors = []Sector{
	SectorTech, SectorBio, SectorFinance, SectorEnergy, SectorSteel, SectorConsumer,
}

// Macro holds the slow-moving economic indicators.
type Macro struct {
	InterestRate float64 `json:"interestRate"`
	Inflation    float64 `json:"inflation"`
	GDPGrowth    float64 `json:"gdpGrowth"`
}

// Event is a global crisis that amplifies volatility and widens the daily
// price band while it lasts.
type Event struct {
	Kind                 string  `json:"kind"`
	VolatilityMultiplier float64 `json:"volatilityMultiplier"`
	DailyLimitMultiplier float64 `json:"dailyLimitMultiplier"`
	RemainingTicks       int     `json:"remainingTicks"`
}

// NewsEffect is a temporary drift attached to one instrument, expressed in
// units of the instrument's base volatility.
type NewsEffect struct {
	InstrumentID   uint32  `json:"instrumentId"`
	Drift          float64 `json:"drift"`
	RemainingTicks int     `json:"remainingTicks"`
}

// State is the market snapshot after a tick.
type State struct {
	Trend        float64            `json:"trend"`
	Volatility   float64            `json:"volatility"`
	SectorTrends map[Sector]float64 `json:"sectorTrends"`
	Macro        Macro              `json:"macro"`
	Event        *Event             `json:"event,omitempty"`
	News         []NewsEffect       `json:"news,omitempty"`
}

// SectorTrend returns the trend for sec, zero for unknown sectors.
func (s State) SectorTrend(sec Sector) float64 {
	return s.SectorTrends[sec]
}

// NewsDrift sums the active news drifts for an instrument.
func (s State) NewsDrift(id uint32) float64 {
	var drift float64
	for _, n := range s.News {
		if n.InstrumentID == id {
			drift += n.Drift
		}
	}
	return drift
}

// DailyLimitMultiplier widens the circuit-breaker band during a crisis.
func (s State) DailyLimitMultiplier() float64 {
	if s.Event == nil {
		return 1
	}
	return s.Event.DailyLimitMultiplier
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := s
	out.SectorTrends = make(map[Sector]float64, len(s.SectorTrends))
	for k, v := range s.SectorTrends {
		out.SectorTrends[k] = v
	}
	if s.Event != nil {
		ev := *s.Event
		out.Event = &ev
	}
	if s.News != nil {
		out.News = append([]NewsEffect(nil), s.News...)
	}
	return out
}

// Update advances prev by one tick. prev is not modified.
func (e *Engine) Update(prev State, rng *prng.Generator) State {
	next := prev.Clone()
	cfg := e.cfg

	// 1. Macro nudges.
	next.Macro.InterestRate = cfg.InterestRate.nudge(next.Macro.InterestRate, cfg.MacroNudgeChance, rng)
	next.Macro.Inflation = cfg.Inflation.nudge(next.Macro.Inflation, cfg.MacroNudgeChance, rng)
	next.Macro.GDPGrowth = cfg.GDPGrowth.nudge(next.Macro.GDPGrowth, cfg.MacroNudgeChance, rng)

	rateDev := next.Macro.InterestRate - cfg.InterestRate.Baseline
	inflDev := next.Macro.Inflation - cfg.Inflation.Baseline
	gdpDev := next.Macro.GDPGrowth - cfg.GDPGrowth.Baseline

	// 2. Macro boost.
	boost := cfg.MacroBoostScale * (float64(0.8*gdpDev) - float64(0.5*rateDev) - float64(0.3*inflDev))

	// 3. Trend.
	trend := float64(prev.Trend*cfg.TrendReversion) + float64((rng.Float()-0.5)*cfg.TrendNoise) + boost
	next.Trend = clamp(trend, -0.5, 0.5)

	// 4. Volatility.
	vol := prev.Volatility + float64((1-prev.Volatility)*cfg.VolatilityReversion) +
		float64((rng.Float()-0.5)*cfg.VolatilityNoise)
	if prev.Event != nil {
		vol = float64(vol * prev.Event.VolatilityMultiplier)
	}
	if next.Macro.Inflation > cfg.InflationAmpThreshold {
		vol = float64(vol * (1 + float64((next.Macro.Inflation-cfg.InflationAmpThreshold)*2)))
	}
	next.Volatility = clamp(vol, 0.5, 2.5)

	// 5. Sectors.
	for _, sec := range Sectors {
		var sens float64
		switch sec {
		case SectorTech, SectorBio:
			sens = -float64(rateDev * cfg.RateSensitivity)
		case SectorFinance:
			sens = float64(rateDev * cfg.RateSensitivity)
		case SectorEnergy, SectorSteel:
			sens = float64(inflDev * cfg.InflationSensitivity)
		case SectorConsumer:
			sens = float64(gdpDev * cfg.GDPSensitivity)
		}
		s := float64(prev.SectorTrends[sec]*cfg.SectorReversion) +
			float64((rng.Float()-0.5)*cfg.SectorNoise) + sens
		next.SectorTrends[sec] = clamp(s, -0.5, 0.5)
	}

	// 6. Crisis events.
	next.Event = e.advanceEvent(next.Event, rng)

	// 7. News.
	next.News = e.advanceNews(next.News, rng)

	return next
}

func (e *Engine) advanceEvent(ev *Event, rng *prng.Generator) *Event {
	if ev != nil {
		ev.RemainingTicks--
		if ev.RemainingTicks <= 0 {
			return nil
		}
		return ev
	}
	if !rng.Bool(e.cfg.CrisisChance) {
		return nil
	}
	kind, ok := prng.Element(rng, e.cfg.Crises)
	if !ok {
		return nil
	}
	return &Event{
		Kind:                 kind.Kind,
		VolatilityMultiplier: kind.VolatilityMultiplier,
		DailyLimitMultiplier: kind.DailyLimitMultiplier,
		RemainingTicks:       rng.Range(kind.MinTicks, kind.MaxTicks),
	}
}

func (e *Engine) advanceNews(news []NewsEffect, rng *prng.Generator) []NewsEffect {
	live := news[:0]
	for _, n := range news {
		n.RemainingTicks--
		if n.RemainingTicks > 0 {
			live = append(live, n)
		}
	}
	if len(live) == 0 {
		live = nil
	}
	if !rng.Bool(e.cfg.NewsChance) {
		return live
	}
	id, ok := prng.Element(rng, e.instruments)
	if !ok {
		return live
	}
	drift := float64((rng.Float() - 0.5) * 2 * e.cfg.NewsMaxDrift)
	return append(live, NewsEffect{
		InstrumentID:   id,
		Drift:          drift,
		RemainingTicks: rng.Range(e.cfg.NewsMinTicks, e.cfg.NewsMaxTicks),
	})
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
