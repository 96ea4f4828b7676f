package market

import (
	"github.com/atmx/score-verifier/internal/prng"
)

// Indicator bounds one macro series.
type Indicator struct {
	Baseline float64 `json:"baseline"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Step     float64 `json:"step"`
}

func (ind Indicator) nudge(v, chance float64, rng *prng.Generator) float64 {
	if !rng.Bool(chance) {
		return v
	}
	return clamp(v+float64((rng.Float()-0.5)*ind.Step), ind.Min, ind.Max)
}

// Crisis is one entry of the event catalogue.
type Crisis struct {
	Kind                 string  `json:"kind"`
	VolatilityMultiplier float64 `json:"volatilityMultiplier"`
	DailyLimitMultiplier float64 `json:"dailyLimitMultiplier"`
	MinTicks             int     `json:"minTicks"`
	MaxTicks             int     `json:"maxTicks"`
}

// Config holds every constant the market step depends on. It is hashed into
// the engine logic hash, so field changes are wire-visible.
type Config struct {
	InterestRate Indicator `json:"interestRate"`
	Inflation    Indicator `json:"inflation"`
	GDPGrowth    Indicator `json:"gdpGrowth"`

	MacroNudgeChance float64 `json:"macroNudgeChance"`
	MacroBoostScale  float64 `json:"macroBoostScale"`

	TrendReversion float64 `json:"trendReversion"`
	TrendNoise     float64 `json:"trendNoise"`

	VolatilityReversion   float64 `json:"volatilityReversion"`
	VolatilityNoise       float64 `json:"volatilityNoise"`
	InflationAmpThreshold float64 `json:"inflationAmpThreshold"`

	SectorReversion      float64 `json:"sectorReversion"`
	SectorNoise          float64 `json:"sectorNoise"`
	RateSensitivity      float64 `json:"rateSensitivity"`
	InflationSensitivity float64 `json:"inflationSensitivity"`
	GDPSensitivity       float64 `json:"gdpSensitivity"`

	CrisisChance float64  `json:"crisisChance"`
	Crises       []Crisis `json:"crises"`

	NewsChance   float64 `json:"newsChance"`
	NewsMaxDrift float64 `json:"newsMaxDrift"`
	NewsMinTicks int     `json:"newsMinTicks"`
	NewsMaxTicks int     `json:"newsMaxTicks"`
}

// DefaultConfig returns the production market constants.
func DefaultConfig() Config {
	return Config{
		InterestRate: Indicator{Baseline: 0.035, Min: 0, Max: 0.10, Step: 0.005},
		Inflation:    Indicator{Baseline: 0.025, Min: -0.01, Max: 0.12, Step: 0.005},
		GDPGrowth:    Indicator{Baseline: 0.02, Min: -0.05, Max: 0.08, Step: 0.01},

		MacroNudgeChance: 0.001,
		MacroBoostScale:  0.02,

		TrendReversion: 0.98,
		TrendNoise:     0.02,

		VolatilityReversion:   0.02,
		VolatilityNoise:       0.05,
		InflationAmpThreshold: 0.06,

		SectorReversion:      0.97,
		SectorNoise:          0.03,
		RateSensitivity:      0.05,
		InflationSensitivity: 0.05,
		GDPSensitivity:       0.03,

		CrisisChance: 0.00002,
		Crises: []Crisis{
			{Kind: "flash_crash", VolatilityMultiplier: 1.8, DailyLimitMultiplier: 1.5, MinTicks: 300, MaxTicks: 900},
			{Kind: "rate_shock", VolatilityMultiplier: 1.4, DailyLimitMultiplier: 1.2, MinTicks: 600, MaxTicks: 1800},
			{Kind: "liquidity_crunch", VolatilityMultiplier: 1.6, DailyLimitMultiplier: 1.3, MinTicks: 450, MaxTicks: 1200},
		},

		NewsChance:   0.0005,
		NewsMaxDrift: 0.5,
		NewsMinTicks: 60,
		NewsMaxTicks: 600,
	}
}

// Engine applies Config to successive states.
type Engine struct {
	cfg         Config
	instruments []uint32
}

// NewEngine returns an engine whose news effects target the given
// instrument ids, in that order.
func NewEngine(cfg Config, instrumentIDs []uint32) *Engine {
	return &Engine{
		cfg:         cfg,
		instruments: append([]uint32(nil), instrumentIDs...),
	}
}

// Config returns the engine's constants.
func (e *Engine) Config() Config {
	return e.cfg
}

// Initial returns the tick-0 state for cfg: neutral trend, unit volatility
// and macro indicators at baseline.
func Initial(cfg Config) State {
	sectors := make(map[Sector]float64, len(Sectors))
	for _, s := range Sectors {
		sectors[s] = 0
	}
	return State{
		Trend:        0,
		Volatility:   1,
		SectorTrends: sectors,
		Macro: Macro{
			InterestRate: cfg.InterestRate.Baseline,
			Inflation:    cfg.Inflation.Baseline,
			GDPGrowth:    cfg.GDPGrowth.Baseline,
		},
	}
}
