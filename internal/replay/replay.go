// Package replay re-derives a session's outcome from a trusted seed and a
// client-submitted trade log.
//
// Every fill uses the replayed price and the authoritative fee, margin and
// interest schedule. Client-side prices never enter the computation. Actions
// the replayed state cannot honour are recorded as rejected and skipped.
package replay

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/score-verifier/internal/market"
	"github.com/atmx/score-verifier/internal/model"
	"github.com/atmx/score-verifier/internal/pricing"
	"github.com/atmx/score-verifier/internal/prng"
	"github.com/atmx/score-verifier/internal/universe"
)

var (
	ErrTooManyActions = errors.New("replay: trade log exceeds maximum length")
	ErrTickOutOfRange = errors.New("replay: action tick exceeds maximum")
	ErrTickOrder      = errors.New("replay: action ticks are not non-decreasing")
)

// Config holds the portfolio rules and replay bounds.
type Config struct {
	InitialCash decimal.Decimal `json:"initialCash"`
	TicksPerDay uint32          `json:"ticksPerDay"`
	MarginRate  decimal.Decimal `json:"marginRate"`
	BorrowRate  decimal.Decimal `json:"borrowRate"`
	MaxTick     uint32          `json:"maxTick"`
	MaxActions  int             `json:"maxActions"`
}

// DefaultConfig returns the production portfolio rules: 100k starting cash,
// 300-tick days, 50% short margin and 5bp daily borrow.
func DefaultConfig() Config {
	return Config{
		InitialCash: decimal.NewFromInt(100_000),
		TicksPerDay: 300,
		MarginRate:  decimal.RequireFromString("0.5"),
		BorrowRate:  decimal.RequireFromString("0.0005"),
		MaxTick:     36_000,
		MaxActions:  5_000,
	}
}

// Interpreter replays sessions over one universe. It is immutable after
// construction and safe for concurrent use; every Replay call owns its
// generator, market state and instruments.
type Interpreter struct {
	cfg      Config
	universe *universe.Snapshot
	market   *market.Engine
	pricing  *pricing.Engine
	hash     string
}

// New builds an interpreter. The logic hash is computed once here.
func New(cfg Config, u *universe.Snapshot, mcfg market.Config, pcfg pricing.Config) (*Interpreter, error) {
	if cfg.TicksPerDay == 0 {
		return nil, errors.New("replay: ticks per day must be positive")
	}
	it := &Interpreter{
		cfg:      cfg,
		universe: u,
		market:   market.NewEngine(mcfg, u.IDs()),
		pricing:  pricing.NewEngine(pcfg),
	}
	h, err := logicHash(it)
	if err != nil {
		return nil, fmt.Errorf("replay: logic hash: %w", err)
	}
	it.hash = h
	return it, nil
}

// Default returns the production interpreter.
func Default() *Interpreter {
	it, err := New(DefaultConfig(), universe.Default(), market.DefaultConfig(), pricing.DefaultConfig())
	if err != nil {
		panic(err)
	}
	return it
}

func (it *Interpreter) Config() Config { return it.cfg }

// LogicHash identifies the simulation rules this interpreter applies.
func (it *Interpreter) LogicHash() string { return it.hash }

// session is the mutable state of one replay.
type session struct {
	rng    *prng.Generator
	state  market.State
	insts  []pricing.Instrument
	byID   map[uint32]pricing.Instrument
	prices map[uint32]decimal.Decimal
	book   *book
}

// Replay runs the session for seed and actions. The error return is reserved
// for logs that break the structural bounds; per-action problems become
// RejectedActions.
func (it *Interpreter) Replay(seed string, actions []model.TradeAction) (model.ReplayResult, error) {
	if err := it.checkBounds(actions); err != nil {
		return model.ReplayResult{}, err
	}

	s := it.newSession(seed)
	var rejected []model.RejectedAction

	tpd := it.cfg.TicksPerDay
	var last uint32
	if len(actions) > 0 {
		last = actions[len(actions)-1].Tick
	}
	end := (last/tpd+1)*tpd - 1

	next := 0
	for t := uint32(0); t <= end; t++ {
		if t > 0 {
			it.step(s, t)
		}
		for next < len(actions) && actions[next].Tick == t {
			if r, ok := it.apply(s, next, actions[next]); !ok {
				rejected = append(rejected, r)
			}
			next++
		}
	}
	s.book.chargeBorrow(s.prices)

	return it.result(s, end, rejected), nil
}

func (it *Interpreter) checkBounds(actions []model.TradeAction) error {
	if len(actions) > it.cfg.MaxActions {
		return fmt.Errorf("%w: %d > %d", ErrTooManyActions, len(actions), it.cfg.MaxActions)
	}
	for i, a := range actions {
		if a.Tick > it.cfg.MaxTick {
			return fmt.Errorf("%w: action %d at tick %d", ErrTickOutOfRange, i, a.Tick)
		}
		if i > 0 && a.Tick < actions[i-1].Tick {
			return fmt.Errorf("%w: action %d at tick %d after tick %d", ErrTickOrder, i, a.Tick, actions[i-1].Tick)
		}
	}
	return nil
}

func (it *Interpreter) newSession(seed string) *session {
	insts := it.universe.Build()
	s := &session{
		rng:    prng.New(seed),
		state:  market.Initial(it.market.Config()),
		insts:  insts,
		byID:   make(map[uint32]pricing.Instrument, len(insts)),
		prices: make(map[uint32]decimal.Decimal, len(insts)),
		book:   newBook(it.cfg.InitialCash, it.cfg.MarginRate, it.cfg.BorrowRate),
	}
	for _, inst := range insts {
		c := inst.Common()
		s.byID[c.ID] = inst
		s.prices[c.ID] = c.Price
	}
	return s
}

// step advances the world to tick t: day settlement on boundaries, then the
// market, then every instrument in universe order.
func (it *Interpreter) step(s *session, t uint32) {
	if t%it.cfg.TicksPerDay == 0 {
		s.book.chargeBorrow(s.prices)
		for _, inst := range s.insts {
			pricing.RollDay(inst)
		}
	}

	s.state = it.market.Update(s.state, s.rng)

	moves := make(map[uint32]float64, len(s.insts))
	ctx := pricing.Context{Market: s.state, Moves: moves}
	for _, inst := range s.insts {
		price := it.pricing.NextPrice(inst, ctx, s.rng)
		id := inst.Common().ID
		moves[id] = it.pricing.Apply(inst, price)
		s.prices[id] = price
	}
}

// apply executes one action against the replayed state. It reports false
// with the rejection when the action is skipped.
func (it *Interpreter) apply(s *session, idx int, a model.TradeAction) (model.RejectedAction, bool) {
	reject := func(reason model.RejectionReason, price decimal.Decimal) (model.RejectedAction, bool) {
		return model.RejectedAction{Index: idx, Action: a, Reason: reason, Price: price}, false
	}

	if !a.Type.Valid() || a.Quantity <= 0 {
		return reject(model.RejectInvalidAction, decimal.Zero)
	}
	inst, ok := s.byID[a.InstrumentID]
	if !ok {
		return reject(model.RejectUnknownInstrument, decimal.Zero)
	}
	price := inst.Common().Price
	if a.LimitPrice != nil && !limitMet(a.Type, price, *a.LimitPrice) {
		return reject(model.RejectLimitNotMet, price)
	}

	feeRate := pricing.MustParams(inst.Class()).FeeRate
	var err error
	switch a.Type {
	case model.ActionBuy:
		err = s.book.buy(a.InstrumentID, a.Quantity, price, feeRate)
	case model.ActionSell:
		err = s.book.sell(a.InstrumentID, a.Quantity, price, feeRate)
	case model.ActionShort:
		err = s.book.short(a.InstrumentID, a.Quantity, price, feeRate)
	case model.ActionCover:
		err = s.book.cover(a.InstrumentID, a.Quantity, price, feeRate)
	}
	if err != nil {
		return reject(reasonFor(err), price)
	}
	return model.RejectedAction{}, true
}

// limitMet: buy and cover fill at or below the limit, sell and short at or
// above it.
func limitMet(t model.ActionType, price, limit decimal.Decimal) bool {
	switch t {
	case model.ActionBuy, model.ActionCover:
		return price.LessThanOrEqual(limit)
	default:
		return price.GreaterThanOrEqual(limit)
	}
}

func (it *Interpreter) result(s *session, end uint32, rejected []model.RejectedAction) model.ReplayResult {
	b := s.book
	value := b.value(s.prices)
	profitRate := value.Sub(it.cfg.InitialCash).DivRound(it.cfg.InitialCash, 10)

	winRate := decimal.Zero
	if b.closes > 0 {
		winRate = decimal.NewFromInt(int64(b.wins)).DivRound(decimal.NewFromInt(int64(b.closes)), 4)
	}
	if rejected == nil {
		rejected = []model.RejectedAction{}
	}

	return model.ReplayResult{
		FinalCash:       b.cash,
		FinalPortfolio:  b.positions(s.prices),
		PortfolioValue:  value,
		FinalProfitRate: profitRate,
		Score:           ScoreFor(profitRate),
		FeesPaid:        b.fees,
		InterestPaid:    b.interest,
		DrawCount:       s.rng.Calls(),
		TicksSimulated:  end,
		TotalTrades:     b.trades,
		WinRate:         winRate,
		RejectedActions: rejected,
	}
}

// ScoreFor converts a profit rate to a leaderboard score: percent, six places.
func ScoreFor(profitRate decimal.Decimal) decimal.Decimal {
	return profitRate.Mul(decimal.NewFromInt(100)).Round(6)
}
