package replay

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/atmx/score-verifier/internal/model"
)

var (
	// ErrInsufficientCash is returned when a buy costs more than the
	// replayed cash balance.
	ErrInsufficientCash = errors.New("replay: insufficient cash")

	// ErrInsufficientQuantity is returned when a sell or cover exceeds the
	// held long or short quantity.
	ErrInsufficientQuantity = errors.New("replay: insufficient quantity")

	// ErrMarginShortfall is returned when a short cannot post collateral, or
	// a cover would leave cash negative.
	ErrMarginShortfall = errors.New("replay: margin shortfall")
)

// reasonFor maps a book error to the rejection reason recorded for it.
func reasonFor(err error) model.RejectionReason {
	switch {
	case errors.Is(err, ErrInsufficientCash):
		return model.RejectInsufficientCash
	case errors.Is(err, ErrInsufficientQuantity):
		return model.RejectInsufficientQuantity
	case errors.Is(err, ErrMarginShortfall):
		return model.RejectMarginShortfall
	default:
		return model.RejectInvalidAction
	}
}

// holding tracks both legs in one instrument. Long cost basis includes buy
// fees; short basis is the entry notional.
type holding struct {
	long       int64
	longCost   decimal.Decimal
	short      int64
	shortBasis decimal.Decimal
	collateral decimal.Decimal
}

// book is the replayed cash and position ledger.
//
// Every mutation is all-or-nothing: a method either returns an error and
// leaves the book untouched, or applies the whole fill.
type book struct {
	cash       decimal.Decimal
	marginRate decimal.Decimal
	borrowRate decimal.Decimal
	holdings   map[uint32]*holding

	fees     decimal.Decimal
	interest decimal.Decimal
	trades   int
	closes   int
	wins     int
}

func newBook(cash, marginRate, borrowRate decimal.Decimal) *book {
	return &book{
		cash:       cash,
		marginRate: marginRate,
		borrowRate: borrowRate,
		holdings:   make(map[uint32]*holding),
		fees:       decimal.Zero,
		interest:   decimal.Zero,
	}
}

func (b *book) get(id uint32) *holding {
	h, ok := b.holdings[id]
	if !ok {
		h = &holding{}
		b.holdings[id] = h
	}
	return h
}

// buy debits price*qty*(1+feeRate).
func (b *book) buy(id uint32, qty int64, price, feeRate decimal.Decimal) error {
	notional := price.Mul(decimal.NewFromInt(qty))
	fee := notional.Mul(feeRate)
	cost := notional.Add(fee)
	if cost.GreaterThan(b.cash) {
		return ErrInsufficientCash
	}
	h := b.get(id)
	b.cash = b.cash.Sub(cost)
	h.long += qty
	h.longCost = h.longCost.Add(cost)
	b.fees = b.fees.Add(fee)
	b.trades++
	return nil
}

// sell credits the notional less fee and realizes against pro-rata basis.
func (b *book) sell(id uint32, qty int64, price, feeRate decimal.Decimal) error {
	h := b.holdings[id]
	if h == nil || h.long < qty {
		return ErrInsufficientQuantity
	}
	notional := price.Mul(decimal.NewFromInt(qty))
	fee := notional.Mul(feeRate)
	proceeds := notional.Sub(fee)

	basis := h.longCost
	if qty < h.long {
		basis = h.longCost.Mul(decimal.NewFromInt(qty)).Div(decimal.NewFromInt(h.long))
	}

	b.cash = b.cash.Add(proceeds)
	h.long -= qty
	h.longCost = h.longCost.Sub(basis)
	if h.long == 0 {
		h.longCost = decimal.Zero
	}
	b.fees = b.fees.Add(fee)
	b.trades++
	b.closes++
	if proceeds.GreaterThan(basis) {
		b.wins++
	}
	return nil
}

// short posts marginRate of the notional as collateral plus the fee.
func (b *book) short(id uint32, qty int64, price, feeRate decimal.Decimal) error {
	notional := price.Mul(decimal.NewFromInt(qty))
	fee := notional.Mul(feeRate)
	collateral := notional.Mul(b.marginRate)
	if collateral.Add(fee).GreaterThan(b.cash) {
		return ErrMarginShortfall
	}
	h := b.get(id)
	b.cash = b.cash.Sub(collateral).Sub(fee)
	h.short += qty
	h.shortBasis = h.shortBasis.Add(notional)
	h.collateral = h.collateral.Add(collateral)
	b.fees = b.fees.Add(fee)
	b.trades++
	return nil
}

// cover buys back qty, releasing pro-rata collateral and settling the PnL
// against the entry basis.
func (b *book) cover(id uint32, qty int64, price, feeRate decimal.Decimal) error {
	h := b.holdings[id]
	if h == nil || h.short < qty {
		return ErrInsufficientQuantity
	}
	notional := price.Mul(decimal.NewFromInt(qty))
	fee := notional.Mul(feeRate)

	basis, released := h.shortBasis, h.collateral
	if qty < h.short {
		q, n := decimal.NewFromInt(qty), decimal.NewFromInt(h.short)
		basis = h.shortBasis.Mul(q).Div(n)
		released = h.collateral.Mul(q).Div(n)
	}
	pnl := basis.Sub(notional)
	cash := b.cash.Add(released).Add(pnl).Sub(fee)
	if cash.IsNegative() {
		return ErrMarginShortfall
	}

	b.cash = cash
	h.short -= qty
	h.shortBasis = h.shortBasis.Sub(basis)
	h.collateral = h.collateral.Sub(released)
	if h.short == 0 {
		h.shortBasis = decimal.Zero
		h.collateral = decimal.Zero
	}
	b.fees = b.fees.Add(fee)
	b.trades++
	b.closes++
	if pnl.Sub(fee).IsPositive() {
		b.wins++
	}
	return nil
}

// chargeBorrow debits one day of borrow interest on every open short.
// Interest may take cash negative; it is a debt, not a rejected action.
func (b *book) chargeBorrow(prices map[uint32]decimal.Decimal) {
	for id, h := range b.holdings {
		if h.short == 0 {
			continue
		}
		charge := prices[id].Mul(decimal.NewFromInt(h.short)).Mul(b.borrowRate)
		b.cash = b.cash.Sub(charge)
		b.interest = b.interest.Add(charge)
	}
}

// value marks the book to prices.
func (b *book) value(prices map[uint32]decimal.Decimal) decimal.Decimal {
	total := b.cash
	for id, h := range b.holdings {
		p := prices[id]
		if h.long > 0 {
			total = total.Add(p.Mul(decimal.NewFromInt(h.long)))
		}
		if h.short > 0 {
			total = total.Add(h.collateral).Add(h.shortBasis).Sub(p.Mul(decimal.NewFromInt(h.short)))
		}
	}
	return total
}

// positions returns the non-empty holdings marked at prices.
func (b *book) positions(prices map[uint32]decimal.Decimal) map[uint32]model.Position {
	out := make(map[uint32]model.Position)
	for id, h := range b.holdings {
		if h.long == 0 && h.short == 0 {
			continue
		}
		pos := model.Position{
			InstrumentID:  id,
			Quantity:      h.long,
			AvgCost:       decimal.Zero,
			ShortQuantity: h.short,
			Collateral:    h.collateral,
			MarkPrice:     prices[id],
		}
		if h.long > 0 {
			pos.AvgCost = h.longCost.DivRound(decimal.NewFromInt(h.long), 8)
		}
		if h.short > 0 {
			pos.ShortEntry = h.shortBasis.DivRound(decimal.NewFromInt(h.short), 8)
		}
		out[id] = pos
	}
	return out
}
