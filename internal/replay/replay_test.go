package replay

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/score-verifier/internal/model"
	"github.com/atmx/score-verifier/internal/pricing"
	"github.com/atmx/score-verifier/internal/universe"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func act(tick uint32, typ model.ActionType, id uint32, qty int64) model.TradeAction {
	return model.TradeAction{Tick: tick, Type: typ, InstrumentID: id, Quantity: qty}
}

func mustReplay(t *testing.T, it *Interpreter, seed string, actions []model.TradeAction) model.ReplayResult {
	t.Helper()
	res, err := it.Replay(seed, actions)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	return res
}

func TestReplay_ScenarioA_BuyAtTickZero(t *testing.T) {
	it := Default()
	res := mustReplay(t, it, "seed-TEST-1", []model.TradeAction{act(0, model.ActionBuy, 1, 10)})

	price := universe.Default().Specs()[0].Price
	fee := pricing.MustParams(pricing.ClassStock).FeeRate
	cost := price.Mul(decimal.NewFromInt(10)).Mul(decimal.NewFromInt(1).Add(fee))
	want := it.Config().InitialCash.Sub(cost)

	if !res.FinalCash.Equal(want) {
		t.Errorf("expected cash %s, got %s", want, res.FinalCash)
	}
	if pos := res.FinalPortfolio[1]; pos.Quantity != 10 {
		t.Errorf("expected 10 units of instrument 1, got %d", pos.Quantity)
	}
	if len(res.RejectedActions) != 0 {
		t.Errorf("expected no rejections, got %+v", res.RejectedActions)
	}
	if res.TotalTrades != 1 {
		t.Errorf("expected 1 trade, got %d", res.TotalTrades)
	}
}

func TestReplay_Idempotent(t *testing.T) {
	it := Default()
	log := []model.TradeAction{
		act(0, model.ActionBuy, 1, 25),
		act(10, model.ActionShort, 11, 1),
		act(150, model.ActionBuy, 8, 40),
		act(299, model.ActionSell, 1, 10),
		act(420, model.ActionCover, 11, 1),
		act(420, model.ActionSell, 8, 40),
	}
	a, _ := json.Marshal(mustReplay(t, it, "season-3:user-9", log))
	b, _ := json.Marshal(mustReplay(t, it, "season-3:user-9", log))
	if string(a) != string(b) {
		t.Errorf("replays differ:\n%s\n%s", a, b)
	}
}

func TestReplay_ConcurrentReplaysAgree(t *testing.T) {
	it := Default()
	log := []model.TradeAction{act(5, model.ActionBuy, 2, 100), act(900, model.ActionSell, 2, 100)}
	want, _ := json.Marshal(mustReplay(t, it, "parallel", log))

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := it.Replay("parallel", log)
			if err != nil {
				return
			}
			b, _ := json.Marshal(res)
			results[i] = string(b)
		}(i)
	}
	wg.Wait()
	for i, got := range results {
		if got != string(want) {
			t.Errorf("replay %d diverged", i)
		}
	}
}

func TestReplay_OverCashBuyRejected(t *testing.T) {
	it := Default()
	res := mustReplay(t, it, "cheat", []model.TradeAction{act(3, model.ActionBuy, 11, 1000)})

	if len(res.RejectedActions) != 1 || res.RejectedActions[0].Reason != model.RejectInsufficientCash {
		t.Fatalf("expected one INSUFFICIENT_CASH rejection, got %+v", res.RejectedActions)
	}
	if _, held := res.FinalPortfolio[11]; held {
		t.Error("rejected buy must not appear in portfolio")
	}
	if !res.FinalCash.Equal(it.Config().InitialCash) {
		t.Errorf("cash should be untouched, got %s", res.FinalCash)
	}
	if !res.FinalProfitRate.IsZero() {
		t.Errorf("expected zero profit rate, got %s", res.FinalProfitRate)
	}
}

func TestReplay_RejectionReasons(t *testing.T) {
	limit := d("1.00")
	tests := []struct {
		name   string
		action model.TradeAction
		want   model.RejectionReason
	}{
		{"sell without holding", act(1, model.ActionSell, 3, 5), model.RejectInsufficientQuantity},
		{"cover without short", act(1, model.ActionCover, 3, 5), model.RejectInsufficientQuantity},
		{"unknown instrument", act(1, model.ActionBuy, 404, 1), model.RejectUnknownInstrument},
		{"zero quantity", act(1, model.ActionBuy, 1, 0), model.RejectInvalidAction},
		{"bad type", act(1, "hold", 1, 1), model.RejectInvalidAction},
		{"short beyond margin", act(1, model.ActionShort, 11, 10), model.RejectMarginShortfall},
		{"limit not met", model.TradeAction{Tick: 0, Type: model.ActionBuy, InstrumentID: 1, Quantity: 1, LimitPrice: &limit}, model.RejectLimitNotMet},
	}
	it := Default()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := mustReplay(t, it, "reasons", []model.TradeAction{tt.action})
			if len(res.RejectedActions) != 1 {
				t.Fatalf("expected one rejection, got %+v", res.RejectedActions)
			}
			if got := res.RejectedActions[0].Reason; got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestReplay_RejectionDoesNotAbort(t *testing.T) {
	res := mustReplay(t, Default(), "continue", []model.TradeAction{
		act(0, model.ActionSell, 1, 1),
		act(0, model.ActionBuy, 1, 1),
	})
	if len(res.RejectedActions) != 1 || res.RejectedActions[0].Index != 0 {
		t.Fatalf("expected first action rejected, got %+v", res.RejectedActions)
	}
	if res.FinalPortfolio[1].Quantity != 1 {
		t.Errorf("second action should have executed")
	}
}

func TestReplay_StructuralErrors(t *testing.T) {
	it := Default()
	if _, err := it.Replay("s", []model.TradeAction{act(5, model.ActionBuy, 1, 1), act(3, model.ActionBuy, 1, 1)}); !errors.Is(err, ErrTickOrder) {
		t.Errorf("expected ErrTickOrder, got %v", err)
	}
	if _, err := it.Replay("s", []model.TradeAction{act(it.Config().MaxTick+1, model.ActionBuy, 1, 1)}); !errors.Is(err, ErrTickOutOfRange) {
		t.Errorf("expected ErrTickOutOfRange, got %v", err)
	}
	long := make([]model.TradeAction, it.Config().MaxActions+1)
	for i := range long {
		long[i] = act(0, model.ActionBuy, 1, 1)
	}
	if _, err := it.Replay("s", long); !errors.Is(err, ErrTooManyActions) {
		t.Errorf("expected ErrTooManyActions, got %v", err)
	}
}

func TestReplay_RunsToEndOfDay(t *testing.T) {
	it := Default()
	res := mustReplay(t, it, "days", []model.TradeAction{act(301, model.ActionBuy, 1, 1)})
	if res.TicksSimulated != 599 {
		t.Errorf("expected 599 ticks, got %d", res.TicksSimulated)
	}
	again := mustReplay(t, it, "days", []model.TradeAction{act(301, model.ActionBuy, 1, 1)})
	if res.DrawCount == 0 || res.DrawCount != again.DrawCount {
		t.Errorf("draw count not stable: %d vs %d", res.DrawCount, again.DrawCount)
	}
}

func TestReplay_ShortPaysBorrowInterest(t *testing.T) {
	res := mustReplay(t, Default(), "borrow", []model.TradeAction{
		act(0, model.ActionShort, 3, 100),
		act(650, model.ActionCover, 3, 100),
	})
	if len(res.RejectedActions) != 0 {
		t.Fatalf("unexpected rejections %+v", res.RejectedActions)
	}
	if !res.InterestPaid.IsPositive() {
		t.Errorf("expected borrow interest, got %s", res.InterestPaid)
	}
	if res.FinalPortfolio[3].ShortQuantity != 0 {
		t.Errorf("short should be closed")
	}
}

func TestLogicHash_StableAndSensitive(t *testing.T) {
	a, b := Default(), Default()
	if a.LogicHash() != b.LogicHash() || len(a.LogicHash()) != 64 {
		t.Fatalf("logic hash not stable: %q vs %q", a.LogicHash(), b.LogicHash())
	}

	cfg := DefaultConfig()
	cfg.BorrowRate = d("0.001")
	it, err := New(cfg, universe.Default(), a.market.Config(), a.pricing.Config())
	if err != nil {
		t.Fatal(err)
	}
	if it.LogicHash() == a.LogicHash() {
		t.Error("changing a portfolio rule should change the logic hash")
	}
}

func TestBook_ShortCoverSettlement(t *testing.T) {
	b := newBook(d("100000"), d("0.5"), d("0.0005"))
	if err := b.short(1, 10, d("100"), d("0.001")); err != nil {
		t.Fatal(err)
	}
	if !b.cash.Equal(d("99499")) {
		t.Errorf("expected 99499 after short, got %s", b.cash)
	}
	if err := b.cover(1, 10, d("90"), d("0.001")); err != nil {
		t.Fatal(err)
	}
	if !b.cash.Equal(d("100098.1")) {
		t.Errorf("expected 100098.1 after cover, got %s", b.cash)
	}
	if b.wins != 1 || b.closes != 1 {
		t.Errorf("expected one winning close, got wins=%d closes=%d", b.wins, b.closes)
	}
}

func TestBook_PartialSellKeepsBasis(t *testing.T) {
	b := newBook(d("1000"), d("0.5"), d("0"))
	if err := b.buy(1, 4, d("10"), d("0")); err != nil {
		t.Fatal(err)
	}
	if err := b.sell(1, 1, d("12"), d("0")); err != nil {
		t.Fatal(err)
	}
	h := b.holdings[1]
	if h.long != 3 || !h.longCost.Equal(d("30")) {
		t.Errorf("expected 3 units at basis 30, got %d at %s", h.long, h.longCost)
	}
	if !b.value(map[uint32]decimal.Decimal{1: d("10")}).Equal(d("1002")) {
		t.Errorf("unexpected value %s", b.value(map[uint32]decimal.Decimal{1: d("10")}))
	}
}

func TestScoreFor(t *testing.T) {
	if got := ScoreFor(d("0.1234567891")); !got.Equal(d("12.345679")) {
		t.Errorf("expected 12.345679, got %s", got)
	}
}
