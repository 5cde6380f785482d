package portfolio

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"eom_fund/internal/market"
	"eom_fund/internal/models"
	"eom_fund/internal/scanner"
	"eom_fund/internal/storage"

	"github.com/shopspring/decimal"
)

var (
	universe  = []string{"AAA", "BBB", "CCC", "DDD", "EEE", "FFF"}
	entryDay  = models.NewDate(2025, time.January, 31)
	exitDay   = models.NewDate(2025, time.February, 11)
	nextDay   = models.NewDate(2025, time.February, 12)
	laterExit = models.NewDate(2025, time.February, 21)
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func prices(vals ...string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for i, v := range vals {
		if v == "" {
			continue
		}
		out[universe[i]] = d(v)
	}
	return out
}

func equalWeight(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(Rules{
		Tickers:    universe,
		InitialNAV: d("50000"),
		FeePerLeg:  d("29"),
		Sizing:     EqualWeight,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func freshState() models.PortfolioState {
	return storage.NewStateStore("", d("50000")).Initial()
}

func entryInput() Day {
	return Day{
		Date:         entryDay,
		Prices:       prices("10", "20", "30", "5", "50", "100"),
		DataLastDate: entryDay,
		SignalDate:   entryDay,
		IsSignalDay:  true,
		ExitDate:     exitDay,
	}
}

func mustRun(t *testing.T, e *Engine, s models.PortfolioState, l []models.TradeRow, day Day) Result {
	t.Helper()
	res, err := e.Run(s, l, day)
	if err != nil {
		t.Fatalf("Run(%s): %v", day.Date, err)
	}
	return res
}

func assertEq(t *testing.T, what string, got, want decimal.Decimal) {
	t.Helper()
	if !got.Equal(want) {
		t.Errorf("%s = %s, want %s", what, got, want)
	}
}

func TestEqualWeightEntry(t *testing.T) {
	e := equalWeight(t)
	res := mustRun(t, e, freshState(), nil, entryInput())

	if len(res.State.Positions) != 6 {
		t.Fatalf("expected 6 positions, got %d", len(res.State.Positions))
	}
	assertEq(t, "fees paid", res.State.FeesPaid, d("174"))
	assertEq(t, "cash", res.State.Cash, decimal.Zero)
	assertEq(t, "stake AAA", res.State.Positions["AAA"].Stake, d("8304.33"))
	assertEq(t, "qty CCC", res.State.Positions["CCC"].Qty, d("276.811"))

	sum := decimal.Zero
	for _, p := range res.State.Positions {
		sum = sum.Add(p.Stake)
		if p.PlannedExit != exitDay || p.EntryDate != entryDay {
			t.Errorf("unexpected schedule %+v", p)
		}
	}
	assertEq(t, "stakes", sum, d("49826"))
	assertEq(t, "nav", res.State.NAV, d("49826"))
	assertEq(t, "pl", res.Summary.PL, d("-174"))

	if res.State.PlannedExitDate != exitDay {
		t.Errorf("PlannedExitDate = %s", res.State.PlannedExitDate)
	}
	if res.State.LastSignalDate != entryDay {
		t.Errorf("LastSignalDate = %s", res.State.LastSignalDate)
	}
	if len(res.Ledger) != 6 || !res.Ledger[0].IsOpen() || res.Ledger[0].Reason != models.ReasonBuy {
		t.Fatalf("expected 6 open BUY rows, got %+v", res.Ledger)
	}
	assertEq(t, "row fees", res.Ledger[0].Fees, d("29"))

	if res.Snapshot.Status != models.StatusOpen || *res.Snapshot.ExitDate != exitDay {
		t.Errorf("unexpected snapshot %+v", res.Snapshot)
	}
	if len(res.Opened) != 6 || !res.Changed() {
		t.Error("expected six opened trades")
	}
}

func TestExitClosesBatch(t *testing.T) {
	e := equalWeight(t)
	entered := mustRun(t, e, freshState(), nil, entryInput())

	res := mustRun(t, e, entered.State, entered.Ledger, Day{
		Date:     exitDay,
		Prices:   prices("20", "20", "30", "5", "50", "100"),
		ExitDate: laterExit,
	})

	if len(res.State.Positions) != 0 {
		t.Fatalf("positions left open: %v", res.State.Positions)
	}
	if !res.State.PlannedExitDate.IsZero() {
		t.Errorf("planned exit should be cleared, got %s", res.State.PlannedExitDate)
	}
	// cash before exit is zero: proceeds 58130.33 less six exit fees
	assertEq(t, "cash", res.State.Cash, d("57956.33"))
	assertEq(t, "nav", res.State.NAV, d("57956.33"))
	assertEq(t, "fees paid", res.State.FeesPaid, d("348"))

	if len(res.Ledger) != 6 {
		t.Fatalf("expected open rows to be closed in place, got %d rows", len(res.Ledger))
	}
	for _, row := range res.Ledger {
		if row.IsOpen() || row.Reason != models.ReasonSell || row.ExitDate != exitDay {
			t.Errorf("row not closed: %+v", row)
		}
		assertEq(t, row.Ticker+" fees", row.Fees, d("58"))
		want := row.Qty.Mul(row.ExitPrice).Sub(row.Stake).Sub(d("29")).Round(2)
		assertEq(t, row.Ticker+" pl", row.PL, want)
	}
	assertEq(t, "AAA pl", res.Ledger[0].PL, d("8275.33"))

	if res.Snapshot.Status != models.StatusClosed || len(res.Snapshot.ExitPrices) != 6 {
		t.Errorf("unexpected snapshot %+v", res.Snapshot)
	}
}

func TestMissingQuoteDefersExit(t *testing.T) {
	e := equalWeight(t)
	entered := mustRun(t, e, freshState(), nil, entryInput())

	day1 := mustRun(t, e, entered.State, entered.Ledger, Day{
		Date:     exitDay,
		Prices:   prices("10", "20", "", "5", "50", "100"),
		ExitDate: laterExit,
	})
	if len(day1.State.Positions) != 1 || !day1.State.Positions.Holds("CCC") {
		t.Fatalf("expected only CCC open, got %v", day1.State.Positions)
	}
	if day1.State.PlannedExitDate != exitDay {
		t.Errorf("planned exit must stay set, got %s", day1.State.PlannedExitDate)
	}
	if len(day1.Closed) != 5 {
		t.Errorf("expected 5 closed, got %d", len(day1.Closed))
	}
	cashDay1 := day1.State.Cash

	day2 := mustRun(t, e, day1.State, day1.Ledger, Day{
		Date:     nextDay,
		Prices:   prices("11", "21", "33", "6", "51", "101"),
		ExitDate: laterExit,
	})
	if len(day2.Closed) != 1 || day2.Closed[0].Ticker != "CCC" {
		t.Fatalf("expected only CCC to close, got %+v", day2.Closed)
	}
	assertEq(t, "cash", day2.State.Cash, cashDay1.Add(d("276.811").Mul(d("33"))).Sub(d("29")))
	if !day2.State.PlannedExitDate.IsZero() {
		t.Error("planned exit should clear once the batch is closed")
	}

	closedOn := map[models.Date]int{}
	for _, row := range day2.Ledger {
		closedOn[row.ExitDate]++
	}
	if len(day2.Ledger) != 6 || closedOn[exitDay] != 5 || closedOn[nextDay] != 1 {
		t.Errorf("unexpected ledger %+v", day2.Ledger)
	}
}

func encode(t *testing.T, res Result) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, v := range []any{res.State, res.Sample, res.Summary, res.Snapshot} {
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		buf.Write(b)
	}
	if err := storage.WriteLedger(&buf, res.Ledger); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestRunIsIdempotent(t *testing.T) {
	e := equalWeight(t)

	first := mustRun(t, e, freshState(), nil, entryInput())
	again := mustRun(t, e, first.State, first.Ledger, entryInput())
	if !bytes.Equal(encode(t, first), encode(t, again)) {
		t.Error("rerun of entry day changed the outputs")
	}
	if again.Changed() {
		t.Error("rerun should not trade")
	}

	exit := Day{Date: exitDay, Prices: prices("20", "20", "30", "5", "50", "100"), ExitDate: laterExit}
	closed := mustRun(t, e, first.State, first.Ledger, exit)
	closedAgain := mustRun(t, e, closed.State, closed.Ledger, exit)
	if !bytes.Equal(encode(t, closed), encode(t, closedAgain)) {
		t.Error("rerun of exit day changed the outputs")
	}
	assertEq(t, "fees", closedAgain.State.FeesPaid, d("348"))
}

func TestRerunRepairsLedgerOnlySave(t *testing.T) {
	e := equalWeight(t)

	// Entry day: the ledger reached disk, the state did not.
	first := mustRun(t, e, freshState(), nil, entryInput())
	repaired := mustRun(t, e, freshState(), first.Ledger, entryInput())
	if !bytes.Equal(encode(t, first), encode(t, repaired)) {
		t.Errorf("repaired entry differs: %d positions cash %s, want %d positions cash %s",
			len(repaired.State.Positions), repaired.State.Cash, len(first.State.Positions), first.State.Cash)
	}
	if len(repaired.Ledger) != len(universe) {
		t.Errorf("ledger has %d rows, want %d", len(repaired.Ledger), len(universe))
	}

	// Exit day: same again with the batch closing.
	exit := Day{Date: exitDay, Prices: prices("20", "20", "30", "5", "50", "100"), ExitDate: laterExit}
	closed := mustRun(t, e, first.State, first.Ledger, exit)
	closedRepaired := mustRun(t, e, first.State, closed.Ledger, exit)
	if !bytes.Equal(encode(t, closed), encode(t, closedRepaired)) {
		t.Error("repaired exit differs from the uninterrupted run")
	}
	if len(closedRepaired.Ledger) != len(universe) {
		t.Errorf("ledger has %d rows, want %d", len(closedRepaired.Ledger), len(universe))
	}
	assertEq(t, "fees", closedRepaired.State.FeesPaid, d("348"))
}

func TestSignalTradedOnce(t *testing.T) {
	e := equalWeight(t)
	first := mustRun(t, e, freshState(), nil, entryInput())
	exit := mustRun(t, e, first.State, first.Ledger, Day{
		Date:     exitDay,
		Prices:   prices("10", "20", "30", "5", "50", "100"),
		ExitDate: laterExit,
	})

	// the same signal seen again after the batch closed must not reopen it
	in := entryInput()
	in.Date = nextDay
	in.ExitDate = laterExit
	res := mustRun(t, e, exit.State, exit.Ledger, in)
	if len(res.Opened) != 0 {
		t.Errorf("signal %s traded twice", entryDay)
	}
}

func TestNonFiniteAndMissingPricesSkipEntry(t *testing.T) {
	h := market.History{}
	for i, px := range []float64{10, 20, math.NaN(), 5, math.Inf(1), 0} {
		h.Add(universe[i], entryDay, px)
	}
	h.Normalize()

	in := entryInput()
	in.Prices = h.PricesOn(entryDay)

	res := mustRun(t, equalWeight(t), freshState(), nil, in)
	if len(res.State.Positions) != 3 {
		t.Fatalf("expected 3 positions, got %v", res.State.Positions)
	}
	for _, tk := range []string{"CCC", "EEE", "FFF"} {
		if res.State.Positions.Holds(tk) {
			t.Errorf("%s entered without a usable price", tk)
		}
	}
	assertEq(t, "fees", res.State.FeesPaid, d("87"))
	sum := res.State.Cash.Add(res.State.FeesPaid)
	for _, p := range res.State.Positions {
		sum = sum.Add(p.Stake)
	}
	assertEq(t, "conservation", sum, d("50000"))
}

func TestNavFallsBackToEntryPrice(t *testing.T) {
	e := equalWeight(t)
	entered := mustRun(t, e, freshState(), nil, entryInput())
	res := mustRun(t, e, entered.State, entered.Ledger, Day{
		Date:     entryDay.AddDays(3),
		Prices:   prices("20", "", "", "", "", ""),
		ExitDate: laterExit,
	})
	// AAA doubled, the rest are valued at entry
	assertEq(t, "nav", res.State.NAV, d("49826").Add(d("8304.33")))
	if res.Sample.Date != entryDay.AddDays(3) || !res.Sample.NAV.Equal(res.State.NAV) {
		t.Errorf("unexpected sample %+v", res.Sample)
	}
}

func TestNoSignalSnapshot(t *testing.T) {
	res := mustRun(t, equalWeight(t), freshState(), nil, Day{
		Date:       entryDay.AddDays(-3),
		Prices:     prices("10", "20", "30", "5", "50", "100"),
		SignalDate: entryDay,
		ExitDate:   exitDay,
	})
	if res.Snapshot.Status != models.StatusNoSignal || res.Snapshot.Message == "" {
		t.Errorf("unexpected snapshot %+v", res.Snapshot)
	}
	if res.Changed() {
		t.Error("no trades expected before the signal day")
	}
	assertEq(t, "nav", res.State.NAV, d("50000"))
	assertEq(t, "pl pct", *res.Sample.PLPct, decimal.Zero)
}

func TestRunRejectsBadInput(t *testing.T) {
	e := equalWeight(t)
	s := freshState()
	s.LastRunDate = exitDay

	if _, err := e.Run(s, nil, entryInput()); !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("expected ErrOutOfOrder, got %v", err)
	}
	in := entryInput()
	in.ExitDate = entryDay
	if _, err := e.Run(freshState(), nil, in); err == nil {
		t.Error("expected error for exit date not after run date")
	}
}

func TestRunDoesNotMutateInputs(t *testing.T) {
	e := equalWeight(t)
	s := freshState()
	var ledger []models.TradeRow
	mustRun(t, e, s, ledger, entryInput())
	if len(s.Positions) != 0 || !s.Cash.Equal(d("50000")) {
		t.Error("input state was modified")
	}
}

func TestZeroStakePLPct(t *testing.T) {
	e := equalWeight(t)
	s := freshState()
	s.Positions["AAA"] = models.Position{
		Qty:         d("1"),
		EntryPrice:  d("10"),
		EntryDate:   entryDay,
		PlannedExit: exitDay,
	}
	res := mustRun(t, e, s, nil, Day{Date: exitDay, Prices: prices("12"), ExitDate: laterExit})
	if len(res.Closed) != 1 {
		t.Fatalf("expected AAA closed, got %+v", res.Closed)
	}
	assertEq(t, "pl pct", res.Closed[0].PLPct, decimal.Zero)
	assertEq(t, "pl", res.Closed[0].PL, d("-17"))
}

func fractional(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(Rules{
		Tickers:            universe,
		InitialNAV:         d("10000"),
		FeePerLeg:          d("29"),
		Sizing:             Fractional,
		AllocationFraction: d("0.25"),
	})
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func buys(status scanner.Status, tickers ...string) []scanner.Result {
	var out []scanner.Result
	for _, tk := range tickers {
		out = append(out, scanner.Result{Ticker: tk, Status: status})
	}
	return out
}

func TestFractionalRespectsSlotsAndCash(t *testing.T) {
	e := fractional(t)
	s := storage.NewStateStore("", d("10000")).Initial()

	res := mustRun(t, e, s, nil, Day{
		Date:     entryDay,
		Prices:   prices("10", "20", "30", "5", "50", "100"),
		ExitDate: exitDay,
		Signals:  buys(scanner.StatusBuy, universe...),
	})
	if n := len(res.State.Positions); n != 4 {
		t.Fatalf("expected 4 positions (slots), got %d", n)
	}
	for _, tk := range []string{"AAA", "BBB", "CCC"} {
		assertEq(t, tk+" stake", res.State.Positions[tk].Stake, d("2500"))
	}
	assertEq(t, "DDD stake", res.State.Positions["DDD"].Stake, d("2384"))
	assertEq(t, "cash", res.State.Cash, decimal.Zero)
	if res.State.LastSignalDate != entryDay {
		t.Errorf("LastSignalDate = %s", res.State.LastSignalDate)
	}
}

func TestFractionalSellSignal(t *testing.T) {
	e := fractional(t)
	s := storage.NewStateStore("", d("10000")).Initial()
	opened := mustRun(t, e, s, nil, Day{
		Date:     entryDay,
		Prices:   prices("10"),
		ExitDate: exitDay,
		Signals:  buys(scanner.StatusBuy, "AAA"),
	})

	sell := []scanner.Result{{Ticker: "AAA", Status: scanner.StatusSell, ExitReason: models.ReasonTarget}}
	res := mustRun(t, e, opened.State, opened.Ledger, Day{
		Date:     entryDay.AddDays(3),
		Prices:   prices("10.5"),
		ExitDate: laterExit,
		Signals:  sell,
	})
	if len(res.Closed) != 1 || res.Closed[0].Reason != models.ReasonTarget {
		t.Fatalf("expected TARGET exit, got %+v", res.Closed)
	}
	assertEq(t, "pl", res.Closed[0].PL, d("96"))
	assertEq(t, "pl pct", res.Closed[0].PLPct, d("0.0384"))
}

func TestReentryOnExitDayHappensOnce(t *testing.T) {
	e := fractional(t)
	s := storage.NewStateStore("", d("10000")).Initial()
	s.Positions["AAA"] = models.Position{
		Qty:         d("100"),
		EntryPrice:  d("10"),
		EntryDate:   entryDay,
		Stake:       d("1000"),
		EntryFee:    d("29"),
		PlannedExit: exitDay,
	}
	s.Cash = d("8971")
	ledger := []models.TradeRow{{
		Ticker: "AAA", EntryDate: entryDay, EntryPrice: d("10"),
		Qty: d("100"), Stake: d("1000"), Fees: d("29"), Reason: models.ReasonBuy,
	}}

	// Closed on schedule, then flagged BUY again the same day.
	day := Day{
		Date:     exitDay,
		Prices:   prices("11"),
		ExitDate: laterExit,
		Signals:  buys(scanner.StatusBuy, "AAA"),
	}
	res := mustRun(t, e, s, ledger, day)
	if len(res.Closed) != 1 {
		t.Fatalf("expected AAA closed, got %+v", res.Closed)
	}
	if len(res.Opened) != 1 {
		t.Fatalf("expected AAA reopened once, got %+v", res.Opened)
	}
	again := mustRun(t, e, res.State, res.Ledger, day)
	if again.Changed() {
		t.Errorf("rerun traded again: opened %v closed %v", again.Opened, again.Closed)
	}
	if len(again.Ledger) != 2 {
		t.Errorf("expected closed and open AAA rows, got %+v", again.Ledger)
	}

	// only the ledger of the first run was saved
	repaired := mustRun(t, e, s, res.Ledger, day)
	if !bytes.Equal(encode(t, res), encode(t, repaired)) {
		t.Errorf("repaired run differs: %+v", repaired.State)
	}
}

func TestRulesValidate(t *testing.T) {
	base := Rules{Tickers: []string{"A"}, InitialNAV: d("1000"), FeePerLeg: d("1"), Sizing: EqualWeight}
	cases := []struct {
		name string
		edit func(*Rules)
	}{
		{"empty universe", func(r *Rules) { r.Tickers = nil }},
		{"duplicate ticker", func(r *Rules) { r.Tickers = []string{"A", "A"} }},
		{"negative fee", func(r *Rules) { r.FeePerLeg = d("-1") }},
		{"zero nav", func(r *Rules) { r.InitialNAV = decimal.Zero }},
		{"unknown sizing", func(r *Rules) { r.Sizing = "kelly" }},
		{"fraction too big", func(r *Rules) { r.Sizing = Fractional; r.AllocationFraction = d("1.5") }},
	}
	for _, tc := range cases {
		r := base
		tc.edit(&r)
		if err := r.Validate(); !errors.Is(err, ErrInvalidRules) {
			t.Errorf("%s: expected ErrInvalidRules, got %v", tc.name, err)
		}
	}
	if err := base.Validate(); err != nil {
		t.Errorf("base rules invalid: %v", err)
	}

	frac := base
	frac.Sizing = Fractional
	frac.AllocationFraction = d("0.3")
	if n := frac.MaxSlots(); n != 3 {
		t.Errorf("MaxSlots = %d, want 3", n)
	}
}
