package shared

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/halcyonlabs/marketsync/internal/schema"
)

// DefaultStaleHorizon bounds how old a trade may be, relative to processing
// time, before it is discarded without consulting the watermark. Protects
// against replaying history after a long disconnect.
const DefaultStaleHorizon = 5 * time.Minute

// TradePrint is a raw trade observation prior to deduplication.
type TradePrint struct {
	ID    int64
	Price decimal.Decimal
	Size  decimal.Decimal
	Side  schema.Side
	Time  time.Time
}

type tradeWatermark struct {
	lastID   int64
	lastTime time.Time
}

// TradeFilter deduplicates and orders trade prints per symbol using a
// high-water mark of (trade id, trade time). Venues replay recent trades on
// reconnect; the watermark suppresses those without dropping genuine prints.
//
// Driven exclusively from the inbound-message goroutine; no locking.
type TradeFilter struct {
	horizon time.Duration
	clock   func() time.Time
	marks   map[string]tradeWatermark
}

// NewTradeFilter constructs a filter with the given staleness horizon.
// A nil clock defaults to time.Now; a non-positive horizon uses the default.
func NewTradeFilter(horizon time.Duration, clock func() time.Time) *TradeFilter {
	if horizon <= 0 {
		horizon = DefaultStaleHorizon
	}
	if clock == nil {
		clock = time.Now
	}
	return &TradeFilter{
		horizon: horizon,
		clock:   clock,
		marks:   make(map[string]tradeWatermark),
	}
}

// Accept reports whether the print should be emitted, advancing the watermark
// when it is. Duplicates are prints at or below the watermark on both id and
// time. Prints older than the staleness horizon are dropped regardless.
func (f *TradeFilter) Accept(symbol string, tradeID int64, tradeTime time.Time) bool {
	if f.clock().Sub(tradeTime) > f.horizon {
		return false
	}
	mark, ok := f.marks[symbol]
	if ok && tradeID <= mark.lastID && !tradeTime.After(mark.lastTime) {
		return false
	}
	if tradeID > mark.lastID {
		mark.lastID = tradeID
	}
	if tradeTime.After(mark.lastTime) {
		mark.lastTime = tradeTime
	}
	f.marks[symbol] = mark
	return true
}

// AcceptBatch re-sorts prints ascending by time (the feed may deliver batches
// newest-first) and returns the ones that pass the watermark.
func (f *TradeFilter) AcceptBatch(symbol string, prints []TradePrint) []TradePrint {
	if len(prints) == 0 {
		return nil
	}
	sorted := make([]TradePrint, len(prints))
	copy(sorted, prints)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time.Before(sorted[j].Time)
	})

	out := sorted[:0]
	for _, print := range sorted {
		if f.Accept(symbol, print.ID, print.Time) {
			out = append(out, print)
		}
	}
	return out
}

// Drop forgets the watermark for symbol, as required on unsubscribe.
func (f *TradeFilter) Drop(symbol string) {
	delete(f.marks, symbol)
}
