// Package candle accumulates trades into fixed-width OHLCV buckets per
// symbol. An Aggregator is owned by exactly one pipeline goroutine and is
// not safe for concurrent use.
package candle

import (
	"time"

	"tradeflow/internal/model"
)

type Aggregator struct {
	venue    string
	interval time.Duration
	open     map[string]*model.Candle
}

func New(venue string, interval time.Duration) *Aggregator {
	return &Aggregator{
		venue:    venue,
		interval: interval,
		open:     make(map[string]*model.Candle),
	}
}

// BucketStart floors ts onto the interval grid.
func BucketStart(ts time.Time, interval time.Duration) time.Time {
	ms := ts.UnixMilli()
	intervalMs := interval.Milliseconds()
	return time.UnixMilli(ms - ms%intervalMs).UTC()
}

// OnTrade folds one trade into its bucket. When the trade opens a new bucket
// for its symbol, the superseded candle is returned for flushing; otherwise
// the return is nil.
func (a *Aggregator) OnTrade(t *model.Trade) *model.Candle {
	start := BucketStart(t.CreatedAt, a.interval)

	current, ok := a.open[t.Symbol]
	if ok && current.StartTime.Equal(start) {
		if t.Price > current.High {
			current.High = t.Price
		}
		if t.Price < current.Low {
			current.Low = t.Price
		}
		current.Close = t.Price
		current.Volume += t.Size
		current.TradeCount++
		return nil
	}

	a.open[t.Symbol] = &model.Candle{
		ID:              model.CandleID(a.venue, t.Symbol, start),
		Venue:           a.venue,
		Symbol:          t.Symbol,
		Open:            t.Price,
		High:            t.Price,
		Low:             t.Price,
		Close:           t.Price,
		Volume:          t.Size,
		TradeCount:      1,
		IntervalSeconds: int(a.interval / time.Second),
		StartTime:       start,
	}

	if ok {
		return current
	}
	return nil
}

// FlushAll drains every open candle regardless of bucket boundary. Called on
// pipeline shutdown so in-memory aggregates are not silently lost.
func (a *Aggregator) FlushAll() []*model.Candle {
	out := make([]*model.Candle, 0, len(a.open))
	for _, c := range a.open {
		out = append(out, c)
	}
	a.open = make(map[string]*model.Candle)
	return out
}
