package model

import (
	"fmt"
	"time"
)

// Candle is a fixed-interval OHLCV aggregate for one symbol on one venue,
// keyed by (venue, symbol, bucket start).
type Candle struct {
	ID              string    `gorm:"column:id;primaryKey" json:"id"`
	Venue           string    `gorm:"column:venue;index" json:"venue"`
	Symbol          string    `gorm:"column:symbol;index" json:"symbol"`
	Open            float64   `gorm:"column:open" json:"open"`
	High            float64   `gorm:"column:high" json:"high"`
	Low             float64   `gorm:"column:low" json:"low"`
	Close           float64   `gorm:"column:close" json:"close"`
	Volume          float64   `gorm:"column:volume" json:"volume"`
	TradeCount      int64     `gorm:"column:trade_count" json:"tradeCount"`
	IntervalSeconds int       `gorm:"column:interval_seconds" json:"intervalSeconds"`
	StartTime       time.Time `gorm:"column:start_time;index" json:"startTime"`
}

func (Candle) TableName() string {
	return "candles"
}

// CandleID builds the deterministic primary key for a candle bucket so a
// resumed flush after a crash lands on the same row.
func CandleID(venue, symbol string, start time.Time) string {
	return fmt.Sprintf("%s:%s:%d", venue, symbol, start.UnixMilli())
}
