package model

import "time"

// Side is the canonical direction of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// RawTrade carries a single venue-native trade record extracted from a feed
// frame before normalization. String fields hold the venue's own
// representation; the normalizer is responsible for parsing them.
type RawTrade struct {
	Symbol  string
	TradeID string
	Price   string
	Size    string

	// Side holds the venue's native side vocabulary when the feed reports
	// one explicitly. Empty for AMM-style venues.
	Side string

	// SignedAmount is set instead of Side/Size by AMM-style venues where
	// direction is inferred from the sign of the base amount.
	SignedAmount string

	// TimestampMs is used when the feed reports an epoch-ms integer.
	// Timestamp is used when the feed reports the epoch-ms as a string.
	TimestampMs int64
	Timestamp   string
}

// Trade is the canonical, venue-independent trade record. Written once;
// re-delivery after a reconnect upserts the identical content.
type Trade struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	Venue     string    `gorm:"column:venue;index" json:"venue"`
	Symbol    string    `gorm:"column:symbol;index" json:"symbol"`
	Price     float64   `gorm:"column:price" json:"price"`
	Size      float64   `gorm:"column:size" json:"size"`
	Side      Side      `gorm:"column:side" json:"side"`
	Notional  float64   `gorm:"column:notional" json:"notional"`
	IsWhale   bool      `gorm:"column:is_whale" json:"isWhale"`
	CreatedAt time.Time `gorm:"column:created_at" json:"createdAt"`
}

func (Trade) TableName() string {
	return "trades"
}
