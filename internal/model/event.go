package model

import "time"

// TradeEvent is the payload published for every normalized trade.
type TradeEvent struct {
	Venue     string    `json:"venue"`
	Symbol    string    `json:"symbol"`
	TradeID   string    `json:"tradeId"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	Side      Side      `json:"side"`
	Notional  float64   `json:"notional"`
	IsWhale   bool      `json:"isWhale"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageTags are the structured fields attached to a whale message.
type MessageTags struct {
	Symbol   string  `json:"symbol"`
	Side     Side    `json:"side"`
	Notional float64 `json:"notional"`
	TradeID  string  `json:"tradeId"`
}

// MessageEvent is published in addition to the trade event when a trade's
// notional meets the venue's whale threshold.
type MessageEvent struct {
	Module    string      `json:"module"`
	Summary   string      `json:"summary"`
	Tags      MessageTags `json:"tags"`
	Timestamp time.Time   `json:"timestamp"`
}

// ReconnectingEvent is emitted by the reconnect scheduler on each retry.
type ReconnectingEvent struct {
	Module  string `json:"module"`
	Attempt int    `json:"attempt"`
	DelayMs int64  `json:"delay"`
}

// DeadModuleEvent is emitted once when a venue exhausts its reconnect
// attempts and is marked not running.
type DeadModuleEvent struct {
	Module   string    `json:"module"`
	Attempts int       `json:"attempts"`
	At       time.Time `json:"at"`
}
