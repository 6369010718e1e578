package venue

import (
	"fmt"

	"tradeflow/internal/model"
)

// Adapter expresses the wire-format differences between venues. One shared
// connection manager drives any venue through this interface; the adapter
// only knows how to greet the feed and how to read its frames.
type Adapter interface {
	Name() string
	Category() Category

	// DefaultSymbols is the fallback watch list used when the configured
	// symbol set cannot be parsed.
	DefaultSymbols() []string

	// SubscribeFrame builds the control frame sent right after connect.
	SubscribeFrame(symbols []string) ([]byte, error)

	// ParseFrames extracts zero or more raw trades from one inbound frame.
	// Frames carrying other event types yield an empty slice; a frame that
	// cannot be decoded at all yields an error.
	ParseFrames(payload []byte) ([]model.RawTrade, error)

	// IsControlFrame reports whether the frame is an application-level
	// ack/pong that should be ignored without parsing.
	IsControlFrame(payload []byte) bool
}

// NewAdapter returns the adapter registered for the venue name.
func NewAdapter(name string) (Adapter, error) {
	switch name {
	case "binance":
		return &BinanceAdapter{}, nil
	case "uniswap":
		return &UniswapAdapter{}, nil
	case "polymarket":
		return &PolymarketAdapter{}, nil
	default:
		return nil, fmt.Errorf("no adapter registered for venue %q", name)
	}
}
