package venue

import (
	"encoding/json"

	"tradeflow/internal/model"
)

// UniswapAdapter reads swap events from a DEX indexer stream. AMM swaps do
// not carry an explicit side; direction comes from the sign of the base
// amount, positive meaning the pool was bought from.
type UniswapAdapter struct{}

type uniswapSubscribe struct {
	Op      string   `json:"op"`
	Channel string   `json:"channel"`
	Pairs   []string `json:"pairs"`
}

type uniswapSwap struct {
	Type      string `json:"type"`
	Pair      string `json:"pair"`
	SwapID    string `json:"id"`
	Price     string `json:"price"`
	Amount0   string `json:"amount0"`
	Timestamp int64  `json:"timestamp"`
}

func (a *UniswapAdapter) Name() string       { return "uniswap" }
func (a *UniswapAdapter) Category() Category { return CategoryDEX }

func (a *UniswapAdapter) DefaultSymbols() []string {
	return []string{"ETH-USDC", "WBTC-USDC"}
}

func (a *UniswapAdapter) SubscribeFrame(symbols []string) ([]byte, error) {
	return json.Marshal(uniswapSubscribe{
		Op:      "subscribe",
		Channel: "swaps",
		Pairs:   symbols,
	})
}

func (a *UniswapAdapter) ParseFrames(payload []byte) ([]model.RawTrade, error) {
	var msg uniswapSwap
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, err
	}
	if msg.Type != "swap" {
		return nil, nil
	}

	return []model.RawTrade{{
		Symbol:       msg.Pair,
		TradeID:      msg.SwapID,
		Price:        msg.Price,
		SignedAmount: msg.Amount0,
		TimestampMs:  msg.Timestamp,
	}}, nil
}

func (a *UniswapAdapter) IsControlFrame(payload []byte) bool {
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return false
	}
	return msg.Type == "subscribed" || msg.Type == "pong"
}
