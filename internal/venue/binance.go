package venue

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"tradeflow/internal/model"
)

// BinanceAdapter reads the public trade stream of a centralized exchange.
type BinanceAdapter struct{}

type binanceSubscribe struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type binanceTrade struct {
	Event     string `json:"e"`
	Symbol    string `json:"s"`
	TradeID   int64  `json:"t"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
	// Maker reports whether the buyer is the market maker, i.e. the
	// aggressor sold.
	Maker bool `json:"m"`
}

func (a *BinanceAdapter) Name() string       { return "binance" }
func (a *BinanceAdapter) Category() Category { return CategoryCEX }

func (a *BinanceAdapter) DefaultSymbols() []string {
	return []string{"BTCUSDT", "ETHUSDT"}
}

func (a *BinanceAdapter) SubscribeFrame(symbols []string) ([]byte, error) {
	params := make([]string, len(symbols))
	for i, s := range symbols {
		params[i] = strings.ToLower(s) + "@trade"
	}
	return json.Marshal(binanceSubscribe{
		Method: "SUBSCRIBE",
		Params: params,
		ID:     time.Now().UnixNano(),
	})
}

func (a *BinanceAdapter) ParseFrames(payload []byte) ([]model.RawTrade, error) {
	var msg binanceTrade
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, err
	}
	if msg.Event != "trade" {
		return nil, nil
	}

	side := "buy"
	if msg.Maker {
		side = "sell"
	}

	return []model.RawTrade{{
		Symbol:      msg.Symbol,
		TradeID:     strconv.FormatInt(msg.TradeID, 10),
		Price:       msg.Price,
		Size:        msg.Quantity,
		Side:        side,
		TimestampMs: msg.TradeTime,
	}}, nil
}

func (a *BinanceAdapter) IsControlFrame(payload []byte) bool {
	// Subscription acks look like {"result":null,"id":1}.
	var ack struct {
		ID *int64 `json:"id"`
	}
	if err := json.Unmarshal(payload, &ack); err != nil {
		return false
	}
	return ack.ID != nil
}
