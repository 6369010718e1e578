package venue

import (
	"encoding/json"

	"tradeflow/internal/model"
)

// PolymarketAdapter reads fills from a prediction-market trade channel. The
// feed reports side explicitly and timestamps as epoch-ms strings, and may
// batch several fills into one frame.
type PolymarketAdapter struct{}

type polymarketSubscribe struct {
	Type    string   `json:"type"`
	Channel string   `json:"channel"`
	Markets []string `json:"markets"`
}

type polymarketFill struct {
	EventType string `json:"event_type"`
	Market    string `json:"market"`
	FillID    string `json:"fill_id"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Side      string `json:"side"`
	Timestamp string `json:"timestamp"`
}

func (a *PolymarketAdapter) Name() string       { return "polymarket" }
func (a *PolymarketAdapter) Category() Category { return CategoryPrediction }

func (a *PolymarketAdapter) DefaultSymbols() []string {
	return []string{"us-election-2028", "btc-100k-2026"}
}

func (a *PolymarketAdapter) SubscribeFrame(symbols []string) ([]byte, error) {
	return json.Marshal(polymarketSubscribe{
		Type:    "subscribe",
		Channel: "trades",
		Markets: symbols,
	})
}

func (a *PolymarketAdapter) ParseFrames(payload []byte) ([]model.RawTrade, error) {
	// The channel emits either one fill object or an array of them.
	fills := []polymarketFill{}
	if len(payload) > 0 && payload[0] == '[' {
		if err := json.Unmarshal(payload, &fills); err != nil {
			return nil, err
		}
	} else {
		var one polymarketFill
		if err := json.Unmarshal(payload, &one); err != nil {
			return nil, err
		}
		fills = append(fills, one)
	}

	out := make([]model.RawTrade, 0, len(fills))
	for _, f := range fills {
		if f.EventType != "trade" {
			continue
		}
		out = append(out, model.RawTrade{
			Symbol:    f.Market,
			TradeID:   f.FillID,
			Price:     f.Price,
			Size:      f.Size,
			Side:      f.Side,
			Timestamp: f.Timestamp,
		})
	}
	return out, nil
}

func (a *PolymarketAdapter) IsControlFrame(payload []byte) bool {
	var msg struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return false
	}
	return msg.EventType == "subscribed" || msg.EventType == "pong"
}
