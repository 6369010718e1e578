package venue

import (
	"strings"
	"testing"

	"tradeflow/config"
)

func TestNewAdapterUnknownVenue(t *testing.T) {
	if _, err := NewAdapter("nasdaq"); err == nil {
		t.Fatalf("expected error for unknown venue")
	}
}

func TestBinanceParseTrade(t *testing.T) {
	a := &BinanceAdapter{}
	frame := `{"e":"trade","s":"BTCUSDT","t":12345,"p":"50000.10","q":"0.5","T":1700000000000,"m":true}`

	raws, err := a.ParseFrames([]byte(frame))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(raws) != 1 {
		t.Fatalf("expected 1 raw trade, got %d", len(raws))
	}
	raw := raws[0]
	if raw.Symbol != "BTCUSDT" || raw.TradeID != "12345" {
		t.Errorf("unexpected identity: %+v", raw)
	}
	if raw.Side != "sell" {
		t.Errorf("maker flag should map to sell, got %q", raw.Side)
	}
	if raw.TimestampMs != 1700000000000 {
		t.Errorf("unexpected timestamp: %d", raw.TimestampMs)
	}
}

func TestBinanceIgnoresOtherEvents(t *testing.T) {
	a := &BinanceAdapter{}
	raws, err := a.ParseFrames([]byte(`{"e":"depthUpdate","s":"BTCUSDT"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(raws) != 0 {
		t.Fatalf("expected no trades, got %d", len(raws))
	}
	if !a.IsControlFrame([]byte(`{"result":null,"id":1}`)) {
		t.Errorf("subscription ack not recognised as control frame")
	}
}

func TestBinanceSubscribeFrame(t *testing.T) {
	a := &BinanceAdapter{}
	frame, err := a.SubscribeFrame([]string{"BTCUSDT"})
	if err != nil {
		t.Fatalf("subscribe frame: %v", err)
	}
	if !strings.Contains(string(frame), "btcusdt@trade") {
		t.Errorf("unexpected subscribe frame: %s", frame)
	}
}

func TestUniswapParseSwap(t *testing.T) {
	a := &UniswapAdapter{}
	frame := `{"type":"swap","pair":"ETH-USDC","id":"0xabc1","price":"1850.25","amount0":"-2.0","timestamp":1700000000000}`

	raws, err := a.ParseFrames([]byte(frame))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(raws) != 1 {
		t.Fatalf("expected 1 raw trade, got %d", len(raws))
	}
	if raws[0].SignedAmount != "-2.0" || raws[0].Side != "" {
		t.Errorf("dex trade should carry a signed amount, got %+v", raws[0])
	}
}

func TestPolymarketParseBatchedFills(t *testing.T) {
	a := &PolymarketAdapter{}
	frame := `[{"event_type":"trade","market":"btc-100k-2026","fill_id":"f1","price":"0.63","size":"120","side":"BUY","timestamp":"1700000000000"},
	          {"event_type":"trade","market":"btc-100k-2026","fill_id":"f2","price":"0.64","size":"10","side":"SELL","timestamp":"1700000001000"}]`

	raws, err := a.ParseFrames([]byte(frame))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(raws) != 2 {
		t.Fatalf("expected 2 raw trades, got %d", len(raws))
	}
	if raws[0].Timestamp != "1700000000000" {
		t.Errorf("expected string timestamp, got %+v", raws[0])
	}
}

func TestNewVenueSymbolFallback(t *testing.T) {
	vc := config.VenueConfig{
		Name:                  "binance",
		Category:              "cex",
		WhaleThreshold:        1000,
		Symbols:               "not-json",
		CandleIntervalSeconds: 60,
		URLs:                  []string{"wss://x"},
	}
	v := NewVenue(vc, []string{"BTCUSDT"})
	if len(v.Settings.Symbols) != 1 || v.Settings.Symbols[0] != "BTCUSDT" {
		t.Fatalf("expected fallback symbols, got %v", v.Settings.Symbols)
	}

	vc.Symbols = `["SOLUSDT"]`
	v = NewVenue(vc, []string{"BTCUSDT"})
	if len(v.Settings.Symbols) != 1 || v.Settings.Symbols[0] != "SOLUSDT" {
		t.Fatalf("expected configured symbols, got %v", v.Settings.Symbols)
	}
}

func TestRegistryDisableEnable(t *testing.T) {
	r := NewRegistry()
	r.Add(&Venue{Name: "binance"}, true)
	r.Add(&Venue{Name: "uniswap"}, false)

	if r.IsDisabled("binance") {
		t.Errorf("binance should start enabled")
	}
	if !r.IsDisabled("uniswap") {
		t.Errorf("uniswap should start disabled")
	}

	r.Disable("binance")
	r.Enable("uniswap")

	disabled := r.Disabled()
	if len(disabled) != 1 || disabled[0] != "binance" {
		t.Fatalf("unexpected disabled set: %v", disabled)
	}

	// Disabling an unknown venue is a no-op.
	r.Disable("ghost")
	if len(r.Disabled()) != 1 {
		t.Fatalf("unknown venue should not enter disabled set")
	}
}
