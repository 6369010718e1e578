// Package norm converts venue-native trade records into canonical trades.
// Everything here is pure; malformed input ends in a *ParseError, never a
// panic, and never touches the connection that delivered it.
package norm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"tradeflow/internal/model"
)

// tradeNamespace seeds the deterministic trade id derivation. Fixed so the
// same (venue, symbol, native id) always maps to the same row.
var tradeNamespace = uuid.MustParse("8b8f9ddc-4f10-43bb-bd2a-8f0c5f3a9e61")

// ParseError describes a single malformed field in a raw trade.
type ParseError struct {
	Venue  string
	Field  string
	Value  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("normalize %s trade: field %q value %q: %s", e.Venue, e.Field, e.Value, e.Reason)
}

var sideVocabulary = map[string]model.Side{
	"buy":  model.SideBuy,
	"b":    model.SideBuy,
	"bid":  model.SideBuy,
	"sell": model.SideSell,
	"s":    model.SideSell,
	"ask":  model.SideSell,
}

// Normalize converts one raw trade into the canonical shape: parses
// numeric-as-string fields, maps the venue's side vocabulary (or infers the
// side from a signed amount), computes the notional, converts the timestamp
// and derives the deduplication id.
func Normalize(raw model.RawTrade, venue string) (model.Trade, error) {
	if raw.Symbol == "" {
		return model.Trade{}, &ParseError{Venue: venue, Field: "symbol", Reason: "empty"}
	}
	if raw.TradeID == "" {
		return model.Trade{}, &ParseError{Venue: venue, Field: "tradeId", Reason: "empty"}
	}

	price, err := parsePositiveFloat(venue, "price", raw.Price)
	if err != nil {
		return model.Trade{}, err
	}

	var size float64
	var side model.Side
	switch {
	case raw.Side != "":
		side, err = mapSide(venue, raw.Side)
		if err != nil {
			return model.Trade{}, err
		}
		size, err = parsePositiveFloat(venue, "size", raw.Size)
		if err != nil {
			return model.Trade{}, err
		}
	case raw.SignedAmount != "":
		amount, perr := parseFloat(venue, "signedAmount", raw.SignedAmount)
		if perr != nil {
			return model.Trade{}, perr
		}
		if amount == 0 {
			return model.Trade{}, &ParseError{Venue: venue, Field: "signedAmount", Value: raw.SignedAmount, Reason: "zero amount"}
		}
		side = model.SideBuy
		if amount < 0 {
			side = model.SideSell
		}
		size = math.Abs(amount)
	default:
		return model.Trade{}, &ParseError{Venue: venue, Field: "side", Reason: "neither side nor signed amount present"}
	}

	ts, err := parseTimestamp(venue, raw)
	if err != nil {
		return model.Trade{}, err
	}

	return model.Trade{
		ID:        TradeID(venue, raw.Symbol, raw.TradeID),
		Venue:     venue,
		Symbol:    raw.Symbol,
		Price:     price,
		Size:      size,
		Side:      side,
		Notional:  price * size,
		CreatedAt: ts,
	}, nil
}

// TradeID derives the deterministic deduplication id for a trade so that
// duplicate delivery after a reconnect upserts onto the same row.
func TradeID(venue, symbol, nativeID string) string {
	name := venue + "/" + symbol + "/" + nativeID
	return uuid.NewSHA1(tradeNamespace, []byte(name)).String()
}

func mapSide(venue, raw string) (model.Side, error) {
	if side, ok := sideVocabulary[strings.ToLower(raw)]; ok {
		return side, nil
	}
	return "", &ParseError{Venue: venue, Field: "side", Value: raw, Reason: "unknown side vocabulary"}
}

func parseFloat(venue, field, value string) (float64, error) {
	if value == "" {
		return 0, &ParseError{Venue: venue, Field: field, Reason: "empty"}
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, &ParseError{Venue: venue, Field: field, Value: value, Reason: "not a finite number"}
	}
	return f, nil
}

func parsePositiveFloat(venue, field, value string) (float64, error) {
	f, err := parseFloat(venue, field, value)
	if err != nil {
		return 0, err
	}
	if f <= 0 {
		return 0, &ParseError{Venue: venue, Field: field, Value: value, Reason: "must be positive"}
	}
	return f, nil
}

func parseTimestamp(venue string, raw model.RawTrade) (time.Time, error) {
	ms := raw.TimestampMs
	if ms == 0 && raw.Timestamp != "" {
		parsed, err := strconv.ParseInt(strings.TrimSpace(raw.Timestamp), 10, 64)
		if err != nil {
			return time.Time{}, &ParseError{Venue: venue, Field: "timestamp", Value: raw.Timestamp, Reason: "not an epoch-ms integer"}
		}
		ms = parsed
	}
	if ms <= 0 {
		return time.Time{}, &ParseError{Venue: venue, Field: "timestamp", Value: raw.Timestamp, Reason: "missing or non-positive"}
	}
	return time.UnixMilli(ms).UTC(), nil
}
