package connector

import (
	"bytes"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/segmentio/encoding/json"

	"github.com/shubham-shewale/simfeed/pkg/models"
)

var ErrNotTrade = errors.New("not a trade")

// VenueTrade is a trade as reported by a venue, before it gets our envelope.
type VenueTrade struct {
	Symbol     string
	Px         float64
	Qty        float64
	Aggressor  models.Side
	TradeID    string
	TsExchange int64 // unix nano, 0 when the venue sent none
	Seq        uint64
	HasSeq     bool
}

var (
	symbolKeys    = []string{"symbol", "s", "coin"}
	priceKeys     = []string{"px", "price", "p"}
	qtyKeys       = []string{"qty", "size", "sz", "q"}
	sideKeys      = []string{"aggressor", "side"}
	tradeIDKeys   = []string{"trade_id", "id", "tid"}
	timestampKeys = []string{"ts", "timestamp", "time", "T", "t"}
	seqKeys       = []string{"seq", "sequence", "event_id"}
)

// Flatten splits a venue message into candidate trade objects. It accepts a
// bare array, {"data": [...]}, {"data": {...}}, {"trades": [...]} and falls
// back to treating the message itself as one trade.
func Flatten(msg []byte) ([]json.RawMessage, error) {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 {
		return nil, nil
	}

	if msg[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(msg, &items); err != nil {
			return nil, err
		}
		return items, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(msg, &obj); err != nil {
		return nil, err
	}
	if data, ok := obj["data"]; ok {
		if items, ok := asArray(data); ok {
			return items, nil
		}
		return []json.RawMessage{data}, nil
	}
	if trades, ok := obj["trades"]; ok {
		if items, ok := asArray(trades); ok {
			return items, nil
		}
	}
	return []json.RawMessage{msg}, nil
}

// ExtractTrade reads one venue trade. Symbol and price are required; the
// aggressor defaults to buy.
func ExtractTrade(item json.RawMessage) (VenueTrade, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(item, &obj); err != nil {
		return VenueTrade{}, ErrNotTrade
	}

	var t VenueTrade
	var ok bool

	if t.Symbol, ok = firstString(obj, symbolKeys); !ok || t.Symbol == "" {
		return VenueTrade{}, ErrNotTrade
	}
	if t.Px, ok = firstFloat(obj, priceKeys); !ok {
		return VenueTrade{}, ErrNotTrade
	}
	t.Qty, _ = firstFloat(obj, qtyKeys)
	t.Aggressor = aggressor(obj)

	if id, ok := firstString(obj, tradeIDKeys); ok {
		t.TradeID = id
	} else if n, ok := firstUint(obj, tradeIDKeys); ok {
		t.TradeID = strconv.FormatUint(n, 10)
	}

	if ts, ok := firstUint(obj, timestampKeys); ok {
		t.TsExchange = ScaleToNanos(int64(ts))
	}
	t.Seq, t.HasSeq = firstUint(obj, seqKeys)
	return t, nil
}

// Largest value of each unit that still fits in int64 nanoseconds, which
// is also the last instant (year 2262) a unix-nano clock can show.
const (
	maxSeconds = math.MaxInt64 / 1_000_000_000
	maxMillis  = math.MaxInt64 / 1_000_000
	maxMicros  = math.MaxInt64 / 1_000
)

// ScaleToNanos guesses the unit of a venue timestamp from its magnitude:
// seconds up to ~9.2e9, millis up to ~9.2e12, micros up to ~9.2e15, nanos
// beyond.
func ScaleToNanos(ts int64) int64 {
	switch {
	case ts <= 0:
		return 0
	case ts <= maxSeconds:
		return ts * 1e9
	case ts <= maxMillis:
		return ts * 1e6
	case ts <= maxMicros:
		return ts * 1e3
	default:
		return ts
	}
}

func aggressor(obj map[string]json.RawMessage) models.Side {
	if side, ok := firstString(obj, sideKeys); ok {
		switch strings.ToLower(side) {
		case "sell", "s", "a", "ask":
			return models.SideSell
		default:
			return models.SideBuy
		}
	}
	if raw, ok := obj["isBuyerMaker"]; ok {
		var maker bool
		if json.Unmarshal(raw, &maker) == nil && maker {
			return models.SideSell
		}
	}
	return models.SideBuy
}

func asArray(raw json.RawMessage) ([]json.RawMessage, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	return items, true
}

func firstString(obj map[string]json.RawMessage, keys []string) (string, bool) {
	for _, k := range keys {
		raw, ok := obj[k]
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s, true
		}
	}
	return "", false
}

// firstFloat accepts JSON numbers and numeric strings.
func firstFloat(obj map[string]json.RawMessage, keys []string) (float64, bool) {
	for _, k := range keys {
		raw, ok := obj[k]
		if !ok {
			continue
		}
		if f, err := strconv.ParseFloat(unquote(raw), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func firstUint(obj map[string]json.RawMessage, keys []string) (uint64, bool) {
	for _, k := range keys {
		raw, ok := obj[k]
		if !ok || len(raw) == 0 || raw[0] == '"' {
			continue
		}
		if n, err := strconv.ParseUint(string(raw), 10, 64); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(string(raw), 64); err == nil && f >= 0 {
			return uint64(f), true
		}
	}
	return 0, false
}

func unquote(raw json.RawMessage) string {
	s := string(bytes.TrimSpace(raw))
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
