package models

import (
	"fmt"
	"strconv"
)

const (
	ChannelTrades = "trades"
	ChannelQuotes = "quotes"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Trade is a single print on the trades channel.
type Trade struct {
	Venue      string `json:"venue"`
	Symbol     string `json:"symbol"`
	Channel    string `json:"channel"`
	Seq        uint64 `json:"seq"`
	TsExchange int64  `json:"ts_exchange"` // unix nano
	TsGateway  int64  `json:"ts_gateway"`  // unix nano
	Px         Fixed  `json:"px"`
	Qty        Fixed  `json:"qty"`
	Aggressor  Side   `json:"aggressor"`
	TradeID    string `json:"trade_id"`
	SrcConnID  uint64 `json:"src_conn_id"`
}

// Quote is a top-of-book update on the quotes channel. Seq is the seq of the
// trade that produced it.
type Quote struct {
	Venue      string `json:"venue"`
	Symbol     string `json:"symbol"`
	Channel    string `json:"channel"`
	Seq        uint64 `json:"seq"`
	TsExchange int64  `json:"ts_exchange"`
	TsGateway  int64  `json:"ts_gateway"`
	BidPx      Fixed  `json:"bid_px"`
	BidQty     Fixed  `json:"bid_qty"`
	AskPx      Fixed  `json:"ask_px"`
	AskQty     Fixed  `json:"ask_qty"`
	SrcConnID  uint64 `json:"src_conn_id"`
}

// Envelope holds the fields shared by both channels. Consumers decode into it
// first to route a record before decoding the full body.
type Envelope struct {
	Venue     string `json:"venue"`
	Symbol    string `json:"symbol"`
	Channel   string `json:"channel"`
	Seq       uint64 `json:"seq"`
	SrcConnID uint64 `json:"src_conn_id"`
}

// PartitionKey routes every record of a symbol to the same partition.
func PartitionKey(venue, symbol string) []byte {
	return []byte(venue + "|" + symbol)
}

func TradeID(symbol string, seq uint64) string {
	return symbol + "-" + strconv.FormatUint(seq, 10)
}

func SymbolName(i int) string {
	return fmt.Sprintf("SYM%d", i)
}

// Universe returns SYM0..SYM{n-1}.
func Universe(n int) []string {
	if n <= 0 {
		return nil
	}
	syms := make([]string, n)
	for i := range syms {
		syms[i] = SymbolName(i)
	}
	return syms
}

// SnapshotKey is where the auditor keeps the latest record of a channel,
// e.g. feed:SYM0:trades.
func SnapshotKey(symbol, channel string) string {
	return "feed:" + symbol + ":" + channel
}

const UpdateChannelPrefix = "feed."

// UpdateChannel carries every accepted record of a symbol, e.g. feed.SYM0.
func UpdateChannel(symbol string) string {
	return UpdateChannelPrefix + symbol
}
