package processor

import (
	"github.com/shubham-shewale/simfeed/pkg/models"
)

type Anomaly string

const (
	AnomalyGap         Anomaly = "gap"          // trade seq skipped ahead
	AnomalyDuplicate   Anomaly = "duplicate"    // trade seq already seen
	AnomalyStaleQuote  Anomaly = "stale_quote"  // quote seq not above the last quote
	AnomalyOrphanQuote Anomaly = "orphan_quote" // quote ahead of any trade seen for the symbol
	AnomalyCrossed     Anomaly = "crossed"      // bid >= ask
	AnomalySpread      Anomaly = "spread"       // ask - bid differs from the configured spread
	AnomalyReset       Anomaly = "reset"        // new src_conn_id, counters restarted
)

type Result struct {
	Accept    bool
	Anomalies []Anomaly
}

type symbolState struct {
	srcConnID uint64
	hasTrade  bool // a quote can open the session before any trade
	lastTrade uint64
	lastQuote uint64
}

// SeqTracker checks per-symbol sequencing. It is owned by one worker; the
// sharding by partition key guarantees a symbol never spans two trackers.
type SeqTracker struct {
	spread  models.Fixed
	symbols map[string]*symbolState
}

// NewSeqTracker takes the expected ask-bid gap; a zero spread skips that check.
func NewSeqTracker(spread models.Fixed) *SeqTracker {
	return &SeqTracker{spread: spread, symbols: make(map[string]*symbolState)}
}

// state returns the symbol's state, starting a new session when the source
// connection changed. The first record of a session is taken as the baseline.
func (t *SeqTracker) state(symbol string, srcConnID uint64, res *Result) *symbolState {
	st, ok := t.symbols[symbol]
	if ok && st.srcConnID == srcConnID {
		return st
	}
	if ok {
		res.Anomalies = append(res.Anomalies, AnomalyReset)
	}
	st = &symbolState{srcConnID: srcConnID}
	t.symbols[symbol] = st
	return st
}

func (t *SeqTracker) ObserveTrade(tr models.Trade) Result {
	var res Result
	st := t.state(tr.Symbol, tr.SrcConnID, &res)

	switch {
	case !st.hasTrade:
		// baseline
	case tr.Seq <= st.lastTrade:
		res.Anomalies = append(res.Anomalies, AnomalyDuplicate)
		return res
	case tr.Seq > st.lastTrade+1:
		res.Anomalies = append(res.Anomalies, AnomalyGap)
	}

	st.hasTrade = true
	st.lastTrade = tr.Seq
	res.Accept = true
	return res
}

func (t *SeqTracker) ObserveQuote(q models.Quote) Result {
	var res Result
	st := t.state(q.Symbol, q.SrcConnID, &res)

	if st.lastQuote != 0 && q.Seq <= st.lastQuote {
		res.Anomalies = append(res.Anomalies, AnomalyStaleQuote)
		return res
	}
	// trades and quotes arrive on different topics, so a quote may beat its trade
	if q.Seq > st.lastTrade {
		res.Anomalies = append(res.Anomalies, AnomalyOrphanQuote)
	}
	if !q.BidPx.LessThan(q.AskPx.Decimal) {
		res.Anomalies = append(res.Anomalies, AnomalyCrossed)
	}
	if !t.spread.IsZero() && !q.AskPx.Sub(q.BidPx).Equal(t.spread.Decimal) {
		res.Anomalies = append(res.Anomalies, AnomalySpread)
	}

	st.lastQuote = q.Seq
	res.Accept = true
	return res
}

// LastTrade reports the last accepted trade seq for a symbol.
func (t *SeqTracker) LastTrade(symbol string) uint64 {
	if st, ok := t.symbols[symbol]; ok {
		return st.lastTrade
	}
	return 0
}
