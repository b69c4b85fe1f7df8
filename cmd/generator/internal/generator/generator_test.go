package generator_test

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sort"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/simfeed/cmd/generator/internal/generator"
	"github.com/shubham-shewale/simfeed/cmd/generator/internal/testutils"
	"github.com/shubham-shewale/simfeed/pkg/models"
)

func testOptions(n int, quoteProb float64) generator.Options {
	return generator.Options{
		Venue:            "sim",
		Symbols:          models.Universe(n),
		TradesTopic:      "trades",
		QuotesTopic:      "quotes",
		TickDelay:        10 * time.Millisecond,
		QuoteProbability: quoteProb,
		BasePrice:        10000,
		PriceRange:       10,
		HalfSpread:       models.NewFixed(0.5),
		QuoteQty:         models.NewFixed(1),
		SrcConnID:        1,
	}
}

func newGen(t *testing.T, pub generator.Publisher, opts generator.Options, rnd generator.Rand) *generator.FeedGenerator {
	t.Helper()
	clock := &testutils.MockClock{CurrentTime: time.Unix(1700000000, 123)}
	gen, err := generator.NewFeedGenerator(zap.NewNop(), pub, opts, rnd, clock)
	if err != nil {
		t.Fatalf("NewFeedGenerator: %v", err)
	}
	return gen
}

func TestGenerator_Logic(t *testing.T) {
	pub := &testutils.MockPublisher{}

	// Always pick index 0 (SYM0), every float draw returns 0.5
	gen := newGen(t, pub, testOptions(1, 0.2), &testutils.MockRand{ValInt: 0, ValFloat: 0.5})

	tick, err := gen.Step(context.Background())
	if err != nil {
		t.Fatalf("Step: %v", err)
	}

	if len(pub.Records) != 1 {
		t.Fatalf("Expected 1 record (0.5 >= 0.2 means no quote), got %d", len(pub.Records))
	}
	if pub.FlushCount != 1 {
		t.Errorf("Expected one flush per iteration, got %d", pub.FlushCount)
	}

	rec := pub.Records[0]
	if rec.Topic != "trades" || rec.Key != "sim|SYM0" {
		t.Errorf("Unexpected routing: topic=%s key=%s", rec.Topic, rec.Key)
	}

	tr := tick.Trade
	if tr.Seq != 1 || tr.TradeID != "SYM0-1" {
		t.Errorf("Expected seq 1 / SYM0-1, got %d / %s", tr.Seq, tr.TradeID)
	}
	// 10000 + 0.5*10
	if tr.Px.String() != "10005" {
		t.Errorf("Expected px 10005, got %s", tr.Px)
	}
	if tr.Qty.String() != "0.5" {
		t.Errorf("Expected qty 0.5, got %s", tr.Qty)
	}
	if tr.Aggressor != models.SideSell {
		t.Errorf("0.5 is not > 0.5, expected sell, got %s", tr.Aggressor)
	}
	want := time.Unix(1700000000, 123).UnixNano()
	if tr.TsExchange != want || tr.TsGateway != want {
		t.Errorf("Expected both timestamps %d, got %d/%d", want, tr.TsExchange, tr.TsGateway)
	}
	if tr.Channel != "trades" || tr.Venue != "sim" || tr.SrcConnID != 1 {
		t.Errorf("Unexpected constant fields: %+v", tr)
	}
}

func TestGenerator_NoSymbols(t *testing.T) {
	_, err := generator.NewFeedGenerator(zap.NewNop(), &testutils.MockPublisher{},
		testOptions(0, 0.2), &testutils.MockRand{}, &testutils.MockClock{})
	if !errors.Is(err, generator.ErrNoSymbols) {
		t.Errorf("Expected ErrNoSymbols, got %v", err)
	}
}

func TestScenario_ThousandIterationsTwoSymbols(t *testing.T) {
	pub := &testutils.MockPublisher{}
	gen := newGen(t, pub, testOptions(2, 0.2), rand.New(rand.NewSource(42)))
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		if _, err := gen.Step(ctx); err != nil {
			t.Fatalf("Step %d: %v", i, err)
		}
	}

	var total uint64
	for _, v := range gen.Sequences() {
		total += v
	}
	if total != 1000 {
		t.Fatalf("Expected counters to sum to 1000, got %d", total)
	}

	runs := map[string][]uint64{}
	lastTrade := map[string]uint64{}
	quotes := 0
	for _, rec := range pub.Records {
		switch v := rec.Value.(type) {
		case models.Trade:
			runs[v.Symbol] = append(runs[v.Symbol], v.Seq)
			lastTrade[v.Symbol] = v.Seq
		case models.Quote:
			quotes++
			if v.Seq != lastTrade[v.Symbol] {
				t.Errorf("Quote %s seq %d does not match last trade seq %d", v.Symbol, v.Seq, lastTrade[v.Symbol])
			}
			if !v.BidPx.LessThan(v.AskPx.Decimal) {
				t.Errorf("Crossed quote: bid %s ask %s", v.BidPx, v.AskPx)
			}
			if v.AskPx.Sub(v.BidPx).String() != "1" {
				t.Errorf("Expected spread 1, got %s", v.AskPx.Sub(v.BidPx))
			}
		}
	}

	if len(runs) != 2 {
		t.Fatalf("Expected runs for SYM0 and SYM1, got %v", len(runs))
	}
	for sym, seqs := range runs {
		for i, s := range seqs {
			if s != uint64(i+1) {
				t.Fatalf("%s: expected seq %d at position %d, got %d", sym, i+1, i, s)
			}
		}
		if uint64(len(seqs)) != gen.Sequence(sym) {
			t.Errorf("%s: %d trades but counter is %d", sym, len(seqs), gen.Sequence(sym))
		}
	}
	if quotes == 0 || quotes == 1000 {
		t.Errorf("Expected some but not all iterations to quote at p=0.2, got %d", quotes)
	}
}

func TestScenario_QuoteProbabilityOne(t *testing.T) {
	pub := &testutils.MockPublisher{}
	gen := newGen(t, pub, testOptions(3, 1.0), rand.New(rand.NewSource(7)))

	for i := 0; i < 200; i++ {
		if _, err := gen.Step(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	if len(pub.Records) != 400 {
		t.Fatalf("Expected 400 records, got %d", len(pub.Records))
	}
	half := models.NewFixed(0.5)
	for i := 0; i < len(pub.Records); i += 2 {
		tr, ok := pub.Records[i].Value.(models.Trade)
		if !ok {
			t.Fatalf("Record %d should be a trade", i)
		}
		q, ok := pub.Records[i+1].Value.(models.Quote)
		if !ok {
			t.Fatalf("Record %d should be a quote", i+1)
		}
		if q.Symbol != tr.Symbol || q.Seq != tr.Seq {
			t.Errorf("Quote %s/%d does not follow trade %s/%d", q.Symbol, q.Seq, tr.Symbol, tr.Seq)
		}
		if !q.BidPx.Equal(tr.Px.Sub(half).Decimal) || !q.AskPx.Equal(tr.Px.Add(half).Decimal) {
			t.Errorf("Quote px mismatch: trade %s bid %s ask %s", tr.Px, q.BidPx, q.AskPx)
		}
		if q.TsExchange != tr.TsExchange || q.TsGateway != tr.TsGateway {
			t.Errorf("Quote must reuse the trade timestamp")
		}
		if q.BidQty.String() != "1" || q.AskQty.String() != "1" {
			t.Errorf("Unexpected quote quantities %s/%s", q.BidQty, q.AskQty)
		}
		if pub.Records[i].Key != pub.Records[i+1].Key {
			t.Errorf("Trade and quote keys differ")
		}
	}
}

func TestGenerator_PrecisionAndRanges(t *testing.T) {
	pub := &testutils.MockPublisher{}
	gen := newGen(t, pub, testOptions(4, 0.2), rand.New(rand.NewSource(1)))

	for i := 0; i < 500; i++ {
		tick, err := gen.Step(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		tr := tick.Trade
		if tr.Px.Exponent() < -9 || tr.Qty.Exponent() < -9 {
			t.Fatalf("More than 9 fractional digits: px=%s qty=%s", tr.Px, tr.Qty)
		}
		if tr.Qty.IsNegative() {
			t.Fatalf("Negative qty %s", tr.Qty)
		}
		if tr.Px.LessThan(models.NewFixed(10000).Decimal) || tr.Px.GreaterThan(models.NewFixed(10010).Decimal) {
			t.Fatalf("Price out of range: %s", tr.Px)
		}
		if tr.Aggressor != models.SideBuy && tr.Aggressor != models.SideSell {
			t.Fatalf("Bad aggressor %q", tr.Aggressor)
		}
	}
}

func TestGenerator_PartitionKeyStable(t *testing.T) {
	pub := &testutils.MockPublisher{}
	gen := newGen(t, pub, testOptions(4, 0.5), rand.New(rand.NewSource(3)))

	for i := 0; i < 300; i++ {
		if _, err := gen.Step(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	seen := 0
	for _, rec := range pub.Records {
		var env models.Envelope
		if err := json.Unmarshal(rec.Payload, &env); err != nil {
			t.Fatal(err)
		}
		if env.Symbol != "SYM2" {
			continue
		}
		seen++
		if rec.Key != "sim|SYM2" {
			t.Errorf("SYM2 published with key %q", rec.Key)
		}
	}
	if seen == 0 {
		t.Fatal("SYM2 never picked")
	}
}

func TestGenerator_SchemaCompleteness(t *testing.T) {
	pub := &testutils.MockPublisher{}
	gen := newGen(t, pub, testOptions(2, 1.0), rand.New(rand.NewSource(5)))
	if _, err := gen.Step(context.Background()); err != nil {
		t.Fatal(err)
	}

	want := map[string][]string{
		"trades": {"aggressor", "channel", "px", "qty", "seq", "src_conn_id", "symbol", "trade_id", "ts_exchange", "ts_gateway", "venue"},
		"quotes": {"ask_px", "ask_qty", "bid_px", "bid_qty", "channel", "seq", "src_conn_id", "symbol", "ts_exchange", "ts_gateway", "venue"},
	}

	for _, rec := range pub.Records {
		var m map[string]any
		if err := json.Unmarshal(rec.Payload, &m); err != nil {
			t.Fatal(err)
		}
		keys := make([]string, 0, len(m))
		for k, v := range m {
			if v == nil {
				t.Errorf("%s.%s is null", rec.Topic, k)
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if len(keys) != len(want[rec.Topic]) {
			t.Fatalf("%s: got fields %v", rec.Topic, keys)
		}
		for i := range keys {
			if keys[i] != want[rec.Topic][i] {
				t.Errorf("%s: got fields %v, want %v", rec.Topic, keys, want[rec.Topic])
				break
			}
		}
		if m["channel"] != rec.Topic {
			t.Errorf("channel %v published on topic %s", m["channel"], rec.Topic)
		}
	}
}

func TestRun_FailFastOnFlushError(t *testing.T) {
	pub := &testutils.MockPublisher{FailFlush: true}
	gen := newGen(t, pub, testOptions(1, 0), &testutils.MockRand{ValFloat: 0.1})

	err := gen.Run(context.Background())
	if !errors.Is(err, testutils.ErrTransport) {
		t.Fatalf("Expected transport error, got %v", err)
	}
	// No rollback: the counter still reflects the attempted trade
	if gen.Sequence("SYM0") != 1 {
		t.Errorf("Expected seq 1 after failed iteration, got %d", gen.Sequence("SYM0"))
	}
}

func TestRun_SkipPolicyKeepsGoing(t *testing.T) {
	opts := testOptions(1, 0)
	opts.SkipPublishErrors = true
	pub := &testutils.MockPublisher{FailAfter: 3}
	gen := newGen(t, pub, opts, &testutils.MockRand{ValFloat: 0.1})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := gen.Run(ctx); err != nil {
		t.Fatalf("Run should stop cleanly on cancel, got %v", err)
	}
	if gen.Sequence("SYM0") <= 3 {
		t.Errorf("Expected the loop to continue past failures, seq=%d", gen.Sequence("SYM0"))
	}
	if len(pub.Snapshot()) != 3 {
		t.Errorf("Expected exactly 3 accepted records, got %d", len(pub.Snapshot()))
	}
}

func TestRun_StopsWhenCancelled(t *testing.T) {
	pub := &testutils.MockPublisher{}
	gen := newGen(t, pub, testOptions(2, 0.2), rand.New(rand.NewSource(1)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := gen.Run(ctx); err != nil {
		t.Fatalf("Expected nil on cancel, got %v", err)
	}
	if len(pub.Records) != 0 {
		t.Errorf("Expected no records after cancel, got %d", len(pub.Records))
	}
}

func TestTopicCreator_Flow(t *testing.T) {
	mockDialer := &testutils.MockKafkaDialer{} // Will auto-create ConnSpy
	tc := generator.NewTopicCreator(zap.NewNop(), mockDialer, &testutils.MockClock{}, 4)

	if err := tc.Create(context.Background(), []string{"broker:9092"}, "trades", "quotes"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if mockDialer.ConnSpy == nil {
		t.Fatal("Dialer was never called")
	}
	got := mockDialer.ConnSpy.CreatedTopics
	if len(got) != 2 || got[0] != "trades" || got[1] != "quotes" {
		t.Errorf("Expected trades and quotes topics, got %v", got)
	}
	if mockDialer.ConnSpy.Partitions != 4 {
		t.Errorf("Expected 4 partitions, got %d", mockDialer.ConnSpy.Partitions)
	}
}

func TestTopicCreator_UnreachableBrokers(t *testing.T) {
	mockDialer := &testutils.MockKafkaDialer{Fail: true}
	tc := generator.NewTopicCreator(zap.NewNop(), mockDialer, &testutils.MockClock{}, 4)

	err := tc.Create(context.Background(), []string{"a:9092", "b:9092"}, "trades")
	if err == nil {
		t.Fatal("Expected an error when no broker is reachable")
	}
	if len(mockDialer.Dials) != 2 {
		t.Errorf("Expected every broker to be tried, got %v", mockDialer.Dials)
	}
}
