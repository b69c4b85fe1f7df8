package generator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/simfeed/pkg/config"
	"github.com/shubham-shewale/simfeed/pkg/models"
)

var ErrNoSymbols = errors.New("empty symbol universe")

type Options struct {
	Venue            string
	Symbols          []string
	TradesTopic      string
	QuotesTopic      string
	TickDelay        time.Duration
	QuoteProbability float64
	BasePrice        float64
	PriceRange       float64
	HalfSpread       models.Fixed
	QuoteQty         models.Fixed
	SrcConnID        uint64

	// SkipPublishErrors keeps the loop running after a failed publish. The
	// sequence number of the lost record is not reused.
	SkipPublishErrors bool
}

func OptionsFromConfig(cfg *config.Config, srcConnID uint64) Options {
	return Options{
		Venue:             cfg.Feed.Venue,
		Symbols:           cfg.Symbols(),
		TradesTopic:       cfg.Kafka.TradesTopic,
		QuotesTopic:       cfg.Kafka.QuotesTopic,
		TickDelay:         cfg.Feed.TickDelay,
		QuoteProbability:  cfg.Feed.QuoteProbability,
		BasePrice:         cfg.Feed.BasePrice,
		PriceRange:        cfg.Feed.PriceRange,
		HalfSpread:        models.NewFixed(cfg.Feed.Spread / 2),
		QuoteQty:          models.NewFixed(cfg.Feed.QuoteQty),
		SrcConnID:         srcConnID,
		SkipPublishErrors: cfg.Feed.OnPublishError == config.OnErrorSkip,
	}
}

// Tick is everything a single iteration emitted.
type Tick struct {
	Trade models.Trade
	Quote *models.Quote
}

// FeedGenerator owns the symbol universe and the per-symbol sequence counters.
// It is driven by one goroutine; nothing else touches its state.
type FeedGenerator struct {
	logger *zap.Logger
	pub    Publisher
	opts   Options
	rand   Rand
	clock  Clock
	seq    map[string]uint64
}

func NewFeedGenerator(
	logger *zap.Logger,
	pub Publisher,
	opts Options,
	rnd Rand,
	clock Clock,
) (*FeedGenerator, error) {
	if len(opts.Symbols) == 0 {
		return nil, ErrNoSymbols
	}

	seq := make(map[string]uint64, len(opts.Symbols))
	for _, s := range opts.Symbols {
		seq[s] = 0
	}

	return &FeedGenerator{
		logger: logger,
		pub:    pub,
		opts:   opts,
		rand:   rnd,
		clock:  clock,
		seq:    seq,
	}, nil
}

// Run emits ticks until ctx is cancelled. With the default policy the first
// publish failure ends the loop and is returned.
func (g *FeedGenerator) Run(ctx context.Context) error {
	g.logger.Info("Generator Started",
		zap.Strings("symbols", g.opts.Symbols),
		zap.Duration("tick_delay", g.opts.TickDelay),
		zap.Uint64("src_conn_id", g.opts.SrcConnID),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		tick, err := g.Step(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil
		case err != nil && !g.opts.SkipPublishErrors:
			return err
		case err != nil:
			g.logger.Error("Publish failed, skipping tick",
				zap.Error(err),
				zap.String("symbol", tick.Trade.Symbol),
				zap.Uint64("seq", tick.Trade.Seq),
			)
		default:
			g.logger.Debug("Sent tick",
				zap.String("symbol", tick.Trade.Symbol),
				zap.Uint64("seq", tick.Trade.Seq),
				zap.Bool("quote", tick.Quote != nil),
			)
		}

		g.clock.Sleep(g.opts.TickDelay)
	}
}

// Step runs one iteration: pick a symbol, advance its sequence, build the
// trade and maybe a quote, publish both and flush. Records are fully built
// before anything is published.
func (g *FeedGenerator) Step(ctx context.Context) (Tick, error) {
	symbol := g.opts.Symbols[g.rand.Intn(len(g.opts.Symbols))]
	g.seq[symbol]++
	seq := g.seq[symbol]
	ts := g.clock.Now().UnixNano()

	tick := Tick{Trade: g.newTrade(symbol, seq, ts)}
	if g.rand.Float64() < g.opts.QuoteProbability {
		q := g.newQuote(tick.Trade)
		tick.Quote = &q
	}

	key := models.PartitionKey(g.opts.Venue, symbol)
	if err := g.pub.Publish(ctx, g.opts.TradesTopic, key, tick.Trade); err != nil {
		return tick, fmt.Errorf("publish trade %s seq %d: %w", symbol, seq, err)
	}
	if tick.Quote != nil {
		if err := g.pub.Publish(ctx, g.opts.QuotesTopic, key, *tick.Quote); err != nil {
			return tick, fmt.Errorf("publish quote %s seq %d: %w", symbol, seq, err)
		}
	}
	if err := g.pub.Flush(ctx); err != nil {
		return tick, fmt.Errorf("flush %s seq %d: %w", symbol, seq, err)
	}
	return tick, nil
}

func (g *FeedGenerator) newTrade(symbol string, seq uint64, ts int64) models.Trade {
	px := models.NewFixed(g.opts.BasePrice + g.rand.Float64()*g.opts.PriceRange)
	qty := models.NewFixed(g.rand.Float64())
	side := models.SideSell
	if g.rand.Float64() > 0.5 {
		side = models.SideBuy
	}

	return models.Trade{
		Venue:      g.opts.Venue,
		Symbol:     symbol,
		Channel:    models.ChannelTrades,
		Seq:        seq,
		TsExchange: ts,
		TsGateway:  ts, // no simulated network hop
		Px:         px,
		Qty:        qty,
		Aggressor:  side,
		TradeID:    models.TradeID(symbol, seq),
		SrcConnID:  g.opts.SrcConnID,
	}
}

func (g *FeedGenerator) newQuote(t models.Trade) models.Quote {
	return models.Quote{
		Venue:      t.Venue,
		Symbol:     t.Symbol,
		Channel:    models.ChannelQuotes,
		Seq:        t.Seq,
		TsExchange: t.TsExchange,
		TsGateway:  t.TsGateway,
		BidPx:      t.Px.Sub(g.opts.HalfSpread),
		BidQty:     g.opts.QuoteQty,
		AskPx:      t.Px.Add(g.opts.HalfSpread),
		AskQty:     g.opts.QuoteQty,
		SrcConnID:  t.SrcConnID,
	}
}

func (g *FeedGenerator) Symbols() []string {
	return append([]string(nil), g.opts.Symbols...)
}

func (g *FeedGenerator) Sequence(symbol string) uint64 { return g.seq[symbol] }

// Sequences returns a copy of the current counters.
func (g *FeedGenerator) Sequences() map[string]uint64 {
	out := make(map[string]uint64, len(g.seq))
	for k, v := range g.seq {
		out[k] = v
	}
	return out
}
