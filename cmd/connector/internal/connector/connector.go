// Package connector streams trades from a live venue websocket into the feed
// topics using the same record schema as the generator.
package connector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/shubham-shewale/simfeed/pkg/config"
	"github.com/shubham-shewale/simfeed/pkg/metrics"
	"github.com/shubham-shewale/simfeed/pkg/models"
)

var ErrNoSymbols = errors.New("connector: no symbols configured")

const symbolsPlaceholder = "$SYMBOLS"

type Options struct {
	URL         string
	Venue       string
	Symbols     []string
	TradesTopic string
	// SubscribeTemplate is sent verbatim after connecting, with $SYMBOLS
	// replaced by a JSON array. Empty uses DefaultSubscribe.
	SubscribeTemplate string
	ReconnectPerSec   float64
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		URL:               cfg.Connector.WSURL,
		Venue:             cfg.Connector.Venue,
		Symbols:           cfg.Connector.Symbols,
		TradesTopic:       cfg.Kafka.TradesTopic,
		SubscribeTemplate: cfg.Connector.SubscribeMsg,
		ReconnectPerSec:   cfg.Connector.ReconnectPerSec,
	}
}

type Connector struct {
	logger  *zap.Logger
	pub     Publisher
	dialer  Dialer
	opts    Options
	symbols map[string]struct{}
	limiter *rate.Limiter
	now     func() time.Time
	connID  func() uint64
}

func NewConnector(logger *zap.Logger, pub Publisher, dialer Dialer, opts Options) (*Connector, error) {
	symbols := make(map[string]struct{}, len(opts.Symbols))
	for _, s := range opts.Symbols {
		if s = strings.TrimSpace(s); s != "" {
			symbols[s] = struct{}{}
		}
	}
	if len(symbols) == 0 {
		return nil, ErrNoSymbols
	}

	limit := rate.Inf
	if opts.ReconnectPerSec > 0 {
		limit = rate.Limit(opts.ReconnectPerSec)
	}

	return &Connector{
		logger:  logger.With(zap.String("venue", opts.Venue)),
		pub:     pub,
		dialer:  dialer,
		opts:    opts,
		symbols: symbols,
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
		connID:  models.NewSrcConnID,
	}, nil
}

// Run keeps a session open until ctx is done, redialing at most
// ReconnectPerSec times per second.
func (c *Connector) Run(ctx context.Context) error {
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil
		}

		err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("Venue session ended, reconnecting", zap.Error(err))
	}
}

// session is one websocket connection. Sequence numbers restart with every
// session, under a new src_conn_id.
func (c *Connector) session(ctx context.Context) error {
	conn, err := c.dialer.Dial(ctx, c.opts.URL)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sub, err := SubscribeMessage(c.opts.SubscribeTemplate, c.opts.Symbols)
	if err != nil {
		return err
	}
	if err := conn.WriteText(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	s := &sessionState{id: c.connID(), seqs: make(map[string]uint64)}
	c.logger.Info("Connected to venue",
		zap.String("url", c.opts.URL),
		zap.Strings("symbols", c.opts.Symbols),
		zap.Uint64("src_conn_id", s.id))

	for {
		msg, err := conn.ReadText()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		c.handle(ctx, s, msg)
	}
}

type sessionState struct {
	id   uint64
	seqs map[string]uint64
}

// handle publishes every trade in msg for a watched symbol. A transport
// failure drops the message; the venue cannot replay it.
func (c *Connector) handle(ctx context.Context, s *sessionState, msg []byte) int {
	items, err := Flatten(msg)
	if err != nil {
		c.logger.Debug("Unparseable venue message", zap.ByteString("msg", msg), zap.Error(err))
		return 0
	}

	published := 0
	for _, item := range items {
		vt, err := ExtractTrade(item)
		if err != nil {
			continue
		}
		if _, ok := c.symbols[vt.Symbol]; !ok {
			continue
		}

		trade := c.toTrade(s, vt)
		if err := c.pub.Publish(ctx, c.opts.TradesTopic, models.PartitionKey(trade.Venue, trade.Symbol), trade); err != nil {
			c.logger.Error("Publish failed", zap.String("symbol", trade.Symbol), zap.Uint64("seq", trade.Seq), zap.Error(err))
			return published
		}
		published++
	}

	if published == 0 {
		return 0
	}
	if err := c.pub.Flush(ctx); err != nil {
		c.logger.Error("Flush failed", zap.Int("trades", published), zap.Error(err))
		return 0
	}
	metrics.ConnectorTrades.WithLabelValues(c.opts.Venue).Add(float64(published))
	return published
}

func (c *Connector) toTrade(s *sessionState, vt VenueTrade) models.Trade {
	seq := vt.Seq
	if !vt.HasSeq {
		s.seqs[vt.Symbol]++
		seq = s.seqs[vt.Symbol]
	}

	now := c.now().UnixNano()
	tsExchange := vt.TsExchange
	if tsExchange == 0 {
		tsExchange = now
	}
	tradeID := vt.TradeID
	if tradeID == "" {
		tradeID = models.TradeID(vt.Symbol, seq)
	}

	return models.Trade{
		Venue:      c.opts.Venue,
		Symbol:     vt.Symbol,
		Channel:    models.ChannelTrades,
		Seq:        seq,
		TsExchange: tsExchange,
		TsGateway:  now,
		Px:         models.NewFixed(vt.Px),
		Qty:        models.NewFixed(vt.Qty),
		Aggressor:  vt.Aggressor,
		TradeID:    tradeID,
		SrcConnID:  s.id,
	}
}

type subscription struct {
	Channel string `json:"channel"`
	Symbol  string `json:"symbol"`
}

// SubscribeMessage renders the template, or the default
// {"method":"subscribe","subscriptions":[{"channel":"trades","symbol":...}]}.
func SubscribeMessage(template string, symbols []string) ([]byte, error) {
	if template != "" {
		arr, err := json.Marshal(symbols)
		if err != nil {
			return nil, err
		}
		return []byte(strings.ReplaceAll(template, symbolsPlaceholder, string(arr))), nil
	}

	subs := make([]subscription, len(symbols))
	for i, s := range symbols {
		subs[i] = subscription{Channel: models.ChannelTrades, Symbol: s}
	}
	return json.Marshal(struct {
		Method        string         `json:"method"`
		Subscriptions []subscription `json:"subscriptions"`
	}{"subscribe", subs})
}
