// Package feed drives the engine clock from an external WebSocket price stream.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"paper_go/internal/domain"
	"paper_go/internal/infra"
	"paper_go/pkg/quant"

	"github.com/shopspring/decimal"
)

// TickSink receives validated ticks. *engine.Sequencer satisfies it.
type TickSink interface {
	Tick(ctx context.Context, symbol string, price decimal.Decimal, ts quant.TimeStamp) ([]domain.Execution, error)
}

// Message is one tick on the wire. Price may be a JSON string or number;
// ts is Unix microseconds and may be omitted to use the engine clock.
type Message struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Ts     quant.TimeStamp `json:"ts"`
}

// subscribeMessage is sent after every connect.
type subscribeMessage struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

// TickFeed is the WSHandler that turns frames into engine ticks.
type TickFeed struct {
	url     string
	symbols []string
	sink    TickSink
	logger  *slog.Logger
}

// NewTickFeed subscribes to symbols at url and forwards their ticks to sink.
// Ticks for other symbols are dropped before they reach the engine.
func NewTickFeed(url string, symbols []string, sink TickSink, logger *slog.Logger) *TickFeed {
	if logger == nil {
		logger = slog.Default()
	}
	return &TickFeed{
		url:     url,
		symbols: append([]string(nil), symbols...),
		sink:    sink,
		logger:  logger,
	}
}

func (f *TickFeed) ID() string  { return "tick-feed" }
func (f *TickFeed) URL() string { return f.url }

func (f *TickFeed) OnConnect(ctx context.Context, send func([]byte) error) error {
	msg, err := json.Marshal(subscribeMessage{Op: "subscribe", Symbols: f.symbols})
	if err != nil {
		return err
	}
	return send(msg)
}

// OnMessage decodes one tick, or a JSON array of ticks, and applies them in order.
// Domain rejections (unknown symbol, bad price, stale ts) are reported but do not
// stop the batch.
func (f *TickFeed) OnMessage(ctx context.Context, raw []byte) error {
	msgs, err := decode(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedTick, err)
	}

	var errs []error
	for _, m := range msgs {
		if !slices.Contains(f.symbols, m.Symbol) {
			continue
		}
		execs, err := f.sink.Tick(ctx, m.Symbol, m.Price, m.Ts)
		if err != nil {
			if errors.Is(err, domain.ErrClockRegression) {
				f.logger.Debug("STALE_TICK_DROPPED", slog.String("symbol", m.Symbol), slog.Int64("ts", int64(m.Ts)))
			}
			errs = append(errs, fmt.Errorf("tick %s: %w", m.Symbol, err))
			continue
		}
		if len(execs) > 0 {
			f.logger.Debug("TICK_EXECUTIONS",
				slog.String("symbol", m.Symbol),
				slog.String("price", m.Price.String()),
				slog.Int("executions", len(execs)))
		}
	}
	return errors.Join(errs...)
}

func decode(raw []byte) ([]Message, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var batch []Message
		err := json.Unmarshal(raw, &batch)
		return batch, err
	}
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if m.Symbol == "" {
		return nil, errors.New("missing symbol")
	}
	return []Message{m}, nil
}

// Start runs the feed on a reconnecting WebSocket worker. Stop the returned worker on shutdown.
func Start(ctx context.Context, f *TickFeed, backoff infra.Backoff) *infra.WSWorker {
	w := infra.NewWSWorker(f)
	w.Backoff = backoff
	w.Start(ctx)
	f.logger.Info("TICK_FEED_STARTED", slog.String("url", f.url), slog.Any("symbols", f.symbols))
	return w
}
