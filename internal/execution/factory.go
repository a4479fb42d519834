package execution

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"paper_go/internal/domain"
	"paper_go/internal/event"
	"paper_go/internal/latency"
	"paper_go/internal/ledger"
	"paper_go/internal/risk"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Config is fixed for the lifetime of an engine. Changing policy means building
// a new engine, optionally from a checkpoint of the old one.
type Config struct {
	Identity    string          `json:"identity"`
	InitialCash decimal.Decimal `json:"initial_cash"`
	Symbols     []string        `json:"symbols"`
	Latency     latency.Profile `json:"latency"`
	Fill        FillPolicy      `json:"fill"`
	Risk        risk.Config     `json:"risk"`
	Seed        uint64          `json:"seed"`
}

// Validate checks the configuration before an engine is built from it.
func (c Config) Validate() error {
	var errs []error
	if c.Identity == "" {
		errs = append(errs, errors.New("identity is required"))
	}
	if c.InitialCash.IsNegative() {
		errs = append(errs, fmt.Errorf("initial_cash must be >= 0, got %s", c.InitialCash))
	}
	if len(c.Symbols) == 0 {
		errs = append(errs, errors.New("at least one symbol is required"))
	}
	seen := make(map[string]bool, len(c.Symbols))
	for _, s := range c.Symbols {
		if s == "" || seen[s] {
			errs = append(errs, fmt.Errorf("empty or duplicate symbol %q", s))
		}
		seen[s] = true
	}
	if err := c.Latency.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Fill.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Risk.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c Config) clone() Config {
	c.Symbols = append([]string(nil), c.Symbols...)
	if c.Risk.Position != nil {
		p := *c.Risk.Position
		c.Risk.Position = &p
	}
	if c.Risk.Exposure != nil {
		e := *c.Risk.Exposure
		c.Risk.Exposure = &e
	}
	if c.Risk.Drawdown != nil {
		d := *c.Risk.Drawdown
		c.Risk.Drawdown = &d
	}
	return c
}

// Option customizes engine construction.
type Option func(*PaperEngine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *PaperEngine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithObserver registers lifecycle hooks.
func WithObserver(o Observer) Option {
	return func(e *PaperEngine) {
		if o != nil {
			e.observer = o
		}
	}
}

// idNamespace roots every simulator's order-id space.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("paper-go/orders"))

// orderID is deterministic in (identity, seq) so replays reproduce ids.
func orderID(space uuid.UUID, seq uint64) string {
	return uuid.NewSHA1(space, []byte(strconv.FormatUint(seq, 10))).String()
}

// New builds a fresh engine funded with cfg.InitialCash.
func New(cfg Config, opts ...Option) (*PaperEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	e := newEngine(cfg.clone(), opts)
	e.ledger = ledger.New(e.logger)
	e.queue = event.NewQueue()
	e.account = domain.NewAccount(cfg.InitialCash)
	e.sampler = latency.NewSampler(cfg.Seed)
	e.nextOrderSeq = 1

	e.logger.Info("PAPER_ENGINE_READY",
		slog.String("identity", cfg.Identity),
		slog.String("cash", cfg.InitialCash.String()),
		slog.String("latency", cfg.Latency.Name),
		slog.Any("symbols", cfg.Symbols))
	return e, nil
}

func newEngine(cfg Config, opts []Option) *PaperEngine {
	e := &PaperEngine{
		cfg:      cfg,
		symbols:  make(map[string]struct{}, len(cfg.Symbols)),
		idSpace:  uuid.NewSHA1(idNamespace, []byte(cfg.Identity)),
		logger:   slog.Default(),
		observer: NopObserver{},
	}
	for _, s := range cfg.Symbols {
		e.symbols[s] = struct{}{}
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(slog.String("engine", cfg.Identity))
	return e
}
