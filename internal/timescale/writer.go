package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"mmbot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// QuoteSnapshot is one cycle's view of the market and the quote it derived.
type QuoteSnapshot struct {
	Time         time.Time
	CycleID      string
	Symbol       string
	TargetPrice  float64
	MarketPrice  float64
	PriceLive    bool
	Bid          float64
	Ask          float64
	BaseBalance  float64
	QuoteBalance float64
	Cancelled    int
	CancelFailed int
}

// OrderEvent records a placement, a failed placement or a skipped side.
type OrderEvent struct {
	Time    time.Time
	CycleID string
	Symbol  string
	Side    string
	Outcome string
	OrderID string
	Price   float64
	Size    float64
	Detail  string
}

const (
	OutcomePlaced  = "placed"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

type Writer struct {
	db         *sql.DB
	log        *zap.Logger
	schema     string
	quotes     chan QuoteSnapshot
	orders     chan OrderEvent
	started    atomic.Bool
	dropQuotes atomic.Uint64
	dropOrders atomic.Uint64
}

// New opens the database and ensures the tables exist. A disabled config
// returns a nil Writer, which is safe to use.
func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	writer := newWriter(db, cfg.Schema, cfg.QueueSize, log)
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func newWriter(db *sql.DB, schema string, queueSize int, log *zap.Logger) *Writer {
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "public"
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{
		db:     db,
		log:    log,
		schema: schema,
		quotes: make(chan QuoteSnapshot, queueSize),
		orders: make(chan OrderEvent, queueSize),
	}
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueQuote(snapshot QuoteSnapshot) {
	if w == nil {
		return
	}
	select {
	case w.quotes <- snapshot:
	default:
		if w.dropQuotes.Add(1) == 1 {
			w.log.Warn("timescale quote queue full")
		}
	}
}

func (w *Writer) EnqueueOrder(event OrderEvent) {
	if w == nil {
		return
	}
	select {
	case w.orders <- event:
	default:
		if w.dropOrders.Add(1) == 1 {
			w.log.Warn("timescale order queue full")
		}
	}
}

// Dropped reports how many rows were discarded because a queue was full.
func (w *Writer) Dropped() (quotes, orders uint64) {
	if w == nil {
		return 0, 0
	}
	return w.dropQuotes.Load(), w.dropOrders.Load()
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-w.quotes:
			w.writeQuote(ctx, snap)
		case event := <-w.orders:
			w.writeOrder(ctx, event)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		cycle_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		target_price DOUBLE PRECISION NOT NULL,
		market_price DOUBLE PRECISION NOT NULL,
		price_live BOOLEAN NOT NULL,
		bid DOUBLE PRECISION NOT NULL,
		ask DOUBLE PRECISION NOT NULL,
		base_balance DOUBLE PRECISION NOT NULL,
		quote_balance DOUBLE PRECISION NOT NULL,
		cancelled INTEGER NOT NULL,
		cancel_failed INTEGER NOT NULL
	)`, w.table("quote_snapshots"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		cycle_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		outcome TEXT NOT NULL,
		order_id TEXT NOT NULL DEFAULT '',
		price DOUBLE PRECISION NOT NULL,
		size DOUBLE PRECISION NOT NULL,
		detail TEXT NOT NULL DEFAULT ''
	)`, w.table("order_events"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		w.log.Warn("timescale extension ensure failed", zap.Error(err))
		return nil
	}
	for _, name := range []string{"quote_snapshots", "order_events"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(name))); err != nil {
			w.log.Warn("timescale hypertable create failed", zap.String("table", name), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) insertQuoteSQL() string {
	return fmt.Sprintf(`INSERT INTO %s (
		ts, cycle_id, symbol, target_price, market_price, price_live, bid, ask,
		base_balance, quote_balance, cancelled, cancel_failed
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
	)`, w.table("quote_snapshots"))
}

func (w *Writer) insertOrderSQL() string {
	return fmt.Sprintf(`INSERT INTO %s (
		ts, cycle_id, symbol, side, outcome, order_id, price, size, detail
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9
	)`, w.table("order_events"))
}

func (w *Writer) writeQuote(ctx context.Context, snap QuoteSnapshot) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if _, err := w.db.ExecContext(ctx, w.insertQuoteSQL(),
		snap.Time,
		snap.CycleID,
		snap.Symbol,
		snap.TargetPrice,
		snap.MarketPrice,
		snap.PriceLive,
		snap.Bid,
		snap.Ask,
		snap.BaseBalance,
		snap.QuoteBalance,
		snap.Cancelled,
		snap.CancelFailed,
	); err != nil {
		w.log.Warn("timescale quote insert failed", zap.Error(err))
	}
}

func (w *Writer) writeOrder(ctx context.Context, event OrderEvent) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if _, err := w.db.ExecContext(ctx, w.insertOrderSQL(),
		event.Time,
		event.CycleID,
		event.Symbol,
		event.Side,
		event.Outcome,
		event.OrderID,
		event.Price,
		event.Size,
		event.Detail,
	); err != nil {
		w.log.Warn("timescale order insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
