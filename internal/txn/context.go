package txn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// SystemActor is the actor recorded for mutations performed by the automated
// subsystem itself. Writers leave a derived record's actor unset for it.
const SystemActor = "system"

// ErrDone is returned by Commit or Rollback on a context that already finished.
var ErrDone = errors.New("txn: transaction already finished")

// Context is the explicit transaction handle. It is not safe for concurrent
// use: like the *sql.Tx it wraps, it belongs to one goroutine.
type Context struct {
	tx     *sql.Tx
	id     string
	now    time.Time
	actor  string
	logger *slog.Logger

	depth      int
	done       bool
	onCommit   []func()
	onRollback []func()
}

// Option configures Begin.
type Option func(*options)

type options struct {
	clock  Clock
	ids    IDGenerator
	actor  string
	logger *slog.Logger
	txOpts *sql.TxOptions
}

// WithClock sets the clock used to capture the transaction instant.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithIDGenerator sets the transaction id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(o *options) { o.ids = g }
}

// WithActor records the identified human or service acting in this
// transaction. Use SystemActor (or omit) for the automated subsystem.
func WithActor(actor string) Option {
	return func(o *options) { o.actor = actor }
}

// WithLogger sets the logger observers and writers receive via Logger().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTxOptions passes isolation/read-only options to BeginTx.
func WithTxOptions(txOpts *sql.TxOptions) Option {
	return func(o *options) { o.txOpts = txOpts }
}

// Begin starts a transaction on db and captures its instant and id.
func Begin(ctx context.Context, db *sql.DB, opts ...Option) (*Context, error) {
	o := options{clock: WallClock{}, ids: UUIDv7Generator{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	tx, err := db.BeginTx(ctx, o.txOpts)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	tc := &Context{
		tx:    tx,
		id:    o.ids.Generate(),
		now:   o.clock.Now(),
		actor: o.actor,
	}
	tc.logger = o.logger.With("txn_id", tc.id)
	return tc, nil
}

// Tx returns the underlying transaction. Every write on behalf of this
// context, including derived-record inserts, must go through it.
func (c *Context) Tx() *sql.Tx {
	return c.tx
}

// ID returns the transaction id.
func (c *Context) ID() string {
	return c.id
}

// Now returns the instant captured at Begin. Every call returns the same value.
func (c *Context) Now() time.Time {
	return c.now
}

// Actor returns the acting party. ok is false when none was recorded.
func (c *Context) Actor() (actor string, ok bool) {
	return c.actor, c.actor != ""
}

// IsSystemActor reports whether the transaction runs on behalf of the
// automated subsystem: no actor recorded, or SystemActor.
func (c *Context) IsSystemActor() bool {
	return c.actor == "" || c.actor == SystemActor
}

// Logger returns the transaction-scoped logger.
func (c *Context) Logger() *slog.Logger {
	return c.logger
}

// Done reports whether Commit or Rollback has run.
func (c *Context) Done() bool {
	return c.done
}

// Depth returns the current dispatch nesting depth.
func (c *Context) Depth() int {
	return c.depth
}

// Enter increments the dispatch depth and returns a function restoring it.
// Nested writes issued by observers run one level deeper.
func (c *Context) Enter() (leave func()) {
	c.depth++
	return func() { c.depth-- }
}

// OnCommit registers fn to run after a successful commit.
func (c *Context) OnCommit(fn func()) {
	c.onCommit = append(c.onCommit, fn)
}

// OnRollback registers fn to run after rollback, including a rollback
// forced by a failed commit.
func (c *Context) OnRollback(fn func()) {
	c.onRollback = append(c.onRollback, fn)
}

// Commit commits the transaction and runs commit hooks. A failed commit
// runs rollback hooks instead: nothing written in it is durable.
func (c *Context) Commit() error {
	if c.done {
		return ErrDone
	}
	c.done = true

	if err := c.tx.Commit(); err != nil {
		// Commit may fail after SQLite already rolled back (e.g. SQLITE_BUSY);
		// a second rollback is harmless and returns sql.ErrTxDone.
		_ = c.tx.Rollback()
		runHooks(c.onRollback)
		return fmt.Errorf("commit transaction: %w", err)
	}
	runHooks(c.onCommit)
	return nil
}

// Rollback aborts the transaction and runs rollback hooks.
func (c *Context) Rollback() error {
	if c.done {
		return ErrDone
	}
	c.done = true

	err := c.tx.Rollback()
	runHooks(c.onRollback)
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	return nil
}

func runHooks(hooks []func()) {
	for _, fn := range hooks {
		fn()
	}
}

// Run executes fn inside a new transaction. The transaction commits when fn
// returns nil and rolls back when fn returns an error or panics; a panic is
// re-raised after rollback.
func Run(ctx context.Context, db *sql.DB, fn func(*Context) error, opts ...Option) (err error) {
	tc, err := Begin(ctx, db, opts...)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tc.Rollback()
			panic(p)
		}
	}()

	if err := fn(tc); err != nil {
		if rbErr := tc.Rollback(); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return tc.Commit()
}
