package db

import (
	"context"
	"errors"
	"fmt"

	"kitchen-ledger/internal/order/app/core"
	"kitchen-ledger/internal/xpkg/db"
	"kitchen-ledger/internal/xpkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type Store struct {
	db    *db.DB
	mylog logger.Logger
}

var _ core.IStore = (*Store)(nil)

func NewStore(d *db.DB, mylog logger.Logger) *Store {
	return &Store{db: d, mylog: mylog}
}

func reposFor(q querier) core.Repos {
	return core.Repos{
		Orders:     &OrderRepo{q: q},
		Aggregates: &AggregateRepo{q: q},
		Outbox:     &OutboxRepo{q: q},
	}
}

// InTx runs fn in a read-committed transaction. Any error from fn, or
// from commit, rolls the whole unit back.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, r core.Repos) error) error {
	err := pgx.BeginTxFunc(ctx, s.db.Pool(), pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, reposFor(tx))
	})
	if err != nil {
		return translate(err)
	}
	return nil
}

func (s *Store) Repos() core.Repos {
	return reposFor(s.db.Pool())
}

func (s *Store) IsAlive(ctx context.Context) error {
	if err := s.db.IsAlive(ctx); err != nil {
		return translate(err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// translate maps driver errors onto the core error kinds. Errors that
// already carry a kind pass through unchanged.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var ce *core.Error
	if errors.As(err, &ce) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return core.Transient(core.ReasonStoreTimeout, "postgres: %v", err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "40001", pgErr.Code == "40P01", pgErr.Code == "55P03",
			pgErr.Code == "57P01", pgErr.Code == "53300", len(pgErr.Code) == 5 && pgErr.Code[:2] == "08":
			return core.Transient(core.ReasonStoreUnavailable, "postgres %s: %s", pgErr.Code, pgErr.Message)
		}
		return fmt.Errorf("postgres %s: %w", pgErr.Code, err)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.SafeToRetry(err) {
		return core.Transient(core.ReasonStoreUnavailable, "postgres: %v", err)
	}
	return fmt.Errorf("postgres: %w", err)
}
