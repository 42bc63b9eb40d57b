package postgres_test

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// rowStub implements pgx.Row
type rowStub struct{ scan func(dest ...any) error }

func (r rowStub) Scan(dest ...any) error { return r.scan(dest...) }

// rowsStub implements pgx.Rows over canned scan funcs, one per row.
type rowsStub struct {
	idx   int
	rows  []func(dest ...any) error
	err   error
	close bool
}

func (r *rowsStub) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}
func (r *rowsStub) Scan(dest ...any) error           { return r.rows[r.idx-1](dest...) }
func (r *rowsStub) Close()                           { r.close = true }
func (r *rowsStub) Err() error                       { return r.err }
func (r *rowsStub) CommandTag() pgconn.CommandTag    { return pgconn.CommandTag{} }
func (r *rowsStub) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *rowsStub) Values() ([]any, error)           { return nil, nil }
func (r *rowsStub) RawValues() [][]byte              { return nil }
func (r *rowsStub) Conn() *pgx.Conn                  { return nil }

// poolStub implements postgres.PgxPool for tests.
type poolStub struct {
	execTag  pgconn.CommandTag
	execErr  error
	row      rowStub
	rows     *rowsStub
	queryErr error
	tx       *txStub
	beginErr error

	execSQL  []string
	querySQL []string
}

func (p *poolStub) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	p.execSQL = append(p.execSQL, sql)
	return p.execTag, p.execErr
}

func (p *poolStub) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	p.querySQL = append(p.querySQL, sql)
	if p.row.scan == nil {
		return rowStub{scan: func(_ ...any) error { return errors.New("no row configured") }}
	}
	return p.row
}

func (p *poolStub) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	p.querySQL = append(p.querySQL, sql)
	if p.queryErr != nil {
		return nil, p.queryErr
	}
	if p.rows == nil {
		return &rowsStub{}, nil
	}
	return p.rows, nil
}

func (p *poolStub) BeginTx(_ context.Context, _ pgx.TxOptions) (pgx.Tx, error) {
	if p.beginErr != nil {
		return nil, p.beginErr
	}
	if p.tx == nil {
		p.tx = &txStub{}
	}
	return p.tx, nil
}

// txStub implements pgx.Tx for the transactional repo paths.
type txStub struct {
	execTag    pgconn.CommandTag
	execErr    error
	execErrAt  int // 1-based exec call index that fails; 0 means execErr applies to all
	execCalls  int
	rows       *rowsStub
	queryErr   error
	commitErr  error
	committed  bool
	rolledBack bool
	execSQL    []string
}

func (t *txStub) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	t.execCalls++
	t.execSQL = append(t.execSQL, sql)
	if t.execErr != nil && (t.execErrAt == 0 || t.execErrAt == t.execCalls) {
		return pgconn.CommandTag{}, t.execErr
	}
	return t.execTag, nil
}

func (t *txStub) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	if t.queryErr != nil {
		return nil, t.queryErr
	}
	if t.rows == nil {
		return &rowsStub{}, nil
	}
	return t.rows, nil
}

func (t *txStub) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	return rowStub{scan: func(_ ...any) error { return errors.New("no row configured") }}
}

func (t *txStub) Commit(_ context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}

func (t *txStub) Rollback(_ context.Context) error { t.rolledBack = true; return nil }

func (t *txStub) Begin(_ context.Context) (pgx.Tx, error) { return t, nil }
func (t *txStub) Conn() *pgx.Conn                         { return nil }
func (t *txStub) CopyFrom(_ context.Context, _ pgx.Identifier, _ []string, _ pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *txStub) LargeObjects() pgx.LargeObjects { return pgx.LargeObjects{} }
func (t *txStub) Prepare(_ context.Context, _, _ string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *txStub) SendBatch(_ context.Context, _ *pgx.Batch) pgx.BatchResults { return nil }
