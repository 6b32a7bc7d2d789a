package inventory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type statement struct {
	sql  string
	args []any
}

// scriptedDB answers QueryRow calls from rows in order and records every
// statement it sees. A nil row answers with pgx.ErrNoRows.
type scriptedDB struct {
	rows  [][]any
	stmts []statement
}

func (d *scriptedDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	d.stmts = append(d.stmts, statement{sql, args})
	return pgconn.NewCommandTag("OK 1"), nil
}

func (d *scriptedDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("query not scripted")
}

func (d *scriptedDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	d.stmts = append(d.stmts, statement{sql, args})
	if len(d.rows) == 0 {
		return scriptedRow{err: errors.New("row not scripted")}
	}
	vals := d.rows[0]
	d.rows = d.rows[1:]
	if vals == nil {
		return scriptedRow{err: pgx.ErrNoRows}
	}
	return scriptedRow{vals: vals}
}

type scriptedRow struct {
	vals []any
	err  error
}

func (r scriptedRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		*(d.(*int)) = r.vals[i].(int)
	}
	return nil
}

// shapes reduces the recorded statements to "VERB table".
func (d *scriptedDB) shapes() []string {
	out := make([]string, 0, len(d.stmts))
	for _, s := range d.stmts {
		fields := strings.Fields(s.sql)
		table := fields[1]
		for i, f := range fields[:len(fields)-1] {
			if f == "FROM" || f == "INTO" {
				table = fields[i+1]
				break
			}
		}
		out = append(out, fields[0]+" "+table)
	}
	return out
}

func TestReserveSeedsOpeningBalanceOnEmptyLedger(t *testing.T) {
	q := &scriptedDB{rows: [][]any{{12}, {0, 0}}}

	require.NoError(t, PGStore{}.Reserve(context.Background(), q, "p-buche", 5, "BK-202610-0042"))

	require.Equal(t, []string{
		"SELECT products",
		"SELECT inventory_movements",
		"INSERT inventory_movements",
		"INSERT inventory_movements",
		"UPDATE products",
	}, q.shapes())
	require.Contains(t, q.stmts[0].sql, "FOR UPDATE")

	seed := q.stmts[2].args
	require.Equal(t, string(MovementAdjustment), seed[1])
	require.Equal(t, 12, seed[2])
	require.Equal(t, "opening balance", *(seed[4].(*string)))

	out := q.stmts[3].args
	require.Equal(t, string(MovementOut), out[1])
	require.Equal(t, 5, out[2])
	require.Equal(t, "BK-202610-0042", *(out[3].(*string)))

	require.Equal(t, []any{"p-buche", 7}, q.stmts[4].args)
}

func TestReserveTrustsLedgerOverColumn(t *testing.T) {
	q := &scriptedDB{rows: [][]any{{40}, {3, 4}}}

	err := PGStore{}.Reserve(context.Background(), q, "p-buche", 5, "BK-202610-0042")
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Equal(t, []string{"SELECT products", "SELECT inventory_movements"}, q.shapes())
}

func TestReserveUnknownProduct(t *testing.T) {
	q := &scriptedDB{rows: [][]any{nil}}

	err := PGStore{}.Reserve(context.Background(), q, "p-gone", 1, "BK-202610-0042")
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Len(t, q.stmts, 1)
}

func TestDecrementAndReleaseRewriteColumnFromLedger(t *testing.T) {
	q := &scriptedDB{rows: [][]any{{9}, {2, 2}}}
	require.NoError(t, PGStore{}.Decrement(context.Background(), q, "p-eiche", 5, "BK-202610-0007"))
	require.Equal(t, []string{
		"SELECT products",
		"SELECT inventory_movements",
		"INSERT inventory_movements",
		"UPDATE products",
	}, q.shapes())
	require.Equal(t, []any{"p-eiche", -3}, q.stmts[3].args)

	q = &scriptedDB{rows: [][]any{{-3}, {3, -3}}}
	require.NoError(t, PGStore{}.Release(context.Background(), q, "p-eiche", 5, "BK-202610-0007"))
	require.Equal(t, string(MovementIn), q.stmts[2].args[1])
	require.Equal(t, []any{"p-eiche", 2}, q.stmts[3].args)
}

func TestMoveIgnoresNonPositiveQuantity(t *testing.T) {
	q := &scriptedDB{}
	require.NoError(t, PGStore{}.Reserve(context.Background(), q, "p-buche", 0, "BK-202610-0042"))
	require.Empty(t, q.stmts)
}
