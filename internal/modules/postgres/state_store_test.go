package postgres

import (
	"context"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"webhook_trader/internal/models"
	"webhook_trader/pkg/db"
)

type row struct {
	symbol string
	state  []byte
}

type fakeRows struct {
	rows []row
	pos  int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	cur := r.rows[r.pos-1]
	*dest[0].(*string) = cur.symbol
	*dest[1].(*[]byte) = cur.state
	return nil
}

type execCall struct {
	sql  string
	args []any
}

type fakeDB struct {
	rows    []row
	execs   []execCall
	execErr error
	txRuns  int
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, execCall{sql: sql, args: args})
	return pgconn.CommandTag{}, f.execErr
}

func (f *fakeDB) Query(context.Context, string, ...interface{}) (pgx.Rows, error) {
	return &fakeRows{rows: f.rows}, nil
}

func (f *fakeDB) QueryRow(context.Context, string, ...interface{}) pgx.Row { return nil }

func (f *fakeDB) RunMaster(ctx context.Context, fn func(ctxTx context.Context, tx db.Transaction) error) error {
	f.txRuns++
	return fn(ctx, f)
}

func (f *fakeDB) Conn() db.Transaction { return f }

func TestStateStore_SaveUpserts(t *testing.T) {
	f := &fakeDB{}
	s := NewStateStore(f, zap.NewNop())

	st := models.SymbolState{
		Cycle:     []string{"BUY", "TP"},
		Baseline:  0.5,
		SlHistory: &models.SlRecord{OrderID: 7, TierIndex: 1},
	}
	require.NoError(t, s.Save(context.Background(), "ETHUSDT", st))

	assert.Equal(t, 1, f.txRuns)
	require.Len(t, f.execs, 1)
	assert.Equal(t, upsertState, f.execs[0].sql)
	assert.Equal(t, "ETHUSDT", f.execs[0].args[0])

	var saved models.SymbolState
	require.NoError(t, sonic.Unmarshal(f.execs[0].args[1].([]byte), &saved))
	assert.Equal(t, st, saved)
}

func TestStateStore_SaveError(t *testing.T) {
	f := &fakeDB{execErr: errors.New("connection reset")}
	s := NewStateStore(f, zap.NewNop())

	err := s.Save(context.Background(), "ETHUSDT", models.SymbolState{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ETHUSDT")
	assert.Contains(t, err.Error(), "connection reset")
}

func TestStateStore_LoadSkipsCorrupted(t *testing.T) {
	good, err := sonic.Marshal(models.SymbolState{Cycle: []string{"SELL"}, Baseline: 2})
	require.NoError(t, err)

	f := &fakeDB{rows: []row{
		{symbol: "BTCUSDT", state: good},
		{symbol: "ETHUSDT", state: []byte(`{"cycle":`)},
	}}
	s := NewStateStore(f, zap.NewNop())

	got, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"SELL"}, got["BTCUSDT"].Cycle)
	assert.InDelta(t, 2, got["BTCUSDT"].Baseline, 1e-12)
}

func TestStateStore_Migrate(t *testing.T) {
	f := &fakeDB{}
	require.NoError(t, NewStateStore(f, zap.NewNop()).Migrate(context.Background()))
	require.Len(t, f.execs, 1)
	assert.Contains(t, f.execs[0].sql, "CREATE TABLE IF NOT EXISTS symbol_state")
}
