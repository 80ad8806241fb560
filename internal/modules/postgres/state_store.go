package postgres

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"webhook_trader/internal/models"
	"webhook_trader/internal/runner/cycle"
	"webhook_trader/pkg/db"
)

const (
	createStateTable = `CREATE TABLE IF NOT EXISTS symbol_state (
	symbol     text PRIMARY KEY,
	state      jsonb NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now()
)`

	selectStates = `SELECT symbol, state FROM symbol_state`

	upsertState = `INSERT INTO symbol_state (symbol, state, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (symbol) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`
)

// StateStore состояние циклов в таблице symbol_state, state хранится как jsonb.
type StateStore struct {
	db  db.TxManager
	log *zap.Logger
}

var _ cycle.Store = (*StateStore)(nil)

func NewStateStore(tx db.TxManager, log *zap.Logger) *StateStore {
	return &StateStore{db: tx, log: log}
}

func (s *StateStore) Migrate(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("StateStore.Migrate: %w", err)
		}
	}()
	_, err = s.db.Conn().Exec(ctx, createStateTable)
	return err
}

func (s *StateStore) Load(ctx context.Context) (out map[string]models.SymbolState, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("StateStore.Load: %w", err)
		}
	}()

	rows, err := s.db.Conn().Query(ctx, selectStates)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out = make(map[string]models.SymbolState)
	for rows.Next() {
		var (
			symbol string
			raw    []byte
		)
		if err := rows.Scan(&symbol, &raw); err != nil {
			return nil, err
		}
		var st models.SymbolState
		if err := sonic.Unmarshal(raw, &st); err != nil {
			// битая запись не должна ронять старт
			s.log.Warn("skip corrupted symbol state", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		out[symbol] = st
	}
	return out, rows.Err()
}

func (s *StateStore) Save(ctx context.Context, symbol string, st models.SymbolState) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("StateStore.Save %s: %w", symbol, err)
		}
	}()

	data, err := sonic.Marshal(st)
	if err != nil {
		return err
	}
	return s.db.RunMaster(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		_, err := tx.Exec(ctxTx, upsertState, symbol, data)
		return err
	})
}
