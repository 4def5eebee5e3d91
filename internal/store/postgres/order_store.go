package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paa-listas/primary-go/internal/domain"
)

// OrderStore implements domain.OrderStore. Every accepted transition is
// appended to order_transitions and the orders row is upserted to the latest
// status in the same transaction.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates an OrderStore backed by the given pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// upsertOrderSQL keeps the latest status per order.
const upsertOrderSQL = `
	INSERT INTO orders (
		cl_ord_id, proprietary, account, market_id, symbol, side, state,
		price, quantity, filled_quantity, exchange_order_id, terminal, status,
		created_at, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7,
		$8::numeric, $9::numeric, $10::numeric, $11, $12, $13,
		$14, $14
	)
	ON CONFLICT (cl_ord_id, proprietary) DO UPDATE SET
		account           = EXCLUDED.account,
		state             = EXCLUDED.state,
		price             = EXCLUDED.price,
		quantity          = EXCLUDED.quantity,
		filled_quantity   = EXCLUDED.filled_quantity,
		exchange_order_id = EXCLUDED.exchange_order_id,
		terminal          = EXCLUDED.terminal,
		status            = EXCLUDED.status,
		updated_at        = EXCLUDED.updated_at
	WHERE NOT orders.terminal`

// RecordTransition persists one accepted transition. The order row stops
// moving once it is terminal; the transition itself is always appended.
func (s *OrderStore) RecordTransition(ctx context.Context, t domain.OrderTransition) error {
	id := t.Status.OrderID
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.At.IsZero() {
		t.At = time.Now()
	}
	payload, err := json.Marshal(t.Status)
	if err != nil {
		return fmt.Errorf("postgres: encode order %s: %w", id, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin transition %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const insertTransition = `
		INSERT INTO order_transitions (
			id, cl_ord_id, proprietary, prev_state, state, source, status, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = tx.Exec(ctx, insertTransition,
		t.ID, id.ClientOrderID, id.Proprietary,
		string(t.Previous), string(t.Status.State), t.Source, payload, t.At,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert transition %s: %w", id, err)
	}

	st := t.Status
	_, err = tx.Exec(ctx, upsertOrderSQL,
		id.ClientOrderID, id.Proprietary, st.Account,
		st.InstrumentID.MarketID, st.InstrumentID.Symbol, string(st.Side), string(st.State),
		st.Price.String(), st.Quantity.String(), st.FilledQuantity.String(),
		st.ExchangeOrderID, st.State.IsTerminal(), payload, t.At,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert order %s: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit transition %s: %w", id, err)
	}
	return nil
}

// Timeline returns the recorded transitions of one order, oldest first.
// It returns domain.ErrNotFound when nothing was recorded.
func (s *OrderStore) Timeline(ctx context.Context, id domain.OrderID) ([]domain.OrderTransition, error) {
	const query = `
		SELECT id::text, prev_state, source, status, recorded_at
		FROM order_transitions
		WHERE cl_ord_id = $1 AND proprietary = $2
		ORDER BY seq`
	rows, err := s.pool.Query(ctx, query, id.ClientOrderID, id.Proprietary)
	if err != nil {
		return nil, fmt.Errorf("postgres: timeline %s: %w", id, err)
	}
	out, err := pgx.CollectRows(rows, scanTransition)
	if err != nil {
		return nil, fmt.Errorf("postgres: timeline %s: %w", id, err)
	}
	if len(out) == 0 {
		return nil, domain.ErrNotFound
	}
	return out, nil
}

// ListOpen returns the latest status of every non-terminal order. An empty
// account lists all accounts.
func (s *OrderStore) ListOpen(ctx context.Context, account string) ([]domain.OrderStatus, error) {
	const query = `
		SELECT status
		FROM orders
		WHERE NOT terminal AND ($1 = '' OR account = $1)
		ORDER BY created_at`
	rows, err := s.pool.Query(ctx, query, account)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open orders: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.OrderStatus, error) {
		var raw []byte
		if err := row.Scan(&raw); err != nil {
			return domain.OrderStatus{}, err
		}
		return decodeStatus(raw)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list open orders: %w", err)
	}
	return out, nil
}

func scanTransition(row pgx.CollectableRow) (domain.OrderTransition, error) {
	var (
		t    domain.OrderTransition
		prev string
		raw  []byte
	)
	if err := row.Scan(&t.ID, &prev, &t.Source, &raw, &t.At); err != nil {
		return t, err
	}
	status, err := decodeStatus(raw)
	if err != nil {
		return t, err
	}
	t.Previous = domain.OrderState(prev)
	t.Status = status
	return t, nil
}

func decodeStatus(raw []byte) (domain.OrderStatus, error) {
	var st domain.OrderStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return st, fmt.Errorf("decode status: %w", err)
	}
	return st, nil
}

var _ domain.OrderStore = (*OrderStore)(nil)
