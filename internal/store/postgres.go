package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stormvane/pool-engine/internal/events"
	"github.com/stormvane/pool-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Share quantities and costs are stored as BIGINT; fills and event payloads
// as JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	fills, err := json.Marshal(t.Fills)
	if err != nil {
		return fmt.Errorf("marshal fills: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO trades (id, policy_id, buyer, filled, total_cost, fills, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6::JSONB, $7)`,
		t.ID, int64(t.PolicyID), t.Buyer, int64(t.Filled), int64(t.TotalCost),
		fills, t.ExecutedAt,
	)
	return err
}

func (s *PostgresStore) ListTradesByPolicy(ctx context.Context, policy model.PolicyID) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, policy_id, buyer, filled, total_cost, fills, executed_at
		 FROM trades WHERE policy_id = $1 ORDER BY executed_at`, int64(policy))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) ListTradesByAccount(ctx context.Context, account string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, policy_id, buyer, filled, total_cost, fills, executed_at
		 FROM trades WHERE buyer = $1 ORDER BY executed_at`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) AppendEvent(ctx context.Context, ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO event_journal (event_type, policy_id, payload, recorded_at)
		 VALUES ($1, $2, $3::JSONB, $4)`,
		string(ev.Type), int64(ev.PolicyID), payload, ev.At,
	)
	return err
}

func (s *PostgresStore) ListEventsByPolicy(ctx context.Context, policy model.PolicyID, limit int) ([]events.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM event_journal
		 WHERE policy_id = $1 ORDER BY recorded_at DESC LIMIT $2`,
		int64(policy), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var ev events.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// scanTrades reads pgx rows into Trade slices.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanTrades(rows pgxRows) ([]model.Trade, error) {
	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var policyID, filled, totalCost int64
		var fills []byte

		if err := rows.Scan(&t.ID, &policyID, &t.Buyer, &filled, &totalCost,
			&fills, &t.ExecutedAt); err != nil {
			return nil, err
		}
		t.PolicyID = model.PolicyID(policyID)
		t.Filled = uint64(filled)
		t.TotalCost = uint64(totalCost)
		if err := json.Unmarshal(fills, &t.Fills); err != nil {
			return nil, fmt.Errorf("unmarshal fills: %w", err)
		}

		trades = append(trades, t)
	}
	return trades, rows.Err()
}
