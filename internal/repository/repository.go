// Package repository persists battles and their action logs in postgres.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openwargame/wargame-server-go/internal/config"
	"github.com/openwargame/wargame-server-go/internal/game"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS battles (
    id            TEXT PRIMARY KEY,
    initial_state JSONB NOT NULL,
    checksum      TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    finished_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS battle_actions (
    battle_id TEXT NOT NULL REFERENCES battles(id) ON DELETE CASCADE,
    seq       INT  NOT NULL,
    entry     JSONB NOT NULL,
    PRIMARY KEY (battle_id, seq)
);`

// DB wraps the pgx connection pool.
type DB struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewDB opens the connection pool and ensures the schema exists.
func NewDB(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return &DB{pool: pool, logger: logger}, nil
}

// Close releases the pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Stats exposes pool statistics for startup logging.
func (db *DB) Stats() *pgxpool.Stat {
	return db.pool.Stat()
}

// BattleRepository stores battles and their append-only action logs.
type BattleRepository struct {
	db *DB
}

// NewBattleRepository wires a repository over the pool.
func NewBattleRepository(db *DB) *BattleRepository {
	return &BattleRepository{db: db}
}

// CreateBattle stores a battle's initial state.
func (r *BattleRepository) CreateBattle(ctx context.Context, battleID string, initial map[string]any) error {
	raw, err := json.Marshal(initial)
	if err != nil {
		return fmt.Errorf("encoding initial state: %w", err)
	}
	_, err = r.db.pool.Exec(ctx,
		`INSERT INTO battles (id, initial_state) VALUES ($1, $2)`,
		battleID, raw)
	if err != nil {
		return fmt.Errorf("inserting battle %s: %w", battleID, err)
	}
	return nil
}

// AppendAction persists one confirmed log entry.
func (r *BattleRepository) AppendAction(ctx context.Context, battleID string, entry game.LogEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding log entry: %w", err)
	}
	_, err = r.db.pool.Exec(ctx,
		`INSERT INTO battle_actions (battle_id, seq, entry) VALUES ($1, $2, $3)`,
		battleID, entry.Seq, raw)
	if err != nil {
		return fmt.Errorf("appending action %d to battle %s: %w", entry.Seq, battleID, err)
	}
	return nil
}

// FinishBattle stamps the battle with its final checksum.
func (r *BattleRepository) FinishBattle(ctx context.Context, battleID, checksum string) error {
	tag, err := r.db.pool.Exec(ctx,
		`UPDATE battles SET checksum = $2, finished_at = $3 WHERE id = $1`,
		battleID, checksum, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("finishing battle %s: %w", battleID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("battle %s not found", battleID)
	}
	return nil
}

// FinishedBattle is a row from the battles table with a final checksum.
type FinishedBattle struct {
	ID       string
	Checksum string
}

// ListFinished returns every battle stamped with a final checksum, oldest
// first.
func (r *BattleRepository) ListFinished(ctx context.Context) ([]FinishedBattle, error) {
	rows, err := r.db.pool.Query(ctx,
		`SELECT id, checksum FROM battles WHERE finished_at IS NOT NULL ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing finished battles: %w", err)
	}
	defer rows.Close()

	var out []FinishedBattle
	for rows.Next() {
		var fb FinishedBattle
		if err := rows.Scan(&fb.ID, &fb.Checksum); err != nil {
			return nil, err
		}
		out = append(out, fb)
	}
	return out, rows.Err()
}

// LoadBattle returns the initial state and the full ordered action log, the
// inputs a deterministic rebuild needs.
func (r *BattleRepository) LoadBattle(ctx context.Context, battleID string) (map[string]any, []game.LogEntry, error) {
	var rawState []byte
	err := r.db.pool.QueryRow(ctx,
		`SELECT initial_state FROM battles WHERE id = $1`, battleID).Scan(&rawState)
	if err == pgx.ErrNoRows {
		return nil, nil, fmt.Errorf("battle %s not found", battleID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("loading battle %s: %w", battleID, err)
	}
	var initial map[string]any
	if err := json.Unmarshal(rawState, &initial); err != nil {
		return nil, nil, fmt.Errorf("decoding initial state: %w", err)
	}

	rows, err := r.db.pool.Query(ctx,
		`SELECT entry FROM battle_actions WHERE battle_id = $1 ORDER BY seq`, battleID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading actions for battle %s: %w", battleID, err)
	}
	defer rows.Close()

	var entries []game.LogEntry
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, nil, err
		}
		var entry game.LogEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, nil, fmt.Errorf("decoding log entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return initial, entries, rows.Err()
}
