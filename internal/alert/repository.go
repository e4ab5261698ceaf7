package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the subset of pgxpool.Pool the repository needs, kept as an
// interface so tests can use pgxmock.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// HistoryEntry is one persisted lifecycle transition.
type HistoryEntry struct {
	ID        uuid.UUID      `json:"id"`
	AlertID   uuid.UUID      `json:"alert_id"`
	RuleID    string         `json:"rule_id"`
	UnitID    string         `json:"unit_id"`
	Severity  string         `json:"severity"`
	Status    string         `json:"status"`
	Event     string         `json:"event"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Repository stores alert lifecycle history in Postgres. The JSON files
// remain the source of truth for current state; this table exists for
// long-horizon queries the file layout cannot answer.
type Repository struct {
	db DB
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func NewRepositoryWithDB(db DB) *Repository {
	return &Repository{db: db}
}

// Record implements History.
func (r *Repository) Record(ctx context.Context, a *Alert, event string) error {
	details, err := json.Marshal(a.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}

	query := `
		INSERT INTO alert_history (
			alert_id, rule_id, unit_id, severity, status, event, details
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.db.Exec(ctx, query,
		a.ID, a.RuleID, a.UnitID, string(a.Severity), string(a.Status), event, details,
	)
	if err != nil {
		return fmt.Errorf("record alert history: %w", err)
	}
	return nil
}

// ListByAlert returns the transitions for one alert, newest first.
func (r *Repository) ListByAlert(ctx context.Context, alertID uuid.UUID, limit int) ([]*HistoryEntry, error) {
	query := `
		SELECT id, alert_id, rule_id, unit_id, severity, status, event, details, created_at
		FROM alert_history
		WHERE alert_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, alertID, limit)
	if err != nil {
		return nil, fmt.Errorf("list alert history: %w", err)
	}
	defer rows.Close()

	var entries []*HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var details []byte

		err := rows.Scan(
			&e.ID, &e.AlertID, &e.RuleID, &e.UnitID,
			&e.Severity, &e.Status, &e.Event, &details, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}

		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("unmarshal details: %w", err)
			}
		}

		entries = append(entries, &e)
	}

	return entries, rows.Err()
}

// DeleteOlderThan trims history beyond the retention horizon.
func (r *Repository) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	query := `DELETE FROM alert_history WHERE created_at < NOW() - $1::interval`

	result, err := r.db.Exec(ctx, query, age.String())
	if err != nil {
		return 0, fmt.Errorf("delete old history: %w", err)
	}
	return result.RowsAffected(), nil
}
