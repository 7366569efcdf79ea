package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/glebk/draw-bot/internal/domain"
)

// DrawRepository implements domain.DrawRunner using SQLite transactions.
// Transactions begin IMMEDIATE, so the eligibility read and every write
// of a draw happen under the database write lock.
type DrawRepository struct {
	db *Database
}

// NewDrawRepository creates a new DrawRepository
func NewDrawRepository(db *Database) *DrawRepository {
	return &DrawRepository{db: db}
}

// RunDraw executes fn in one transaction scoped to sessionID
func (r *DrawRepository) RunDraw(ctx context.Context, sessionID string, fn func(ctx context.Context, tx domain.DrawTx) error) error {
	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		return fn(ctx, &drawTx{tx: tx, sessionID: sessionID})
	})
}

type drawTx struct {
	tx        *sql.Tx
	sessionID string
}

func (t *drawTx) Session(ctx context.Context) (*domain.Session, error) {
	return loadSession(ctx, t.tx, t.sessionID)
}

func (t *drawTx) ItemCooldowns(ctx context.Context, itemName string) ([]domain.GlobalCooldown, error) {
	return itemCooldowns(ctx, t.tx, itemName)
}

func (t *drawTx) RecordSessionWin(ctx context.Context, entry domain.HistoryEntry, cooldownEnd time.Time) error {
	query := `
		INSERT INTO session_cooldowns (session_id, participant_name, cooldown_end)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id, participant_name) DO UPDATE SET cooldown_end = excluded.cooldown_end
	`
	if _, err := t.tx.ExecContext(ctx, query, t.sessionID, entry.Winner, toMillis(cooldownEnd)); err != nil {
		return fmt.Errorf("failed to set session cooldown: %w", err)
	}

	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO session_history (session_id, item_name, winner, timestamp, cooldown_hours) VALUES (?, ?, ?, ?, ?)`,
		t.sessionID, entry.ItemName, entry.Winner, toMillis(entry.Timestamp), entry.CooldownHours,
	); err != nil {
		return fmt.Errorf("failed to append session history: %w", err)
	}

	return nil
}

func (t *drawTx) UpsertGlobalCooldown(ctx context.Context, cooldown domain.GlobalCooldown) error {
	query := `
		INSERT INTO global_cooldowns (item_name, participant_name, cooldown_end)
		VALUES (?, ?, ?)
		ON CONFLICT(item_name, participant_name) DO UPDATE SET cooldown_end = excluded.cooldown_end
	`
	if _, err := t.tx.ExecContext(ctx, query, cooldown.ItemName, cooldown.ParticipantName, toMillis(cooldown.CooldownEnd)); err != nil {
		return fmt.Errorf("failed to upsert global cooldown: %w", err)
	}
	return nil
}

func (t *drawTx) AppendGlobalHistory(ctx context.Context, entry domain.GlobalHistoryEntry) error {
	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO global_history (item_name, winner, timestamp, cooldown_hours, session_id) VALUES (?, ?, ?, ?, ?)`,
		entry.ItemName, entry.Winner, toMillis(entry.Timestamp), entry.CooldownHours, entry.SessionID,
	); err != nil {
		return fmt.Errorf("failed to append global history: %w", err)
	}
	return nil
}
