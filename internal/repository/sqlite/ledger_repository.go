package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/glebk/draw-bot/internal/domain"
)

// LedgerRepository implements domain.LedgerRepository using SQLite
type LedgerRepository struct {
	db *Database
}

// NewLedgerRepository creates a new LedgerRepository
func NewLedgerRepository(db *Database) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// ActiveCooldowns retrieves ledger rows that have not expired at now
func (r *LedgerRepository) ActiveCooldowns(ctx context.Context, now time.Time) ([]domain.GlobalCooldown, error) {
	query := `
		SELECT item_name, participant_name, cooldown_end
		FROM global_cooldowns
		WHERE cooldown_end > ?
		ORDER BY cooldown_end, item_name, participant_name
	`

	return queryCooldowns(ctx, r.db.GetDB(), query, toMillis(now))
}

// ItemCooldowns retrieves every ledger row for one item name
func (r *LedgerRepository) ItemCooldowns(ctx context.Context, itemName string) ([]domain.GlobalCooldown, error) {
	return itemCooldowns(ctx, r.db.GetDB(), itemName)
}

// History retrieves the newest global history entries
func (r *LedgerRepository) History(ctx context.Context, limit int) ([]domain.GlobalHistoryEntry, error) {
	query := `
		SELECT id, item_name, winner, timestamp, cooldown_hours, session_id
		FROM global_history
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`

	rows, err := r.db.GetDB().QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get global history: %w", err)
	}
	defer rows.Close()

	entries := []domain.GlobalHistoryEntry{}
	for rows.Next() {
		var entry domain.GlobalHistoryEntry
		var ts int64
		if err := rows.Scan(&entry.ID, &entry.ItemName, &entry.Winner, &ts, &entry.CooldownHours, &entry.SessionID); err != nil {
			return nil, fmt.Errorf("failed to scan global history entry: %w", err)
		}
		entry.Timestamp = fromMillis(ts)
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// PruneExpired deletes ledger rows that no longer restrict anyone
func (r *LedgerRepository) PruneExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.GetDB().ExecContext(ctx,
		`DELETE FROM global_cooldowns WHERE cooldown_end <= ?`,
		toMillis(now),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune global cooldowns: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get pruned rows: %w", err)
	}
	return affected, nil
}

func itemCooldowns(ctx context.Context, q querier, itemName string) ([]domain.GlobalCooldown, error) {
	query := `
		SELECT item_name, participant_name, cooldown_end
		FROM global_cooldowns
		WHERE item_name = ?
		ORDER BY participant_name
	`

	return queryCooldowns(ctx, q, query, itemName)
}

func queryCooldowns(ctx context.Context, q querier, query string, args ...any) ([]domain.GlobalCooldown, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get global cooldowns: %w", err)
	}
	defer rows.Close()

	cooldowns := []domain.GlobalCooldown{}
	for rows.Next() {
		var cd domain.GlobalCooldown
		var end int64
		if err := rows.Scan(&cd.ItemName, &cd.ParticipantName, &end); err != nil {
			return nil, fmt.Errorf("failed to scan global cooldown: %w", err)
		}
		cd.CooldownEnd = fromMillis(end)
		cooldowns = append(cooldowns, cd)
	}

	return cooldowns, rows.Err()
}
