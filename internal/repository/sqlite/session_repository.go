package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/glebk/draw-bot/internal/domain"
)

// SessionRepository implements domain.SessionRepository using SQLite
type SessionRepository struct {
	db *Database
}

// NewSessionRepository creates a new SessionRepository
func NewSessionRepository(db *Database) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create stores a new session with its roster and items
func (r *SessionRepository) Create(ctx context.Context, session *domain.Session) error {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	}

	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (id, owner_id, created_at) VALUES (?, ?, ?)`,
			session.ID,
			session.OwnerID,
			toMillis(session.CreatedAt),
		); err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}

		for i, name := range session.Names {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO session_participants (session_id, position, name, audio_ref) VALUES (?, ?, ?, ?)`,
				session.ID, i, name, session.AudioRefs[name],
			); err != nil {
				return fmt.Errorf("failed to add participant %q: %w", name, err)
			}
		}

		for i, item := range session.Items {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO session_items (session_id, position, name, cooldown_hours) VALUES (?, ?, ?, ?)`,
				session.ID, i, item.Name, item.CooldownHours,
			); err != nil {
				return fmt.Errorf("failed to add item %q: %w", item.Name, err)
			}
		}

		return nil
	})
}

// GetByID retrieves a session by ID
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	return loadSession(ctx, r.db.GetDB(), id)
}

// GetLatestByOwner retrieves the most recently created session of an owner
func (r *SessionRepository) GetLatestByOwner(ctx context.Context, ownerID string) (*domain.Session, error) {
	query := `
		SELECT id
		FROM sessions
		WHERE owner_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`

	var id string
	err := r.db.GetDB().QueryRowContext(ctx, query, ownerID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest session: %w", err)
	}

	return loadSession(ctx, r.db.GetDB(), id)
}

// ResetCooldowns clears every session-local cooldown
func (r *SessionRepository) ResetCooldowns(ctx context.Context, id string) (bool, error) {
	found := false
	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		found, err = sessionExists(ctx, tx, id)
		if err != nil || !found {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM session_cooldowns WHERE session_id = ?`, id); err != nil {
			return fmt.Errorf("failed to reset cooldowns: %w", err)
		}
		return nil
	})
	return found, err
}

// Delete removes a session; cascades clear its roster, items, cooldowns and local history
func (r *SessionRepository) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.GetDB().ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get deleted rows: %w", err)
	}

	return affected > 0, nil
}

func sessionExists(ctx context.Context, q querier, id string) (bool, error) {
	var found int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check session: %w", err)
	}
	return true, nil
}

// loadSession assembles a session from its tables, returning nil, nil when it does not exist
func loadSession(ctx context.Context, q querier, id string) (*domain.Session, error) {
	session := &domain.Session{
		Cooldowns: domain.Cooldowns{},
		History:   []domain.HistoryEntry{},
		AudioRefs: domain.AudioRefs{},
	}

	var createdAt int64
	err := q.QueryRowContext(ctx,
		`SELECT id, owner_id, created_at FROM sessions WHERE id = ?`, id,
	).Scan(&session.ID, &session.OwnerID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	session.CreatedAt = fromMillis(createdAt)

	if err := loadParticipants(ctx, q, session); err != nil {
		return nil, err
	}
	if err := loadItems(ctx, q, session); err != nil {
		return nil, err
	}
	if err := loadCooldowns(ctx, q, session); err != nil {
		return nil, err
	}
	if err := loadHistory(ctx, q, session); err != nil {
		return nil, err
	}

	return session, nil
}

func loadParticipants(ctx context.Context, q querier, session *domain.Session) error {
	rows, err := q.QueryContext(ctx,
		`SELECT name, audio_ref FROM session_participants WHERE session_id = ? ORDER BY position`,
		session.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, audioRef string
		if err := rows.Scan(&name, &audioRef); err != nil {
			return fmt.Errorf("failed to scan participant: %w", err)
		}
		session.Names = append(session.Names, name)
		if audioRef != "" {
			session.AudioRefs[name] = audioRef
		}
	}
	return rows.Err()
}

func loadItems(ctx context.Context, q querier, session *domain.Session) error {
	rows, err := q.QueryContext(ctx,
		`SELECT name, cooldown_hours FROM session_items WHERE session_id = ? ORDER BY position`,
		session.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to get items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.Item
		if err := rows.Scan(&item.Name, &item.CooldownHours); err != nil {
			return fmt.Errorf("failed to scan item: %w", err)
		}
		session.Items = append(session.Items, item)
	}
	return rows.Err()
}

func loadCooldowns(ctx context.Context, q querier, session *domain.Session) error {
	rows, err := q.QueryContext(ctx,
		`SELECT participant_name, cooldown_end FROM session_cooldowns WHERE session_id = ?`,
		session.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to get cooldowns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var end int64
		if err := rows.Scan(&name, &end); err != nil {
			return fmt.Errorf("failed to scan cooldown: %w", err)
		}
		session.Cooldowns[name] = fromMillis(end)
	}
	return rows.Err()
}

func loadHistory(ctx context.Context, q querier, session *domain.Session) error {
	rows, err := q.QueryContext(ctx,
		`SELECT item_name, winner, timestamp, cooldown_hours
		FROM session_history
		WHERE session_id = ?
		ORDER BY id`,
		session.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entry domain.HistoryEntry
		var ts int64
		if err := rows.Scan(&entry.ItemName, &entry.Winner, &ts, &entry.CooldownHours); err != nil {
			return fmt.Errorf("failed to scan history entry: %w", err)
		}
		entry.Timestamp = fromMillis(ts)
		session.History = append(session.History, entry)
	}
	return rows.Err()
}
