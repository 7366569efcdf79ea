package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebk/draw-bot/internal/domain"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store implements domain.Store on PostgreSQL through gorm.
// Draws lock the session row and then the item name, always in that order.
type Store struct {
	db *gorm.DB
}

var _ domain.Store = (*Store)(nil)

// Open connects to dsn and migrates the schema
func Open(dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database url is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(allModels...); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Create stores a session with its roster and items
func (s *Store) Create(ctx context.Context, session *domain.Session) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&sessionRow{
			ID:        session.ID,
			OwnerID:   session.OwnerID,
			CreatedAt: session.CreatedAt.UTC(),
		}).Error; err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}

		participants := make([]participantRow, 0, len(session.Names))
		for i, name := range session.Names {
			participants = append(participants, participantRow{
				SessionID: session.ID,
				Position:  i,
				Name:      name,
				AudioRef:  session.AudioRefs[name],
			})
		}
		if err := tx.Create(&participants).Error; err != nil {
			return fmt.Errorf("failed to add participants: %w", err)
		}

		items := make([]itemRow, 0, len(session.Items))
		for i, item := range session.Items {
			items = append(items, itemRow{
				SessionID:     session.ID,
				Position:      i,
				Name:          item.Name,
				CooldownHours: item.CooldownHours,
			})
		}
		if err := tx.Create(&items).Error; err != nil {
			return fmt.Errorf("failed to add items: %w", err)
		}

		return nil
	})
}

// GetByID retrieves a session by ID
func (s *Store) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	return loadSession(s.db.WithContext(ctx), id, false)
}

// GetLatestByOwner retrieves the newest session created by ownerID
func (s *Store) GetLatestByOwner(ctx context.Context, ownerID string) (*domain.Session, error) {
	var rows []sessionRow
	if err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC, seq DESC").
		Limit(1).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to get latest session: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return loadSession(s.db.WithContext(ctx), rows[0].ID, false)
}

// ResetCooldowns clears the session-local cooldowns
func (s *Store) ResetCooldowns(ctx context.Context, id string) (bool, error) {
	found := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&sessionRow{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return nil
		}
		found = true
		return tx.Where("session_id = ?", id).Delete(&sessionCooldownRow{}).Error
	})
	if err != nil {
		return false, fmt.Errorf("failed to reset cooldowns: %w", err)
	}
	return found, nil
}

// Delete removes a session and its local state; global history is untouched
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	var affected int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&participantRow{}, &itemRow{}, &sessionCooldownRow{}, &sessionHistoryRow{}} {
			if err := tx.Where("session_id = ?", id).Delete(model).Error; err != nil {
				return err
			}
		}
		result := tx.Where("id = ?", id).Delete(&sessionRow{})
		affected = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	return affected > 0, nil
}

// ActiveCooldowns retrieves ledger rows that have not expired at now
func (s *Store) ActiveCooldowns(ctx context.Context, now time.Time) ([]domain.GlobalCooldown, error) {
	var rows []globalCooldownRow
	if err := s.db.WithContext(ctx).
		Where("cooldown_end > ?", now.UTC()).
		Order("cooldown_end, item_name, participant_name").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to get global cooldowns: %w", err)
	}
	return toCooldowns(rows), nil
}

// ItemCooldowns retrieves every ledger row for one item name
func (s *Store) ItemCooldowns(ctx context.Context, itemName string) ([]domain.GlobalCooldown, error) {
	return itemCooldowns(s.db.WithContext(ctx), itemName)
}

// History retrieves the newest global history entries
func (s *Store) History(ctx context.Context, limit int) ([]domain.GlobalHistoryEntry, error) {
	var rows []globalHistoryRow
	if err := s.db.WithContext(ctx).
		Order("drawn_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to get global history: %w", err)
	}

	entries := make([]domain.GlobalHistoryEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, domain.GlobalHistoryEntry{
			ID:            row.ID,
			ItemName:      row.ItemName,
			Winner:        row.Winner,
			Timestamp:     row.DrawnAt.UTC(),
			CooldownHours: row.CooldownHours,
			SessionID:     row.SessionID,
		})
	}
	return entries, nil
}

// PruneExpired deletes ledger rows that no longer restrict anyone
func (s *Store) PruneExpired(ctx context.Context, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("cooldown_end <= ?", now.UTC()).Delete(&globalCooldownRow{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to prune global cooldowns: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// RunDraw executes fn in one transaction scoped to sessionID
func (s *Store) RunDraw(ctx context.Context, sessionID string, fn func(ctx context.Context, tx domain.DrawTx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &drawTx{tx: tx, sessionID: sessionID})
	})
}

type drawTx struct {
	tx        *gorm.DB
	sessionID string
}

// Session locks the session row for the rest of the transaction
func (t *drawTx) Session(ctx context.Context) (*domain.Session, error) {
	return loadSession(t.tx.WithContext(ctx), t.sessionID, true)
}

// ItemCooldowns takes a transaction-scoped advisory lock on the item name so
// concurrent draws of the same item in different sessions serialize.
func (t *drawTx) ItemCooldowns(ctx context.Context, itemName string) ([]domain.GlobalCooldown, error) {
	db := t.tx.WithContext(ctx)
	if err := db.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", itemName).Error; err != nil {
		return nil, fmt.Errorf("failed to lock item %s: %w", itemName, err)
	}
	return itemCooldowns(db, itemName)
}

func (t *drawTx) RecordSessionWin(ctx context.Context, entry domain.HistoryEntry, cooldownEnd time.Time) error {
	db := t.tx.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}, {Name: "participant_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"cooldown_end"}),
	}).Create(&sessionCooldownRow{
		SessionID:       t.sessionID,
		ParticipantName: entry.Winner,
		CooldownEnd:     cooldownEnd.UTC(),
	}).Error; err != nil {
		return fmt.Errorf("failed to set session cooldown: %w", err)
	}

	if err := db.Create(&sessionHistoryRow{
		SessionID:     t.sessionID,
		ItemName:      entry.ItemName,
		Winner:        entry.Winner,
		DrawnAt:       entry.Timestamp.UTC(),
		CooldownHours: entry.CooldownHours,
	}).Error; err != nil {
		return fmt.Errorf("failed to append session history: %w", err)
	}
	return nil
}

func (t *drawTx) UpsertGlobalCooldown(ctx context.Context, cooldown domain.GlobalCooldown) error {
	if err := t.tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "item_name"}, {Name: "participant_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"cooldown_end"}),
	}).Create(&globalCooldownRow{
		ItemName:        cooldown.ItemName,
		ParticipantName: cooldown.ParticipantName,
		CooldownEnd:     cooldown.CooldownEnd.UTC(),
	}).Error; err != nil {
		return fmt.Errorf("failed to upsert global cooldown: %w", err)
	}
	return nil
}

func (t *drawTx) AppendGlobalHistory(ctx context.Context, entry domain.GlobalHistoryEntry) error {
	if err := t.tx.WithContext(ctx).Create(&globalHistoryRow{
		ItemName:      entry.ItemName,
		Winner:        entry.Winner,
		DrawnAt:       entry.Timestamp.UTC(),
		CooldownHours: entry.CooldownHours,
		SessionID:     entry.SessionID,
	}).Error; err != nil {
		return fmt.Errorf("failed to append global history: %w", err)
	}
	return nil
}

func loadSession(db *gorm.DB, id string, forUpdate bool) (*domain.Session, error) {
	var row sessionRow
	query := db
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := query.Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	session := &domain.Session{
		ID:        row.ID,
		OwnerID:   row.OwnerID,
		CreatedAt: row.CreatedAt.UTC(),
		Cooldowns: domain.Cooldowns{},
		History:   []domain.HistoryEntry{},
		AudioRefs: domain.AudioRefs{},
	}

	var participants []participantRow
	if err := db.Where("session_id = ?", id).Order("position").Find(&participants).Error; err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	for _, p := range participants {
		session.Names = append(session.Names, p.Name)
		if p.AudioRef != "" {
			session.AudioRefs[p.Name] = p.AudioRef
		}
	}

	var items []itemRow
	if err := db.Where("session_id = ?", id).Order("position").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to get items: %w", err)
	}
	for _, it := range items {
		session.Items = append(session.Items, domain.Item{Name: it.Name, CooldownHours: it.CooldownHours})
	}

	var cooldowns []sessionCooldownRow
	if err := db.Where("session_id = ?", id).Find(&cooldowns).Error; err != nil {
		return nil, fmt.Errorf("failed to get session cooldowns: %w", err)
	}
	for _, cd := range cooldowns {
		session.Cooldowns[cd.ParticipantName] = cd.CooldownEnd.UTC()
	}

	var history []sessionHistoryRow
	if err := db.Where("session_id = ?", id).Order("id").Find(&history).Error; err != nil {
		return nil, fmt.Errorf("failed to get session history: %w", err)
	}
	for _, h := range history {
		session.History = append(session.History, domain.HistoryEntry{
			ItemName:      h.ItemName,
			Winner:        h.Winner,
			Timestamp:     h.DrawnAt.UTC(),
			CooldownHours: h.CooldownHours,
		})
	}

	return session, nil
}

func itemCooldowns(db *gorm.DB, itemName string) ([]domain.GlobalCooldown, error) {
	var rows []globalCooldownRow
	if err := db.Where("item_name = ?", itemName).Order("participant_name").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to get global cooldowns: %w", err)
	}
	return toCooldowns(rows), nil
}

func toCooldowns(rows []globalCooldownRow) []domain.GlobalCooldown {
	cooldowns := make([]domain.GlobalCooldown, 0, len(rows))
	for _, row := range rows {
		cooldowns = append(cooldowns, domain.GlobalCooldown{
			ItemName:        row.ItemName,
			ParticipantName: row.ParticipantName,
			CooldownEnd:     row.CooldownEnd.UTC(),
		})
	}
	return cooldowns
}
