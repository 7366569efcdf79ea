package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/glebk/draw-bot/internal/domain"
	"github.com/google/uuid"
)

const (
	// DefaultHistoryLimit is used when a history query does not ask for a size
	DefaultHistoryLimit = 100
	// MaxHistoryLimit bounds a single history query
	MaxHistoryLimit = 500
)

// AudioResolver turns a stored audio reference into something a client can play
type AudioResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// SessionSetup is the input for creating a draw session
type SessionSetup struct {
	OwnerID   string
	Names     []string
	Items     []domain.Item
	AudioRefs map[string]string
}

// DrawService handles business logic for draw sessions
type DrawService struct {
	store        domain.Store
	picker       Picker
	clock        func() time.Time
	audio        AudioResolver
	globalLedger bool
}

// Option configures a DrawService
type Option func(*DrawService)

// WithPicker replaces the winner selection source
func WithPicker(p Picker) Option {
	return func(s *DrawService) { s.picker = p }
}

// WithClock replaces the time source
func WithClock(clock func() time.Time) Option {
	return func(s *DrawService) { s.clock = clock }
}

// WithAudioResolver resolves winner audio references after each draw
func WithAudioResolver(r AudioResolver) Option {
	return func(s *DrawService) { s.audio = r }
}

// WithGlobalLedger toggles cross-session cooldowns and the global history log
func WithGlobalLedger(enabled bool) Option {
	return func(s *DrawService) { s.globalLedger = enabled }
}

// NewDrawService creates a new DrawService. The global ledger is enabled by default.
func NewDrawService(store domain.Store, opts ...Option) (*DrawService, error) {
	service := &DrawService{
		store:        store,
		clock:        time.Now,
		globalLedger: true,
	}
	for _, opt := range opts {
		opt(service)
	}

	if service.picker == nil {
		picker, err := NewSeededPicker()
		if err != nil {
			return nil, err
		}
		service.picker = picker
	}

	return service, nil
}

// GlobalLedgerEnabled reports whether cross-session cooldowns are in effect
func (s *DrawService) GlobalLedgerEnabled() bool {
	return s.globalLedger
}

// now reads the clock once, truncated to the millisecond precision used in storage
func (s *DrawService) now() time.Time {
	return s.clock().UTC().Truncate(time.Millisecond)
}

// CreateSession validates the setup and stores a session with no cooldowns or history
func (s *DrawService) CreateSession(ctx context.Context, setup SessionSetup) (string, error) {
	session, err := buildSession(setup)
	if err != nil {
		return "", err
	}

	session.ID = uuid.NewString()
	session.CreatedAt = s.now()

	if err := s.store.Create(ctx, session); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	log.Printf("Created session %s with %d participants and %d items", session.ID, len(session.Names), len(session.Items))
	return session.ID, nil
}

func buildSession(setup SessionSetup) (*domain.Session, error) {
	if len(setup.Names) < 2 {
		return nil, domain.New(domain.CodeInvalidSetup, "at least two participants are required")
	}
	if len(setup.Items) < 1 {
		return nil, domain.New(domain.CodeInvalidSetup, "at least one item is required")
	}

	session := &domain.Session{
		OwnerID:   setup.OwnerID,
		Cooldowns: domain.Cooldowns{},
		History:   []domain.HistoryEntry{},
		AudioRefs: domain.AudioRefs{},
	}

	seen := make(map[string]bool, len(setup.Names))
	for _, raw := range setup.Names {
		name := strings.TrimSpace(raw)
		if name == "" {
			return nil, domain.New(domain.CodeInvalidSetup, "participant names must not be blank")
		}
		if seen[name] {
			return nil, domain.WithMetadata(domain.CodeInvalidSetup, "duplicate participant "+name, map[string]string{"name": name})
		}
		seen[name] = true
		session.Names = append(session.Names, name)
	}

	for _, item := range setup.Items {
		item.Name = strings.TrimSpace(item.Name)
		if item.Name == "" {
			return nil, domain.New(domain.CodeInvalidSetup, "item names must not be blank")
		}
		if !item.ValidCooldown() {
			return nil, domain.WithMetadata(domain.CodeInvalidSetup,
				fmt.Sprintf("item cooldown must be between 0 and %.0f hours", domain.MaxCooldownHours),
				map[string]string{"item": item.Name})
		}
		session.Items = append(session.Items, item)
	}

	for raw, ref := range setup.AudioRefs {
		name := strings.TrimSpace(raw)
		if !seen[name] {
			return nil, domain.WithMetadata(domain.CodeInvalidSetup, "audio for unknown participant "+name, map[string]string{"name": name})
		}
		if ref = strings.TrimSpace(ref); ref != "" {
			session.AudioRefs[name] = ref
		}
	}

	return session, nil
}

// PerformDraw picks a random eligible participant for the item and records the win
// in the session and, when enabled, in the global ledger and history, atomically.
func (s *DrawService) PerformDraw(ctx context.Context, sessionID string, itemIndex int) (domain.DrawResult, error) {
	var result domain.DrawResult
	var audioRef string

	err := s.store.RunDraw(ctx, sessionID, func(ctx context.Context, tx domain.DrawTx) error {
		session, err := tx.Session(ctx)
		if err != nil {
			return err
		}
		if session == nil {
			return domain.Newf(domain.CodeSessionNotFound, "session %s not found", sessionID)
		}

		item, ok := session.Item(itemIndex)
		if !ok {
			return domain.Newf(domain.CodeItemNotFound, "item %d not found", itemIndex)
		}

		now := s.now()

		var ledger []domain.GlobalCooldown
		if s.globalLedger {
			if ledger, err = tx.ItemCooldowns(ctx, item.Name); err != nil {
				return err
			}
		}

		eligible := eligibleNames(participantStatuses(session, item, ledger, now))
		if len(eligible) == 0 {
			return domain.WithMetadata(domain.CodeNoAvailableParticipants,
				"no participants available for "+item.Name+" (all on cooldown)",
				map[string]string{"item": item.Name})
		}

		idx := s.picker.Pick(len(eligible))
		if idx < 0 || idx >= len(eligible) {
			return fmt.Errorf("picker returned index %d for %d candidates", idx, len(eligible))
		}
		winner := eligible[idx]
		cooldownEnd := item.CooldownEnd(now)

		entry := domain.HistoryEntry{
			ItemName:      item.Name,
			Winner:        winner,
			Timestamp:     now,
			CooldownHours: item.CooldownHours,
		}
		if err := tx.RecordSessionWin(ctx, entry, cooldownEnd); err != nil {
			return err
		}

		if s.globalLedger {
			if err := tx.UpsertGlobalCooldown(ctx, domain.GlobalCooldown{
				ItemName:        item.Name,
				ParticipantName: winner,
				CooldownEnd:     cooldownEnd,
			}); err != nil {
				return err
			}
			if err := tx.AppendGlobalHistory(ctx, domain.GlobalHistoryEntry{
				ItemName:      item.Name,
				Winner:        winner,
				Timestamp:     now,
				CooldownHours: item.CooldownHours,
				SessionID:     session.ID,
			}); err != nil {
				return err
			}
		}

		result = domain.DrawResult{Winner: winner, Item: item.Name}
		audioRef, _ = session.AudioRefs.Lookup(winner)
		return nil
	})
	if err != nil {
		return domain.DrawResult{}, err
	}

	log.Printf("Session %s: %s won %s", sessionID, result.Winner, result.Item)

	result.AudioRef = s.resolveAudio(ctx, audioRef)
	return result, nil
}

// resolveAudio never fails a draw; on error the raw reference is returned
func (s *DrawService) resolveAudio(ctx context.Context, ref string) string {
	if ref == "" || s.audio == nil {
		return ref
	}
	resolved, err := s.audio.Resolve(ctx, ref)
	if err != nil {
		log.Printf("Error resolving audio %q: %v", ref, err)
		return ref
	}
	return resolved
}

// ResetCooldowns clears the session-local cooldowns; the global ledger and history are kept
func (s *DrawService) ResetCooldowns(ctx context.Context, sessionID string) error {
	found, err := s.store.ResetCooldowns(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to reset cooldowns: %w", err)
	}
	if !found {
		return domain.Newf(domain.CodeSessionNotFound, "session %s not found", sessionID)
	}
	return nil
}

// GetSession returns the session, or nil when it does not exist
func (s *DrawService) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	return s.store.GetByID(ctx, sessionID)
}

// GetOwnedSession returns the session only when ownerID may see it; otherwise nil
func (s *DrawService) GetOwnedSession(ctx context.Context, sessionID, ownerID string) (*domain.Session, error) {
	session, err := s.store.GetByID(ctx, sessionID)
	if err != nil || session == nil {
		return nil, err
	}
	if !session.OwnedBy(ownerID) {
		return nil, nil
	}
	return session, nil
}

// LatestOwnedSession returns the most recent session created by ownerID, or nil
func (s *DrawService) LatestOwnedSession(ctx context.Context, ownerID string) (*domain.Session, error) {
	return s.store.GetLatestByOwner(ctx, ownerID)
}

// DeleteSession removes a session owned by ownerID. Global history rows are kept.
func (s *DrawService) DeleteSession(ctx context.Context, sessionID, ownerID string) error {
	session, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return domain.Newf(domain.CodeSessionNotFound, "session %s not found", sessionID)
	}
	if session.OwnerID != ownerID {
		return domain.Newf(domain.CodeUnauthorized, "session %s belongs to another owner", sessionID)
	}

	deleted, err := s.store.Delete(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if !deleted {
		return domain.Newf(domain.CodeSessionNotFound, "session %s not found", sessionID)
	}
	return nil
}

// Eligibility reports, per participant, the cooldowns that apply to the item right now
func (s *DrawService) Eligibility(ctx context.Context, sessionID string, itemIndex int) ([]domain.ParticipantStatus, error) {
	session, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, domain.Newf(domain.CodeSessionNotFound, "session %s not found", sessionID)
	}

	item, ok := session.Item(itemIndex)
	if !ok {
		return nil, domain.Newf(domain.CodeItemNotFound, "item %d not found", itemIndex)
	}

	var ledger []domain.GlobalCooldown
	if s.globalLedger {
		if ledger, err = s.store.ItemCooldowns(ctx, item.Name); err != nil {
			return nil, fmt.Errorf("failed to get item cooldowns: %w", err)
		}
	}

	return participantStatuses(session, item, ledger, s.now()), nil
}

// GlobalCooldowns returns every ledger entry still active now
func (s *DrawService) GlobalCooldowns(ctx context.Context) ([]domain.GlobalCooldown, error) {
	return s.store.ActiveCooldowns(ctx, s.now())
}

// GlobalHistory returns the newest draws across all sessions.
// limit <= 0 selects DefaultHistoryLimit; larger values are capped at MaxHistoryLimit.
func (s *DrawService) GlobalHistory(ctx context.Context, limit int) ([]domain.GlobalHistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	return s.store.History(ctx, limit)
}

// PruneExpiredCooldowns removes ledger rows that no longer restrict anyone
func (s *DrawService) PruneExpiredCooldowns(ctx context.Context) (int64, error) {
	return s.store.PruneExpired(ctx, s.now())
}

// participantStatuses evaluates session-local and global cooldowns for every roster name
func participantStatuses(session *domain.Session, item domain.Item, ledger []domain.GlobalCooldown, now time.Time) []domain.ParticipantStatus {
	global := make(map[string]time.Time, len(ledger))
	for _, cd := range ledger {
		if cd.ItemName == item.Name && cd.Active(now) {
			global[cd.ParticipantName] = cd.CooldownEnd
		}
	}

	statuses := make([]domain.ParticipantStatus, 0, len(session.Names))
	for _, name := range session.Names {
		status := domain.ParticipantStatus{Name: name, Eligible: true}
		if session.Cooldowns.Blocks(name, now) {
			end := session.Cooldowns[name]
			status.SessionUntil = &end
			status.Eligible = false
		}
		if end, ok := global[name]; ok {
			status.GlobalUntil = &end
			status.Eligible = false
		}
		statuses = append(statuses, status)
	}
	return statuses
}

func eligibleNames(statuses []domain.ParticipantStatus) []string {
	var names []string
	for _, status := range statuses {
		if status.Eligible {
			names = append(names, status.Name)
		}
	}
	return names
}
