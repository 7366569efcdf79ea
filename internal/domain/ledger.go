package domain

import (
	"context"
	"time"
)

// GlobalCooldown is the cross-session cooldown of one participant for one item name
type GlobalCooldown struct {
	ItemName        string    `json:"itemName"`
	ParticipantName string    `json:"participantName"`
	CooldownEnd     time.Time `json:"cooldownEnd"`
}

// Active reports whether the cooldown still applies at now
func (g GlobalCooldown) Active(now time.Time) bool {
	return g.CooldownEnd.After(now)
}

// GlobalHistoryEntry records one draw in the cross-session history log
type GlobalHistoryEntry struct {
	ID            int64     `json:"id"`
	ItemName      string    `json:"itemName"`
	Winner        string    `json:"winner"`
	Timestamp     time.Time `json:"timestamp"`
	CooldownHours float64   `json:"cooldownDuration"`
	SessionID     string    `json:"sessionId"`
}

// DrawResult is what a completed draw returns to its caller
type DrawResult struct {
	Winner   string `json:"winner"`
	Item     string `json:"item"`
	AudioRef string `json:"audioRef,omitempty"`
}

// ParticipantStatus describes whether a participant can currently win an item
type ParticipantStatus struct {
	Name         string     `json:"name"`
	SessionUntil *time.Time `json:"sessionUntil,omitempty"`
	GlobalUntil  *time.Time `json:"globalUntil,omitempty"`
	Eligible     bool       `json:"eligible"`
}

// LedgerRepository defines read and maintenance access to the global ledger and history log
type LedgerRepository interface {
	// ActiveCooldowns returns ledger rows whose end is after now
	ActiveCooldowns(ctx context.Context, now time.Time) ([]GlobalCooldown, error)
	// ItemCooldowns returns every ledger row recorded for itemName
	ItemCooldowns(ctx context.Context, itemName string) ([]GlobalCooldown, error)
	// History returns up to limit entries, newest first
	History(ctx context.Context, limit int) ([]GlobalHistoryEntry, error)
	// PruneExpired deletes ledger rows whose end is at or before now
	PruneExpired(ctx context.Context, now time.Time) (int64, error)
}

// DrawTx is the view of storage available inside one draw transaction.
// Nothing written through it is visible to other callers until the transaction commits.
type DrawTx interface {
	// Session loads the session being drawn from, or nil when it does not exist
	Session(ctx context.Context) (*Session, error)
	// ItemCooldowns loads the ledger rows for itemName and holds the item for the rest of the transaction
	ItemCooldowns(ctx context.Context, itemName string) ([]GlobalCooldown, error)
	// RecordSessionWin sets the winner's session cooldown and appends to the session history
	RecordSessionWin(ctx context.Context, entry HistoryEntry, cooldownEnd time.Time) error
	// UpsertGlobalCooldown creates or overwrites the ledger row for the pair
	UpsertGlobalCooldown(ctx context.Context, cooldown GlobalCooldown) error
	// AppendGlobalHistory appends one entry to the global history log
	AppendGlobalHistory(ctx context.Context, entry GlobalHistoryEntry) error
}

// DrawRunner executes fn inside one isolated transaction scoped to sessionID.
// The transaction commits when fn returns nil and rolls back otherwise.
type DrawRunner interface {
	RunDraw(ctx context.Context, sessionID string, fn func(ctx context.Context, tx DrawTx) error) error
}

// Store is everything the draw engine needs from persistence
type Store interface {
	SessionRepository
	LedgerRepository
	DrawRunner
	Close() error
}
