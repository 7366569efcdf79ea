package domain

import (
	"context"
	"math"
	"time"
)

// MillisPerHour converts an item cooldown expressed in hours to milliseconds
const MillisPerHour = 3_600_000

// Item is a prize that can be drawn within a session
type Item struct {
	Name          string  `json:"name"`
	CooldownHours float64 `json:"cooldownHours"`
}

// MaxCooldownHours is the longest cooldown whose length still fits in a time.Duration
const MaxCooldownHours = float64(math.MaxInt64 / int64(time.Hour))

// ValidCooldown reports whether the cooldown is positive and no longer than MaxCooldownHours
func (i Item) ValidCooldown() bool {
	return i.CooldownHours > 0 && i.CooldownHours <= MaxCooldownHours
}

// CooldownMillis returns the item cooldown in whole milliseconds
func (i Item) CooldownMillis() int64 {
	return int64(math.Round(i.CooldownHours * MillisPerHour))
}

// CooldownDuration returns the item cooldown as a duration, rounded to whole milliseconds.
// Only meaningful for items with a valid cooldown.
func (i Item) CooldownDuration() time.Duration {
	return time.Duration(i.CooldownMillis()) * time.Millisecond
}

// CooldownEnd returns the instant a win at now stops blocking, computed in epoch milliseconds
func (i Item) CooldownEnd(now time.Time) time.Time {
	return time.UnixMilli(now.UnixMilli() + i.CooldownMillis()).UTC()
}

// Cooldowns maps a participant name to the instant they become eligible again.
// A missing name means the participant has no restriction.
type Cooldowns map[string]time.Time

// Until returns the cooldown end for name and whether one is recorded
func (c Cooldowns) Until(name string) (time.Time, bool) {
	end, ok := c[name]
	return end, ok
}

// Blocks reports whether name is still cooling down at now
func (c Cooldowns) Blocks(name string, now time.Time) bool {
	end, ok := c[name]
	return ok && end.After(now)
}

// AudioRefs maps a participant name to an opaque audio reference
type AudioRefs map[string]string

// Lookup returns the audio reference for name, if any
func (a AudioRefs) Lookup(name string) (string, bool) {
	ref, ok := a[name]
	if !ok || ref == "" {
		return "", false
	}
	return ref, true
}

// HistoryEntry records one completed draw within a session
type HistoryEntry struct {
	ItemName      string    `json:"itemName"`
	Winner        string    `json:"winner"`
	Timestamp     time.Time `json:"timestamp"`
	CooldownHours float64   `json:"cooldownDuration"`
}

// Session represents one roster and prize list with its local draw state
type Session struct {
	ID        string         `json:"id"`
	OwnerID   string         `json:"ownerId,omitempty"`
	Names     []string       `json:"names"`
	Items     []Item         `json:"items"`
	Cooldowns Cooldowns      `json:"cooldowns"`
	History   []HistoryEntry `json:"history"`
	AudioRefs AudioRefs      `json:"audioRefs,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Item returns the item at index, or false when the index is out of range
func (s *Session) Item(index int) (Item, bool) {
	if index < 0 || index >= len(s.Items) {
		return Item{}, false
	}
	return s.Items[index], true
}

// OwnedBy reports whether the session is visible to ownerID.
// Public sessions (no owner) are visible to everyone.
func (s *Session) OwnedBy(ownerID string) bool {
	return s.OwnerID == "" || s.OwnerID == ownerID
}

// SessionRepository defines the interface for session storage
type SessionRepository interface {
	Create(ctx context.Context, session *Session) error
	// GetByID returns nil, nil when the session does not exist
	GetByID(ctx context.Context, id string) (*Session, error)
	// GetLatestByOwner returns the most recently created session of ownerID, or nil, nil
	GetLatestByOwner(ctx context.Context, ownerID string) (*Session, error)
	// ResetCooldowns clears the session cooldown map and reports whether the session exists
	ResetCooldowns(ctx context.Context, id string) (bool, error)
	// Delete removes the session and its local state and reports whether it existed
	Delete(ctx context.Context, id string) (bool, error)
}
