package postgres

import "time"

type sessionRow struct {
	ID        string    `gorm:"primaryKey"`
	OwnerID   string    `gorm:"index;not null;default:''"`
	CreatedAt time.Time `gorm:"not null;index"`
	// Seq is assigned by the database in insert order
	Seq int64 `gorm:"type:bigserial;->"`
}

func (sessionRow) TableName() string { return "sessions" }

type participantRow struct {
	SessionID string `gorm:"primaryKey;uniqueIndex:idx_session_participant_name,priority:1"`
	Position  int    `gorm:"primaryKey;autoIncrement:false"`
	Name      string `gorm:"not null;uniqueIndex:idx_session_participant_name,priority:2"`
	AudioRef  string `gorm:"not null;default:''"`
}

func (participantRow) TableName() string { return "session_participants" }

type itemRow struct {
	SessionID     string  `gorm:"primaryKey"`
	Position      int     `gorm:"primaryKey;autoIncrement:false"`
	Name          string  `gorm:"not null"`
	CooldownHours float64 `gorm:"not null"`
}

func (itemRow) TableName() string { return "session_items" }

type sessionCooldownRow struct {
	SessionID       string    `gorm:"primaryKey"`
	ParticipantName string    `gorm:"primaryKey"`
	CooldownEnd     time.Time `gorm:"not null"`
}

func (sessionCooldownRow) TableName() string { return "session_cooldowns" }

type sessionHistoryRow struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	SessionID     string    `gorm:"not null;index"`
	ItemName      string    `gorm:"not null"`
	Winner        string    `gorm:"not null"`
	DrawnAt       time.Time `gorm:"not null"`
	CooldownHours float64   `gorm:"not null"`
}

func (sessionHistoryRow) TableName() string { return "session_history" }

type globalCooldownRow struct {
	ItemName        string    `gorm:"primaryKey"`
	ParticipantName string    `gorm:"primaryKey"`
	CooldownEnd     time.Time `gorm:"not null;index"`
}

func (globalCooldownRow) TableName() string { return "global_cooldowns" }

type globalHistoryRow struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	ItemName      string    `gorm:"not null"`
	Winner        string    `gorm:"not null"`
	DrawnAt       time.Time `gorm:"not null;index"`
	CooldownHours float64   `gorm:"not null"`
	SessionID     string    `gorm:"not null;index"`
}

func (globalHistoryRow) TableName() string { return "global_history" }

// allModels is migrated in dependency order
var allModels = []any{
	&sessionRow{},
	&participantRow{},
	&itemRow{},
	&sessionCooldownRow{},
	&sessionHistoryRow{},
	&globalCooldownRow{},
	&globalHistoryRow{},
}
