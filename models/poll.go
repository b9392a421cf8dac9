package models

import (
	"time"
)

// PollStatus is derived from a poll's deadlines and never stored.
type PollStatus string

const (
	StatusOpen            PollStatus = "Open"
	StatusClosed          PollStatus = "Closed"
	StatusPendingDeletion PollStatus = "PendingDeletion"
)

// Valid reports whether s is one of the known statuses.
func (s PollStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusClosed, StatusPendingDeletion:
		return true
	}
	return false
}

const (
	MaxTitleLength         = 255
	MaxOptionTextLength    = 255
	MaxParticipantIDLength = 100

	// VoteUniqueIndex guards one vote per participant per poll.
	VoteUniqueIndex = "idx_vote_participant_poll"
)

// Poll represents a voting poll. Rows are hard-deleted by the sweeper, so
// gorm.Model's soft delete is not used here.
type Poll struct {
	ID        uint         `gorm:"primaryKey" json:"id"`
	Title     string       `gorm:"size:255;not null" json:"title"`
	CreatedAt time.Time    `gorm:"not null;index" json:"created_at"`
	ExpiresAt time.Time    `gorm:"not null;index" json:"expires_at"`
	DeleteAt  *time.Time   `gorm:"index" json:"delete_at"`
	Options   []PollOption `gorm:"foreignKey:PollID;constraint:OnDelete:CASCADE" json:"options"`
	Status    PollStatus   `gorm:"-" json:"status"`
}

// PollOption represents an option within a poll
type PollOption struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	PollID uint   `gorm:"not null;index" json:"poll_id"`
	Text   string `gorm:"size:255;not null" json:"text"`
	Votes  int64  `gorm:"not null;default:0" json:"votes"`
}

// Vote records a single participant's choice in a poll
type Vote struct {
	ID            uint        `gorm:"primaryKey" json:"id"`
	ParticipantID string      `gorm:"size:100;not null;uniqueIndex:idx_vote_participant_poll" json:"participant_id"`
	PollID        uint        `gorm:"not null;uniqueIndex:idx_vote_participant_poll;index" json:"poll_id"`
	OptionID      uint        `gorm:"not null;index" json:"option_id"`
	CreatedAt     time.Time   `gorm:"not null" json:"created_at"`
	Poll          *Poll       `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Option        *PollOption `gorm:"foreignKey:OptionID;constraint:OnDelete:CASCADE" json:"-"`
}
