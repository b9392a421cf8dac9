// Package lifecycle derives poll status and deadlines from wall-clock time.
package lifecycle

import (
	"errors"
	"sync"
	"time"

	"polls-backend/models"
)

// GracePeriod is how long a closed poll is kept before it may be swept.
const GracePeriod = 72 * time.Hour

var ErrNegativeDuration = errors.New("duration must not be negative")

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// FixedClock is a settable clock for tests and one-off commands.
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFixedClock(now time.Time) *FixedClock {
	return &FixedClock{now: now}
}

func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FixedClock) Set(now time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Schedule holds the deadlines computed for a new poll.
type Schedule struct {
	ExpiresAt time.Time
	DeleteAt  time.Time
}

// ComputeSchedule returns expires_at = now + durationHours and
// delete_at = expires_at + GracePeriod.
func ComputeSchedule(durationHours int, now time.Time) (Schedule, error) {
	if durationHours < 0 {
		return Schedule{}, ErrNegativeDuration
	}
	expiresAt := now.Add(time.Duration(durationHours) * time.Hour)
	return Schedule{
		ExpiresAt: expiresAt,
		DeleteAt:  expiresAt.Add(GracePeriod),
	}, nil
}

// DeriveStatus reports the poll's status at now.
//
// Open while now is before expires_at. After that the poll is
// PendingDeletion once delete_at has been reached, and Closed otherwise.
func DeriveStatus(poll *models.Poll, now time.Time) models.PollStatus {
	if now.Before(poll.ExpiresAt) {
		return models.StatusOpen
	}
	if poll.DeleteAt != nil && !now.Before(*poll.DeleteAt) {
		return models.StatusPendingDeletion
	}
	return models.StatusClosed
}

// IsOpen is shorthand for DeriveStatus(poll, now) == StatusOpen.
func IsOpen(poll *models.Poll, now time.Time) bool {
	return DeriveStatus(poll, now) == models.StatusOpen
}
