// Package records stores health measurements submitted by clients.
package records

import (
	"context"
	"errors"
	"time"
)

var ErrMissingUserID = errors.New("user_id is required")

// Record is one health_data row. Measurements are optional.
type Record struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Steps      *int64    `json:"steps,omitempty"`
	HeartRate  *float64  `json:"heart_rate,omitempty"`
	Calories   *float64  `json:"calories,omitempty"`
	SleepHours *float64  `json:"sleep_hours,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Filter narrows List. An empty UserID matches every user.
type Filter struct {
	UserID string
}

// Store persists and lists health records, newest first.
type Store interface {
	List(ctx context.Context, filter Filter, limit int) ([]Record, error)
	Insert(ctx context.Context, record Record) (Record, error)
	Mode() string
	Close() error
}

// prepare validates record and fills server-assigned fields.
func prepare(record Record, newID func() string, now time.Time) (Record, error) {
	if record.UserID == "" {
		return Record{}, ErrMissingUserID
	}
	if record.ID == "" {
		record.ID = newID()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	return record, nil
}
