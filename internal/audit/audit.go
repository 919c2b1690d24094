// Package audit keeps a non-authoritative history of install attempts
// in a local SQLite database: one row per phase transition, purely
// for diagnostics. The resumable install decision is always driven by
// the durable State record (internal/record, internal/model); this
// history is never consulted to decide what the daemon does next.
package audit

import (
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"shipit/internal/model"
)

// AttemptEvent is one row of the Install Attempt History table: a
// single phase transition observed during an install attempt.
type AttemptEvent struct {
	ID              string `gorm:"primaryKey"`
	AttemptID       string `gorm:"index"`
	BundleID        string
	Phase           string
	AttemptsInPhase int
	Outcome         string // "entered", "succeeded", "failed"
	ErrorCode       string
	CreatedAt       time.Time
}

func (AttemptEvent) TableName() string { return "install_attempt_events" }

// History records phase transitions for later inspection (e.g. by a
// support engineer debugging a user's install failure).
type History struct {
	db *gorm.DB
}

// Open opens or creates the SQLite audit database at path.
func Open(path string) (*History, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&AttemptEvent{}); err != nil {
		return nil, err
	}
	return &History{db: db}, nil
}

// Close releases the underlying database connection.
func (h *History) Close() error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Record appends one phase-transition event. Failures to write to the
// audit trail are never allowed to abort an install — this is
// diagnostics, not the state machine.
func (h *History) Record(attemptID, bundleID string, phase model.Phase, attemptsInPhase int, outcome string, errCode string) {
	event := AttemptEvent{
		ID:              uuid.NewString(),
		AttemptID:       attemptID,
		BundleID:        bundleID,
		Phase:           phase.String(),
		AttemptsInPhase: attemptsInPhase,
		Outcome:         outcome,
		ErrorCode:       errCode,
		CreatedAt:       time.Now(),
	}
	h.db.Create(&event)
}

// RecentForBundle returns the most recent events for a bundle
// identifier, newest first, for use by a status/debug surface.
func (h *History) RecentForBundle(bundleID string, limit int) ([]AttemptEvent, error) {
	var events []AttemptEvent
	err := h.db.Where("bundle_id = ?", bundleID).
		Order("created_at desc").
		Limit(limit).
		Find(&events).Error
	return events, err
}
