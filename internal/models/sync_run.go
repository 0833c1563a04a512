package models

import (
	"fmt"
	"time"
)

// SyncTrigger names what started a refresh run.
type SyncTrigger string

const (
	TriggerForeground SyncTrigger = "foreground"
	TriggerBackground SyncTrigger = "background"
	TriggerScheduled  SyncTrigger = "scheduled"
	TriggerReset      SyncTrigger = "reset"
)

// SyncStatus is the lifecycle state of a refresh run.
type SyncStatus string

const (
	SyncPending   SyncStatus = "pending"
	SyncRunning   SyncStatus = "running"
	SyncCompleted SyncStatus = "completed"
	SyncFailed    SyncStatus = "failed"
	SyncSkipped   SyncStatus = "skipped"
)

// SyncRun is a persisted record of one cache refresh.
type SyncRun struct {
	id           string
	sequence     int
	trigger      SyncTrigger
	status       SyncStatus
	role         string
	collections  int
	songs        int
	errorMessage string
	startedAt    *time.Time
	completedAt  *time.Time
	createdAt    time.Time
	updatedAt    time.Time
}

// NewSyncRun creates a pending run.
func NewSyncRun(sequence int, trigger SyncTrigger, role string) *SyncRun {
	now := time.Now()
	return &SyncRun{
		sequence:  sequence,
		trigger:   trigger,
		status:    SyncPending,
		role:      role,
		createdAt: now,
		updatedAt: now,
	}
}

func (r *SyncRun) ID() string              { return r.id }
func (r *SyncRun) Sequence() int           { return r.sequence }
func (r *SyncRun) Trigger() SyncTrigger    { return r.trigger }
func (r *SyncRun) Status() SyncStatus      { return r.status }
func (r *SyncRun) Role() string            { return r.role }
func (r *SyncRun) Collections() int        { return r.collections }
func (r *SyncRun) Songs() int              { return r.songs }
func (r *SyncRun) ErrorMessage() string    { return r.errorMessage }
func (r *SyncRun) StartedAt() *time.Time   { return r.startedAt }
func (r *SyncRun) CompletedAt() *time.Time { return r.completedAt }
func (r *SyncRun) CreatedAt() time.Time    { return r.createdAt }
func (r *SyncRun) UpdatedAt() time.Time    { return r.updatedAt }

func (r *SyncRun) SetID(id string)             { r.id = id }
func (r *SyncRun) SetSequence(seq int)         { r.sequence = seq }
func (r *SyncRun) SetStatus(s SyncStatus)      { r.status = s }
func (r *SyncRun) SetCollections(n int)        { r.collections = n }
func (r *SyncRun) SetSongs(n int)              { r.songs = n }
func (r *SyncRun) SetErrorMessage(msg string)  { r.errorMessage = msg }
func (r *SyncRun) SetStartedAt(t *time.Time)   { r.startedAt = t }
func (r *SyncRun) SetCompletedAt(t *time.Time) { r.completedAt = t }
func (r *SyncRun) SetCreatedAt(t time.Time)    { r.createdAt = t }
func (r *SyncRun) SetUpdatedAt(t time.Time)    { r.updatedAt = t }

// Start marks the run as running.
func (r *SyncRun) Start() {
	now := time.Now()
	r.status = SyncRunning
	r.startedAt = &now
}

// Finish records the outcome; a nil err completes the run.
func (r *SyncRun) Finish(collections, songs int, err error) {
	now := time.Now()
	r.collections = collections
	r.songs = songs
	r.completedAt = &now
	if err != nil {
		r.status = SyncFailed
		r.errorMessage = err.Error()
		return
	}
	r.status = SyncCompleted
}

// Duration returns how long the run took, or zero if it has not finished.
func (r *SyncRun) Duration() time.Duration {
	if r.startedAt == nil || r.completedAt == nil {
		return 0
	}
	return r.completedAt.Sub(*r.startedAt)
}

// Validate checks the run's invariants.
func (r *SyncRun) Validate() error {
	switch r.trigger {
	case TriggerForeground, TriggerBackground, TriggerScheduled, TriggerReset:
	default:
		return fmt.Errorf("invalid sync trigger: %q", r.trigger)
	}
	switch r.status {
	case SyncPending, SyncRunning, SyncCompleted, SyncFailed, SyncSkipped:
	default:
		return fmt.Errorf("invalid sync status: %q", r.status)
	}
	if r.collections < 0 || r.songs < 0 {
		return fmt.Errorf("sync counts must not be negative")
	}
	return nil
}
