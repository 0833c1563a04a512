package tasks

import (
	"fmt"

	"github.com/desertthunder/hymnal/internal/models"
)

// ProgressUpdate represents a progress event during a refresh.
//
// Used to send real-time updates to the CLI or server layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data
}

// Operation phase enumeration
type Phase int

const (
	Migrate Phase = iota
	ProbeConnectivity
	CheckChanges
	ResetCache
	RefreshPartitions
	RecordRun
	Complete
)

func (p Phase) String() string {
	switch p {
	case Migrate:
		return "migrate"
	case ProbeConnectivity:
		return "probe_connectivity"
	case CheckChanges:
		return "check_changes"
	case ResetCache:
		return "reset_cache"
	case RefreshPartitions:
		return "refresh_partitions"
	case RecordRun:
		return "record_run"
	case Complete:
		return "complete"
	default:
		return ""
	}
}

// sendProgress sends a progress update through the channel without blocking.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
		// Channel full, skip this update
	}
}

func migrateUpdate(applied []int) ProgressUpdate {
	if len(applied) == 0 {
		return ProgressUpdate{Phase: Migrate, Step: 1, Total: 1, Message: "Cache format is current"}
	}
	return ProgressUpdate{
		Phase:   Migrate,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Applied %d cache migration(s)", len(applied)),
		Data:    applied,
	}
}

func resetUpdate() ProgressUpdate {
	return ProgressUpdate{Phase: ResetCache, Step: 1, Total: 1, Message: "Wiping cache and sync metadata..."}
}

func refreshStartUpdate(trigger models.SyncTrigger, role models.Role) ProgressUpdate {
	return ProgressUpdate{
		Phase:   RefreshPartitions,
		Step:    0,
		Total:   1,
		Message: fmt.Sprintf("Refreshing songs (%s, role %s)...", trigger, role),
	}
}

func refreshDoneUpdate(collections, songs int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   RefreshPartitions,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("✓ %d songs across %d collections", songs, collections),
	}
}

func refreshFailedUpdate(err error) ProgressUpdate {
	return ProgressUpdate{
		Phase:   RefreshPartitions,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("✗ refresh failed: %v", err),
	}
}

func completeUpdate(run *models.SyncRun) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Complete,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Run %s finished: %s", run.ID(), run.Status()),
		Data:    run,
	}
}
