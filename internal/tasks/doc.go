// Package tasks keeps the song cache in step with the remote store.
//
// # Change detection
//
// [ChangeDetector] reads a small remote record of per-collection markers and
// compares it with the baseline kept in the sync metadata. It checks at most once
// per interval and answers "changed" whenever the check itself fails.
//
// # Orchestration
//
// [Orchestrator] moves through [StateUninitialized], [StateInitializing] and
// [StateReady]. Initialization runs the cache migration gate. After that it offers:
//
//  1. [Orchestrator.ForceRefresh] : re-read every visible partition and overwrite the cache
//  2. [Orchestrator.EmergencyReset] : wipe cache and metadata, then force a refresh
//  3. [Orchestrator.TriggerBackgroundRefresh] : detached refresh of one partition
//  4. [Orchestrator.Start] : cron schedule that refreshes when the detector reports a change
//
// Only one foreground refresh runs at a time. Later callers wait for it and share its result.
//
// # Progress Reporting
//
// Foreground operations accept an optional channel of [ProgressUpdate].
// Updates use select with default to prevent blocking.
package tasks
