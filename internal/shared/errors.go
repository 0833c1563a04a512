package shared

import "fmt"

var (
	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Remote store errors
	ErrOffline            = fmt.Errorf("remote store unreachable")
	ErrTimeout            = fmt.Errorf("operation timed out")
	ErrRemoteRequest      = fmt.Errorf("remote request failed")
	ErrNotFound           = fmt.Errorf("node not found")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrAccessDenied       = fmt.Errorf("collection not accessible at this access level")

	// Data errors
	ErrParseFailure = fmt.Errorf("malformed record")

	// Cache errors
	ErrCacheMiss          = fmt.Errorf("cache miss")
	ErrCacheCorrupt       = fmt.Errorf("cache entry corrupt")
	ErrVersionMismatch    = fmt.Errorf("cache schema version mismatch")
	ErrMigrationFailed    = fmt.Errorf("cache migration failed")
	ErrExhaustedFallback  = fmt.Errorf("every source tier failed")
	ErrRefreshUnavailable = fmt.Errorf("refresh not possible while offline")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
