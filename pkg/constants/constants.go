// Package constants provides shared constants used throughout the catsync codebase.
// This includes timeouts, limits, file permissions, and the reconciliation
// defaults that should be consistent across the engine, the stores and the CLI.
package constants

import "time"

// Timeout constants define various timeout durations used in the application
const (
	// DefaultHTTPTimeout is the per-request timeout for calls to the remote catalog
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultSyncInterval is the default interval between scheduled sync runs
	DefaultSyncInterval = 15 * time.Minute

	// MinSyncInterval is the shortest interval accepted for scheduled runs
	MinSyncInterval = 10 * time.Second

	// CommandTimeout is the default timeout for CLI commands
	CommandTimeout = 10 * time.Minute
)

// File permission constants define standard Unix file permissions
const (
	// DirPermissions is the default permission for created directories (rwxr-xr-x)
	DirPermissions = 0755

	// FilePermissions is the default permission for created files (rw-r--r--)
	FilePermissions = 0644

	// SecureFilePermissions is for sensitive files like API keys (rw-------)
	SecureFilePermissions = 0600
)

// Limit constants define various limits and capacities
const (
	// DefaultPageSize is the number of items requested per snapshot page
	DefaultPageSize = 200

	// MaxPageSize is the largest page size the remote catalog accepts
	MaxPageSize = 1000

	// MaxSnapshotPages bounds pagination so a misbehaving server cannot loop forever
	MaxSnapshotPages = 10000

	// DefaultParallelism bounds concurrent local watermark refreshes
	DefaultParallelism = 8

	// MaxDisplayNameLength is the longest display name accepted for a record
	MaxDisplayNameLength = 512
)

// Rate limiting constants
const (
	// DefaultWriteRate is the default number of remote writes per second
	DefaultWriteRate = 5
)

// Reconciliation constants
const (
	// DuplicateThreshold is the similarity score at or above which two names
	// are treated as a potential duplicate
	DuplicateThreshold = 0.75

	// SubstringScore is the score assigned when one name contains the other
	SubstringScore = 0.8
)

// Logging constants
const (
	// LogRotationSizeMB is the maximum size of a log file before rotation
	LogRotationSizeMB = 50

	// LogRotationBackups is the maximum number of old log files to retain
	LogRotationBackups = 3
)
