package domain

import "errors"

// Lifecycle errors returned by Source Supervisor (C7) operations.
var (
	ErrAlreadyStarted = errors.New("already_started")
	ErrNotStarted     = errors.New("not_started")
)

// ErrNoEventYet is RecentLogs.Latest's domain-level empty — not surfaced
// to end users as an error (§7).
var ErrNoEventYet = errors.New("no_event_yet")

// ErrUnknownBackendType is returned when a SourceBackend names a type tag
// absent from the adaptor registration table (§6).
var ErrUnknownBackendType = errors.New("unknown backend type")

// ErrSourceNotFound is returned by SourceStore when a token/id has no
// matching row.
var ErrSourceNotFound = errors.New("source not found")
