package domain

import "context"

// SourceBackend is a (source, type, config) tuple. Config is validated by
// the adaptor named by Type before the row can be stored — a type not
// registered in the adaptor table can never produce a storable
// SourceBackend (see backend.Table).
type SourceBackend struct {
	ID       int64
	SourceID int64
	Type     string
	Config   map[string]string
}

// FieldError is a single (config.<field>, message) validation failure,
// surfaced to callers with the "config." prefix already applied.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string { return "config." + e.Field + ": " + e.Message }

// ConfigErrors accumulates FieldErrors. A non-empty ConfigErrors means the
// SourceBackend config failed validation and must not be persisted.
type ConfigErrors []FieldError

func (e ConfigErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msg := e[0].Error()
	for _, fe := range e[1:] {
		msg += "; " + fe.Error()
	}
	return msg
}

// BackendHandle is an opaque running instance of a backend adaptor,
// returned by Adaptor.Start and registered on the Process Registry (C1)
// under the source's dispatcher key.
type BackendHandle interface {
	// Ingest accepts a batch for delivery. Must return quickly — any
	// further work (HTTP POST, DB write, retries) happens on the
	// adaptor's own goroutines. Must never panic; delivery failures are
	// owned entirely by the adaptor (§4.4, §7).
	Ingest(events []LogEvent)

	// Stop tears down the adaptor's background workers. Called by the
	// Source Supervisor (C7) on source stop/restart.
	Stop()
}

// Adaptor is the capability set every backend type must implement:
// cast_config / cast_and_validate_config / start, modeled as a tagged
// variant plus interface rather than inheritance.
type Adaptor interface {
	// CastConfig coerces a raw string-keyed mapping into typed form, or
	// returns an error describing the first coercion failure.
	CastConfig(raw map[string]string) (map[string]string, error)

	// ValidateConfig runs full validation over an already-cast config and
	// returns every field-level failure found.
	ValidateConfig(cfg map[string]string) ConfigErrors

	// Start starts a worker for this SourceBackend and returns its handle.
	// Implementations register sub-processes on the registry themselves
	// under (source_id, SourceBackend, id, sub_role) as needed (§4.4).
	Start(ctx context.Context, backend SourceBackend, deps AdaptorDeps) (BackendHandle, error)
}

// AdaptorDeps carries the shared infrastructure an Adaptor.Start needs,
// so adaptors stay free of global state.
type AdaptorDeps struct {
	Registry    ProcessRegistry
	Buffer      BufferRepository
	Sink        LogSinkRepository
	SourceStore SourceStore
	SourceToken string // the owning source's token, set by the caller before Start
}

// ProcessRegistry is the subset of registry.Registry an adaptor needs to
// register its own sub-processes; kept as an interface here so domain has
// no dependency on the concrete registry package.
type ProcessRegistry interface {
	Register(key ProcessKey, handle any) error
	RegisterWithPayload(key ProcessKey, handle, payload any) error
	Unregister(key ProcessKey)
}

// ProcessKey is the Process Registry's (C1) name shape: a dispatcher key
// for (source_id, role), or a sub-process key for
// (source_id, backend_marker, backend_id, sub_role).
type ProcessKey struct {
	SourceID     int64
	Role         string // e.g. "dispatcher", "buffer", "cache"
	BackendKind  string // "backend" on keys naming a SourceBackend (its dispatcher entry or a sub-process key), "" otherwise
	BackendID    int64
	SubRole      string
}
