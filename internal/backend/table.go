package backend

import (
	"context"
	"fmt"

	"github.com/draw-your-dream/logflare/internal/domain"
	"github.com/draw-your-dream/logflare/internal/ingestion"
)

// Table is the backend type registry: a tag ("webhook", "storage") mapped
// to the Adaptor that casts, validates, and starts it. A type not present
// here can never produce a storable SourceBackend — CastConfig/
// ValidateConfig are simply unreachable for it (§6).
type Table struct {
	adaptors map[string]domain.Adaptor
}

// NewTable builds an empty Table. Register adaptors with Add.
func NewTable() *Table {
	return &Table{adaptors: make(map[string]domain.Adaptor)}
}

// Add registers adaptor under typeTag, overwriting any prior registration
// for that tag.
func (t *Table) Add(typeTag string, adaptor domain.Adaptor) {
	t.adaptors[typeTag] = adaptor
}

// Lookup returns the Adaptor for typeTag, or domain.ErrUnknownBackendType.
func (t *Table) Lookup(typeTag string) (domain.Adaptor, error) {
	a, ok := t.adaptors[typeTag]
	if !ok {
		return nil, fmt.Errorf("backend type %q: %w", typeTag, domain.ErrUnknownBackendType)
	}
	return a, nil
}

// CastAndValidate runs a type's full cast_and_validate_config pipeline.
func (t *Table) CastAndValidate(typeTag string, raw map[string]string) (map[string]string, domain.ConfigErrors, error) {
	a, err := t.Lookup(typeTag)
	if err != nil {
		return nil, nil, err
	}
	cast, err := a.CastConfig(raw)
	if err != nil {
		return nil, domain.ConfigErrors{{Field: "config", Message: err.Error()}}, nil
	}
	return cast, a.ValidateConfig(cast), nil
}

// Start resolves b.Type's Adaptor and starts it, registering the returned
// handle on deps.Registry under the source's dispatcher key and returning
// it to the caller (the Source Supervisor, at source start).
func (t *Table) Start(ctx context.Context, b domain.SourceBackend, deps domain.AdaptorDeps) (domain.BackendHandle, error) {
	a, err := t.Lookup(b.Type)
	if err != nil {
		return nil, err
	}
	handle, err := a.Start(ctx, b, deps)
	if err != nil {
		return nil, fmt.Errorf("start backend %d (%s): %w", b.ID, b.Type, err)
	}

	key := domain.ProcessKey{SourceID: b.SourceID, Role: "dispatcher", BackendKind: "backend", BackendID: b.ID}
	payload := ingestion.AdaptorPayload{AdaptorType: b.Type}
	if err := deps.Registry.RegisterWithPayload(key, handle, payload); err != nil {
		handle.Stop()
		return nil, err
	}
	return handle, nil
}
