package backend

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/draw-your-dream/logflare/internal/domain"
	"github.com/draw-your-dream/logflare/internal/registry"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestTable_LookupUnknownType(t *testing.T) {
	table := NewTable()
	_, err := table.Lookup("nonexistent")
	if !errors.Is(err, domain.ErrUnknownBackendType) {
		t.Fatalf("expected ErrUnknownBackendType, got %v", err)
	}
}

func TestWebhookAdaptor_ValidateConfig(t *testing.T) {
	a := NewWebhookAdaptor(testLogger(), nil)

	cast, err := a.CastConfig(map[string]string{"url": "https://example.com/hook"})
	if err != nil {
		t.Fatalf("cast: %v", err)
	}
	if errs := a.ValidateConfig(cast); len(errs) != 0 {
		t.Errorf("expected no validation errors, got %v", errs)
	}

	badCast, err := a.CastConfig(map[string]string{})
	if err != nil {
		t.Fatalf("cast: %v", err)
	}
	if errs := a.ValidateConfig(badCast); len(errs) == 0 {
		t.Error("expected a missing-url validation error")
	}
}

func TestWebhookAdaptor_CastConfigRejectsBadRPS(t *testing.T) {
	a := NewWebhookAdaptor(testLogger(), nil)
	_, err := a.CastConfig(map[string]string{"url": "https://x", "rps": "not-a-number"})
	if err == nil {
		t.Error("expected cast error for non-numeric rps")
	}
}

func TestTable_CastAndValidateUnknownType(t *testing.T) {
	table := NewTable()
	_, _, err := table.CastAndValidate("nonexistent", nil)
	if !errors.Is(err, domain.ErrUnknownBackendType) {
		t.Fatalf("expected ErrUnknownBackendType, got %v", err)
	}
}

func TestTable_StartRegistersHandleUnderDispatcherKey(t *testing.T) {
	table := NewTable()
	table.Add("webhook", NewWebhookAdaptor(testLogger(), nil))

	reg := registry.New()
	b := domain.SourceBackend{ID: 1, SourceID: 42, Type: "webhook", Config: map[string]string{"url": "https://example.com", "rps": "5"}}

	handle, err := table.Start(context.Background(), b, domain.AdaptorDeps{Registry: reg})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer handle.Stop()

	key := domain.ProcessKey{SourceID: 42, Role: "dispatcher", BackendKind: "backend", BackendID: 1}
	got, ok := reg.Lookup(key)
	if !ok {
		t.Fatal("expected handle registered under dispatcher key")
	}
	if got != handle {
		t.Error("registered handle does not match returned handle")
	}
}
