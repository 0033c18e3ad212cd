package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/draw-your-dream/logflare/internal/domain"
)

type fakeAdminRepo struct {
	groups  []domain.ConsumerGroupInfo
	dlq     int64
	err     error
}

func (f *fakeAdminRepo) GetGroupInfo(ctx context.Context, sourceToken string) ([]domain.ConsumerGroupInfo, error) {
	return f.groups, f.err
}
func (f *fakeAdminRepo) GetConsumerInfo(ctx context.Context, sourceToken, group string) ([]domain.ConsumerInfo, error) {
	return nil, f.err
}
func (f *fakeAdminRepo) GetPendingSummary(ctx context.Context, sourceToken, group string) (*domain.PendingMessageSummary, error) {
	return &domain.PendingMessageSummary{}, f.err
}
func (f *fakeAdminRepo) DLQDepth(ctx context.Context, sourceToken string) (int64, error) {
	return f.dlq, f.err
}

func TestAdminHandler_GetGroupInfo(t *testing.T) {
	repo := &fakeAdminRepo{groups: []domain.ConsumerGroupInfo{{Name: "storage-sinks", Consumers: 2}}}
	h := NewAdminHandler(repo, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/admin/sources/S/groups", nil)
	req.SetPathValue("token", "S")
	rr := httptest.NewRecorder()
	h.GetGroupInfo(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var got []domain.ConsumerGroupInfo
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].Name != "storage-sinks" {
		t.Fatalf("unexpected body: %v", got)
	}
}

func TestAdminHandler_GetGroupInfoError(t *testing.T) {
	repo := &fakeAdminRepo{err: errors.New("redis down")}
	h := NewAdminHandler(repo, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/admin/sources/S/groups", nil)
	req.SetPathValue("token", "S")
	rr := httptest.NewRecorder()
	h.GetGroupInfo(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestAdminHandler_GetDLQDepth(t *testing.T) {
	repo := &fakeAdminRepo{dlq: 7}
	h := NewAdminHandler(repo, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/admin/sources/S/dlq", nil)
	req.SetPathValue("token", "S")
	rr := httptest.NewRecorder()
	h.GetDLQDepth(rr, req)

	var got map[string]int64
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["dlq_depth"] != 7 {
		t.Fatalf("expected dlq_depth 7, got %v", got)
	}
}

func TestAdminHandler_HealthCheck(t *testing.T) {
	h := NewAdminHandler(&fakeAdminRepo{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	h.HealthCheck(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}
