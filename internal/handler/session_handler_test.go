package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Sebpessy/meditation-community-sub001/internal/app/session"
	"github.com/Sebpessy/meditation-community-sub001/internal/pkg/resp"
)

type nullStore struct{}

func (nullStore) InsertMessage(_ context.Context, _ *session.ChatMessage) (int64, error) {
	return 0, nil
}
func (nullStore) SoftDeleteMessage(_ context.Context, _ int64) error { return nil }
func (nullStore) RecentMessages(_ context.Context, _ string, _ int) ([]session.ChatMessage, error) {
	return nil, nil
}

func newTestDeps(t *testing.T) *AppDeps {
	t.Helper()
	manager := session.NewManager(nullStore{}, session.Options{
		Location:      time.UTC,
		GraceWindow:   time.Minute,
		SweepInterval: time.Hour,
		WindowSize:    100,
	})
	t.Cleanup(manager.Shutdown)
	return &AppDeps{Manager: manager}
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) resp.JSONResponse {
	t.Helper()
	var body resp.JSONResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return body
}

func TestHandleTodaySession(t *testing.T) {
	deps := newTestDeps(t)

	req := httptest.NewRequest(http.MethodGet, "/api/session/today", nil)
	rec := httptest.NewRecorder()
	HandleTodaySession(deps)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}

	body := decodeResponse(t, rec)
	if body.Code != 0 {
		t.Fatalf("got business code %d, want 0", body.Code)
	}

	data, ok := body.Data.(map[string]any)
	if !ok {
		t.Fatalf("unexpected data shape: %T", body.Data)
	}
	date, _ := data["sessionDate"].(string)
	if !session.IsValidDateKey(date) {
		t.Fatalf("got malformed session date %q", date)
	}
}

func TestHandleOnlineCountDefaultsToToday(t *testing.T) {
	deps := newTestDeps(t)

	req := httptest.NewRequest(http.MethodGet, "/api/session/online-count", nil)
	rec := httptest.NewRecorder()
	HandleOnlineCount(deps)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}

	body := decodeResponse(t, rec)
	data, ok := body.Data.(map[string]any)
	if !ok {
		t.Fatalf("unexpected data shape: %T", body.Data)
	}
	if count, _ := data["count"].(float64); count != 0 {
		t.Fatalf("got count %v with no room, want 0", data["count"])
	}
}

func TestHandleOnlineCountRejectsMalformedDate(t *testing.T) {
	deps := newTestDeps(t)

	req := httptest.NewRequest(http.MethodGet, "/api/session/online-count?date=tomorrow", nil)
	rec := httptest.NewRecorder()
	HandleOnlineCount(deps)(rec, req)

	body := decodeResponse(t, rec)
	if body.Code != 2101 {
		t.Fatalf("got business code %d, want 2101", body.Code)
	}
}

func TestHandleOnlineCountForExplicitDate(t *testing.T) {
	deps := newTestDeps(t)

	req := httptest.NewRequest(http.MethodGet, "/api/session/online-count?date=2020-01-01", nil)
	rec := httptest.NewRecorder()
	HandleOnlineCount(deps)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	body := decodeResponse(t, rec)
	if body.Code != 0 {
		t.Fatalf("got business code %d, want 0", body.Code)
	}
}
