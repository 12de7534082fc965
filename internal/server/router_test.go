package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joemckie/collogsync/internal/catalog"
	"github.com/joemckie/collogsync/internal/syncer"
	"github.com/joemckie/collogsync/internal/tracker"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeEngine struct {
	mu            sync.Mutex
	sessions      []syncer.SessionEvent
	announcements []string
	ticks         int
	inventories   [][]tracker.ItemStack
	loots         [][]tracker.ItemStack
	resyncs       int

	lookupItems []tracker.ObtainedItem
	lookupErr   error
	fresh       bool
	freshErr    error

	events *syncer.Dispatcher
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{events: syncer.NewDispatcher()}
}

func (f *fakeEngine) OnSession(_ context.Context, event syncer.SessionEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, event)
}

func (f *fakeEngine) OnAnnouncement(message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.announcements = append(f.announcements, message)
}

func (f *fakeEngine) OnTick(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks++
}

func (f *fakeEngine) OnInventory(stacks []tracker.ItemStack) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inventories = append(f.inventories, stacks)
}

func (f *fakeEngine) OnLoot(grants []tracker.ItemStack) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loots = append(f.loots, grants)
}

func (f *fakeEngine) RequestResync(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resyncs++
}

func (f *fakeEngine) Lookup(context.Context, catalog.CategoryID, string) ([]tracker.ObtainedItem, error) {
	return f.lookupItems, f.lookupErr
}

func (f *fakeEngine) Freshness(context.Context, string) (bool, error) {
	return f.fresh, f.freshErr
}

func (f *fakeEngine) Events() *syncer.Dispatcher {
	return f.events
}

type fakeValidator struct {
	subject string
	err     error
}

func (f *fakeValidator) ValidateToken(string) (string, error) {
	return f.subject, f.err
}

func newTestHandler(t *testing.T, engine *fakeEngine, tokens TokenValidator) http.Handler {
	t.Helper()
	handler, err := NewHTTPHandler(Dependencies{Engine: engine, Tokens: tokens})
	if err != nil {
		t.Fatalf("NewHTTPHandler: %v", err)
	}
	return handler
}

func doRequest(handler http.Handler, method, path string, body any, authorized bool) *httptest.ResponseRecorder {
	var payload *bytes.Reader
	if body != nil {
		encoded, _ := json.Marshal(body)
		payload = bytes.NewReader(encoded)
	} else {
		payload = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, payload)
	request.Header.Set("Content-Type", "application/json")
	if authorized {
		request.Header.Set("Authorization", "Bearer test-token")
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func TestRequestsWithoutBearerTokenAreRejected(t *testing.T) {
	handler := newTestHandler(t, newFakeEngine(), &fakeValidator{subject: "bridge"})

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/signals/tick"},
		{http.MethodPost, "/resync"},
		{http.MethodGet, "/log/king_condor?category=zulrah"},
		{http.MethodGet, "/log/king_condor/fresh"},
	}
	for _, route := range paths {
		recorder := doRequest(handler, route.method, route.path, nil, false)
		if recorder.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401, got %d", route.method, route.path, recorder.Code)
		}
	}
}

func TestInvalidTokenIsRejected(t *testing.T) {
	handler := newTestHandler(t, newFakeEngine(), &fakeValidator{err: errors.New("bad signature")})

	recorder := doRequest(handler, http.MethodPost, "/signals/tick", nil, true)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %d", recorder.Code)
	}
}

func TestSessionSignalIsForwarded(t *testing.T) {
	engine := newFakeEngine()
	handler := newTestHandler(t, engine, &fakeValidator{subject: "bridge"})

	recorder := doRequest(handler, http.MethodPost, "/signals/session", map[string]any{
		"state":        "Login",
		"username":     "King Condor",
		"account_type": "ironman",
		"account_id":   7,
	}, true)

	if recorder.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if len(engine.sessions) != 1 {
		t.Fatalf("expected 1 forwarded session event, got %d", len(engine.sessions))
	}
	event := engine.sessions[0]
	if event.State != syncer.SessionLogin || event.Username != "King Condor" || event.AccountID != 7 {
		t.Fatalf("unexpected session event: %+v", event)
	}
}

func TestSessionSignalRejectsUnknownState(t *testing.T) {
	engine := newFakeEngine()
	handler := newTestHandler(t, engine, &fakeValidator{subject: "bridge"})

	recorder := doRequest(handler, http.MethodPost, "/signals/session", map[string]any{
		"state": "afk",
	}, true)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown state, got %d", recorder.Code)
	}
	if len(engine.sessions) != 0 {
		t.Fatalf("rejected signal must not reach the engine")
	}
}

func TestSignalRoutesForwardToEngine(t *testing.T) {
	engine := newFakeEngine()
	handler := newTestHandler(t, engine, &fakeValidator{subject: "bridge"})

	if recorder := doRequest(handler, http.MethodPost, "/signals/announcement", map[string]any{
		"message": "New item added to your collection log: Twisted bow",
	}, true); recorder.Code != http.StatusAccepted {
		t.Fatalf("announcement: expected 202, got %d", recorder.Code)
	}
	if recorder := doRequest(handler, http.MethodPost, "/signals/tick", nil, true); recorder.Code != http.StatusAccepted {
		t.Fatalf("tick: expected 202, got %d", recorder.Code)
	}
	if recorder := doRequest(handler, http.MethodPost, "/signals/inventory", map[string]any{
		"items": []map[string]any{{"id": 995, "name": "Coins", "quantity": 1000}},
	}, true); recorder.Code != http.StatusAccepted {
		t.Fatalf("inventory: expected 202, got %d", recorder.Code)
	}
	if recorder := doRequest(handler, http.MethodPost, "/signals/loot", map[string]any{
		"items": []map[string]any{{"id": 20997, "name": "Twisted bow", "quantity": 1}},
	}, true); recorder.Code != http.StatusAccepted {
		t.Fatalf("loot: expected 202, got %d", recorder.Code)
	}
	if recorder := doRequest(handler, http.MethodPost, "/resync", nil, true); recorder.Code != http.StatusAccepted {
		t.Fatalf("resync: expected 202, got %d", recorder.Code)
	}

	if len(engine.announcements) != 1 || engine.ticks != 1 || len(engine.inventories) != 1 || len(engine.loots) != 1 || engine.resyncs != 1 {
		t.Fatalf("signals not forwarded: %+v", engine)
	}
}

func TestLootSignalRequiresItems(t *testing.T) {
	engine := newFakeEngine()
	handler := newTestHandler(t, engine, &fakeValidator{subject: "bridge"})

	recorder := doRequest(handler, http.MethodPost, "/signals/loot", map[string]any{"items": []any{}}, true)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty loot batch, got %d", recorder.Code)
	}
}

func TestLookupReturnsCategoryItems(t *testing.T) {
	collected := time.Unix(1700000000, 0).UTC()
	engine := newFakeEngine()
	engine.lookupItems = []tracker.ObtainedItem{
		{ID: catalog.ItemID(20997), Name: "Twisted bow", Count: 1, ObtainedAt: &collected},
		{ID: catalog.ItemID(12921), Name: "Pet snakeling", Count: 2},
	}
	handler := newTestHandler(t, engine, &fakeValidator{subject: "bridge"})

	recorder := doRequest(handler, http.MethodGet, "/log/King%20Condor?category=zulrah", nil, true)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var response lookupResponsePayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response.Category != "zulrah" {
		t.Fatalf("unexpected category %q", response.Category)
	}
	if len(response.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(response.Items))
	}
	if response.Items[0].Date == nil || *response.Items[0].Date != collected.Unix() {
		t.Fatalf("dated item lost its timestamp: %+v", response.Items[0])
	}
	if response.Items[1].Date != nil {
		t.Fatalf("undated item should omit the date")
	}
}

func TestLookupErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "catalog-not-ready", err: syncer.ErrCatalogNotReady, wantStatus: http.StatusServiceUnavailable},
		{name: "unknown-category", err: syncer.ErrUnknownCategory, wantStatus: http.StatusNotFound},
		{name: "remote-down", err: errors.New("connection refused"), wantStatus: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newFakeEngine()
			engine.lookupErr = tt.err
			handler := newTestHandler(t, engine, &fakeValidator{subject: "bridge"})

			recorder := doRequest(handler, http.MethodGet, "/log/king_condor?category=zulrah", nil, true)
			if recorder.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, recorder.Code)
			}
		})
	}
}

func TestLookupRequiresCategory(t *testing.T) {
	handler := newTestHandler(t, newFakeEngine(), &fakeValidator{subject: "bridge"})

	recorder := doRequest(handler, http.MethodGet, "/log/king_condor", nil, true)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing category, got %d", recorder.Code)
	}
}

func TestFreshnessEndpoint(t *testing.T) {
	engine := newFakeEngine()
	engine.fresh = true
	handler := newTestHandler(t, engine, &fakeValidator{subject: "bridge"})

	recorder := doRequest(handler, http.MethodGet, "/log/king_condor/fresh", nil, true)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var response struct {
		Fresh bool `json:"fresh"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !response.Fresh {
		t.Fatalf("expected fresh=true")
	}

	engine.freshErr = errors.New("remote down")
	recorder = doRequest(handler, http.MethodGet, "/log/king_condor/fresh", nil, true)
	if recorder.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 on freshness failure, got %d", recorder.Code)
	}
}
