package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/avelar/leasebot/internal/knowledge"
	"github.com/avelar/leasebot/internal/storage"
)

const testToken = "test-token"

type mockChat struct {
	reply    string
	tenantID string
	message  string
}

func (m *mockChat) ProcessQuery(_ context.Context, tenantID, message string) string {
	m.tenantID = tenantID
	m.message = message
	return m.reply
}

type mockIndexer struct {
	summary  storage.ContractSummary
	buildErr error
	exists   bool

	builtTenant string
	builtDoc    []byte
}

func (m *mockIndexer) Build(_ context.Context, tenantID string, document []byte) (storage.ContractSummary, error) {
	m.builtTenant = tenantID
	m.builtDoc = document
	return m.summary, m.buildErr
}

func (m *mockIndexer) Exists(string) bool { return m.exists }

func (m *mockIndexer) Summary(string) (storage.ContractSummary, error) {
	return m.summary, nil
}

type mockAlerter struct {
	calls   int
	comment string
}

func (m *mockAlerter) NegativeFeedback(_ context.Context, _, _, _, comment string) error {
	m.calls++
	m.comment = comment
	return nil
}

type testAPI struct {
	handler http.Handler
	store   *storage.Store
	chat    *mockChat
	indexer *mockIndexer
	alerts  *mockAlerter
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	a := &testAPI{
		store:   store,
		chat:    &mockChat{reply: "hello!"},
		indexer: &mockIndexer{},
		alerts:  &mockAlerter{},
	}
	a.handler = NewAppHandler(AppDeps{
		Store:     store,
		Chat:      a.chat,
		Contracts: a.indexer,
		Alerts:    a.alerts,
		Token:     testToken,
	})
	return a
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func TestHealth_NoAuthRequired(t *testing.T) {
	a := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAuth_RejectsMissingToken(t *testing.T) {
	a := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAuth_RejectsWrongToken(t *testing.T) {
	a := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader("{}"))
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestChat(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/chat", map[string]string{
		"tenant_id": "alice@example.com",
		"message":   "hi there",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	var resp map[string]string
	decodeJSON(t, rec, &resp)
	if resp["reply"] != "hello!" {
		t.Errorf("reply = %q", resp["reply"])
	}
	if a.chat.tenantID != "alice@example.com" || a.chat.message != "hi there" {
		t.Errorf("chat got %q / %q", a.chat.tenantID, a.chat.message)
	}
}

func TestChat_MissingFields(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/chat", map[string]string{"tenant_id": "alice@example.com"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestUploadContract(t *testing.T) {
	a := newTestAPI(t)
	rent := 2500.0
	a.indexer.summary = storage.ContractSummary{MonthlyRent: &rent}

	if err := a.store.RegisterUser("alice@example.com", "Alice"); err != nil {
		t.Fatalf("registering: %v", err)
	}

	rec := a.do(t, http.MethodPost, "/contracts", map[string]string{
		"tenant_id": "alice@example.com",
		"filename":  "lease.pdf",
		"content":   base64.StdEncoding.EncodeToString([]byte("%PDF-fake")),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if string(a.indexer.builtDoc) != "%PDF-fake" {
		t.Errorf("document not decoded: %q", a.indexer.builtDoc)
	}

	// The extracted rent lands on the user record for the reminder job.
	users, err := a.store.ListUsers()
	if err != nil {
		t.Fatalf("listing users: %v", err)
	}
	if len(users) != 1 || users[0].MonthlyRent == nil || *users[0].MonthlyRent != 2500 {
		t.Errorf("rent schedule not updated: %+v", users)
	}
}

func TestUploadContract_InvalidBase64(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/contracts", map[string]string{
		"tenant_id": "alice@example.com",
		"content":   "not base64!!!",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestUploadContract_NoText(t *testing.T) {
	a := newTestAPI(t)
	a.indexer.buildErr = knowledge.ErrNoText

	rec := a.do(t, http.MethodPost, "/contracts", map[string]string{
		"tenant_id": "alice@example.com",
		"content":   base64.StdEncoding.EncodeToString([]byte("scanned image")),
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
}

func TestGetContract(t *testing.T) {
	a := newTestAPI(t)
	a.indexer.exists = true

	rec := a.do(t, http.MethodGet, "/contracts/alice@example.com", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Exists bool `json:"exists"`
	}
	decodeJSON(t, rec, &resp)
	if !resp.Exists {
		t.Error("exists = false, want true")
	}
}

func TestGetContract_NotIndexed(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/contracts/alice@example.com", nil)
	var resp struct {
		Exists bool `json:"exists"`
	}
	decodeJSON(t, rec, &resp)
	if resp.Exists {
		t.Error("exists = true, want false")
	}
}

func TestMaintenanceRoundTrip(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/maintenance", map[string]string{
		"tenant_id":   "alice@example.com",
		"location":    "kitchen",
		"description": "sink is leaking",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var created map[string]string
	decodeJSON(t, rec, &created)
	if !strings.HasPrefix(created["request_id"], "REQ-") {
		t.Errorf("request_id = %q", created["request_id"])
	}
	if created["status"] != "Pending" {
		t.Errorf("status = %q", created["status"])
	}

	rec = a.do(t, http.MethodGet, "/maintenance?tenant_id=alice@example.com", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var list []storage.MaintenanceRequest
	decodeJSON(t, rec, &list)
	if len(list) != 1 || list[0].Location != "kitchen" {
		t.Errorf("list = %+v", list)
	}
}

func TestListMaintenance_EmptyIsArray(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/maintenance?tenant_id=alice@example.com", nil)
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestFeedback_NegativeTriggersAlertAndAck(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/feedback", map[string]any{
		"tenant_id": "alice@example.com",
		"query":     "what is my rent",
		"response":  "wrong answer",
		"rating":    -1,
		"comment":   "this made no sense",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	if a.alerts.calls != 1 || a.alerts.comment != "this made no sense" {
		t.Errorf("alert calls = %d, comment = %q", a.alerts.calls, a.alerts.comment)
	}

	msgs, err := a.store.GetMessages("alice@example.com")
	if err != nil {
		t.Fatalf("loading messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Role != storage.RoleAssistant {
		t.Fatalf("messages = %+v, want one assistant acknowledgement", msgs)
	}
	if !strings.Contains(msgs[0].Content, "sorry") {
		t.Errorf("acknowledgement = %q", msgs[0].Content)
	}
}

func TestFeedback_PositiveSkipsAlert(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/feedback", map[string]any{
		"tenant_id": "alice@example.com",
		"rating":    1,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if a.alerts.calls != 0 {
		t.Errorf("alert calls = %d, want 0", a.alerts.calls)
	}
}

func TestFeedback_InvalidRating(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/feedback", map[string]any{
		"tenant_id": "alice@example.com",
		"rating":    5,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/register", map[string]string{
		"tenant_id": "alice@example.com",
		"user_name": "Alice",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	rec = a.do(t, http.MethodPost, "/register", map[string]string{
		"tenant_id": "alice@example.com",
		"user_name": "Alice",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want 409", rec.Code)
	}

	rec = a.do(t, http.MethodGet, "/login?tenant_id=alice@example.com", nil)
	var resp map[string]bool
	decodeJSON(t, rec, &resp)
	if !resp["exists"] {
		t.Error("exists = false after registration")
	}

	rec = a.do(t, http.MethodGet, "/login?tenant_id=nobody@example.com", nil)
	resp = nil
	decodeJSON(t, rec, &resp)
	if resp["exists"] {
		t.Error("exists = true for unknown tenant")
	}
}

func TestErrorEnvelope(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/chat", "not an object")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	decodeJSON(t, rec, &resp)
	if resp.Error.Type != "invalid_request_error" || resp.Error.Message == "" {
		t.Errorf("envelope = %+v", resp)
	}
}
