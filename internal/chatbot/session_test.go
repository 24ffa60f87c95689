package chatbot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/avelar/leasebot/internal/knowledge"
	"github.com/avelar/leasebot/internal/openai"
	"github.com/avelar/leasebot/internal/storage"
)

type fakeModel struct {
	reply string
	err   error

	calls    int
	lastMsgs []openai.Message
}

func (f *fakeModel) Chat(_ context.Context, _ string, msgs []openai.Message, _ float64) (string, error) {
	f.calls++
	f.lastMsgs = msgs
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type fakeKnowledge struct {
	version   int64
	chunks    []knowledge.Chunk
	searchErr error

	searches  int
	lastQuery string
}

func (f *fakeKnowledge) Exists(string) bool   { return f.version > 0 }
func (f *fakeKnowledge) Version(string) int64 { return f.version }

func (f *fakeKnowledge) Search(_ context.Context, _ string, query string, _ int) ([]knowledge.Chunk, error) {
	f.searches++
	f.lastQuery = query
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.chunks, nil
}

type fakeLedger struct {
	reqs []storage.MaintenanceRequest
	err  error

	calls int
}

func (f *fakeLedger) ListMaintenanceRequests(string) ([]storage.MaintenanceRequest, error) {
	f.calls++
	return f.reqs, f.err
}

type testEnv struct {
	model     *fakeModel
	knowledge *fakeKnowledge
	ledger    *fakeLedger
	store     *storage.Store
	session   *Session
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	env := &testEnv{
		model:     &fakeModel{reply: "model answer"},
		knowledge: &fakeKnowledge{},
		ledger:    &fakeLedger{},
		store:     st,
	}
	deps := Deps{
		Model:     env.model,
		Knowledge: env.knowledge,
		Ledger:    env.ledger,
		Messages:  st,
	}
	deps.Config.applyDefaults()
	env.session = newSession(deps, "alice@example.com", &sync.Mutex{})
	return env
}

func (e *testEnv) messages(t *testing.T) []storage.ChatMessage {
	t.Helper()
	msgs, err := e.store.GetMessages("alice@example.com")
	if err != nil {
		t.Fatalf("loading messages: %v", err)
	}
	return msgs
}

func TestProcessQuery_MaintenanceSentinel(t *testing.T) {
	env := newTestEnv(t)

	got := env.session.ProcessQuery(context.Background(), "My toilet is broken, please fix it")
	if got != SentinelMaintenance {
		t.Fatalf("reply = %q, want sentinel", got)
	}
	if env.model.calls != 0 {
		t.Errorf("model called %d times, want 0", env.model.calls)
	}
	if env.ledger.calls != 0 {
		t.Errorf("ledger called %d times, want 0", env.ledger.calls)
	}

	msgs := env.messages(t)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != storage.RoleHuman || msgs[1].Role != storage.RoleAssistant {
		t.Errorf("roles = %q, %q; want human, assistant", msgs[0].Role, msgs[1].Role)
	}
	if msgs[1].Content != SentinelMaintenance {
		t.Errorf("assistant turn = %q, want sentinel", msgs[1].Content)
	}
}

func TestProcessQuery_StatusCheck(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.reqs = []storage.MaintenanceRequest{
		{
			RequestID:   8,
			Location:    "kitchen",
			Description: "the sink has been dripping nonstop since last Tuesday",
			Status:      "Pending",
			CreatedAt:   time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC),
		},
		{
			RequestID:   5,
			Location:    "bedroom",
			Description: "window latch",
			Status:      "Completed",
			CreatedAt:   time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC),
		},
	}

	got := env.session.ProcessQuery(context.Background(), "what is the status of my repair?")
	if !strings.Contains(got, "2 maintenance request(s)") {
		t.Errorf("reply missing count: %q", got)
	}
	if !strings.Contains(got, "REQ-8") || !strings.Contains(got, "REQ-5") {
		t.Errorf("reply missing ticket ids: %q", got)
	}
	if !strings.Contains(got, "the sink has been dripping non...") {
		t.Errorf("long description not truncated: %q", got)
	}
	if !strings.Contains(got, "window latch") || strings.Contains(got, "window latch...") {
		t.Errorf("short description should appear untruncated: %q", got)
	}
	if !strings.Contains(got, "filed 2026-02-03") {
		t.Errorf("reply missing filing date: %q", got)
	}
	if env.model.calls != 0 {
		t.Errorf("model called %d times, want 0", env.model.calls)
	}
}

func TestProcessQuery_StatusCheckMultibyteDescription(t *testing.T) {
	env := newTestEnv(t)
	// The preview cut falls mid-rune here; it must back off to a boundary
	// instead of emitting a broken byte sequence.
	env.ledger.reqs = []storage.MaintenanceRequest{
		{
			RequestID:   3,
			Location:    "bathroom",
			Description: "A洗手间的热水器坏了完全没有热水了请尽快安排维修",
			Status:      "Pending",
			CreatedAt:   time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC),
		},
	}

	got := env.session.ProcessQuery(context.Background(), "what is the status of my repair?")
	if !utf8.ValidString(got) {
		t.Fatalf("reply is not valid UTF-8: %q", got)
	}
	if !strings.Contains(got, "A洗手间的热水器坏了...") {
		t.Errorf("truncated description not on a rune boundary: %q", got)
	}
}

func TestProcessQuery_StatusCheckEmpty(t *testing.T) {
	env := newTestEnv(t)

	got := env.session.ProcessQuery(context.Background(), "check repair status please")
	if got != "You have no maintenance requests on record." {
		t.Errorf("reply = %q", got)
	}
}

func TestProcessQuery_StatusCheckLedgerError(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.err = errors.New("disk full")

	got := env.session.ProcessQuery(context.Background(), "status of my request?")
	if got != apologyLedger {
		t.Errorf("reply = %q, want ledger apology", got)
	}
	msgs := env.messages(t)
	if len(msgs) != 2 || msgs[1].Content != apologyLedger {
		t.Errorf("apology not recorded: %+v", msgs)
	}
}

func TestProcessQuery_ContractNoIndex(t *testing.T) {
	env := newTestEnv(t)

	got := env.session.ProcessQuery(context.Background(), "What does the termination clause say?")
	if got != uploadPrompt {
		t.Fatalf("reply = %q, want upload prompt", got)
	}
	if env.model.calls != 0 {
		t.Errorf("model called %d times, want 0", env.model.calls)
	}
	if env.knowledge.searches != 0 {
		t.Errorf("search called %d times, want 0", env.knowledge.searches)
	}
}

func TestProcessQuery_ContractAnswer(t *testing.T) {
	env := newTestEnv(t)
	env.knowledge.version = 1
	env.knowledge.chunks = []knowledge.Chunk{
		{Text: "Clause 4.2: the tenant shall give two months notice.", Score: 0.9},
		{Text: "Clause 1.1: parties to this agreement.", Score: 0.4},
	}
	env.model.reply = "1. Two months notice.\n2. Clause 4.2\n3. \"two months notice\""

	got := env.session.ProcessQuery(context.Background(), "What notice does the termination clause require?")
	if got != env.model.reply {
		t.Fatalf("reply = %q, want model answer verbatim", got)
	}
	if env.model.calls != 1 {
		t.Fatalf("model called %d times, want 1", env.model.calls)
	}

	user := env.model.lastMsgs[len(env.model.lastMsgs)-1].Content
	if !strings.Contains(user, "Clause 4.2") || !strings.Contains(user, "Clause 1.1") {
		t.Errorf("prompt missing retrieved context: %q", user)
	}
	if !strings.Contains(user, "termination clause") {
		t.Errorf("prompt missing question: %q", user)
	}
}

func TestProcessQuery_ContractSearchError(t *testing.T) {
	env := newTestEnv(t)
	env.knowledge.version = 1
	env.knowledge.searchErr = errors.New("embed timeout")

	got := env.session.ProcessQuery(context.Background(), "What does the deposit clause say?")
	if got != apologyRetrieval {
		t.Errorf("reply = %q, want retrieval apology", got)
	}
	if env.model.calls != 0 {
		t.Errorf("model called %d times, want 0", env.model.calls)
	}
}

func TestProcessQuery_IndexBecomesVisibleAfterUpload(t *testing.T) {
	env := newTestEnv(t)

	if got := env.session.ProcessQuery(context.Background(), "Summarise the landlord obligations clause"); got != uploadPrompt {
		t.Fatalf("before upload: reply = %q, want upload prompt", got)
	}

	// Simulate a contract upload between queries: the version counter moves
	// and the session notices without any reload call.
	env.knowledge.version = 1
	env.knowledge.chunks = []knowledge.Chunk{{Text: "Clause 7: landlord obligations.", Score: 0.8}}

	got := env.session.ProcessQuery(context.Background(), "Summarise the landlord obligations clause")
	if got != env.model.reply {
		t.Fatalf("after upload: reply = %q, want model answer", got)
	}
}

func TestProcessQuery_RentCalcTwoNumbers(t *testing.T) {
	env := newTestEnv(t)

	got := env.session.ProcessQuery(context.Background(), "calculate my rent, it is $1800 for 6 months")
	if !strings.Contains(got, "$10,800") {
		t.Errorf("reply = %q, want total $10,800", got)
	}
	if !strings.Contains(got, "6 months") || !strings.Contains(got, "$1,800/month") {
		t.Errorf("reply = %q, want inputs echoed", got)
	}
	if env.model.calls != 0 {
		t.Errorf("model called %d times, want 0", env.model.calls)
	}
}

func TestProcessQuery_RentCalcCommaSeparators(t *testing.T) {
	env := newTestEnv(t)

	got := env.session.ProcessQuery(context.Background(), "calculate total rent for $2,500 for 15 months")
	if !strings.Contains(got, "$37,500") {
		t.Errorf("reply = %q, want total $37,500", got)
	}
}

func TestProcessQuery_RentCalcResolvesRentFromContract(t *testing.T) {
	env := newTestEnv(t)
	env.knowledge.version = 1
	env.knowledge.chunks = []knowledge.Chunk{{Text: "The monthly rent is $2,500 payable in advance.", Score: 0.9}}
	env.model.reply = "The monthly rent is $2,500 per month."

	got := env.session.ProcessQuery(context.Background(), "calculate my total rent payment for 12 months")
	if !strings.Contains(got, "$30,000") {
		t.Errorf("reply = %q, want total $30,000", got)
	}
	if env.knowledge.lastQuery != rentQuery {
		t.Errorf("retrieval query = %q, want %q", env.knowledge.lastQuery, rentQuery)
	}
}

func TestProcessQuery_RentCalcNoNumbers(t *testing.T) {
	env := newTestEnv(t)

	got := env.session.ProcessQuery(context.Background(), "can you calculate my rent payment?")
	if !strings.Contains(got, "monthly rent and the number of months") {
		t.Errorf("reply = %q, want clarification", got)
	}
	if env.model.calls != 0 {
		t.Errorf("model called %d times, want 0", env.model.calls)
	}
}

func TestProcessQuery_RentCalcSingleNumberNoIndex(t *testing.T) {
	env := newTestEnv(t)

	got := env.session.ProcessQuery(context.Background(), "calculate rent for 12 months")
	if !strings.Contains(got, "not your monthly rent") {
		t.Errorf("reply = %q, want rent clarification", got)
	}
	if env.model.calls != 0 {
		t.Errorf("model called %d times, want 0", env.model.calls)
	}
}

func TestProcessQuery_GeneralChatCarriesWindow(t *testing.T) {
	env := newTestEnv(t)

	env.session.ProcessQuery(context.Background(), "hello there")
	env.model.reply = "second answer"
	env.session.ProcessQuery(context.Background(), "tell me more")

	if env.model.calls != 2 {
		t.Fatalf("model called %d times, want 2", env.model.calls)
	}
	msgs := env.model.lastMsgs
	if msgs[0].Role != "system" {
		t.Fatalf("first message role = %q, want system", msgs[0].Role)
	}
	// system + prior human/assistant pair + new message
	if len(msgs) != 4 {
		t.Fatalf("got %d prompt messages, want 4: %+v", len(msgs), msgs)
	}
	if msgs[1].Content != "hello there" || msgs[2].Content != "model answer" {
		t.Errorf("window not carried: %+v", msgs[1:3])
	}
	if msgs[3].Content != "tell me more" {
		t.Errorf("new message not last: %+v", msgs[3])
	}
}

func TestProcessQuery_ModelErrorApologizes(t *testing.T) {
	env := newTestEnv(t)
	env.model.err = errors.New("upstream 500")

	got := env.session.ProcessQuery(context.Background(), "how are you today?")
	if got != apologyModel {
		t.Errorf("reply = %q, want model apology", got)
	}
	msgs := env.messages(t)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
}

func TestProcessQuery_EveryTurnPersistsTwoMessages(t *testing.T) {
	env := newTestEnv(t)

	queries := []string{
		"hello",
		"my heater is broken",
		"check my repair status",
		"calculate rent for $1000 for 3 months",
	}
	for _, q := range queries {
		env.session.ProcessQuery(context.Background(), q)
	}

	msgs := env.messages(t)
	if len(msgs) != 2*len(queries) {
		t.Fatalf("got %d messages, want %d", len(msgs), 2*len(queries))
	}
	for i, m := range msgs {
		want := storage.RoleHuman
		if i%2 == 1 {
			want = storage.RoleAssistant
		}
		if m.Role != want {
			t.Errorf("message %d role = %q, want %q", i, m.Role, want)
		}
	}
}

func TestCollaboratorError_Unwrap(t *testing.T) {
	base := errors.New("boom")
	err := &CollaboratorError{Collaborator: "language model", Err: base}
	if !errors.Is(err, base) {
		t.Error("CollaboratorError should unwrap to the cause")
	}
	if got := err.Error(); !strings.Contains(got, "language model") || !strings.Contains(got, "boom") {
		t.Errorf("Error() = %q", got)
	}
}
