// Package chatbot routes tenant messages to the right handler and produces
// the reply. Classification is deterministic keyword matching; only the
// handlers that genuinely need a language model call one. Every exchange is
// appended to the tenant's durable conversation log, human turn first.
package chatbot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/avelar/leasebot/internal/intent"
	"github.com/avelar/leasebot/internal/knowledge"
	"github.com/avelar/leasebot/internal/memory"
	"github.com/avelar/leasebot/internal/openai"
	"github.com/avelar/leasebot/internal/storage"
)

// rentQuery is the retrieval query used to resolve the monthly rent from the
// contract when a calculation request names only a duration.
const rentQuery = "What is the monthly rent amount?"

// LanguageModel generates chat completions. Implemented by openai.Client.
type LanguageModel interface {
	Chat(ctx context.Context, model string, messages []openai.Message, temperature float64) (string, error)
}

// KnowledgeStore answers similarity searches over a tenant's contract index.
// Implemented by knowledge.Store.
type KnowledgeStore interface {
	Exists(tenantID string) bool
	Version(tenantID string) int64
	Search(ctx context.Context, tenantID, query string, k int) ([]knowledge.Chunk, error)
}

// MaintenanceLedger lists a tenant's maintenance tickets. Implemented by
// storage.Store.
type MaintenanceLedger interface {
	ListMaintenanceRequests(tenantID string) ([]storage.MaintenanceRequest, error)
}

// Config tunes the chat behaviour.
type Config struct {
	ChatModel   string
	Temperature float64
	TopK        int
	WindowSize  int
	ChatTimeout time.Duration
	MaxSessions int
	SessionTTL  time.Duration
}

func (c *Config) applyDefaults() {
	if c.Temperature <= 0 {
		c.Temperature = 0.2
	}
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 10
	}
	if c.ChatTimeout <= 0 {
		c.ChatTimeout = 30 * time.Second
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = 256
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 30 * time.Minute
	}
}

// Deps bundles the collaborators a session talks to.
type Deps struct {
	Model     LanguageModel
	Knowledge KnowledgeStore
	Ledger    MaintenanceLedger
	Messages  memory.MessageStore
	Config    Config
}

// Session handles one tenant's conversation. Queries for the same tenant are
// serialized; distinct tenants proceed independently through the Manager. The
// mutex is owned by the Manager's per-tenant lock registry, so a session
// recreated after eviction still serializes against an evicted instance that
// a caller is holding.
type Session struct {
	deps     Deps
	tenantID string
	conv     *memory.Conversation

	mu *sync.Mutex

	// Cached index state, refreshed whenever the store's version counter
	// moves. A contract re-upload is picked up on the next query without any
	// reload signal.
	indexVersion int64
	hasIndex     bool
}

func newSession(deps Deps, tenantID string, mu *sync.Mutex) *Session {
	return &Session{
		deps:     deps,
		tenantID: tenantID,
		conv:     memory.NewConversation(deps.Messages, tenantID, deps.Config.WindowSize),
		mu:       mu,
	}
}

// ProcessQuery classifies the message, produces a reply, and records both
// turns in the conversation log. It always returns a user-facing string;
// collaborator failures surface as apologies, never as errors.
func (s *Session) ProcessQuery(ctx context.Context, message string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reply string
	switch intent.Classify(message) {
	case intent.MaintenanceTrigger:
		reply = SentinelMaintenance
	case intent.StatusCheck:
		reply = s.statusCheck()
	case intent.ContractQA:
		reply = s.contractAnswer(ctx, message)
	case intent.RentCalc:
		reply = s.rentCalc(ctx, message)
	default:
		reply = s.generalChat(ctx, message)
	}

	if err := s.conv.AppendHuman(message); err != nil {
		slog.Error("recording human turn failed", "tenant", s.tenantID, "error", err)
	}
	if err := s.conv.AppendAssistant(reply); err != nil {
		slog.Error("recording assistant turn failed", "tenant", s.tenantID, "error", err)
	}
	return reply
}

// refreshIndex re-checks index existence if the version counter moved since
// the last look.
func (s *Session) refreshIndex() {
	v := s.deps.Knowledge.Version(s.tenantID)
	if v != s.indexVersion {
		s.indexVersion = v
		s.hasIndex = s.deps.Knowledge.Exists(s.tenantID)
	}
}

func (s *Session) statusCheck() string {
	reqs, err := s.deps.Ledger.ListMaintenanceRequests(s.tenantID)
	if err != nil {
		return s.fail("maintenance ledger", err, apologyLedger)
	}
	return formatRequests(reqs)
}

func (s *Session) contractAnswer(ctx context.Context, question string) string {
	s.refreshIndex()
	if !s.hasIndex {
		return uploadPrompt
	}

	chunks, err := s.deps.Knowledge.Search(ctx, s.tenantID, question, s.deps.Config.TopK)
	if err != nil {
		return s.fail("contract search", err, apologyRetrieval)
	}
	if len(chunks) == 0 {
		return uploadPrompt
	}

	answer, err := s.chat(ctx, []openai.Message{
		{Role: "system", Content: contractSystemPrompt},
		{Role: "user", Content: contractUserPrompt(buildContext(chunks), question)},
	})
	if err != nil {
		return s.fail("language model", err, apologyModel)
	}
	return answer
}

func (s *Session) rentCalc(ctx context.Context, message string) string {
	nums := extractIntegers(message)
	switch {
	case len(nums) >= 2:
		return rentTotal(nums[0], nums[1])
	case len(nums) == 1:
		months := nums[0]
		s.refreshIndex()
		if !s.hasIndex {
			return "I know the duration, but not your monthly rent. Upload your contract or tell me the rent amount, e.g. \"$2500 for " + formatAmount(months) + " months\"."
		}
		rent, msg := s.resolveRent(ctx)
		if msg != "" {
			return msg
		}
		if rent == 0 {
			return "I couldn't find the monthly rent in your contract. Please include it in your question, e.g. \"$2500 for " + formatAmount(months) + " months\"."
		}
		return rentTotal(rent, months)
	default:
		return "Please tell me both the monthly rent and the number of months, e.g. \"calculate rent for $2500 for 15 months\"."
	}
}

// resolveRent looks the monthly rent up in the contract index. It returns
// the rent and an empty message on success, or zero and a user-facing message
// when a collaborator failed. A zero rent with an empty message means the
// contract did not yield an amount.
func (s *Session) resolveRent(ctx context.Context) (int, string) {
	chunks, err := s.deps.Knowledge.Search(ctx, s.tenantID, rentQuery, s.deps.Config.TopK)
	if err != nil {
		return 0, s.fail("contract search", err, apologyRetrieval)
	}
	if len(chunks) == 0 {
		return 0, ""
	}

	answer, err := s.chat(ctx, []openai.Message{
		{Role: "system", Content: contractSystemPrompt},
		{Role: "user", Content: "Context:\n" + buildContext(chunks) + "\n\nWhat is the monthly rent amount? Reply with the amount only."},
	})
	if err != nil {
		return 0, s.fail("language model", err, apologyModel)
	}

	if found := extractIntegers(answer); len(found) > 0 {
		return found[0], ""
	}
	return 0, ""
}

// rentTotal multiplies the first two integers found in the request, in order
// of appearance: monthly amount first, then months.
func rentTotal(monthly, months int) string {
	total := monthly * months
	return "Estimated total rent for " + formatAmount(months) + " months at $" +
		formatAmount(monthly) + "/month: $" + formatAmount(total) + "."
}

func (s *Session) generalChat(ctx context.Context, message string) string {
	msgs := []openai.Message{{Role: "system", Content: generalSystemPrompt}}
	window, err := s.conv.Window()
	if err != nil {
		slog.Warn("loading conversation window failed", "tenant", s.tenantID, "error", err)
	}
	for _, m := range window {
		role := "user"
		if m.Role == storage.RoleAssistant {
			role = "assistant"
		}
		msgs = append(msgs, openai.Message{Role: role, Content: m.Content})
	}
	msgs = append(msgs, openai.Message{Role: "user", Content: message})

	answer, err := s.chat(ctx, msgs)
	if err != nil {
		return s.fail("language model", err, apologyModel)
	}
	return answer
}

func (s *Session) chat(ctx context.Context, msgs []openai.Message) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.deps.Config.ChatTimeout)
	defer cancel()
	return s.deps.Model.Chat(callCtx, s.deps.Config.ChatModel, msgs, s.deps.Config.Temperature)
}

func (s *Session) fail(collaborator string, err error, apology string) string {
	cerr := &CollaboratorError{Collaborator: collaborator, Err: err}
	slog.Error("collaborator call failed", "tenant", s.tenantID, "error", cerr)
	return apology
}
