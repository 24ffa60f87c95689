// Package api exposes the tenancy assistant over HTTP and MCP. All routes
// except the health check sit behind bearer auth; errors go out as the JSON
// envelope callers of OpenAI-style APIs expect.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/avelar/leasebot/internal/knowledge"
	"github.com/avelar/leasebot/internal/storage"
)

const maxContractBodySize = 10 << 20 // 10MB
const maxRequestBodySize = 1 << 20   // 1MB

// ChatService routes one tenant message to a reply. Implemented by
// chatbot.Manager.
type ChatService interface {
	ProcessQuery(ctx context.Context, tenantID, message string) string
}

// ContractIndexer builds and inspects per-tenant contract indexes.
// Implemented by knowledge.Store.
type ContractIndexer interface {
	Build(ctx context.Context, tenantID string, document []byte) (storage.ContractSummary, error)
	Exists(tenantID string) bool
	Summary(tenantID string) (storage.ContractSummary, error)
}

// Alerter notifies the operations inbox. Implemented by
// reminder.AlertSender.
type Alerter interface {
	NegativeFeedback(ctx context.Context, tenantID, query, response, comment string) error
}

type AppDeps struct {
	Store     *storage.Store
	Chat      ChatService
	Contracts ContractIndexer
	Alerts    Alerter // optional; if nil, negative feedback skips the email
	Token     string
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/chat", handleChat(deps))
		r.Post("/contracts", handleUploadContract(deps))
		r.Get("/contracts/{tenantID}", handleGetContract(deps))
		r.Post("/maintenance", handleCreateMaintenance(deps))
		r.Get("/maintenance", handleListMaintenance(deps))
		r.Post("/feedback", handleFeedback(deps))
		r.Post("/register", handleRegister(deps))
		r.Get("/login", handleLogin(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type chatRequest struct {
	TenantID string `json:"tenant_id"`
	Message  string `json:"message"`
}

func handleChat(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.TenantID == "" || req.Message == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "tenant_id and message are required")
			return
		}

		reply := deps.Chat.ProcessQuery(r.Context(), req.TenantID, req.Message)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"reply": reply})
	}
}

type contractUploadRequest struct {
	TenantID string `json:"tenant_id"`
	Filename string `json:"filename"`
	Content  string `json:"content"` // base64-encoded PDF
}

func handleUploadContract(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxContractBodySize)

		var req contractUploadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.TenantID == "" || req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "tenant_id and content are required")
			return
		}

		document, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content")
			return
		}

		sum, err := deps.Contracts.Build(r.Context(), req.TenantID, document)
		if errors.Is(err, knowledge.ErrNoText) {
			httpError(w, http.StatusUnprocessableEntity, "invalid_request_error", "document contains no extractable text")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "indexing contract: %v", err)
			return
		}

		// An extracted rent amount feeds the reminder schedule. Best effort:
		// the index is already live.
		if sum.MonthlyRent != nil {
			if err := deps.Store.SetRentSchedule(req.TenantID, sum.MonthlyRent, nil); err != nil && !errors.Is(err, storage.ErrNotFound) {
				slog.Warn("updating rent schedule failed", "tenant", req.TenantID, "error", err)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "indexed",
			"summary": sum,
		})
	}
}

func handleGetContract(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := chi.URLParam(r, "tenantID")

		if !deps.Contracts.Exists(tenantID) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{"exists": false})
			return
		}

		sum, err := deps.Contracts.Summary(tenantID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusInternalServerError, "api_error", "loading summary: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"exists":  true,
			"summary": sum,
		})
	}
}

type maintenanceRequest struct {
	TenantID    string `json:"tenant_id"`
	Location    string `json:"location"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
}

func handleCreateMaintenance(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req maintenanceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.TenantID == "" || req.Location == "" || req.Description == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "tenant_id, location and description are required")
			return
		}

		id, err := deps.Store.CreateMaintenanceRequest(req.TenantID, req.Location, req.Description, req.Priority)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "creating request: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{
			"request_id": fmt.Sprintf("REQ-%d", id),
			"status":     "Pending",
		})
	}
}

func handleListMaintenance(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.URL.Query().Get("tenant_id")
		if tenantID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "tenant_id is required")
			return
		}

		reqs, err := deps.Store.ListMaintenanceRequests(tenantID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing requests: %v", err)
			return
		}
		if reqs == nil {
			reqs = []storage.MaintenanceRequest{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(reqs)
	}
}

// feedbackAck is appended to the conversation when a tenant leaves a
// thumbs-down with a comment, so the transcript shows the complaint was
// received.
const feedbackAck = "I'm sorry the previous answer wasn't helpful. Your feedback has been recorded and our team will review it."

type feedbackRequest struct {
	TenantID string `json:"tenant_id"`
	Query    string `json:"query"`
	Response string `json:"response"`
	Rating   int    `json:"rating"`
	Comment  string `json:"comment"`
}

func handleFeedback(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req feedbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.TenantID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "tenant_id is required")
			return
		}
		if req.Rating != 1 && req.Rating != -1 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "rating must be 1 or -1")
			return
		}

		err := deps.Store.SaveFeedback(storage.Feedback{
			TenantID: req.TenantID,
			Query:    req.Query,
			Response: req.Response,
			Rating:   req.Rating,
			Comment:  req.Comment,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "saving feedback: %v", err)
			return
		}

		if req.Rating == -1 && req.Comment != "" {
			if err := deps.Store.AppendMessage(req.TenantID, storage.RoleAssistant, feedbackAck); err != nil {
				slog.Warn("appending feedback acknowledgement failed", "tenant", req.TenantID, "error", err)
			}
			if deps.Alerts != nil {
				if err := deps.Alerts.NegativeFeedback(r.Context(), req.TenantID, req.Query, req.Response, req.Comment); err != nil {
					slog.Warn("feedback alert failed", "tenant", req.TenantID, "error", err)
				}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "recorded"})
	}
}

type registerRequest struct {
	TenantID string `json:"tenant_id"`
	UserName string `json:"user_name"`
}

func handleRegister(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.TenantID == "" || req.UserName == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "tenant_id and user_name are required")
			return
		}

		err := deps.Store.RegisterUser(req.TenantID, req.UserName)
		if errors.Is(err, storage.ErrExists) {
			httpError(w, http.StatusConflict, "invalid_request_error", "tenant is already registered")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "registering: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"status": "registered"})
	}
}

func handleLogin(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.URL.Query().Get("tenant_id")
		if tenantID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "tenant_id is required")
			return
		}

		exists, err := deps.Store.UserExists(tenantID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "checking registration: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]bool{"exists": exists})
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
