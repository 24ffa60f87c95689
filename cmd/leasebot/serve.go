package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/avelar/leasebot/internal/api"
	"github.com/avelar/leasebot/internal/chatbot"
	"github.com/avelar/leasebot/internal/config"
	"github.com/avelar/leasebot/internal/knowledge"
	"github.com/avelar/leasebot/internal/openai"
	"github.com/avelar/leasebot/internal/reminder"
	"github.com/avelar/leasebot/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the leasebot server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	if strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "leasebot version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	client := openai.New(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey)

	contracts := knowledge.NewStore(store.DB(), store, client, client, knowledge.Config{
		EmbedModel:   cfg.OpenAI.EmbedModel,
		ExtractModel: cfg.OpenAI.ExtractModel,
		EmbedTimeout: cfg.OpenAI.EmbedTimeout,
	})

	chat := chatbot.NewManager(chatbot.Deps{
		Model:     client,
		Knowledge: contracts,
		Ledger:    store,
		Messages:  store,
		Config: chatbot.Config{
			ChatModel:   cfg.OpenAI.ChatModel,
			WindowSize:  cfg.Chatbot.WindowSize,
			ChatTimeout: cfg.OpenAI.ChatTimeout,
			MaxSessions: cfg.Chatbot.MaxSessions,
			SessionTTL:  cfg.Chatbot.SessionTTL,
		},
	})

	mailer := reminder.NewResendClient("", cfg.Reminder.ResendAPIKey)
	alerts := reminder.NewAlertSender(mailer, cfg.Reminder.FromEmail, cfg.Reminder.AlertEmail)

	if cfg.Reminder.ResendAPIKey != "" {
		worker := reminder.NewWorker(store, mailer, reminder.Config{FromEmail: cfg.Reminder.FromEmail})
		go worker.Run(ctx)
		slog.Info("rent reminder worker started")
	} else {
		slog.Info("no Resend API key configured, rent reminders disabled")
	}

	handler := api.NewAppHandler(api.AppDeps{
		Store:     store,
		Chat:      chat,
		Contracts: contracts,
		Alerts:    alerts,
		Token:     cfg.Server.APIToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConns)
	}

	// MCP server over SSE on its own port.
	mcpSrv := api.NewMCPServer(api.MCPDeps{Store: store, Chat: chat})
	mcpAddr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.MCPPort)
	sseSrv := server.NewSSEServer(mcpSrv)
	go func() {
		slog.Info("MCP server listening", "addr", mcpAddr)
		if err := sseSrv.Start(mcpAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("MCP server error", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("leasebot listening", "addr", addr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sseSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("MCP shutdown", "error", err)
	}
	return srv.Shutdown(shutdownCtx)
}
