package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/avelar/leasebot/internal/config"
	"github.com/avelar/leasebot/internal/reminder"
	"github.com/avelar/leasebot/internal/storage"
)

var remindCmd = &cobra.Command{
	Use:   "remind",
	Short: "Run one rent reminder pass and exit",
	Long:  "Evaluates every registered tenant's rent due date and sends reminder emails for the lead-up window and the due day. Suitable for cron.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRemind()
	},
}

func runRemind() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	if cfg.Reminder.ResendAPIKey == "" {
		return fmt.Errorf("missing required config: Resend API key (set LEASEBOT_RESEND_API_KEY)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	mailer := reminder.NewResendClient("", cfg.Reminder.ResendAPIKey)
	worker := reminder.NewWorker(store, mailer, reminder.Config{FromEmail: cfg.Reminder.FromEmail})

	sent, err := worker.RunOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("sent %d reminder(s)\n", sent)
	return nil
}
