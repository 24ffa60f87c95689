package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avelar/leasebot/internal/storage"
)

// UserLister provides the registered tenants. Implemented by storage.Store.
type UserLister interface {
	ListUsers() ([]storage.User, error)
}

// Config tunes the reminder schedule.
type Config struct {
	// FromEmail is the sender address.
	FromEmail string
	// LeadDays is how many days before the due date reminders start.
	LeadDays int
	// Interval is how often the worker re-evaluates due dates.
	Interval time.Duration
}

func (c *Config) applyDefaults() {
	if c.LeadDays <= 0 {
		c.LeadDays = 3
	}
	if c.Interval <= 0 {
		c.Interval = 24 * time.Hour
	}
}

// Worker evaluates every tenant's rent due date once per interval and mails
// reminders in the lead-up window plus a final notice on the day itself.
// Tenants without a rent schedule are skipped.
type Worker struct {
	users  UserLister
	mailer Mailer
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewWorker creates a reminder worker.
func NewWorker(users UserLister, mailer Mailer, cfg Config) *Worker {
	cfg.applyDefaults()
	return &Worker{
		users:  users,
		mailer: mailer,
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
}

// Run evaluates immediately, then once per interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		sent, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("reminder pass failed", "error", err)
		} else if sent > 0 {
			w.logger.Info("rent reminders sent", "count", sent)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single reminder pass and returns how many emails went
// out. A delivery failure for one tenant is logged and does not stop the
// pass.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	users, err := w.users.ListUsers()
	if err != nil {
		return 0, fmt.Errorf("listing users: %w", err)
	}

	today := w.now()
	sent := 0
	for _, u := range users {
		if u.MonthlyRent == nil || u.RentDueDay == nil {
			continue
		}

		due := nextDueDate(today, *u.RentDueDay)
		days := daysBetween(today, due)
		if days > w.cfg.LeadDays {
			continue
		}

		subject, html := reminderEmail(u, due, days)
		if err := w.mailer.Send(ctx, w.cfg.FromEmail, []string{u.TenantID}, subject, html); err != nil {
			w.logger.Error("sending reminder failed", "tenant", u.TenantID, "error", err)
			continue
		}
		sent++
	}
	return sent, nil
}

// nextDueDate returns the next occurrence of the monthly due day on or after
// today. Due days past the end of a month clamp to its last day.
func nextDueDate(today time.Time, dueDay int) time.Time {
	y, m, d := today.Date()
	due := time.Date(y, m, clampDay(y, m, dueDay), 0, 0, 0, 0, today.Location())
	if due.Day() < d {
		due = time.Date(y, m+1, clampDay(y, m+1, dueDay), 0, 0, 0, 0, today.Location())
	}
	return due
}

// clampDay limits day to the length of the given month.
func clampDay(year int, month time.Month, day int) int {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > last {
		return last
	}
	if day < 1 {
		return 1
	}
	return day
}

func daysBetween(from, to time.Time) int {
	f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(t.Sub(f).Hours() / 24)
}

func reminderEmail(u storage.User, due time.Time, days int) (subject, html string) {
	name := u.UserName
	if name == "" {
		name = "there"
	}
	amount := fmt.Sprintf("$%.2f", *u.MonthlyRent)

	if days == 0 {
		subject = "Rent Due Today"
		html = fmt.Sprintf("<p>Hi %s,</p><p>A friendly note that your rent of <strong>%s</strong> is due today, %s.</p><p>Thank you!</p>",
			name, amount, due.Format("2 January 2006"))
		return subject, html
	}

	subject = "Rent Payment Reminder"
	plural := "days"
	if days == 1 {
		plural = "day"
	}
	html = fmt.Sprintf("<p>Hi %s,</p><p>Your rent of <strong>%s</strong> is due on %s (in %d %s).</p><p>Thank you!</p>",
		name, amount, due.Format("2 January 2006"), days, plural)
	return subject, html
}
