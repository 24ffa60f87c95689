package reminder

import (
	"context"
	"fmt"
	"html"
)

// AlertSender emails the operations inbox when something needs human eyes.
// With no alert address configured it is a no-op.
type AlertSender struct {
	mailer Mailer
	from   string
	to     string
}

// NewAlertSender creates an alert sender.
func NewAlertSender(mailer Mailer, from, to string) *AlertSender {
	return &AlertSender{mailer: mailer, from: from, to: to}
}

// NegativeFeedback reports a thumbs-down rating with the exchange that
// triggered it.
func (a *AlertSender) NegativeFeedback(ctx context.Context, tenantID, query, response, comment string) error {
	if a.to == "" {
		return nil
	}
	if comment == "" {
		comment = "(none)"
	}
	body := fmt.Sprintf(
		"<p><strong>Negative feedback</strong> from %s</p><p><strong>Query:</strong> %s</p><p><strong>Response:</strong> %s</p><p><strong>Comment:</strong> %s</p>",
		html.EscapeString(tenantID), html.EscapeString(query),
		html.EscapeString(response), html.EscapeString(comment))

	if err := a.mailer.Send(ctx, a.from, []string{a.to}, "Tenant feedback alert", body); err != nil {
		return fmt.Errorf("sending feedback alert: %w", err)
	}
	return nil
}
