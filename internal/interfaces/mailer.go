package interfaces

import "context"

// Mailer sends completion notifications for scans that were submitted with
// an email address, and reports whether SMTP credentials have been
// configured at all (surfaced to the frontend so it can hide the email
// field when notifications are unavailable).
type Mailer interface {
	IsConfigured(ctx context.Context) bool
	SendHTMLEmail(ctx context.Context, to, subject, htmlBody, textBody string) error
}
