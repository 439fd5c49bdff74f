// Package mail defines the outbound verification-email boundary. Actual email
// transport lives outside this server; the in-tree implementation only logs
// the composed verification link.
package mail

import (
	"context"

	"go.uber.org/zap"
)

// Mailer dispatches a verification email carrying the given link.
type Mailer interface {
	SendVerification(ctx context.Context, email, link string) error
}

// LogMailer writes the verification link to the log instead of sending mail.
type LogMailer struct {
	log *zap.Logger
}

// NewLogMailer returns a Mailer that records dispatches in the log.
func NewLogMailer(log *zap.Logger) *LogMailer {
	return &LogMailer{log: log}
}

var _ Mailer = (*LogMailer)(nil)

func (m *LogMailer) SendVerification(_ context.Context, email, link string) error {
	m.log.Info("verification email requested",
		zap.String("email", email),
		zap.String("link", link),
	)
	return nil
}
