package service

import (
	"context"
	"log/slog"

	"github.com/tallyhq/tally/pkg/slogx"
)

// Notifier delivers out-of-band messages to account holders. Delivery
// failures are logged but never fail the operation that triggered them.
type Notifier interface {
	// SendPasswordReset delivers the raw single-use reset token.
	SendPasswordReset(ctx context.Context, email, displayName, token string) error
}

// LogNotifier writes notifications to the structured log. It is the
// default when no mail transport is configured, which keeps development
// and tests free of SMTP dependencies.
type LogNotifier struct{}

func (LogNotifier) SendPasswordReset(ctx context.Context, email, displayName, token string) error {
	slogx.FromContext(ctx).Info("password reset requested",
		slog.String("email", email),
		slog.String("name", displayName),
		slog.String("token", token),
	)
	return nil
}

// APITokenRevoker lets the auth core cascade session revocation into
// long-lived API credentials managed elsewhere. Deactivating or deleting
// an account must invalidate those too.
type APITokenRevoker interface {
	RevokeAPITokens(ctx context.Context, accountID string) error
}

// NopAPITokenRevoker is used when no API-token subsystem is wired.
type NopAPITokenRevoker struct{}

func (NopAPITokenRevoker) RevokeAPITokens(ctx context.Context, accountID string) error {
	return nil
}
