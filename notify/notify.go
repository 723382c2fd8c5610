// Package notify delivers identity notifications over SMTP or to the log.
package notify

import (
	"context"
	"errors"

	identity "github.com/goliatone/go-identity"
)

// LogNotifier writes notifications to the logger. It is the development
// default when no SMTP server is configured.
type LogNotifier struct {
	Logger identity.Logger
}

func NewLogNotifier(logger identity.Logger) *LogNotifier {
	if logger == nil {
		logger = identity.NamedLogger("identity.notify")
	}
	return &LogNotifier{Logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, msg identity.Notification) error {
	n.Logger.Info("notification",
		"kind", string(msg.Kind),
		"to", msg.To,
		"account_id", msg.AccountID,
	)
	return nil
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []identity.Notifier

func (m Multi) Notify(ctx context.Context, msg identity.Notification) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
